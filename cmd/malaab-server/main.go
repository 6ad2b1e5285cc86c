package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/nbalushi/malaab/internal/bootstrap"
	"github.com/nbalushi/malaab/internal/config"
	"github.com/nbalushi/malaab/internal/database"
	"github.com/nbalushi/malaab/internal/evaluator"
	"github.com/nbalushi/malaab/internal/inference"
	"github.com/nbalushi/malaab/internal/inference/azureopenai"
	"github.com/nbalushi/malaab/internal/playground"
	"github.com/nbalushi/malaab/internal/server"
	"github.com/nbalushi/malaab/internal/session"
	"github.com/nbalushi/malaab/internal/speech"
)

var configFile string

func main() {
	var debugMode bool
	rootCmd := &cobra.Command{
		Use:           "malaab-server",
		Short:         "Verb playground exercise HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(debugMode)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug mode")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger configures the default logger based on debug mode
func setupLogger(debugMode bool) {
	logLevel := slog.LevelInfo
	if debugMode {
		logLevel = slog.LevelDebug
	}

	slog.SetDefault(
		slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})),
	)
}

func run(ctx context.Context) error {
	app := bootstrap.New()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loadConfig() > %w", err)
	}

	store, err := newStore(ctx, cfg, app)
	if err != nil {
		return fmt.Errorf("newStore() > %w", err)
	}

	var oracleClient inference.Client
	if cfg.Oracle.Configured() {
		client := azureopenai.NewClient(cfg.Oracle.Endpoint, cfg.Oracle.Key, cfg.Oracle.Deployment, cfg.Oracle.RetryAttempts)
		app.AddShutdownHook(func(ctx context.Context) error {
			return client.Close()
		})
		oracleClient = client
	} else {
		slog.Default().Info("oracle is not configured, judgments use deterministic fallbacks")
	}

	var issuer speech.Issuer
	if cfg.Speech.Configured() {
		issuer = speech.NewSTSIssuer(cfg.Speech.Region, cfg.Speech.Key)
	} else {
		slog.Default().Info("speech service is not configured, audio is disabled")
	}
	credentials := speech.NewTokenCache(issuer, cfg.Speech.Region, cfg.Speech.Voice)

	orchestrator := session.NewOrchestrator(store, evaluator.New(oracleClient), credentials)

	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	handler := server.NewHandler(orchestrator, server.SpeechInfo{
		Enabled: cfg.Speech.Configured(),
		Region:  cfg.Speech.Region,
		Voice:   cfg.Speech.Voice,
	}, baseURL)

	mux := http.NewServeMux()
	handler.Register(mux)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: corsMiddleware(h2c.NewHandler(mux, &http2.Server{}), cfg.Server.CORS.AllowedOrigins),
	}
	app.AddShutdownHook(srv.Shutdown)

	return app.Run(ctx, func(ctx context.Context) error {
		slog.Default().Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
}

func loadConfig() (*config.Config, error) {
	loader, err := config.NewConfigLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("config.NewConfigLoader() > %w", err)
	}
	return loader.Load()
}

func newStore(ctx context.Context, cfg *config.Config, app *bootstrap.App) (playground.Store, error) {
	if cfg.Storage.Driver != "mysql" {
		return playground.NewMemoryStore(), nil
	}

	db, err := database.Open(cfg.Storage.Database)
	if err != nil {
		return nil, fmt.Errorf("database.Open() > %w", err)
	}
	app.AddShutdownHook(func(ctx context.Context) error {
		return db.Close()
	})

	store := playground.NewMySQLStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("store.EnsureSchema() > %w", err)
	}
	return store, nil
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
