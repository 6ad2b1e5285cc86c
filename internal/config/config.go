package config

import (
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Speech  SpeechConfig  `mapstructure:"speech"`
}

type ServerConfig struct {
	Port    int        `mapstructure:"port"`
	BaseURL string     `mapstructure:"base_url" validate:"omitempty,url"`
	CORS    CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=memory mysql"`
	Database DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TLS             bool   `mapstructure:"tls"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
}

// OracleConfig holds the Azure OpenAI judgment service settings. All three
// fields must be present for the oracle to be considered configured.
type OracleConfig struct {
	Key           string `mapstructure:"key"`
	Endpoint      string `mapstructure:"endpoint" validate:"omitempty,url"`
	Deployment    string `mapstructure:"deployment"`
	RetryAttempts uint   `mapstructure:"retry_attempts"`
}

// Configured reports whether every oracle setting is present.
func (c OracleConfig) Configured() bool {
	return c.Key != "" && c.Endpoint != "" && c.Deployment != ""
}

// SpeechConfig holds the Azure Speech voice-service settings.
type SpeechConfig struct {
	Key    string `mapstructure:"key"`
	Region string `mapstructure:"region"`
	Voice  string `mapstructure:"voice"`
}

// Configured reports whether the voice integration is enabled.
func (c SpeechConfig) Configured() bool {
	return c.Key != "" && c.Region != ""
}

type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/malaab")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.database.host", "localhost")
	v.SetDefault("storage.database.port", 3306)
	v.SetDefault("storage.database.database", "malaab")
	v.SetDefault("storage.database.username", "user")
	v.SetDefault("oracle.retry_attempts", 3)
	v.SetDefault("speech.voice", "ar-SA-HamedNeural")

	// Bind oracle config to environment variables only (not from config file)
	if err := v.BindEnv("oracle.key", "AZURE_OPENAI_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind AZURE_OPENAI_KEY environment variable: %w", err)
	}
	if err := v.BindEnv("oracle.endpoint", "AZURE_OPENAI_ENDPOINT"); err != nil {
		return nil, fmt.Errorf("failed to bind AZURE_OPENAI_ENDPOINT environment variable: %w", err)
	}
	if err := v.BindEnv("oracle.deployment", "AZURE_OPENAI_DEPLOYMENT"); err != nil {
		return nil, fmt.Errorf("failed to bind AZURE_OPENAI_DEPLOYMENT environment variable: %w", err)
	}

	// Bind speech config to environment variables only (not from config file)
	if err := v.BindEnv("speech.key", "AZURE_SPEECH_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind AZURE_SPEECH_KEY environment variable: %w", err)
	}
	if err := v.BindEnv("speech.region", "AZURE_SPEECH_REGION"); err != nil {
		return nil, fmt.Errorf("failed to bind AZURE_SPEECH_REGION environment variable: %w", err)
	}
	if err := v.BindEnv("speech.voice", "AZURE_SPEECH_VOICE"); err != nil {
		return nil, fmt.Errorf("failed to bind AZURE_SPEECH_VOICE environment variable: %w", err)
	}

	// Bind database password to environment variable
	if err := v.BindEnv("storage.database.password", "DB_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind DB_PASSWORD environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	if err := loader.validator.Struct(cfg); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}

	return &cfg, nil
}
