package playground

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// MySQLStore persists playgrounds and runs for deployments where state must
// outlive the process. It implements the same Store contract as MemoryStore.
type MySQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{
		db:  db,
		now: time.Now,
	}
}

// EnsureSchema creates the playground tables when they do not exist yet.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS playgrounds (
    token      CHAR(32) PRIMARY KEY,
    title      VARCHAR(255) NOT NULL,
    verb       VARCHAR(255) NOT NULL,
    notes      TEXT NOT NULL,
    dialects   JSON NOT NULL,
    created_at DATETIME(6) NOT NULL,
    INDEX idx_playgrounds_created_at (created_at)
);
CREATE TABLE IF NOT EXISTS runs (
    id               BIGINT AUTO_INCREMENT PRIMARY KEY,
    playground_token CHAR(32) NOT NULL,
    client_name      VARCHAR(255) NOT NULL,
    completed_at     DATETIME(6) NOT NULL,
    answers          JSON NOT NULL,
    INDEX idx_runs_token (playground_token),
    CONSTRAINT fk_runs_playground FOREIGN KEY (playground_token) REFERENCES playgrounds (token)
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("db.ExecContext > %w", err)
	}
	return nil
}

type playgroundRow struct {
	Token     string    `db:"token"`
	Title     string    `db:"title"`
	Verb      string    `db:"verb"`
	Notes     string    `db:"notes"`
	Dialects  []byte    `db:"dialects"`
	CreatedAt time.Time `db:"created_at"`
}

type runRow struct {
	ClientName  string    `db:"client_name"`
	CompletedAt time.Time `db:"completed_at"`
	Answers     []byte    `db:"answers"`
}

func (s *MySQLStore) Create(ctx context.Context, params NewPlayground) (string, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = DefaultTitle
	}
	verb := strings.TrimSpace(params.Verb)
	if verb == "" {
		verb = DefaultVerb
	}

	dialects, err := json.Marshal(append([]string{}, params.Dialects...))
	if err != nil {
		return "", fmt.Errorf("json.Marshal > %w", err)
	}

	token := NewToken()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO playgrounds (token, title, verb, notes, dialects, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		token, title, verb, strings.TrimSpace(params.Notes), dialects, s.now().UTC(),
	); err != nil {
		return "", fmt.Errorf("db.ExecContext > %w", err)
	}
	return token, nil
}

func (s *MySQLStore) Get(ctx context.Context, token string) (Playground, error) {
	var row playgroundRow
	if err := s.db.GetContext(ctx, &row,
		`SELECT token, title, verb, notes, dialects, created_at FROM playgrounds WHERE token = ?`, token,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Playground{}, ErrNotFound
		}
		return Playground{}, fmt.Errorf("db.GetContext > %w", err)
	}

	pg, err := rowToPlayground(row)
	if err != nil {
		return Playground{}, err
	}

	runs, err := s.runsFor(ctx, token, 0)
	if err != nil {
		return Playground{}, err
	}
	pg.Runs = runs
	return pg, nil
}

func (s *MySQLStore) AppendRun(ctx context.Context, token string, run Run) error {
	answers, err := json.Marshal(run.Answers)
	if err != nil {
		return fmt.Errorf("json.Marshal > %w", err)
	}

	// The foreign key makes an unknown token fail without mutation; checking
	// first gives the caller ErrNotFound instead of a driver error.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db.BeginTxx > %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT 1 FROM playgrounds WHERE token = ? FOR UPDATE`, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("tx.GetContext > %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (playground_token, client_name, completed_at, answers) VALUES (?, ?, ?, ?)`,
		token, run.ClientName, run.Date.UTC(), answers,
	); err != nil {
		return fmt.Errorf("tx.ExecContext > %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx.Commit > %w", err)
	}
	return nil
}

func (s *MySQLStore) ListAll(ctx context.Context) ([]Entry, error) {
	var rows []playgroundRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT token, title, verb, notes, dialects, created_at FROM playgrounds ORDER BY created_at DESC`,
	); err != nil {
		return nil, fmt.Errorf("db.SelectContext > %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		pg, err := rowToPlayground(row)
		if err != nil {
			return nil, err
		}
		runs, err := s.runsFor(ctx, row.Token, DashboardRunLimit)
		if err != nil {
			return nil, err
		}
		pg.Runs = runs
		entries = append(entries, Entry{Token: row.Token, Playground: pg})
	}
	return entries, nil
}

// runsFor returns a playground's runs in submission order. A positive limit
// keeps only the most recent runs.
func (s *MySQLStore) runsFor(ctx context.Context, token string, limit int) ([]Run, error) {
	query := `SELECT client_name, completed_at, answers FROM runs WHERE playground_token = ? ORDER BY id`
	args := []any{token}
	if limit > 0 {
		query = `SELECT client_name, completed_at, answers FROM (
    SELECT id, client_name, completed_at, answers FROM runs WHERE playground_token = ? ORDER BY id DESC LIMIT ?
) recent ORDER BY id`
		args = append(args, limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext > %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		var answers map[string]any
		if err := json.Unmarshal(row.Answers, &answers); err != nil {
			return nil, fmt.Errorf("json.Unmarshal > %w", err)
		}
		runs = append(runs, Run{
			ClientName: row.ClientName,
			Date:       row.CompletedAt,
			Answers:    answers,
		})
	}
	return runs, nil
}

func rowToPlayground(row playgroundRow) (Playground, error) {
	var dialects []string
	if err := json.Unmarshal(row.Dialects, &dialects); err != nil {
		return Playground{}, fmt.Errorf("json.Unmarshal > %w", err)
	}
	return Playground{
		Token:     row.Token,
		Title:     row.Title,
		Verb:      row.Verb,
		Notes:     row.Notes,
		Dialects:  dialects,
		CreatedAt: row.CreatedAt,
	}, nil
}
