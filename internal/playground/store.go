package playground

import (
	"context"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the playground collection and its append-only run history.
type Store interface {
	Create(ctx context.Context, params NewPlayground) (string, error)
	Get(ctx context.Context, token string) (Playground, error)
	AppendRun(ctx context.Context, token string, run Run) error
	ListAll(ctx context.Context) ([]Entry, error)
}

// MemoryStore keeps all state in process memory. The reference deployment of
// this exercise makes no persistence guarantee.
type MemoryStore struct {
	mu          sync.RWMutex
	playgrounds map[string]*Playground
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		playgrounds: make(map[string]*Playground),
		now:         time.Now,
	}
}

// WithClock overrides the store's clock. Test use only.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// NewToken returns a fresh 128-bit random token in hex form.
func NewToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func (s *MemoryStore) Create(_ context.Context, params NewPlayground) (string, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = DefaultTitle
	}
	verb := strings.TrimSpace(params.Verb)
	if verb == "" {
		verb = DefaultVerb
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token := NewToken()
	for {
		if _, exists := s.playgrounds[token]; !exists {
			break
		}
		token = NewToken()
	}

	s.playgrounds[token] = &Playground{
		Token:     token,
		Title:     title,
		Verb:      verb,
		Notes:     strings.TrimSpace(params.Notes),
		Dialects:  append([]string(nil), params.Dialects...),
		CreatedAt: s.now(),
	}
	return token, nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (Playground, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pg, ok := s.playgrounds[token]
	if !ok {
		return Playground{}, ErrNotFound
	}
	return copyPlayground(pg, len(pg.Runs)), nil
}

func (s *MemoryStore) AppendRun(_ context.Context, token string, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pg, ok := s.playgrounds[token]
	if !ok {
		return ErrNotFound
	}
	pg.Runs = append(pg.Runs, run)
	return nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.playgrounds))
	for token, pg := range s.playgrounds {
		entries = append(entries, Entry{
			Token:      token,
			Playground: copyPlayground(pg, DashboardRunLimit),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Playground.CreatedAt.After(entries[j].Playground.CreatedAt)
	})
	return entries, nil
}

// copyPlayground snapshots a playground with at most its runLimit most recent
// runs, so callers never alias store memory. Answer maps are copied too.
func copyPlayground(pg *Playground, runLimit int) Playground {
	snapshot := *pg
	snapshot.Dialects = append([]string(nil), pg.Dialects...)

	runs := pg.Runs
	if len(runs) > runLimit {
		runs = runs[len(runs)-runLimit:]
	}
	snapshot.Runs = make([]Run, len(runs))
	for i, run := range runs {
		snapshot.Runs[i] = run
		if run.Answers != nil {
			answers := make(map[string]any, len(run.Answers))
			for k, v := range run.Answers {
				answers[k] = v
			}
			snapshot.Runs[i].Answers = answers
		}
	}
	return snapshot
}
