// Package session composes the playground store, answer evaluator and speech
// credential cache into the client- and clinician-facing flows.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbalushi/malaab/internal/evaluator"
	"github.com/nbalushi/malaab/internal/playground"
	"github.com/nbalushi/malaab/internal/speech"
)

// DefaultClientName labels runs submitted without a client name.
const DefaultClientName = "عميل"

// Submission is one client run payload. Answers carries the raw answer fields
// as submitted; its shape is owned by the client.
type Submission struct {
	ClientName string
	Preview    bool
	Answers    map[string]any
}

// Orchestrator serves the client exercise flow and the clinician dashboard.
type Orchestrator struct {
	store       playground.Store
	evaluator   *evaluator.Evaluator
	credentials *speech.TokenCache
	now         func() time.Time
}

func NewOrchestrator(store playground.Store, eval *evaluator.Evaluator, credentials *speech.TokenCache) *Orchestrator {
	return &Orchestrator{
		store:       store,
		evaluator:   eval,
		credentials: credentials,
		now:         time.Now,
	}
}

// WithClock overrides the orchestrator's clock. Test use only.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// CreatePlayground registers a new drill and returns its share token.
func (o *Orchestrator) CreatePlayground(ctx context.Context, params playground.NewPlayground) (string, error) {
	token, err := o.store.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("store.Create > %w", err)
	}
	slog.Default().Info("created playground",
		"token", token,
		"verb", params.Verb,
	)
	return token, nil
}

// GetPlayground resolves a share token. Unknown tokens return
// playground.ErrNotFound.
func (o *Orchestrator) GetPlayground(ctx context.Context, token string) (playground.Playground, error) {
	return o.store.Get(ctx, token)
}

// Dashboard lists playgrounds newest first, each with its most recent runs.
func (o *Orchestrator) Dashboard(ctx context.Context) ([]playground.Entry, error) {
	return o.store.ListAll(ctx)
}

// StartRun validates the token and mints an opaque run identifier. The
// identifier is not persisted; a Run record only materializes on submit.
func (o *Orchestrator) StartRun(ctx context.Context, token string) (string, error) {
	if _, err := o.store.Get(ctx, token); err != nil {
		return "", err
	}
	return playground.NewToken(), nil
}

// SubmitRun records a completed attempt. The token is resolved before
// anything else, so unknown tokens fail even for previews. Preview
// submissions are acknowledged but never stored; accepted reports whether a
// Run was appended.
func (o *Orchestrator) SubmitRun(ctx context.Context, token string, submission Submission) (accepted bool, err error) {
	if _, err := o.store.Get(ctx, token); err != nil {
		return false, err
	}
	if submission.Preview {
		return false, nil
	}

	clientName := submission.ClientName
	if clientName == "" {
		clientName = DefaultClientName
	}

	run := playground.Run{
		ClientName: clientName,
		Date:       o.now(),
		Answers:    submission.Answers,
	}
	if err := o.store.AppendRun(ctx, token, run); err != nil {
		return false, err
	}
	return true, nil
}

// ObjectPrompt builds the object-complement prompt for a playground's verb.
func (o *Orchestrator) ObjectPrompt(ctx context.Context, verb string) (string, error) {
	return o.evaluator.ObjectPrompt(ctx, verb)
}

// EvaluateYesNo grades one grammar or semantics judgment item.
func (o *Orchestrator) EvaluateYesNo(ctx context.Context, req evaluator.Request) (evaluator.Verdict, error) {
	return o.evaluator.EvaluateYesNo(ctx, req)
}

// GrammarFeedback returns the oracle's free-form corrections for a batch of
// sentences.
func (o *Orchestrator) GrammarFeedback(ctx context.Context, sentences []string) (string, error) {
	return o.evaluator.GrammarFeedback(ctx, sentences)
}

// OracleConfigured reports whether judgments run against the oracle or the
// deterministic fallbacks.
func (o *Orchestrator) OracleConfigured() bool {
	return o.evaluator.Configured()
}

// SpeechCredential returns the cached short-lived voice credential.
func (o *Orchestrator) SpeechCredential(ctx context.Context) (speech.Credential, error) {
	return o.credentials.GetCredential(ctx)
}
