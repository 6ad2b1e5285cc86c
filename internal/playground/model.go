// Package playground owns the clinician-defined drill templates and their
// client run history, keyed by opaque unguessable tokens.
package playground

import (
	"errors"
	"time"
)

// ErrNotFound signals an unknown playground token. Absence is an expected
// outcome, not a fault.
var ErrNotFound = errors.New("playground not found")

// Arabic defaults from the clinician form.
const (
	DefaultTitle = "ملعب لفظي"
	DefaultVerb  = "أكل"
)

// Playground is a verb-centered drill created by a clinician. Immutable after
// creation except for its run sequence, which only grows.
type Playground struct {
	Token     string    `json:"token" db:"token"`
	Title     string    `json:"title" db:"title"`
	Verb      string    `json:"verb" db:"verb"`
	Notes     string    `json:"notes" db:"notes"`
	Dialects  []string  `json:"dialects"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Runs      []Run     `json:"client_runs"`
}

// Run is one completed client attempt. Never mutated after creation.
type Run struct {
	ClientName string         `json:"client_name"`
	Date       time.Time      `json:"date"`
	Answers    map[string]any `json:"answers"`
}

// NewPlayground carries the clinician form fields for Create.
type NewPlayground struct {
	Title    string
	Verb     string
	Notes    string
	Dialects []string
}

// Entry is one dashboard row: a playground with at most its most recent runs.
type Entry struct {
	Token      string
	Playground Playground
}

// DashboardRunLimit bounds how many recent runs a dashboard entry exposes.
const DashboardRunLimit = 4
