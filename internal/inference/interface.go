package inference

import (
	"context"
)

//go:generate mockgen -source=interface.go -destination=../mocks/inference/mock_client.go -package=mock_inference

// Client interface defines the transport for language-assistance judgments
type Client interface {
	Complete(ctx context.Context, params CompletionRequest) (string, error)
}

// CompletionRequest holds a single chat exchange with the assistant service
type CompletionRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float32 `json:"temperature"`
}

const (
	DefaultMaxRetryAttempts = 3
)
