package azureopenai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"resty.dev/v3"

	"github.com/nbalushi/malaab/internal/inference"
)

const apiVersion = "2024-05-01-preview"

type Client struct {
	httpClient       *resty.Client
	deployment       string
	maxRetryAttempts uint
}

func NewClient(endpoint, apiKey, deployment string, retryAttempts uint) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(endpoint, "/"))
	client.SetHeader("api-key", apiKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(30 * time.Second)

	return &Client{
		httpClient:       client,
		deployment:       deployment,
		maxRetryAttempts: retryAttempts,
	}
}

func (client Client) Close() error {
	return client.httpClient.Close()
}

// GetDeployment returns the deployment name configured for this client
func (client Client) GetDeployment() string {
	return client.deployment
}

type ChatCompletionRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature"`
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type ChoiceMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// Retry on network-related errors
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "i/o timeout") {
		return true
	}

	// Retry on 5xx errors (server errors)
	if strings.Contains(errStr, "response error 5") {
		return true
	}

	// Retry on rate limiting (429)
	if strings.Contains(errStr, "response error 429") {
		return true
	}

	return false
}

// Complete implements the inference.Client interface
func (client *Client) Complete(
	ctx context.Context,
	params inference.CompletionRequest,
) (string, error) {
	var result string
	if err := retry.Do(
		func() error {
			response, err := client.complete(ctx, params)
			if err != nil {
				if !isRetryableError(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = response
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(client.maxRetryAttempts+1),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	); err != nil {
		return "", err
	}
	return result, nil
}

func (client *Client) complete(
	ctx context.Context,
	params inference.CompletionRequest,
) (string, error) {
	requestBody := ChatCompletionRequest{
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Messages: []Message{
			{Role: RoleSystem, Content: params.SystemPrompt},
			{Role: RoleUser, Content: params.UserPrompt},
		},
	}

	response, err := client.httpClient.R().
		SetContext(ctx).
		SetQueryParam("api-version", apiVersion).
		SetBody(requestBody).
		SetResult(&ChatCompletionResponse{}).
		Post(fmt.Sprintf("/openai/deployments/%s/chat/completions", client.deployment))
	if err != nil {
		return "", fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	}

	responseBody := response.Result().(*ChatCompletionResponse)
	if responseBody == nil || len(responseBody.Choices) == 0 {
		return "", fmt.Errorf("empty response body or choices: %s", response.String())
	}

	content := strings.TrimSpace(responseBody.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty response content: %s", response.String())
	}
	slog.Default().Debug("azure openai response content",
		"deployment", client.deployment,
		"usage", responseBody.Usage,
	)

	return content, nil
}
