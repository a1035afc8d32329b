package domain

import (
	"context"
	"time"
)

// Role constants for LLM chat turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMMessage is a single turn sent to or received from a language model.
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is sent to a LanguageModelProvider.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []LLMMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

// ChatResponse is returned from a LanguageModelProvider.
type ChatResponse struct {
	Content   string    `json:"content"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption for a single LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LanguageModelProvider is the contract every AI app instance implements
// (spec §6). D is the embedding dimensionality, typically 1536.
type LanguageModelProvider interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	TestConnection(ctx context.Context) error
	Name() string
}
