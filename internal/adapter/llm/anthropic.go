package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/infra/tracer"
)

const defaultAnthropicVersion = "2023-06-01"

// AnthropicProvider implements domain.LanguageModelProvider for the
// Anthropic Messages API. Anthropic has no embeddings endpoint, so Embed
// always fails with a validation error; the registry should only select
// this provider for chat.
type AnthropicProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	version string
}

// NewAnthropicProvider creates a provider for the Anthropic Messages API.
func NewAnthropicProvider(name, apiKey, model, baseURL string, logger *slog.Logger) *AnthropicProvider {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicProvider{
		name:    name,
		model:   model,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  newHTTPClient(),
		logger:  logger,
		version: defaultAnthropicVersion,
	}
}

// Complete implements domain.LanguageModelProvider.
func (p *AnthropicProvider) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if req.Model == "" {
		req.Model = p.model
	}

	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapError("llm.anthropic.Complete", domain.KindFatal, err, "marshal request")
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.version,
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/v1/messages", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var antResp anthropicResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapError("llm.anthropic.Complete", domain.KindUpstream, err, "unmarshal response")
	}

	result := fromAnthropicResponse(antResp)
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", result.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", result.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	p.logger.Debug("llm complete", "provider", p.name, "tokens", result.Usage.TotalTokens)

	return result, nil
}

// Embed implements domain.LanguageModelProvider. Anthropic does not expose
// an embeddings API.
func (p *AnthropicProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, domain.NewError("llm.anthropic.Embed", domain.KindValidation, "anthropic provider does not support embeddings")
}

// Dimensions implements domain.LanguageModelProvider.
func (p *AnthropicProvider) Dimensions() int { return 0 }

// TestConnection implements domain.LanguageModelProvider by issuing a
// minimal one-token request.
func (p *AnthropicProvider) TestConnection(ctx context.Context) error {
	_, err := p.Complete(ctx, domain.ChatRequest{
		Model:     p.model,
		Messages:  []domain.LLMMessage{{Role: domain.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// Name implements domain.LanguageModelProvider.
func (p *AnthropicProvider) Name() string { return p.name }

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func toAnthropicRequest(req domain.ChatRequest) anthropicRequest {
	antReq := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if antReq.MaxTokens <= 0 {
		antReq.MaxTokens = 4096
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			if antReq.System != "" {
				antReq.System += "\n" + m.Content
			} else {
				antReq.System = m.Content
			}
			continue
		}
		antReq.Messages = append(antReq.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}
	return antReq
}

func fromAnthropicResponse(resp anthropicResponse) *domain.ChatResponse {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &domain.ChatResponse{
		Content: text.String(),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		CreatedAt: time.Now().UTC(),
	}
}
