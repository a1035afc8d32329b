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

// embeddingDimensions maps known OpenAI embedding models to their output
// width, following the same table embeddings/openai.go uses in the
// agentoven control plane's embedding driver.
var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider implements domain.LanguageModelProvider for any
// OpenAI-compatible chat-completions and embeddings API.
type OpenAIProvider struct {
	name           string
	model          string
	embeddingModel string
	apiKey         string
	baseURL        string
	client         *http.Client
	logger         *slog.Logger
}

// NewOpenAIProvider creates a provider with configured timeouts. embeddingModel
// may be empty when this instance is only used for chat.
func NewOpenAIProvider(name, apiKey, model, embeddingModel, baseURL string, logger *slog.Logger) *OpenAIProvider {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		name:           name,
		model:          model,
		embeddingModel: embeddingModel,
		apiKey:         apiKey,
		baseURL:        baseURL,
		client:         newHTTPClient(),
		logger:         logger,
	}
}

// Complete implements domain.LanguageModelProvider.
func (p *OpenAIProvider) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
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

	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapError("llm.openai.Complete", domain.KindFatal, err, "marshal request")
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapError("llm.openai.Complete", domain.KindUpstream, err, "unmarshal response")
	}

	result := fromOpenAIResponse(oaiResp)
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", result.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", result.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	p.logger.Debug("llm complete", "provider", p.name, "tokens", result.Usage.TotalTokens)

	return result, nil
}

// Embed implements domain.LanguageModelProvider.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := p.embeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}

	body, err := json.Marshal(openaiEmbedRequest{Input: texts, Model: model})
	if err != nil {
		return nil, domain.WrapError("llm.openai.Embed", domain.KindFatal, err, "marshal request")
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/embeddings", body, headers)
	if err != nil {
		return nil, err
	}

	var oaiResp openaiEmbedResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, domain.WrapError("llm.openai.Embed", domain.KindUpstream, err, "unmarshal response")
	}

	vectors := make([][]float32, len(texts))
	for _, d := range oaiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}
	return vectors, nil
}

// Dimensions implements domain.LanguageModelProvider.
func (p *OpenAIProvider) Dimensions() int {
	model := p.embeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	if d, ok := embeddingDimensions[model]; ok {
		return d
	}
	return 1536
}

// TestConnection implements domain.LanguageModelProvider by embedding a
// single short string.
func (p *OpenAIProvider) TestConnection(ctx context.Context) error {
	_, err := p.Embed(ctx, []string{"connection test"})
	return err
}

// Name implements domain.LanguageModelProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// --- OpenAI chat-completions wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Created int64          `json:"created"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toOpenAIRequest(req domain.ChatRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openaiMessage{Role: m.Role, Content: m.Content})
	}

	oaiReq := openaiRequest{Model: req.Model, Messages: msgs}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		oaiReq.Temperature = &req.Temperature
	}
	return oaiReq
}

func fromOpenAIResponse(resp openaiResponse) *domain.ChatResponse {
	result := &domain.ChatResponse{
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(resp.Created, 0).UTC(),
	}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
	}
	return result
}

// --- OpenAI embeddings wire types ---

type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbedResponse struct {
	Data []openaiEmbedData `json:"data"`
}

type openaiEmbedData struct {
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}
