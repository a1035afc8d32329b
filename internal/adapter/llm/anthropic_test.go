package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "you are the butler", req.System)

		resp := anthropicResponse{
			ID:      "msg_1",
			Content: []anthropicContent{{Type: "text", Text: "Good evening."}},
			Usage:   anthropicUsage{InputTokens: 10, OutputTokens: 4},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("anthropic", "test-key", "claude-3-5-sonnet", srv.URL, nil)

	out, err := p.Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.LLMMessage{
			{Role: domain.RoleSystem, Content: "you are the butler"},
			{Role: domain.RoleUser, Content: "turndown please"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Good evening.", out.Content)
	assert.Equal(t, 14, out.Usage.TotalTokens)
}

func TestAnthropicProvider_CompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("anthropic", "test-key", "claude-3-5-sonnet", srv.URL, nil)
	_, err := p.Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.LLMMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestAnthropicProvider_EmbedUnsupported(t *testing.T) {
	p := NewAnthropicProvider("anthropic", "test-key", "claude-3-5-sonnet", "", nil)
	_, err := p.Embed(context.Background(), []string{"hi"})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, 0, p.Dimensions())
}

func TestAnthropicProvider_Name(t *testing.T) {
	p := NewAnthropicProvider("anthropic", "k", "m", "", nil)
	assert.Equal(t, "anthropic", p.Name())
}
