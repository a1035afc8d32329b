package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// maxResponseBody is the maximum response body size read from LLM APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// doJSONRequest performs a JSON POST request and returns the response body.
// Non-200 responses are mapped to a domain error.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, domain.WrapError("llm.doJSONRequest", domain.KindTransient, err, "")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, domain.WrapError("llm.doJSONRequest", domain.KindTransient, err, "read response")
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// mapHTTPError maps an HTTP status code and body to a domain error so the
// circuit breaker and callers can classify provider failures consistently.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("provider returned %d: %s", statusCode, string(body))
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.WrapError("llm.request", domain.KindTransient, domain.ErrRateLimited, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.NewError("llm.request", domain.KindUnauthorized, detail)
	case statusCode >= 500:
		return domain.NewError("llm.request", domain.KindTransient, detail)
	default:
		return domain.NewError("llm.request", domain.KindUpstream, detail)
	}
}

// Default provider HTTP timeouts and connection pool sizing, shared across
// every adapter so a single hung provider can't exhaust the process's
// ephemeral ports.
const (
	defaultConnTimeout         = 30 * time.Second
	defaultRespTimeout         = 120 * time.Second
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 120 * time.Second
)

// newHTTPClient creates an *http.Client with pooled transport and timeout
// defaults suitable for LLM providers.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          defaultMaxIdleConns,
			MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: defaultRespTimeout,
			ForceAttemptHTTP2:     true,
		},
		Timeout: defaultConnTimeout + defaultRespTimeout,
	}
}
