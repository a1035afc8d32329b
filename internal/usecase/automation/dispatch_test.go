package automation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	calls []string
	err   error
}

func (f *fakeSender) Send(ctx context.Context, channelType, to, content string) error {
	f.calls = append(f.calls, to+":"+content)
	return f.err
}

func TestSendMessage_ResolvesGuestDestinationWhenToOmitted(t *testing.T) {
	sender := &fakeSender{}
	d := NewStandardDispatcher(nil, nil, sender, nil, nil)

	out, err := d.SendMessage(context.Background(), map[string]any{"content": "hi"},
		domain.ExecutionContext{Guest: &domain.Guest{Phone: "+15550100"}})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", out["to"])
	assert.Equal(t, []string{"+15550100:hi"}, sender.calls)
}

func TestSendMessage_NoDestinationResolvedFails(t *testing.T) {
	d := NewStandardDispatcher(nil, nil, &fakeSender{}, nil, nil)
	_, err := d.SendMessage(context.Background(), map[string]any{"content": "hi"}, domain.ExecutionContext{})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestWebhook_BlocksPrivateAndLoopbackTargets(t *testing.T) {
	d := NewStandardDispatcher(nil, nil, nil, nil, nil)

	_, err := d.Webhook(context.Background(), map[string]any{"url": "http://127.0.0.1:9/hook"}, domain.ExecutionContext{})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = d.Webhook(context.Background(), map[string]any{"url": "ftp://example.com/hook"}, domain.ExecutionContext{})
	require.Error(t, err)
}

func TestWebhook_LoopbackTestServerIsBlockedEvenThoughItsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// httptest servers bind to loopback; ValidateURL blocks them exactly as
	// it would any other request aimed at internal infrastructure.
	d := NewStandardDispatcher(nil, nil, nil, srv.Client(), nil)
	_, err := d.Webhook(context.Background(), map[string]any{"url": srv.URL}, domain.ExecutionContext{})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}
