package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

type stubProcessor struct {
	reply *domain.OutboundPayload
	err   error
	calls []domain.Inbound
}

func (p *stubProcessor) Process(ctx context.Context, in domain.Inbound) (*domain.OutboundPayload, error) {
	p.calls = append(p.calls, in)
	if p.err != nil {
		return nil, p.err
	}
	if p.reply != nil {
		return p.reply, nil
	}
	return &domain.OutboundPayload{Content: "thanks"}, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func signTwilioRequest(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf strings.Builder
	buf.WriteString(fullURL)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(buf.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestShortMessageChannel_HandleInbound(t *testing.T) {
	proc := &stubProcessor{}
	sendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer sendSrv.Close()

	ch := NewShortMessageChannel("ACsid", "authtoken", "+15550000000", ":0", "https://butler.example.com/sms/webhook", proc, discardLogger())
	ch.baseURL = sendSrv.URL

	form := url.Values{"From": {"+15551234567"}, "Body": {"hello"}, "NumMedia": {"0"}}
	req := httptest.NewRequest(http.MethodPost, "https://butler.example.com/sms/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signTwilioRequest("authtoken", "https://butler.example.com/sms/webhook", form))

	rw := httptest.NewRecorder()
	ch.handleInbound(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if len(proc.calls) != 1 || proc.calls[0].Content != "hello" {
		t.Fatalf("expected pipeline called with content 'hello', got %+v", proc.calls)
	}
	if proc.calls[0].ChannelType != domain.ChannelTypeShortMessage {
		t.Errorf("expected channel type sms, got %q", proc.calls[0].ChannelType)
	}
}

func TestShortMessageChannel_HandleInbound_BadSignatureRejected(t *testing.T) {
	proc := &stubProcessor{}
	ch := NewShortMessageChannel("ACsid", "authtoken", "+15550000000", ":0", "https://butler.example.com/sms/webhook", proc, discardLogger())

	form := url.Values{"From": {"+15551234567"}, "Body": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "https://butler.example.com/sms/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")

	rw := httptest.NewRecorder()
	ch.handleInbound(rw, req)

	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", rw.Code)
	}
	if len(proc.calls) != 0 {
		t.Fatal("expected pipeline not to be called for a forged request")
	}
}

func TestShortMessageChannel_HandleInbound_MediaGetsTextOnlyReply(t *testing.T) {
	proc := &stubProcessor{}
	ch := NewShortMessageChannel("ACsid", "authtoken", "+15550000000", ":0", "https://butler.example.com/sms/webhook", proc, discardLogger())

	form := url.Values{"From": {"+15551234567"}, "Body": {"look at this"}, "NumMedia": {"1"}}
	req := httptest.NewRequest(http.MethodPost, "https://butler.example.com/sms/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signTwilioRequest("authtoken", "https://butler.example.com/sms/webhook", form))

	rw := httptest.NewRecorder()
	ch.handleInbound(rw, req)

	if len(proc.calls) != 1 {
		t.Fatalf("expected one pipeline call, got %d", len(proc.calls))
	}
	if !strings.Contains(proc.calls[0].Content, "text-only") {
		t.Errorf("expected text-only placeholder content, got %q", proc.calls[0].Content)
	}
}

func TestShortMessageChannel_Send(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ch := NewShortMessageChannel("ACsid", "authtoken", "+15550000000", ":0", "", &stubProcessor{}, discardLogger())
	ch.baseURL = srv.URL

	result, err := ch.Send(context.Background(), "+15551234567", domain.OutboundPayload{Content: "hi there"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Status != domain.SendStatusSent {
		t.Errorf("expected sent status, got %v", result.Status)
	}
	if gotForm.Get("To") != "+15551234567" || gotForm.Get("Body") != "hi there" {
		t.Errorf("unexpected form sent: %+v", gotForm)
	}
}

func TestShortMessageChannel_StatusCallback(t *testing.T) {
	ch := NewShortMessageChannel("ACsid", "authtoken", "+15550000000", ":0", "https://butler.example.com/sms/status", &stubProcessor{}, discardLogger())

	form := url.Values{"MessageSid": {"SM123"}, "MessageStatus": {"delivered"}}
	req := httptest.NewRequest(http.MethodPost, "https://butler.example.com/sms/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signTwilioRequest("authtoken", "https://butler.example.com/sms/status", form))

	rw := httptest.NewRecorder()
	ch.handleStatusCallback(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

type fakeMessageStore struct {
	updates map[string]domain.DeliveryStatus
}

func (f *fakeMessageStore) Recent(ctx context.Context, conversationID string, n int) ([]domain.Message, error) {
	return nil, nil
}
func (f *fakeMessageStore) Create(ctx context.Context, m *domain.Message) error { return nil }
func (f *fakeMessageStore) UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus) error {
	return nil
}
func (f *fakeMessageStore) UpdateDeliveryStatusByChannelMessageID(ctx context.Context, channelMessageID string, status domain.DeliveryStatus) error {
	if f.updates == nil {
		f.updates = map[string]domain.DeliveryStatus{}
	}
	f.updates[channelMessageID] = status
	return nil
}
func (f *fakeMessageStore) CountForConversation(ctx context.Context, conversationID string) (int, error) {
	return 0, nil
}

func TestShortMessageChannel_StatusCallbackPersistsDeliveryStatus(t *testing.T) {
	messages := &fakeMessageStore{}
	ch := NewShortMessageChannel("ACsid", "authtoken", "+15550000000", ":0", "https://butler.example.com/sms/status", &stubProcessor{}, discardLogger()).
		WithMessageStore(messages)

	form := url.Values{"MessageSid": {"SM123"}, "MessageStatus": {"delivered"}}
	req := httptest.NewRequest(http.MethodPost, "https://butler.example.com/sms/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signTwilioRequest("authtoken", "https://butler.example.com/sms/status", form))

	rw := httptest.NewRecorder()
	ch.handleStatusCallback(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if messages.updates["SM123"] != domain.DeliveryDelivered {
		t.Fatalf("expected SM123 marked delivered, got %+v", messages.updates)
	}
}
