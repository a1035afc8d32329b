package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

func TestWhatsAppChannelName(t *testing.T) {
	ch := NewWhatsAppChannel("token", "phone-id", "verify", "secret", ":0", &stubProcessor{}, discardLogger())
	if ch.Name() != "whatsapp" {
		t.Errorf("Name = %q, want whatsapp", ch.Name())
	}
}

func TestWhatsAppWebhookVerification(t *testing.T) {
	ch := NewWhatsAppChannel("token", "phone-id", "my-verify-token", "", ":0", &stubProcessor{}, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	url := fmt.Sprintf("http://%s/webhook?hub.mode=subscribe&hub.verify_token=my-verify-token&hub.challenge=test-challenge", ch.BoundAddr())
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "test-challenge" {
		t.Errorf("body = %q, want test-challenge", string(body))
	}
}

func TestWhatsAppWebhookVerificationReject(t *testing.T) {
	ch := NewWhatsAppChannel("token", "phone-id", "my-verify-token", "", ":0", &stubProcessor{}, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	url := fmt.Sprintf("http://%s/webhook?hub.mode=subscribe&hub.verify_token=wrong-token&hub.challenge=test", ch.BoundAddr())
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestWhatsAppReceiveTextMessage(t *testing.T) {
	proc := &stubProcessor{}
	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", proc, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	payload := whatsappWebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsappEntry{{
			ID: "entry-1",
			Changes: []whatsappChange{{
				Field: "messages",
				Value: whatsappChangeValue{
					Messages: []whatsappMessage{{
						From: "+1234567890",
						Type: "text",
						Text: &whatsappText{Body: "Hello Butler"},
					}},
				},
			}},
		}},
	}

	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("http://%s/webhook", ch.BoundAddr())
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	waitForCalls(t, proc, 1)

	got := proc.calls[0]
	if got.ChannelID != "+1234567890" {
		t.Errorf("ChannelID = %q", got.ChannelID)
	}
	if got.Content != "Hello Butler" {
		t.Errorf("Content = %q", got.Content)
	}
	if got.ChannelType != domain.ChannelTypeInstantMessaging {
		t.Errorf("ChannelType = %q", got.ChannelType)
	}
}

func TestWhatsAppSendMessage(t *testing.T) {
	var sentPayload whatsappSendRequest
	var authHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&sentPayload)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"messages":[{"id":"msg-id"}]}`))
	}))
	defer server.Close()

	ch := NewWhatsAppChannel("test-token", "phone-123", "verify", "", ":0", &stubProcessor{}, discardLogger())
	ch.baseURL = server.URL

	res, err := ch.Send(context.Background(), "+1234567890", domain.OutboundPayload{Content: "Hello from the butler"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != domain.SendStatusSent {
		t.Errorf("Status = %q, want sent", res.Status)
	}

	if sentPayload.MessagingProduct != "whatsapp" {
		t.Errorf("MessagingProduct = %q", sentPayload.MessagingProduct)
	}
	if sentPayload.To != "+1234567890" {
		t.Errorf("To = %q", sentPayload.To)
	}
	if sentPayload.Text == nil || sentPayload.Text.Body != "Hello from the butler" {
		t.Errorf("Text.Body = %v", sentPayload.Text)
	}
	if authHeader != "Bearer test-token" {
		t.Errorf("Authorization = %q", authHeader)
	}
}

func TestWhatsAppSendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("server error"))
	}))
	defer server.Close()

	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", &stubProcessor{}, discardLogger())
	ch.baseURL = server.URL

	res, err := ch.Send(context.Background(), "+1234567890", domain.OutboundPayload{Content: "test"})
	if err == nil {
		t.Error("expected error for API error")
	}
	if res.Status != domain.SendStatusFailed {
		t.Errorf("Status = %q, want failed", res.Status)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("expected 500 in error, got %v", err)
	}
}

func TestWhatsAppWebhookAlways200(t *testing.T) {
	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", &stubProcessor{}, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	url := fmt.Sprintf("http://%s/webhook", ch.BoundAddr())
	resp, err := http.Post(url, "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 for bad payload", resp.StatusCode)
	}
}

func TestWhatsAppWebhookSignature(t *testing.T) {
	appSecret := "test-app-secret"
	proc := &stubProcessor{}

	ch := NewWhatsAppChannel("token", "phone-id", "verify", appSecret, ":0", proc, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	payload := whatsappWebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsappEntry{{
			Changes: []whatsappChange{{
				Field: "messages",
				Value: whatsappChangeValue{
					Messages: []whatsappMessage{{
						From: "+1234567890",
						Type: "text",
						Text: &whatsappText{Body: "signed msg"},
					}},
				},
			}},
		}},
	}
	body, _ := json.Marshal(payload)

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	validSig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	url := fmt.Sprintf("http://%s/webhook", ch.BoundAddr())
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", validSig)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	waitForCalls(t, proc, 1)

	// Invalid signature — handler should NOT be called again.
	req2, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(string(body)))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Hub-Signature-256", "sha256=invalidsignature00000000000000000000000000000000000000000000000")

	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp2.Body.Close()

	time.Sleep(50 * time.Millisecond)
	if len(proc.calls) != 1 {
		t.Errorf("invalid sig: handler called %d times, want still 1", len(proc.calls))
	}
}

func TestWhatsAppStopBeforeStart(t *testing.T) {
	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", &stubProcessor{}, discardLogger())
	if err := ch.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestWhatsAppStartStop(t *testing.T) {
	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", &stubProcessor{}, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if ch.BoundAddr() == "" {
		t.Error("BoundAddr should not be empty after Start")
	}

	if err := ch.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestWhatsAppStatusIgnored(t *testing.T) {
	proc := &stubProcessor{}

	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", proc, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	// Payload with only statuses, no messages.
	payload := whatsappWebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsappEntry{{
			Changes: []whatsappChange{{
				Field: "messages",
				Value: whatsappChangeValue{
					Statuses: []whatsappStatus{{
						ID:     "status-1",
						Status: "delivered",
					}},
				},
			}},
		}},
	}

	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("http://%s/webhook", ch.BoundAddr())
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	time.Sleep(50 * time.Millisecond)

	if len(proc.calls) != 0 {
		t.Errorf("handler called %d times, want 0 for status-only webhook", len(proc.calls))
	}
}

func TestWhatsAppStatusPersistsDeliveryStatus(t *testing.T) {
	messages := &fakeMessageStore{}
	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", &stubProcessor{}, discardLogger()).
		WithMessageStore(messages)
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	payload := whatsappWebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsappEntry{{
			Changes: []whatsappChange{{
				Field: "messages",
				Value: whatsappChangeValue{
					Statuses: []whatsappStatus{{
						ID:     "wamid.status-1",
						Status: "delivered",
					}},
				},
			}},
		}},
	}

	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("http://%s/webhook", ch.BoundAddr())
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	for i := 0; i < 20 && messages.updates["wamid.status-1"] == ""; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if messages.updates["wamid.status-1"] != domain.DeliveryDelivered {
		t.Fatalf("expected wamid.status-1 marked delivered, got %+v", messages.updates)
	}
}

func TestWhatsAppNonTextIgnored(t *testing.T) {
	proc := &stubProcessor{}

	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", proc, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	// Location message (no text, no caption).
	payload := whatsappWebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsappEntry{{
			Changes: []whatsappChange{{
				Field: "messages",
				Value: whatsappChangeValue{
					Messages: []whatsappMessage{{
						From: "+1234567890",
						Type: "location",
					}},
				},
			}},
		}},
	}

	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("http://%s/webhook", ch.BoundAddr())
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	time.Sleep(50 * time.Millisecond)

	if len(proc.calls) != 0 {
		t.Errorf("handler called %d times, want 0 for non-text message", len(proc.calls))
	}
}

func TestWhatsAppMediaExtraction(t *testing.T) {
	proc := &stubProcessor{}

	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", proc, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	payload := whatsappWebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsappEntry{{
			Changes: []whatsappChange{{
				Field: "messages",
				Value: whatsappChangeValue{
					Messages: []whatsappMessage{{
						From: "+1234567890",
						Type: "image",
						Image: &whatsappMedia{
							ID:       "img-123",
							MIMEType: "image/jpeg",
							Caption:  "a photo",
						},
					}},
				},
			}},
		}},
	}

	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("http://%s/webhook", ch.BoundAddr())
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	waitForCalls(t, proc, 1)

	got := proc.calls[0]
	if got.Content != "a photo" {
		t.Errorf("Content = %q, want 'a photo'", got.Content)
	}
	if len(got.Media) != 1 {
		t.Fatalf("Media len = %d, want 1", len(got.Media))
	}
	if got.Media[0].Type != domain.MediaTypeImage {
		t.Errorf("Media[0].Type = %q", got.Media[0].Type)
	}
	if got.Media[0].URL != "img-123" {
		t.Errorf("Media[0].URL = %q", got.Media[0].URL)
	}
}

func TestWhatsAppSendUnreachable(t *testing.T) {
	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", &stubProcessor{}, discardLogger())
	ch.baseURL = "http://localhost:1" // unreachable

	_, err := ch.Send(context.Background(), "+1234567890", domain.OutboundPayload{Content: "test"})
	if err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestWhatsAppNonMessageFieldIgnored(t *testing.T) {
	proc := &stubProcessor{}

	ch := NewWhatsAppChannel("token", "phone-id", "verify", "", ":0", proc, discardLogger())
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	// Change field is not "messages" — should be ignored.
	payload := whatsappWebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsappEntry{{
			Changes: []whatsappChange{{
				Field: "account_update",
				Value: whatsappChangeValue{},
			}},
		}},
	}

	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("http://%s/webhook", ch.BoundAddr())
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	time.Sleep(50 * time.Millisecond)

	if len(proc.calls) != 0 {
		t.Errorf("handler called %d times, want 0 for non-messages field", len(proc.calls))
	}
}

func waitForCalls(t *testing.T, proc *stubProcessor, want int) {
	t.Helper()
	var n int
	for i := 0; i < 20; i++ {
		n = len(proc.calls)
		if n >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("handler called %d times, want %d", n, want)
}
