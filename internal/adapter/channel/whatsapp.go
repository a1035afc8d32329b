// Package channel implements the Butler's instant-messaging, short-message,
// email, and web chat adapters against domain.ChannelAdapter (spec §4.5/§6).
// Each adapter owns its own inbound webhook transport and its own outbound
// send call; the pipeline only ever sees domain.Inbound/OutboundPayload.
package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/infra/middleware"
)

// InboundProcessor is the single entry point every channel adapter's
// webhook handler calls once it has normalized a received message into a
// domain.Inbound. In production this is *pipeline.Pipeline; tests supply a
// stub.
type InboundProcessor interface {
	Process(ctx context.Context, in domain.Inbound) (*domain.OutboundPayload, error)
}

// WhatsAppChannel implements domain.ChannelAdapter for the WhatsApp Cloud
// API. It runs a webhook server for receiving messages and uses the Graph
// API for sending.
type WhatsAppChannel struct {
	token         string // Graph API access token
	phoneNumberID string // sender phone number ID
	verifyToken   string // webhook verification token
	appSecret     string // for X-Hub-Signature-256 verification
	processor     InboundProcessor
	messages      domain.MessageStore // optional: persists provider status callbacks
	logger        *slog.Logger
	client        *http.Client
	baseURL       string // Graph API base (overridable for tests)
	server        *http.Server
	webhookAddr   string
	boundAddr     string

	rateLimitPerMin int
	rateLimitBurst  int
}

// WithMessageStore attaches a message store so delivery-status callbacks
// (spec §6) update the persisted message's DeliveryStatus. Without it,
// status callbacks are received and acknowledged but not persisted.
func (w *WhatsAppChannel) WithMessageStore(messages domain.MessageStore) *WhatsAppChannel {
	w.messages = messages
	return w
}

// WithRateLimit overrides the webhook server's per-IP rate limit (spec §7's
// "100/min for general API" default).
func (w *WhatsAppChannel) WithRateLimit(requestsPerMin, burst int) *WhatsAppChannel {
	w.rateLimitPerMin = requestsPerMin
	w.rateLimitBurst = burst
	return w
}

// NewWhatsAppChannel creates a WhatsApp channel adapter.
func NewWhatsAppChannel(token, phoneNumberID, verifyToken, appSecret, webhookAddr string, processor InboundProcessor, logger *slog.Logger) *WhatsAppChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppChannel{
		token:         token,
		phoneNumberID: phoneNumberID,
		verifyToken:   verifyToken,
		appSecret:     appSecret,
		webhookAddr:   webhookAddr,
		processor:     processor,
		logger:        logger,
		baseURL:       "https://graph.facebook.com",
		client:        &http.Client{Timeout: 30 * time.Second},
		rateLimitPerMin: 100,
		rateLimitBurst:  20,
	}
}

// Start begins the webhook server. Non-blocking.
func (w *WhatsAppChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", w.handleWebhook)

	handler := middleware.SecurityHeaders(middleware.RateLimit(ctx, w.rateLimitPerMin, w.rateLimitBurst)(mux))
	w.server = &http.Server{
		Addr:              w.webhookAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", w.webhookAddr)
	if err != nil {
		return domain.WrapError("channel.whatsapp.Start", domain.KindFatal, err, "listen "+w.webhookAddr)
	}
	w.boundAddr = ln.Addr().String()

	go func() {
		w.logger.Info("whatsapp webhook started", "addr", w.boundAddr)
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.logger.Error("whatsapp webhook server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the webhook server.
func (w *WhatsAppChannel) Stop(ctx context.Context) error {
	if w.server == nil {
		return nil
	}
	return w.server.Shutdown(ctx)
}

// BoundAddr returns the actual bound address of the webhook server.
func (w *WhatsAppChannel) BoundAddr() string { return w.boundAddr }

// Name implements domain.ChannelAdapter.
func (w *WhatsAppChannel) Name() string { return "whatsapp" }

// Send implements domain.ChannelAdapter.
func (w *WhatsAppChannel) Send(ctx context.Context, to string, payload domain.OutboundPayload) (*domain.SendResult, error) {
	id, err := w.sendMessage(ctx, to, payload.Content)
	if err != nil {
		return &domain.SendResult{Status: domain.SendStatusFailed, Error: err.Error()}, err
	}
	return &domain.SendResult{Status: domain.SendStatusSent, ChannelMessageID: id}, nil
}

// TestConnection implements domain.ChannelAdapter by fetching the configured
// phone number's metadata.
func (w *WhatsAppChannel) TestConnection(ctx context.Context) error {
	url := w.baseURL + "/v21.0/" + w.phoneNumberID + "?fields=id"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.WrapError("channel.whatsapp.TestConnection", domain.KindFatal, err, "")
	}
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.WrapError("channel.whatsapp.TestConnection", domain.KindTransient, err, "")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NewError("channel.whatsapp.TestConnection", domain.KindUpstream, "graph api returned "+resp.Status+": "+string(body))
	}
	return nil
}

func (w *WhatsAppChannel) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.handleVerification(rw, r)
	case http.MethodPost:
		w.handleIncoming(rw, r)
	default:
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification handles the Meta webhook verification challenge.
func (w *WhatsAppChannel) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.verifyToken {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte(challenge))
		return
	}
	http.Error(rw, "forbidden", http.StatusForbidden)
}

// handleIncoming processes incoming WhatsApp webhook payloads. Always
// returns 200 to prevent Meta from retrying.
func (w *WhatsAppChannel) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err != nil {
		w.logger.Warn("whatsapp read body error", "error", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	if w.appSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.validateSignature(body, sig) {
			w.logger.Warn("whatsapp invalid webhook signature")
			rw.WriteHeader(http.StatusOK)
			return
		}
	}

	var payload whatsappWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp unmarshal error", "error", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	w.processPayload(r.Context(), &payload)
	rw.WriteHeader(http.StatusOK)
}

func (w *WhatsAppChannel) validateSignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(w.appSecret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// whatsappStatusMap maps Meta's message status callback values onto the
// four delivery states pending, sent, delivered and failed; a read receipt
// counts as delivered.
var whatsappStatusMap = map[string]domain.DeliveryStatus{
	"sent":      domain.DeliverySent,
	"delivered": domain.DeliveryDelivered,
	"read":      domain.DeliveryDelivered,
	"failed":    domain.DeliveryFailed,
}

func (w *WhatsAppChannel) processPayload(ctx context.Context, payload *whatsappWebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				w.processMessage(ctx, msg)
			}
			for _, status := range change.Value.Statuses {
				w.processStatus(ctx, status)
			}
		}
	}
}

func (w *WhatsAppChannel) processStatus(ctx context.Context, status whatsappStatus) {
	if w.messages == nil {
		return
	}
	mapped, ok := whatsappStatusMap[status.Status]
	if !ok {
		return
	}
	if err := w.messages.UpdateDeliveryStatusByChannelMessageID(ctx, status.ID, mapped); err != nil {
		w.logger.Warn("whatsapp delivery status persist error", "id", status.ID, "error", err)
	}
}

func (w *WhatsAppChannel) processMessage(ctx context.Context, msg whatsappMessage) {
	var content string
	var media []domain.Media

	if msg.Type == "text" && msg.Text != nil {
		content = msg.Text.Body
	} else {
		content = w.extractMediaContent(msg)
		media = w.extractMediaAttachments(msg)
	}
	if content == "" && len(media) == 0 {
		return
	}

	w.dispatchMessage(ctx, msg.From, content, media)
}

func (w *WhatsAppChannel) dispatchMessage(ctx context.Context, from, content string, media []domain.Media) {
	out, err := w.processor.Process(ctx, domain.Inbound{
		ChannelType: domain.ChannelTypeInstantMessaging,
		ChannelID:   from,
		Content:     content,
		ContentType: "text",
		Timestamp:   time.Now().UTC(),
		Media:       media,
	})
	if err != nil {
		w.logger.Error("whatsapp pipeline error", "error", err, "from", from)
		return
	}
	if _, err := w.Send(ctx, from, *out); err != nil {
		w.logger.Error("whatsapp send error", "error", err, "from", from)
	}
}

func (w *WhatsAppChannel) extractMediaContent(msg whatsappMessage) string {
	switch msg.Type {
	case "image":
		if msg.Image != nil {
			return msg.Image.Caption
		}
	case "document":
		if msg.Document != nil {
			return msg.Document.Caption
		}
	}
	return ""
}

func (w *WhatsAppChannel) extractMediaAttachments(msg whatsappMessage) []domain.Media {
	var media []domain.Media
	switch msg.Type {
	case "image":
		if msg.Image != nil {
			media = append(media, domain.Media{Type: domain.MediaTypeImage, URL: msg.Image.ID, MIMEType: msg.Image.MIMEType, Caption: msg.Image.Caption})
		}
	case "document":
		if msg.Document != nil {
			media = append(media, domain.Media{Type: domain.MediaTypeFile, URL: msg.Document.ID, MIMEType: msg.Document.MIMEType, Caption: msg.Document.Caption})
		}
	case "audio":
		if msg.Audio != nil {
			media = append(media, domain.Media{Type: domain.MediaTypeAudio, URL: msg.Audio.ID, MIMEType: msg.Audio.MIMEType})
		}
	}
	return media
}

func (w *WhatsAppChannel) sendMessage(ctx context.Context, to, text string) (string, error) {
	url := w.baseURL + "/v21.0/" + w.phoneNumberID + "/messages"

	payload := whatsappSendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &whatsappSendText{Body: text},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.WrapError("channel.whatsapp.sendMessage", domain.KindFatal, err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", domain.WrapError("channel.whatsapp.sendMessage", domain.KindFatal, err, "")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", domain.WrapError("channel.whatsapp.sendMessage", domain.KindTransient, err, "")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", domain.WrapError("channel.whatsapp.sendMessage", domain.KindTransient, err, "read response")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", domain.NewError("channel.whatsapp.sendMessage", domain.KindUpstream, "graph api error "+resp.Status+": "+string(respBody))
	}

	var decoded struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	_ = json.Unmarshal(respBody, &decoded)
	if len(decoded.Messages) > 0 {
		return decoded.Messages[0].ID, nil
	}
	return "", nil
}

// --- WhatsApp Cloud API wire types ---

type whatsappWebhookPayload struct {
	Object string          `json:"object"`
	Entry  []whatsappEntry `json:"entry"`
}

type whatsappEntry struct {
	ID      string           `json:"id"`
	Changes []whatsappChange `json:"changes"`
}

type whatsappChange struct {
	Field string              `json:"field"`
	Value whatsappChangeValue `json:"value"`
}

type whatsappChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         whatsappMetadata  `json:"metadata"`
	Contacts         []whatsappContact `json:"contacts"`
	Messages         []whatsappMessage `json:"messages"`
	Statuses         []whatsappStatus  `json:"statuses"`
}

type whatsappMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type whatsappContact struct {
	WaID    string          `json:"wa_id"`
	Profile whatsappProfile `json:"profile"`
}

type whatsappProfile struct {
	Name string `json:"name"`
}

type whatsappStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type whatsappMessage struct {
	From      string              `json:"from"`
	ID        string              `json:"id"`
	Timestamp string              `json:"timestamp"`
	Type      string              `json:"type"`
	Text      *whatsappText       `json:"text,omitempty"`
	Image     *whatsappMedia      `json:"image,omitempty"`
	Document  *whatsappDocMedia   `json:"document,omitempty"`
	Audio     *whatsappAudioMedia `json:"audio,omitempty"`
}

type whatsappText struct {
	Body string `json:"body"`
}

type whatsappMedia struct {
	ID       string `json:"id"`
	MIMEType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type whatsappDocMedia struct {
	ID       string `json:"id"`
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type whatsappAudioMedia struct {
	ID       string `json:"id"`
	MIMEType string `json:"mime_type"`
}

type whatsappSendRequest struct {
	MessagingProduct string            `json:"messaging_product"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Text             *whatsappSendText `json:"text,omitempty"`
}

type whatsappSendText struct {
	Body string `json:"body"`
}
