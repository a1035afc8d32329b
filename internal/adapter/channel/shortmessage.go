package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/infra/middleware"
)

// ShortMessageChannel implements domain.ChannelAdapter for Twilio-style SMS:
// form-encoded inbound webhooks signed with HMAC-SHA1 over the request URL
// plus sorted form parameters, and a plain REST send call. Structurally
// mirrors WhatsAppChannel (own bound webhook server via Start/Stop,
// InboundProcessor dispatch), adapted for the form-encoded, signature-over-
// params webhook shape Twilio's API uses instead of a JSON HMAC-SHA256 body
// signature.
type ShortMessageChannel struct {
	accountSID  string
	authToken   string
	fromNumber  string
	processor   InboundProcessor
	messages    domain.MessageStore // optional: persists provider status callbacks
	logger      *slog.Logger
	client      *http.Client
	baseURL     string // Twilio REST API base, overridable for tests
	server      *http.Server
	webhookAddr string
	boundAddr   string
	publicURL   string // externally visible URL of the webhook path, for signature verification

	rateLimitPerMin int
	rateLimitBurst  int
}

// NewShortMessageChannel creates an SMS channel adapter. publicURL is the
// full externally-reachable URL Twilio POSTs to (e.g.
// "https://butler.example.com/sms/webhook") — required for signature
// verification, since Twilio signs over the exact URL it called.
func NewShortMessageChannel(accountSID, authToken, fromNumber, webhookAddr, publicURL string, processor InboundProcessor, logger *slog.Logger) *ShortMessageChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShortMessageChannel{
		accountSID:  accountSID,
		authToken:   authToken,
		fromNumber:  fromNumber,
		webhookAddr: webhookAddr,
		publicURL:   publicURL,
		processor:   processor,
		logger:      logger,
		baseURL:     "https://api.twilio.com",
		client:      &http.Client{Timeout: 30 * time.Second},
		rateLimitPerMin: 100,
		rateLimitBurst:  20,
	}
}

// WithMessageStore attaches a message store so delivery-status callbacks
// (spec §6) update the persisted message's DeliveryStatus. Without it,
// status callbacks are received and acknowledged but not persisted.
func (s *ShortMessageChannel) WithMessageStore(messages domain.MessageStore) *ShortMessageChannel {
	s.messages = messages
	return s
}

// WithRateLimit overrides the webhook server's per-IP rate limit (spec §7's
// "100/min for general API" default).
func (s *ShortMessageChannel) WithRateLimit(requestsPerMin, burst int) *ShortMessageChannel {
	s.rateLimitPerMin = requestsPerMin
	s.rateLimitBurst = burst
	return s
}

// Start begins the webhook server. Non-blocking.
func (s *ShortMessageChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sms/webhook", s.handleInbound)
	mux.HandleFunc("/sms/status", s.handleStatusCallback)

	handler := middleware.SecurityHeaders(middleware.RateLimit(ctx, s.rateLimitPerMin, s.rateLimitBurst)(mux))
	s.server = &http.Server{
		Addr:              s.webhookAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.webhookAddr)
	if err != nil {
		return domain.WrapError("channel.shortmessage.Start", domain.KindFatal, err, "listen "+s.webhookAddr)
	}
	s.boundAddr = ln.Addr().String()

	go func() {
		s.logger.Info("shortmessage webhook started", "addr", s.boundAddr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("shortmessage webhook server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the webhook server.
func (s *ShortMessageChannel) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// BoundAddr returns the actual bound address of the webhook server.
func (s *ShortMessageChannel) BoundAddr() string { return s.boundAddr }

// Name implements domain.ChannelAdapter.
func (s *ShortMessageChannel) Name() string { return "sms" }

// Send implements domain.ChannelAdapter.
func (s *ShortMessageChannel) Send(ctx context.Context, to string, payload domain.OutboundPayload) (*domain.SendResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	form := url.Values{
		"From": {s.fromNumber},
		"To":   {to},
		"Body": {payload.Content},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.WrapError("channel.shortmessage.Send", domain.KindFatal, err, "")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.SendResult{Status: domain.SendStatusFailed, Error: err.Error()}, domain.WrapError("channel.shortmessage.Send", domain.KindTransient, err, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		err := domain.NewError("channel.shortmessage.Send", domain.KindUpstream, fmt.Sprintf("twilio returned %s", resp.Status))
		return &domain.SendResult{Status: domain.SendStatusFailed, Error: err.Error()}, err
	}

	var decoded struct {
		SID string `json:"sid"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return &domain.SendResult{Status: domain.SendStatusSent, ChannelMessageID: decoded.SID}, nil
}

// TestConnection implements domain.ChannelAdapter by fetching the account
// resource, which requires only valid credentials.
func (s *ShortMessageChannel) TestConnection(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.WrapError("channel.shortmessage.TestConnection", domain.KindFatal, err, "")
	}
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.WrapError("channel.shortmessage.TestConnection", domain.KindTransient, err, "")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.NewError("channel.shortmessage.TestConnection", domain.KindUpstream, "twilio returned "+resp.Status)
	}
	return nil
}

// deliveryStatusMap maps Twilio's MessageStatus callback values onto the
// four delivery states pending, sent, delivered and failed; a read receipt
// counts as delivered.
var deliveryStatusMap = map[string]domain.DeliveryStatus{
	"queued":      domain.DeliveryPending,
	"sending":     domain.DeliveryPending,
	"sent":        domain.DeliverySent,
	"delivered":   domain.DeliveryDelivered,
	"read":        domain.DeliveryDelivered,
	"undelivered": domain.DeliveryFailed,
	"failed":      domain.DeliveryFailed,
}

func (s *ShortMessageChannel) handleInbound(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("shortmessage read form error", "error", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	if s.authToken != "" && !s.validateSignature(r) {
		s.logger.Warn("shortmessage invalid webhook signature")
		http.Error(rw, "invalid signature", http.StatusForbidden)
		return
	}

	from := r.FormValue("From")
	content := r.FormValue("Body")
	numMedia := r.FormValue("NumMedia")

	if numMedia != "" && numMedia != "0" {
		content = "[media attachment received — text-only channel]"
	}

	out, err := s.processor.Process(r.Context(), domain.Inbound{
		ChannelType: domain.ChannelTypeShortMessage,
		ChannelID:   from,
		Content:     content,
		ContentType: "text",
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("shortmessage pipeline error", "error", err, "from", from)
		writeEmptyTwiML(rw)
		return
	}
	if _, err := s.Send(r.Context(), from, *out); err != nil {
		s.logger.Error("shortmessage send error", "error", err, "from", from)
	}
	writeEmptyTwiML(rw)
}

func (s *ShortMessageChannel) handleStatusCallback(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		rw.WriteHeader(http.StatusOK)
		return
	}
	if s.authToken != "" && !s.validateSignature(r) {
		http.Error(rw, "invalid signature", http.StatusForbidden)
		return
	}
	sid := r.FormValue("MessageSid")
	status := deliveryStatusMap[r.FormValue("MessageStatus")]
	s.logger.Info("shortmessage delivery status", "sid", sid, "status", status)
	if s.messages != nil && status != "" {
		if err := s.messages.UpdateDeliveryStatusByChannelMessageID(r.Context(), sid, status); err != nil {
			s.logger.Warn("shortmessage delivery status persist error", "sid", sid, "error", err)
		}
	}
	rw.WriteHeader(http.StatusOK)
}

// validateSignature reimplements Twilio's X-Twilio-Signature scheme:
// base64(HMAC-SHA1(authToken, url + sorted "key"+"value" pairs)).
func (s *ShortMessageChannel) validateSignature(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}

	fullURL := s.publicURL
	if fullURL == "" {
		fullURL = r.URL.String()
	}

	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	buf.WriteString(fullURL)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(r.PostForm.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(s.authToken))
	mac.Write([]byte(buf.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeEmptyTwiML(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "text/xml")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`))
}
