package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/infra/middleware"
)

// EmailChannel implements domain.ChannelAdapter for guest email. Inbound
// mail arrives via a Mailgun-style "inbound route" webhook (form-encoded,
// signed with HMAC-SHA256 over timestamp+token); outbound replies are sent
// directly over SMTP, since no ecosystem transactional-mail client appears
// anywhere in the reference corpus.
type EmailChannel struct {
	smtpAddr    string
	smtpAuth    smtp.Auth
	fromAddr    string
	signingKey  string
	processor   InboundProcessor
	logger      *slog.Logger
	dialer      func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	server      *http.Server
	webhookAddr string
	boundAddr   string

	rateLimitPerMin int
	rateLimitBurst  int
}

// NewEmailChannel creates an email channel adapter. smtpAddr is the
// "host:port" of the outbound relay; signingKey verifies the inbound
// webhook's HMAC signature.
func NewEmailChannel(smtpAddr, smtpUser, smtpPass, fromAddr, signingKey, webhookAddr string, processor InboundProcessor, logger *slog.Logger) *EmailChannel {
	if logger == nil {
		logger = slog.Default()
	}
	host := smtpAddr
	if idx := strings.LastIndex(smtpAddr, ":"); idx > 0 {
		host = smtpAddr[:idx]
	}
	var auth smtp.Auth
	if smtpUser != "" {
		auth = smtp.PlainAuth("", smtpUser, smtpPass, host)
	}
	return &EmailChannel{
		smtpAddr:    smtpAddr,
		smtpAuth:    auth,
		fromAddr:    fromAddr,
		signingKey:  signingKey,
		webhookAddr: webhookAddr,
		processor:   processor,
		logger:      logger,
		dialer:      smtp.SendMail,
		rateLimitPerMin: 100,
		rateLimitBurst:  20,
	}
}

// WithRateLimit overrides the webhook server's per-IP rate limit (spec §7's
// "100/min for general API" default).
func (e *EmailChannel) WithRateLimit(requestsPerMin, burst int) *EmailChannel {
	e.rateLimitPerMin = requestsPerMin
	e.rateLimitBurst = burst
	return e
}

// Start begins the inbound webhook server. Non-blocking.
func (e *EmailChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/email/webhook", e.handleInbound)

	handler := middleware.SecurityHeaders(middleware.RateLimit(ctx, e.rateLimitPerMin, e.rateLimitBurst)(mux))
	e.server = &http.Server{
		Addr:              e.webhookAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", e.webhookAddr)
	if err != nil {
		return domain.WrapError("channel.email.Start", domain.KindFatal, err, "listen "+e.webhookAddr)
	}
	e.boundAddr = ln.Addr().String()

	go func() {
		e.logger.Info("email webhook started", "addr", e.boundAddr)
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			e.logger.Error("email webhook server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the webhook server.
func (e *EmailChannel) Stop(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}

// BoundAddr returns the actual bound address of the webhook server.
func (e *EmailChannel) BoundAddr() string { return e.boundAddr }

// Name implements domain.ChannelAdapter.
func (e *EmailChannel) Name() string { return "email" }

// Send implements domain.ChannelAdapter. to is the guest's email address.
func (e *EmailChannel) Send(ctx context.Context, to string, payload domain.OutboundPayload) (*domain.SendResult, error) {
	subject := "Re: your message"
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		e.fromAddr, to, subject, payload.Content)

	if err := e.dialer(e.smtpAddr, e.smtpAuth, e.fromAddr, []string{to}, []byte(msg)); err != nil {
		return &domain.SendResult{Status: domain.SendStatusFailed, Error: err.Error()}, err
	}
	return &domain.SendResult{Status: domain.SendStatusSent}, nil
}

// TestConnection implements domain.ChannelAdapter by dialing the SMTP relay.
func (e *EmailChannel) TestConnection(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", e.smtpAddr)
	if err != nil {
		return domain.WrapError("channel.email.TestConnection", domain.KindTransient, err, "dial "+e.smtpAddr)
	}
	return conn.Close()
}

func (e *EmailChannel) handleInbound(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	if e.signingKey != "" {
		timestamp := r.FormValue("timestamp")
		token := r.FormValue("token")
		signature := r.FormValue("signature")
		if !e.validateSignature(timestamp, token, signature) {
			e.logger.Warn("email inbound invalid signature")
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
	}

	sender := r.FormValue("sender")
	body := r.FormValue("body-plain")
	if sender == "" {
		rw.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	out, err := e.processor.Process(ctx, domain.Inbound{
		ChannelType: domain.ChannelTypeEmail,
		ChannelID:   sender,
		Content:     body,
		ContentType: "text/plain",
		Timestamp:   time.Now(),
	})
	if err != nil {
		e.logger.Error("email: pipeline failed", "error", err, "sender", sender)
		rw.WriteHeader(http.StatusOK)
		return
	}
	if _, err := e.Send(ctx, sender, *out); err != nil {
		e.logger.Error("email: send reply failed", "error", err, "sender", sender)
	}
	rw.WriteHeader(http.StatusOK)
}

func (e *EmailChannel) validateSignature(timestamp, token, signature string) bool {
	mac := hmac.New(sha256.New, []byte(e.signingKey))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
