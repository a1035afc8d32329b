package main

import (
	"context"
	"log/slog"

	"github.com/arashkay/JackTheButler-sub003/internal/adapter/channel"
	"github.com/arashkay/JackTheButler-sub003/internal/adapter/llm"
	"github.com/arashkay/JackTheButler-sub003/internal/adapter/pms"
	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/infra/config"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/registry"
)

// cfgString reads a string field out of an ExtensionConfig's opaque JSON
// config, defaulting to "" when absent or of the wrong type.
func cfgString(cfg domain.ExtensionConfig, key string) string {
	v, ok := cfg.Config[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// registerManifests declares every adapter this Butler build ships with
// (spec §4.4): two AI providers, four channels, one PMS adapter. Each
// manifest's Factory reads its typed fields out of the stored
// ExtensionConfig's opaque Config map; processor is always the pipeline,
// wired once at boot (spec §9: "explicit registry lookup at pipeline
// construction time", not a global singleton).
func registerManifests(reg *registry.Registry, processor channel.InboundProcessor, webChat *channel.WebChatChannel, rateLimit config.RateLimitConfig, logger *slog.Logger) {
	reg.Register(registry.Manifest{
		ID:          "anthropic",
		Name:        "Anthropic",
		Category:    domain.CategoryAI,
		Version:     "1.0.0",
		Description: "Anthropic Messages API — chat completions only, no embeddings endpoint.",
		ConfigSchema: []domain.ConfigField{
			{Key: "apiKey", Label: "API Key", Type: domain.FieldPassword, Required: true},
			{Key: "model", Label: "Model", Type: domain.FieldText, Required: true, Default: "claude-sonnet-4-5-20250929"},
			{Key: "baseUrl", Label: "Base URL", Type: domain.FieldText},
		},
		Capabilities: []registry.Capability{registry.CapCompletion, registry.CapStreaming},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) {
			p := llm.NewAnthropicProvider(cfg.ID, cfgString(cfg, "apiKey"), cfgString(cfg, "model"), cfgString(cfg, "baseUrl"), logger)
			return llm.NewCircuitBreakerProvider(p, llm.CircuitBreakerConfig{}, logger), nil
		},
	})

	reg.Register(registry.Manifest{
		ID:          "openai",
		Name:        "OpenAI",
		Category:    domain.CategoryAI,
		Version:     "1.0.0",
		Description: "OpenAI-compatible chat completions and embeddings API.",
		ConfigSchema: []domain.ConfigField{
			{Key: "apiKey", Label: "API Key", Type: domain.FieldPassword, Required: true},
			{Key: "model", Label: "Chat Model", Type: domain.FieldText, Required: true, Default: "gpt-4o"},
			{Key: "embeddingModel", Label: "Embedding Model", Type: domain.FieldText, Default: "text-embedding-3-small"},
			{Key: "baseUrl", Label: "Base URL", Type: domain.FieldText},
		},
		Capabilities: []registry.Capability{registry.CapCompletion, registry.CapEmbedding, registry.CapStreaming},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) {
			p := llm.NewOpenAIProvider(cfg.ID, cfgString(cfg, "apiKey"), cfgString(cfg, "model"), cfgString(cfg, "embeddingModel"), cfgString(cfg, "baseUrl"), logger)
			return llm.NewCircuitBreakerProvider(p, llm.CircuitBreakerConfig{}, logger), nil
		},
	})

	reg.Register(registry.Manifest{
		ID:          "whatsapp-meta",
		Name:        "WhatsApp (Meta Cloud API)",
		Category:    domain.CategoryChannel,
		ChannelType: domain.ChannelTypeInstantMessaging,
		Version:     "1.0.0",
		Description: "Instant-messaging channel over the WhatsApp Business Cloud API.",
		ConfigSchema: []domain.ConfigField{
			{Key: "token", Label: "Access Token", Type: domain.FieldPassword, Required: true},
			{Key: "phoneNumberId", Label: "Phone Number ID", Type: domain.FieldText, Required: true},
			{Key: "verifyToken", Label: "Webhook Verify Token", Type: domain.FieldText, Required: true},
			{Key: "appSecret", Label: "App Secret", Type: domain.FieldPassword, Required: true},
			{Key: "webhookAddr", Label: "Webhook Listen Address", Type: domain.FieldText, Required: true, Default: ":8090"},
		},
		Capabilities: []registry.Capability{registry.CapInbound, registry.CapOutbound, registry.CapMedia, registry.CapTemplates},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) {
			return channel.NewWhatsAppChannel(cfgString(cfg, "token"), cfgString(cfg, "phoneNumberId"), cfgString(cfg, "verifyToken"),
				cfgString(cfg, "appSecret"), cfgString(cfg, "webhookAddr"), processor, logger).
				WithRateLimit(rateLimit.RequestsPerMin, rateLimit.BurstSize), nil
		},
	})

	reg.Register(registry.Manifest{
		ID:          "twilio-sms",
		Name:        "SMS (Twilio)",
		Category:    domain.CategoryChannel,
		ChannelType: domain.ChannelTypeShortMessage,
		Version:     "1.0.0",
		Description: "Short-message channel over the Twilio Programmable Messaging API.",
		ConfigSchema: []domain.ConfigField{
			{Key: "accountSid", Label: "Account SID", Type: domain.FieldText, Required: true},
			{Key: "authToken", Label: "Auth Token", Type: domain.FieldPassword, Required: true},
			{Key: "fromNumber", Label: "From Number", Type: domain.FieldText, Required: true},
			{Key: "webhookAddr", Label: "Webhook Listen Address", Type: domain.FieldText, Required: true, Default: ":8091"},
			{Key: "publicUrl", Label: "Public Webhook URL", Type: domain.FieldText, Required: true},
		},
		Capabilities: []registry.Capability{registry.CapInbound, registry.CapOutbound},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) {
			return channel.NewShortMessageChannel(cfgString(cfg, "accountSid"), cfgString(cfg, "authToken"), cfgString(cfg, "fromNumber"),
				cfgString(cfg, "webhookAddr"), cfgString(cfg, "publicUrl"), processor, logger).
				WithRateLimit(rateLimit.RequestsPerMin, rateLimit.BurstSize), nil
		},
	})

	reg.Register(registry.Manifest{
		ID:          "email-smtp",
		Name:        "Email",
		Category:    domain.CategoryChannel,
		ChannelType: domain.ChannelTypeEmail,
		Version:     "1.0.0",
		Description: "Email channel: signed inbound webhook plus SMTP outbound.",
		ConfigSchema: []domain.ConfigField{
			{Key: "smtpAddr", Label: "SMTP Host:Port", Type: domain.FieldText, Required: true},
			{Key: "smtpUser", Label: "SMTP Username", Type: domain.FieldText},
			{Key: "smtpPass", Label: "SMTP Password", Type: domain.FieldPassword},
			{Key: "fromAddr", Label: "From Address", Type: domain.FieldText, Required: true},
			{Key: "signingKey", Label: "Inbound Webhook Signing Key", Type: domain.FieldPassword, Required: true},
			{Key: "webhookAddr", Label: "Webhook Listen Address", Type: domain.FieldText, Required: true, Default: ":8092"},
		},
		Capabilities: []registry.Capability{registry.CapInbound, registry.CapOutbound},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) {
			return channel.NewEmailChannel(cfgString(cfg, "smtpAddr"), cfgString(cfg, "smtpUser"), cfgString(cfg, "smtpPass"),
				cfgString(cfg, "fromAddr"), cfgString(cfg, "signingKey"), cfgString(cfg, "webhookAddr"), processor, logger).
				WithRateLimit(rateLimit.RequestsPerMin, rateLimit.BurstSize), nil
		},
	})

	reg.Register(registry.Manifest{
		ID:          "webchat",
		Name:        "Web Chat",
		Category:    domain.CategoryChannel,
		ChannelType: domain.ChannelTypeWebChat,
		Version:     "1.0.0",
		Description: "In-browser chat over the guest chat socket; no transport of its own.",
		Capabilities: []registry.Capability{registry.CapInbound, registry.CapOutbound},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) {
			return webChat, nil
		},
	})

	reg.Register(registry.Manifest{
		ID:          "pms-rest",
		Name:        "Property Management System",
		Category:    domain.CategoryPMS,
		Version:     "1.0.0",
		Description: "Generic REST PMS integration: modified-reservations-since polling.",
		ConfigSchema: []domain.ConfigField{
			{Key: "baseUrl", Label: "Base URL", Type: domain.FieldText, Required: true},
			{Key: "apiKey", Label: "API Key", Type: domain.FieldPassword, Required: true},
			{Key: "path", Label: "Reservations Path", Type: domain.FieldText, Default: "/v1/reservations"},
		},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) {
			return pms.NewRESTAdapter(cfg.ID, cfgString(cfg, "baseUrl"), cfgString(cfg, "apiKey"), cfgString(cfg, "path"), logger), nil
		},
	})
}
