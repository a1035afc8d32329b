package main

import (
	"context"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/registry"
)

// registryMessageSender implements automation.MessageSender by resolving
// whichever channel adapter is currently active for a given channel type
// in the app registry, re-resolving on every call the same way
// responder.LiveResponder re-resolves its AI provider (spec §4.4's
// hot-swap selection policy applies uniformly to every adapter category).
type registryMessageSender struct {
	registry *registry.Registry
}

func newRegistryMessageSender(reg *registry.Registry) *registryMessageSender {
	return &registryMessageSender{registry: reg}
}

func (s *registryMessageSender) Send(ctx context.Context, channelType, to, content string) error {
	channel, ok := s.registry.ActiveChannel(channelType)
	if !ok || channel == nil {
		return domain.NewError("butler.registryMessageSender.Send", domain.KindNotFound, "no active channel for type "+channelType)
	}
	_, err := channel.Send(ctx, to, domain.OutboundPayload{Content: content, ContentType: "text"})
	return err
}
