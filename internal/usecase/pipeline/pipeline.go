// Package pipeline implements the Butler's single inbound message entry
// point (spec §4.1): identity resolution, conversation resolution, context
// hydration, persistence, response generation, escalation, and outbound
// persistence, in that order. There is no teacher equivalent — its chat-turn
// orchestration lives in deleted agent/session/router use cases — so this
// package follows the general shape of internal/usecase/workflow/manager.go:
// narrow repository interfaces taken by constructor injection, one ordered
// Process method, structured logging of each step's outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/escalation"
)

// apologyContent is returned to the guest when the responder itself fails;
// the pipeline still records the inbound message so staff can follow up.
const apologyContent = "I'm sorry, I'm having trouble responding right now. A member of our team will follow up with you shortly."

// escalationAcknowledgements varies the acknowledgement wording by
// priority, per spec §4.1 step 6.
var escalationAcknowledgements = map[domain.Priority]string{
	domain.PriorityUrgent:   "I'm connecting you with our team immediately — someone will be with you right away.",
	domain.PriorityHigh:     "I'm looping in a member of our team who can help further; they'll reach out shortly.",
	domain.PriorityStandard: "I've passed this along to our team so they can take a closer look and follow up with you.",
	domain.PriorityLow:      "I've noted this for our team and they'll follow up when they can.",
}

// Pipeline wires together the repositories and collaborators the inbound
// flow needs.
type Pipeline struct {
	Guests        domain.GuestStore
	Reservations  domain.ReservationStore
	Conversations domain.ConversationStore
	Messages      domain.MessageStore
	Responder     domain.Responder
	Events        domain.EventBus
	Escalation    escalation.Config
	Logger        *slog.Logger
}

// New constructs a Pipeline. A nil Responder is valid only for tests that
// don't exercise step 5.
func New(guests domain.GuestStore, reservations domain.ReservationStore, conversations domain.ConversationStore,
	messages domain.MessageStore, responder domain.Responder, events domain.EventBus, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Guests: guests, Reservations: reservations, Conversations: conversations,
		Messages: messages, Responder: responder, Events: events,
		Escalation: escalation.DefaultConfig(), Logger: logger,
	}
}

// Process runs one inbound message through all eight pipeline steps and
// returns the outbound payload for delivery via the originating channel
// adapter.
func (p *Pipeline) Process(ctx context.Context, in domain.Inbound) (*domain.OutboundPayload, error) {
	guest := p.resolveIdentity(ctx, in)
	conv := p.resolveConversation(ctx, in, guest)
	guestCtx := p.hydrateContext(ctx, in, guest)

	if conv == nil {
		// Conversation resolution is a step-2 failure; without a
		// conversation there is nowhere to persist messages, so this is
		// fatal rather than degraded (distinct from the identity/context
		// steps, which only degrade personalization).
		return nil, domain.NewError("pipeline.Process", domain.KindFatal, "conversation resolution failed")
	}

	inboundMsg := &domain.Message{
		ConversationID: conv.ID,
		Direction:      domain.DirectionInbound,
		SenderType:     domain.SenderGuest,
		Content:        in.Content,
		ContentType:    in.ContentType,
		DeliveryStatus: domain.DeliveryDelivered,
		CreatedAt:      in.Timestamp,
	}
	if err := p.Messages.Create(ctx, inboundMsg); err != nil {
		return nil, domain.WrapError("pipeline.Process", domain.KindFatal, err, "persist inbound message")
	}
	p.publish(ctx, domain.EventMessageReceived, map[string]any{
		"conversationId": conv.ID, "messageId": inboundMsg.ID, "guestId": guestID(guest),
	})

	output, responderErr := p.generate(ctx, conv, in, guestCtx)
	outbound := &domain.OutboundPayload{Content: apologyContent, ContentType: "text"}
	if responderErr == nil {
		outbound.Content = output.Content
		outbound.Metadata = output.Metadata
	} else {
		outbound.Metadata = map[string]any{"error": "upstream_timeout"}
	}

	if responderErr == nil {
		p.checkEscalation(ctx, conv, guestCtx, in, output, outbound)
	}

	outboundMsg := &domain.Message{
		ConversationID: conv.ID,
		Direction:      domain.DirectionOutbound,
		SenderType:     domain.SenderAI,
		Content:        outbound.Content,
		ContentType:    "text",
		DeliveryStatus: domain.DeliveryPending,
	}
	if responderErr == nil {
		outboundMsg.Confidence = &output.Confidence
		outboundMsg.Intent = output.Intent
	}
	if err := p.Messages.Create(ctx, outboundMsg); err != nil {
		return nil, domain.WrapError("pipeline.Process", domain.KindFatal, err, "persist outbound message")
	}
	p.publish(ctx, domain.EventMessageSent, map[string]any{
		"conversationId": conv.ID, "messageId": outboundMsg.ID,
	})

	return outbound, nil
}

// resolveIdentity implements step 1. Failures are logged and degrade to no
// guest rather than failing the pipeline.
func (p *Pipeline) resolveIdentity(ctx context.Context, in domain.Inbound) *domain.Guest {
	var guest *domain.Guest
	var err error
	switch in.ChannelType {
	case domain.ChannelTypeShortMessage, domain.ChannelTypeInstantMessaging:
		guest, err = p.Guests.UpsertByPhone(ctx, in.ChannelID, placeholderName(in.ChannelID))
	case domain.ChannelTypeEmail:
		guest, err = p.Guests.UpsertByEmail(ctx, strings.ToLower(in.ChannelID))
	default:
		return nil // web chat: no guest assumed
	}
	if err != nil {
		p.Logger.Warn("pipeline: identity resolution failed, continuing without guest",
			"channel", in.ChannelType, "error", err)
		return nil
	}
	return guest
}

// placeholderName derives a standing-in last name from the final four
// digits of a phone number, for brand-new guest rows.
func placeholderName(phone string) string {
	digits := onlyDigits(phone)
	if len(digits) < 4 {
		return "Guest"
	}
	return "Guest " + digits[len(digits)-4:]
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// resolveConversation implements step 2: look up by (channel, channelId) or
// create new, attaching the resolved guest and advancing state forward.
func (p *Pipeline) resolveConversation(ctx context.Context, in domain.Inbound, guest *domain.Guest) *domain.Conversation {
	conv, err := p.Conversations.GetByChannel(ctx, in.ChannelType, in.ChannelID)
	if err != nil {
		if domain.KindOf(err) != domain.KindNotFound {
			p.Logger.Error("pipeline: conversation lookup failed", "error", err)
			return nil
		}
		conv = &domain.Conversation{
			ChannelType: in.ChannelType,
			ChannelID:   in.ChannelID,
			State:       domain.ConversationNew,
		}
		if guest != nil {
			conv.GuestID = guest.ID
		}
		if err := p.Conversations.Create(ctx, conv); err != nil {
			p.Logger.Error("pipeline: conversation creation failed", "error", err)
			return nil
		}
		p.publish(ctx, domain.EventConversationCreated, map[string]any{"conversationId": conv.ID})
	}

	nextState := domain.ConversationActive
	if domain.CanTransition(conv.State, nextState) && conv.State != nextState {
		conv.State = nextState
	}
	if guest != nil && conv.GuestID == "" {
		conv.GuestID = guest.ID
	}
	if err := p.Conversations.Update(ctx, conv); err != nil {
		p.Logger.Warn("pipeline: conversation state advance failed", "error", err)
	}
	return conv
}

// hydrateContext implements step 3: locate an active or upcoming
// reservation for phone/email channels. Failures degrade to nil context.
func (p *Pipeline) hydrateContext(ctx context.Context, in domain.Inbound, guest *domain.Guest) *domain.GuestContext {
	if guest == nil {
		return nil
	}
	if in.ChannelType != domain.ChannelTypeShortMessage && in.ChannelType != domain.ChannelTypeInstantMessaging &&
		in.ChannelType != domain.ChannelTypeEmail {
		return nil
	}
	reservation, err := p.Reservations.ActiveOrUpcomingForGuest(ctx, guest.ID)
	if err != nil {
		if domain.KindOf(err) != domain.KindNotFound {
			p.Logger.Warn("pipeline: context hydration failed", "error", err)
		}
		return &domain.GuestContext{Guest: guest}
	}
	return &domain.GuestContext{Guest: guest, Reservation: reservation}
}

// generate implements step 5. A nil Responder or an error surfaces as a
// fatal per-message error per spec §4.1's failure semantics.
func (p *Pipeline) generate(ctx context.Context, conv *domain.Conversation, in domain.Inbound, guestCtx *domain.GuestContext) (*domain.ResponderOutput, error) {
	if p.Responder == nil {
		return nil, domain.NewError("pipeline.generate", domain.KindFatal, "no responder configured")
	}
	output, err := p.Responder.Generate(ctx, conv, in, guestCtx)
	if err != nil {
		p.Logger.Error("pipeline: responder failed", "conversationId", conv.ID, "error", err)
		return nil, domain.WrapError("pipeline.generate", domain.KindFatal, err, "")
	}
	return output, nil
}

// checkEscalation implements step 6, mutating conv and outbound in place.
func (p *Pipeline) checkEscalation(ctx context.Context, conv *domain.Conversation, guestCtx *domain.GuestContext,
	in domain.Inbound, output *domain.ResponderOutput, outbound *domain.OutboundPayload) {
	recent, err := p.Messages.Recent(ctx, conv.ID, p.historyWindow()+2)
	if err != nil {
		p.Logger.Warn("pipeline: escalation history fetch failed", "error", err)
	}
	// The inbound being processed was persisted in step 4 and is the newest
	// row; drop it so RecentMessages holds only the messages before it.
	if len(recent) > 0 {
		recent = recent[:len(recent)-1]
	}

	var guest *domain.Guest
	var reservation *domain.Reservation
	if guestCtx != nil {
		guest, reservation = guestCtx.Guest, guestCtx.Reservation
	}

	decision := escalation.Decide(p.Escalation, escalation.Input{
		ConversationState: conv.State,
		RecentMessages:    recent,
		InboundContent:    in.Content,
		Confidence:        output.Confidence,
		Guest:             guest,
		Reservation:       reservation,
	})
	if !decision.Escalate {
		return
	}

	conv.State = domain.ConversationEscalated
	conv.Priority = decision.Priority
	if err := p.Conversations.Update(ctx, conv); err != nil {
		p.Logger.Error("pipeline: escalation state update failed", "error", err)
	}

	outbound.Content = escalationAcknowledgements[decision.Priority]
	if outbound.Metadata == nil {
		outbound.Metadata = map[string]any{}
	}
	outbound.Metadata["escalated"] = true
	outbound.Metadata["escalationReasons"] = decision.Reasons
	outbound.Metadata["priority"] = string(decision.Priority)

	p.publish(ctx, domain.EventConversationEscalated, map[string]any{
		"conversationId": conv.ID, "priority": string(decision.Priority), "reasons": decision.Reasons,
	})
}

func (p *Pipeline) historyWindow() int {
	if p.Escalation.HistoryWindow > 0 {
		return p.Escalation.HistoryWindow
	}
	return 5
}

func (p *Pipeline) publish(ctx context.Context, eventType domain.EventType, payload map[string]any) {
	if p.Events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		p.Logger.Warn("pipeline: event payload marshal failed", "event", string(eventType), "error", err)
		return
	}
	p.Events.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: raw})
}

func guestID(g *domain.Guest) string {
	if g == nil {
		return ""
	}
	return g.ID
}
