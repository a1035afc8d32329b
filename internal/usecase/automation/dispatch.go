package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/security"
)

// MessageSender is the narrow capability send_message actions need: deliver
// content to a guest over one channel. Kept separate from
// domain.ChannelAdapter so this package doesn't need to know about adapter
// selection policy (internal/usecase/registry's job); cmd/butler wires a
// concrete sender backed by the registry.
type MessageSender interface {
	Send(ctx context.Context, channelType, to, content string) error
}

// StandardDispatcher is the default Dispatcher, grounded on
// internal/usecase/workflow/manager.go's per-step-type dispatch (executeExecStep,
// executeHTTPStep, ...) generalized from workflow steps to automation action
// types.
type StandardDispatcher struct {
	Tasks      domain.TaskStore
	Events     domain.EventBus
	Sender     MessageSender
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewStandardDispatcher constructs a StandardDispatcher, defaulting the HTTP
// client the same way internal/usecase/workflow/manager.go's caller does for
// its own http.Client (a bounded timeout, no shared transport mutation).
func NewStandardDispatcher(tasks domain.TaskStore, events domain.EventBus, sender MessageSender, httpClient *http.Client, logger *slog.Logger) *StandardDispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StandardDispatcher{Tasks: tasks, Events: events, Sender: sender, HTTPClient: httpClient, Logger: logger}
}

func (d *StandardDispatcher) SendMessage(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	if d.Sender == nil {
		return nil, domain.NewError("automation.SendMessage", domain.KindFatal, "no message sender configured")
	}
	channelType, _ := config["channelType"].(string)
	to, _ := config["to"].(string)
	content, _ := config["content"].(string)
	if content == "" {
		return nil, domain.NewError("automation.SendMessage", domain.KindValidation, "content is required")
	}
	if to == "" && execCtx.Guest != nil {
		to = execCtx.Guest.Phone
		if to == "" {
			to = execCtx.Guest.Email
		}
	}
	if to == "" {
		return nil, domain.NewError("automation.SendMessage", domain.KindValidation, "no destination resolved")
	}
	if err := d.Sender.Send(ctx, channelType, to, content); err != nil {
		return nil, domain.WrapError("automation.SendMessage", domain.KindUpstream, err, "")
	}
	return map[string]any{"to": to, "content": content}, nil
}

func (d *StandardDispatcher) CreateTask(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	if d.Tasks == nil {
		return nil, domain.NewError("automation.CreateTask", domain.KindFatal, "no task store configured")
	}
	title, _ := config["title"].(string)
	if title == "" {
		title = execCtx.RuleName
	}
	description, _ := config["description"].(string)
	priority := domain.PriorityStandard
	if p, ok := config["priority"].(string); ok && p != "" {
		priority = domain.Priority(p)
	}

	task := &domain.Task{
		ID:          domain.NewID(domain.PrefixTask),
		Title:       title,
		Description: description,
		Source:      domain.TaskSourceAutomation,
		Status:      domain.TaskPending,
		Priority:    priority,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if execCtx.Guest != nil {
		task.GuestID = execCtx.Guest.ID
	}
	if err := d.Tasks.Create(ctx, task); err != nil {
		return nil, domain.WrapError("automation.CreateTask", domain.KindFatal, err, "")
	}
	d.publish(ctx, domain.EventTaskCreated, map[string]any{"taskId": task.ID, "ruleId": execCtx.RuleID})
	return map[string]any{"taskId": task.ID}, nil
}

func (d *StandardDispatcher) NotifyStaff(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	message, _ := config["message"].(string)
	if message == "" {
		return nil, domain.NewError("automation.NotifyStaff", domain.KindValidation, "message is required")
	}
	payload := map[string]any{"message": message, "ruleId": execCtx.RuleID, "ruleName": execCtx.RuleName}
	if p, ok := config["priority"].(string); ok && p != "" {
		payload["priority"] = p
	}
	d.publish(ctx, domain.EventStaffNotification, payload)
	return payload, nil
}

func (d *StandardDispatcher) Webhook(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, domain.NewError("automation.Webhook", domain.KindValidation, "url is required")
	}
	if err := security.ValidateURL(url); err != nil {
		return nil, domain.WrapError("automation.Webhook", domain.KindValidation, err, "blocked outbound URL")
	}
	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if payload, ok := config["body"]; ok {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, domain.WrapError("automation.Webhook", domain.KindValidation, err, "marshal body")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, domain.WrapError("automation.Webhook", domain.KindValidation, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, domain.WrapError("automation.Webhook", domain.KindUpstream, err, "")
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 400 {
		return map[string]any{"statusCode": resp.StatusCode}, domain.NewError("automation.Webhook", domain.KindUpstream,
			fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}
	return map[string]any{"statusCode": resp.StatusCode, "body": string(respBody)}, nil
}

func (d *StandardDispatcher) publish(ctx context.Context, eventType domain.EventType, payload map[string]any) {
	if d.Events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		d.Logger.Warn("automation: event payload marshal failed", "event", string(eventType), "error", err)
		return
	}
	d.Events.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: raw})
}
