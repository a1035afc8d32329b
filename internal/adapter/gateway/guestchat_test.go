package gateway

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

type stubProcessor struct {
	reply string
	err   error
}

func (p stubProcessor) Process(ctx context.Context, in domain.Inbound) (*domain.OutboundPayload, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &domain.OutboundPayload{Content: p.reply, ContentType: "text/plain"}, nil
}

type stubConversationStore struct {
	domain.ConversationStore
	conv *domain.Conversation
}

func (s stubConversationStore) GetByChannel(ctx context.Context, channelType, channelID string) (*domain.Conversation, error) {
	if s.conv == nil {
		return nil, domain.ErrNotFound
	}
	return s.conv, nil
}

func startTestGuestChatServer(t *testing.T, proc Processor, convs domain.ConversationStore) *GuestChatServer {
	t.Helper()
	srv := NewGuestChatServer(proc, convs, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.Start(ctx, "127.0.0.1:0") }()

	deadline := time.Now().Add(3 * time.Second)
	for srv.BoundAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("guest chat server did not start in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv
}

func TestGuestChatWelcomeAndRoundTrip(t *testing.T) {
	conv := &domain.Conversation{ID: "conv_1"}
	srv := startTestGuestChatServer(t, stubProcessor{reply: "hello there"}, stubConversationStore{conv: conv})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/chat", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	var welcome GuestFrame
	if err := wsjson.Read(ctx, ws, &welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != "connected" {
		t.Fatalf("expected connected, got %q", welcome.Type)
	}

	if err := wsjson.Write(ctx, ws, GuestFrame{Type: "message", Content: "hi"}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	var typingOn GuestFrame
	if err := wsjson.Read(ctx, ws, &typingOn); err != nil {
		t.Fatalf("read typing on: %v", err)
	}
	if typingOn.Type != "typing" || !typingOn.Typing {
		t.Fatalf("expected typing:true, got %+v", typingOn)
	}

	var typingOff GuestFrame
	if err := wsjson.Read(ctx, ws, &typingOff); err != nil {
		t.Fatalf("read typing off: %v", err)
	}
	if typingOff.Type != "typing" || typingOff.Typing {
		t.Fatalf("expected typing:false, got %+v", typingOff)
	}

	var reply GuestFrame
	if err := wsjson.Read(ctx, ws, &reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != "message" || reply.Content != "hello there" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.ConversationID != "conv_1" {
		t.Fatalf("expected conversation id conv_1, got %q", reply.ConversationID)
	}
}

func TestGuestChatPipelineErrorProducesErrorFrame(t *testing.T) {
	srv := startTestGuestChatServer(t, stubProcessor{err: domain.ErrUpstream}, stubConversationStore{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/chat", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	var welcome GuestFrame
	wsjson.Read(ctx, ws, &welcome)

	wsjson.Write(ctx, ws, GuestFrame{Type: "message", Content: "hi"})

	var typingOn GuestFrame
	wsjson.Read(ctx, ws, &typingOn)
	var typingOff GuestFrame
	wsjson.Read(ctx, ws, &typingOff)

	var errFrame GuestFrame
	if err := wsjson.Read(ctx, ws, &errFrame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if errFrame.Type != "error" {
		t.Fatalf("expected error frame, got %+v", errFrame)
	}
}

func TestGuestChatUnknownFrameType(t *testing.T) {
	srv := startTestGuestChatServer(t, stubProcessor{reply: "x"}, stubConversationStore{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/chat", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	var welcome GuestFrame
	wsjson.Read(ctx, ws, &welcome)

	wsjson.Write(ctx, ws, GuestFrame{Type: "bogus"})

	var errFrame GuestFrame
	if err := wsjson.Read(ctx, ws, &errFrame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if errFrame.Type != "error" {
		t.Fatalf("expected error frame, got %+v", errFrame)
	}
}
