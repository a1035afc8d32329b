package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

const (
	guestHeartbeatInterval = 30 * time.Second
	guestPingTimeout       = 10 * time.Second
)

// Processor is the narrow capability the guest chat socket needs from the
// inbound pipeline (spec §4.1), kept separate from the concrete pipeline
// type so this package doesn't need to know how a reply is produced.
type Processor interface {
	Process(ctx context.Context, in domain.Inbound) (*domain.OutboundPayload, error)
}

type guestConn struct {
	sessionID      string
	conversationID string
	ws             *websocket.Conn
	sendCh         chan GuestFrame
	done           chan struct{}
	closeOnce      sync.Once
}

// GuestChatServer implements the anonymous guest chat socket (spec §4.6):
// one session per connection, no authentication, each inbound message
// routed straight through the pipeline.
type GuestChatServer struct {
	pipeline      Processor
	conversations domain.ConversationStore
	logger        *slog.Logger
	httpSrv       *http.Server

	mu        sync.Mutex
	boundAddr string
	nextID    atomic.Uint64
	conns     map[uint64]*guestConn
	bySession map[string]*guestConn
}

// NewGuestChatServer constructs a guest chat socket server. conversations
// is used only to look up the conversation id the pipeline resolved for a
// session, never to mutate state directly.
func NewGuestChatServer(pipeline Processor, conversations domain.ConversationStore, logger *slog.Logger) *GuestChatServer {
	return &GuestChatServer{
		pipeline:      pipeline,
		conversations: conversations,
		logger:        logger,
		conns:         make(map[uint64]*guestConn),
		bySession:     make(map[string]*guestConn),
	}
}

// Send implements channel.Pusher: it writes payload to the session's open
// connection, if still connected. Used by the registry's webchat adapter
// to deliver automation- or staff-initiated outbound messages.
func (s *GuestChatServer) Send(ctx context.Context, sessionID string, payload domain.OutboundPayload) (*domain.SendResult, error) {
	s.mu.Lock()
	cc, ok := s.bySession[sessionID]
	s.mu.Unlock()
	if !ok {
		return &domain.SendResult{Status: domain.SendStatusFailed, Error: "session not connected"}, nil
	}
	s.send(cc, GuestFrame{Type: "message", Content: payload.Content, ContentType: payload.ContentType, ConversationID: cc.conversationID})
	return &domain.SendResult{Status: domain.SendStatusSent}, nil
}

// Start begins serving the guest chat socket at addr. Blocks until ctx is
// cancelled or the listener fails.
func (s *GuestChatServer) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleUpgrade)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("guest chat listen: %w", err)
	}
	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.httpSrv = &http.Server{Handler: mux}
	s.logger.Info("guest chat gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("guest chat serve: %w", err)
	}
	return nil
}

// Stop closes every session and shuts down the HTTP listener.
func (s *GuestChatServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*guestConn, 0, len(s.conns))
	for _, cc := range s.conns {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	for _, cc := range conns {
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address actually bound to, valid after Start.
func (s *GuestChatServer) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *GuestChatServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("guest chat accept failed", "error", err)
		return
	}

	sessionID := domain.NewID("sess")
	connID := s.nextID.Add(1)
	cc := &guestConn{
		sessionID: sessionID,
		ws:        ws,
		sendCh:    make(chan GuestFrame, 16),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[connID] = cc
	s.bySession[sessionID] = cc
	s.mu.Unlock()

	ctx := domain.ContextWithSessionID(r.Context(), sessionID)
	s.logger.Info("guest chat session opened", "session_id", sessionID)

	go s.writeLoop(cc)
	go s.heartbeatLoop(cc)

	s.send(cc, GuestFrame{Type: "connected", Authenticated: false, Timestamp: time.Now().UTC().Format(time.RFC3339)})

	s.readLoop(ctx, cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.mu.Lock()
	delete(s.conns, connID)
	delete(s.bySession, sessionID)
	s.mu.Unlock()
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("guest chat session closed", "session_id", sessionID)
}

func (s *GuestChatServer) readLoop(ctx context.Context, cc *guestConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame GuestFrame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}

		switch frame.Type {
		case "message":
			s.handleMessage(ctx, cc, frame)
		case "ping", "typing":
			// keep-alive only, no reply required (spec §4.6).
		default:
			s.send(cc, GuestFrame{Type: "error", Error: fmt.Sprintf("unknown frame type %q", frame.Type)})
		}
	}
}

func (s *GuestChatServer) handleMessage(ctx context.Context, cc *guestConn, frame GuestFrame) {
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	s.send(cc, GuestFrame{Type: "typing", Typing: true})

	out, err := s.pipeline.Process(ctx, domain.Inbound{
		ChannelType: domain.ChannelTypeWebChat,
		ChannelID:   cc.sessionID,
		Content:     frame.Content,
		ContentType: contentType,
		Timestamp:   time.Now(),
	})

	s.send(cc, GuestFrame{Type: "typing", Typing: false})

	if err != nil {
		s.logger.Error("guest chat: pipeline failed", "session_id", cc.sessionID, "error", err)
		s.send(cc, GuestFrame{Type: "error", Error: "something went wrong processing your message"})
		return
	}

	if conv, convErr := s.conversations.GetByChannel(ctx, domain.ChannelTypeWebChat, cc.sessionID); convErr == nil && conv != nil {
		cc.conversationID = conv.ID
	}

	s.send(cc, GuestFrame{
		Type:           "message",
		Content:        out.Content,
		ContentType:    out.ContentType,
		ConversationID: cc.conversationID,
	})
}

func (s *GuestChatServer) writeLoop(cc *guestConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *GuestChatServer) heartbeatLoop(cc *guestConn) {
	ticker := time.NewTicker(guestHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cc.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), guestPingTimeout)
			err := cc.ws.Ping(ctx)
			cancel()
			if err != nil {
				cc.closeOnce.Do(func() { close(cc.done) })
				cc.ws.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
		}
	}
}

func (s *GuestChatServer) send(cc *guestConn, frame GuestFrame) {
	select {
	case cc.sendCh <- frame:
	default:
		s.logger.Warn("guest chat: dropped frame for slow client", "session_id", cc.sessionID)
	}
}
