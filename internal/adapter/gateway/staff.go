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

// staffHeartbeatInterval matches spec §4.6's 30s cadence; a connection that
// fails to answer one ping within staffPingTimeout is terminated.
const (
	staffHeartbeatInterval = 30 * time.Second
	staffPingTimeout       = 10 * time.Second
)

// StatsSnapshot is what the staff socket pushes to a newly authenticated
// connection: the three counters snapshots the stats bridge otherwise
// debounces onto (spec §4.6 step 2).
type StatsSnapshot struct {
	Tasks         any
	Approvals     any
	Conversations any
}

// StatsProvider supplies the immediate snapshot pushed on staff socket
// connect, ahead of the first debounced stats bridge broadcast.
type StatsProvider interface {
	Snapshot(ctx context.Context) StatsSnapshot
}

type staffConn struct {
	userID        string
	role          domain.StaffRole
	authenticated bool
	ws            *websocket.Conn
	sendCh        chan StaffFrame
	done          chan struct{}
	closeOnce     sync.Once
}

// StaffServer implements the staff console socket (spec §4.6) and
// eventbus.Broadcaster so the stats bridge can push through it directly.
type StaffServer struct {
	tokens  *TokenIssuer
	stats   StatsProvider
	logger  *slog.Logger
	addr    string
	httpSrv *http.Server

	mu        sync.Mutex
	boundAddr string
	nextID    atomic.Uint64
	conns     map[uint64]*staffConn
}

// NewStaffServer constructs a staff socket server. tokens verifies access
// tokens on upgrade; stats supplies the connect-time snapshot push.
func NewStaffServer(tokens *TokenIssuer, stats StatsProvider, logger *slog.Logger) *StaffServer {
	return &StaffServer{
		tokens: tokens,
		stats:  stats,
		logger: logger,
		conns:  make(map[uint64]*staffConn),
	}
}

// Start begins serving the staff socket at addr. Blocks until ctx is
// cancelled or the listener fails.
func (s *StaffServer) Start(ctx context.Context, addr string) error {
	s.addr = addr
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("staff gateway listen: %w", err)
	}
	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.httpSrv = &http.Server{Handler: mux}
	s.logger.Info("staff gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("staff gateway serve: %w", err)
	}
	return nil
}

// Stop closes every connection and shuts down the HTTP listener.
func (s *StaffServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*staffConn, 0, len(s.conns))
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
func (s *StaffServer) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *StaffServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var (
		userID        string
		role          domain.StaffRole
		authenticated bool
	)
	if tok := r.URL.Query().Get("token"); tok != "" {
		if uid, rl, err := s.tokens.VerifyAccessToken(tok); err == nil {
			userID, role, authenticated = uid, rl, true
		}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		s.logger.Warn("staff socket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &staffConn{
		userID: userID, role: role, authenticated: authenticated,
		ws:     ws,
		sendCh: make(chan StaffFrame, 64),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[connID] = cc
	s.mu.Unlock()

	ctx := r.Context()
	if authenticated {
		ctx = domain.ContextWithStaffUser(ctx, userID, role)
	}
	s.logger.Info("staff socket connected", "conn_id", connID, "authenticated", authenticated)

	go s.writeLoop(cc)
	go s.heartbeatLoop(cc)

	s.send(cc, staffFrame("connected", connectedPayload{Authenticated: authenticated, Timestamp: time.Now().UTC().Format(time.RFC3339)}))
	if authenticated {
		s.pushSnapshot(ctx, cc)
	}

	s.readLoop(ctx, cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("staff socket disconnected", "conn_id", connID)
}

func (s *StaffServer) pushSnapshot(ctx context.Context, cc *staffConn) {
	if s.stats == nil {
		return
	}
	snap := s.stats.Snapshot(ctx)
	s.send(cc, staffFrame("stats:tasks", snap.Tasks))
	s.send(cc, staffFrame("stats:approvals", snap.Approvals))
	s.send(cc, staffFrame("stats:conversations", snap.Conversations))
}

func (s *StaffServer) readLoop(ctx context.Context, cc *staffConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame StaffFrame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}

		switch frame.Type {
		case "ping":
			s.send(cc, staffFrame("pong", nil))
		case "subscribe":
			s.send(cc, staffFrame("subscribed", nil))
		default:
			s.send(cc, staffFrame("error", errorPayload{Message: fmt.Sprintf("unknown frame type %q", frame.Type)}))
		}
	}
}

func (s *StaffServer) writeLoop(cc *staffConn) {
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

// heartbeatLoop pings the connection every staffHeartbeatInterval; a
// connection that doesn't answer within staffPingTimeout is terminated
// (spec §4.6 step 4).
func (s *StaffServer) heartbeatLoop(cc *staffConn) {
	ticker := time.NewTicker(staffHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cc.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), staffPingTimeout)
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

func (s *StaffServer) send(cc *staffConn, frame StaffFrame) {
	select {
	case cc.sendCh <- frame:
	default:
		s.logger.Warn("staff gateway: dropped frame for slow client", "type", frame.Type)
	}
}

// Broadcast implements eventbus.Broadcaster: it pushes payload under topic
// to every authenticated connection.
func (s *StaffServer) Broadcast(topic string, payload any) {
	s.mu.Lock()
	conns := make([]*staffConn, 0, len(s.conns))
	for _, cc := range s.conns {
		if cc.authenticated {
			conns = append(conns, cc)
		}
	}
	s.mu.Unlock()

	frame := staffFrame(topic, payload)
	for _, cc := range conns {
		s.send(cc, frame)
	}
}

// SendToUser pushes payload under topic to every authenticated connection
// belonging to userID (spec §4.6's SendToUser helper).
func (s *StaffServer) SendToUser(userID, topic string, payload any) {
	s.mu.Lock()
	conns := make([]*staffConn, 0, 1)
	for _, cc := range s.conns {
		if cc.authenticated && cc.userID == userID {
			conns = append(conns, cc)
		}
	}
	s.mu.Unlock()

	frame := staffFrame(topic, payload)
	for _, cc := range conns {
		s.send(cc, frame)
	}
}
