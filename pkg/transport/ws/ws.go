// Package ws serves the duplex protocol over websocket connections. Each
// connection is one session with the same framing and ordering semantics as
// the stdio transport; one process serves many sessions concurrently.
package ws

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/transport"
)

// Config holds websocket server configuration.
type Config struct {
	Host        string
	Port        int
	DefaultUser string // identity for requests carrying no user field
	Logger      zerolog.Logger
	Observer    transport.SessionObserver // may be nil
}

// liveSession is the server's handle on one open connection: enough to
// cancel its dispatches and unblock its read loop on shutdown.
type liveSession struct {
	cancel context.CancelFunc
	conn   *websocket.Conn
}

// Server accepts websocket connections and runs a duplex session per
// connection.
type Server struct {
	cfg      Config
	invoker  transport.Invoker
	server   *http.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]liveSession
	inFlight sync.WaitGroup
}

// NewServer creates a websocket transport server.
func NewServer(cfg Config, invoker transport.Invoker) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	s := &Server{
		cfg:      cfg,
		invoker:  invoker,
		sessions: make(map[string]liveSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start listens and serves until Shutdown. It blocks.
func (s *Server) Start() error {
	s.cfg.Logger.Info().Str("addr", s.server.Addr).Msg("Websocket transport listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, cancels live sessions, and waits
// for their in-flight invocations to flush.
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancelling alone does not unblock reads parked in ReadMessage, and
	// http.Server.Shutdown ignores hijacked connections; closing the
	// connections is what lets idle sessions drain.
	s.mu.Lock()
	for _, live := range s.sessions {
		live.cancel()
		live.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	user := r.Header.Get("X-Gantry-User")
	if user == "" {
		user = s.cfg.DefaultUser
	}

	session := transport.NewSession(s.invoker, user)
	session.Observer = s.cfg.Observer
	ctx, cancel := context.WithCancel(r.Context())

	s.mu.Lock()
	s.sessions[session.ID] = liveSession{cancel: cancel, conn: conn}
	s.mu.Unlock()

	s.inFlight.Add(1)
	defer func() {
		s.inFlight.Done()
		s.mu.Lock()
		delete(s.sessions, session.ID)
		s.mu.Unlock()
		cancel()
		conn.Close()
	}()

	s.cfg.Logger.Info().
		Str("session", session.ID).
		Str("remote", r.RemoteAddr).
		Msg("Websocket session started")

	if err := session.Run(ctx, &wsConn{conn: conn}); err != nil {
		s.cfg.Logger.Warn().Err(err).Str("session", session.ID).Msg("Websocket session ended with error")
		return
	}
	s.cfg.Logger.Info().Str("session", session.ID).Msg("Websocket session ended")
}

// wsConn adapts a websocket connection to the session's frame interface.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

var _ transport.FrameConn = (*wsConn)(nil)
