// Package wsserver is the supervisor's socket layer: it owns the bound
// service port, hosts the real-time channel for connected clients, and
// carries the external command surface. The content of channel traffic is
// the application's concern; this layer only manages connection lifecycle.
package wsserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// closeFrameWait bounds the per-connection graceful close write.
	closeFrameWait = 1 * time.Second
)

// Server binds the negotiated service port and tracks open connections.
type Server struct {
	host     string
	log      *logrus.Entry
	handler  ControlHandler
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	port      int
	listener  net.Listener
	httpSrv   *http.Server
	conns     map[*websocket.Conn]bool
	accepting bool
	serveErr  error
}

func NewServer(host string, log *logrus.Entry) *Server {
	return &Server{
		host:  host,
		log:   log,
		conns: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			// The service binds loopback only; same-host callers are trusted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetControlHandler registers the supervisor-facing command handler. Must
// be called before Start.
func (s *Server) SetControlHandler(h ControlHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start binds the port and begins serving. The caller has already
// negotiated the port, but the bind can still race a newcomer; a bind
// failure is reported, not retried here.
func (s *Server) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, port))
	if err != nil {
		return fmt.Errorf("bind %s:%d: %w", s.host, port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/channel", s.handleChannel)
	mux.HandleFunc("/control", s.handleControl)
	mux.HandleFunc("/control/status", s.handleStatus)
	srv := &http.Server{Handler: mux}

	s.mu.Lock()
	s.port = port
	s.listener = listener
	s.httpSrv = srv
	s.accepting = true
	s.serveErr = nil
	s.mu.Unlock()

	go func() {
		err := srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.mu.Lock()
			s.serveErr = err
			s.accepting = false
			s.mu.Unlock()
			s.log.WithError(err).Error("Socket layer serve loop failed")
		}
	}()

	s.log.WithField("addr", listener.Addr().String()).Info("Socket layer listening")
	return nil
}

// Port returns the bound port.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// Healthy reports whether the listener is up and the serve loop has not
// failed.
func (s *Server) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepting && s.listener != nil && s.serveErr == nil
}

// ConnCount returns the number of open channel connections.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// StopAccepting closes the listener so no new connections arrive. Open
// connections are untouched.
func (s *Server) StopAccepting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepting = false
	if s.listener != nil {
		s.listener.Close()
	}
}

// CloseConnections gracefully closes every open channel connection: a
// close frame with a bounded write deadline, then the TCP close. The
// window bounds the whole sweep — a slow peer never blocks shutdown.
func (s *Server) CloseConnections(window time.Duration) {
	deadline := time.Now().Add(window)

	s.mu.Lock()
	open := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		open = append(open, conn)
	}
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "service shutting down")
	for _, conn := range open {
		if time.Now().After(deadline) {
			s.log.Warn("Close window elapsed, dropping remaining connections")
		} else {
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameWait))
		}
		conn.Close()
	}

	s.mu.Lock()
	s.conns = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
}

// Shutdown tears the socket layer down completely.
func (s *Server) Shutdown(window time.Duration) {
	s.StopAccepting()
	s.CloseConnections(window)
	s.mu.Lock()
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
	s.mu.Unlock()
}

// Restart rebuilds the listener in place on the same port, re-registering
// the handlers. Used by the health monitor to self-heal a degraded socket
// layer.
func (s *Server) Restart() error {
	s.mu.RLock()
	port := s.port
	s.mu.RUnlock()

	s.Shutdown(closeFrameWait)
	return s.Start(port)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("Channel upgrade failed")
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	count := len(s.conns)
	s.mu.Unlock()
	s.log.WithField("connections", count).Debug("Channel client connected")

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.log.Debug("Channel client disconnected")
	}()

	// Application traffic passes through untouched; the supervisor only
	// keeps the connection alive and accounted for.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid command payload", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		http.Error(w, "control surface not ready", http.StatusServiceUnavailable)
		return
	}

	switch cmd.Type {
	case CmdStop:
		reason := "stop command"
		if cmd.Stop != nil && cmd.Stop.Reason != "" {
			reason = cmd.Stop.Reason
		}
		// The reply must get out before the process starts exiting.
		writeJSON(w, map[string]bool{"ok": true})
		go handler.RequestStop(reason)

	case CmdStatus:
		writeJSON(w, handler.StatusSnapshot())

	case CmdSessionRequest:
		if cmd.SessionRequest == nil {
			http.Error(w, "session_request payload required", http.StatusBadRequest)
			return
		}
		sess, err := handler.RequestSession(cmd.SessionRequest.Purpose, cmd.SessionRequest.Persona)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, sess)

	case CmdSessionTeardown:
		if cmd.SessionTeardown == nil {
			http.Error(w, "session_teardown payload required", http.StatusBadRequest)
			return
		}
		if err := handler.TeardownSession(cmd.SessionTeardown.SessionID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})

	default:
		http.Error(w, fmt.Sprintf("unknown command type: %q", cmd.Type), http.StatusBadRequest)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		http.Error(w, "control surface not ready", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, handler.StatusSnapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
