package wsserver

import (
	"time"

	"github.com/wardenhq/warden/internal/session"
)

// Command is the tagged-variant envelope for the external command surface.
// Each variant carries only the fields its operation needs.
type Command struct {
	Type            string                  `json:"type"`
	Stop            *StopCommand            `json:"stop,omitempty"`
	SessionRequest  *SessionRequestCommand  `json:"session_request,omitempty"`
	SessionTeardown *SessionTeardownCommand `json:"session_teardown,omitempty"`
}

// Command type tags.
const (
	CmdStop            = "stop"
	CmdStatus          = "status"
	CmdSessionRequest  = "session_request"
	CmdSessionTeardown = "session_teardown"
)

// StopCommand asks the supervisor to shut down.
type StopCommand struct {
	Reason string `json:"reason,omitempty"`
}

// SessionRequestCommand asks for a debug session for a (purpose, persona)
// key.
type SessionRequestCommand struct {
	Purpose string `json:"purpose"`
	Persona string `json:"persona"`
}

// SessionTeardownCommand closes one debug session.
type SessionTeardownCommand struct {
	SessionID string `json:"session_id"`
}

// StatusReply is the control surface's status report.
type StatusReply struct {
	PID              int                    `json:"pid"`
	Version          string                 `json:"version"`
	Port             int                    `json:"port"`
	SocketOK         bool                   `json:"socket_ok"`
	BrowserReachable bool                   `json:"browser_reachable"`
	Connections      int                    `json:"connections"`
	Sessions         []session.DebugSession `json:"sessions"`
	CheckedAt        time.Time              `json:"checked_at"`
}

// ControlHandler is what the supervisor exposes to the command surface.
type ControlHandler interface {
	// RequestStop routes into the shutdown coordinator. It must return
	// promptly; teardown happens on the coordinator's own path.
	RequestStop(reason string)
	// StatusSnapshot reports current instance state.
	StatusSnapshot() StatusReply
	// RequestSession resolves or creates the session for a key.
	RequestSession(purpose, persona string) (session.DebugSession, error)
	// TeardownSession closes one session by id.
	TeardownSession(sessionID string) error
}
