// Package browser launches and attaches to remotely-debuggable browser
// instances and consumes the DevTools HTTP query surface. The debug
// protocol itself is never spoken here — only the JSON discovery and
// activation endpoints that negotiate access to it.
package browser

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 3 * time.Second}

// VersionInfo is the reply from /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Target is one open debuggable target from /json/list.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func debugURL(port int, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

// Version fetches browser identity and the debugger WebSocket endpoint.
func Version(port int) (*VersionInfo, error) {
	resp, err := httpClient.Get(debugURL(port, "/json/version"))
	if err != nil {
		return nil, fmt.Errorf("fetch /json/version: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read /json/version: %w", err)
	}

	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse /json/version: %w", err)
	}
	return &info, nil
}

// ListTargets returns the open debuggable targets on a session's port.
func ListTargets(port int) ([]Target, error) {
	resp, err := httpClient.Get(debugURL(port, "/json/list"))
	if err != nil {
		return nil, fmt.Errorf("fetch /json/list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read /json/list: %w", err)
	}

	var targets []Target
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("parse /json/list: %w", err)
	}
	return targets, nil
}

// ActivateTarget brings a specific target to the foreground.
func ActivateTarget(port int, targetID string) error {
	resp, err := httpClient.Get(debugURL(port, "/json/activate/"+targetID))
	if err != nil {
		return fmt.Errorf("activate target %s: %w", targetID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("activate target %s: status %d", targetID, resp.StatusCode)
	}
	return nil
}

// Reachable reports whether a debuggable browser answers on the port.
func Reachable(port int) bool {
	info, err := Version(port)
	return err == nil && info.WebSocketDebuggerURL != ""
}

// WaitReady polls the debug port until the browser answers or the deadline
// passes, returning the WebSocket debugger endpoint.
func WaitReady(port int, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if info, err := Version(port); err == nil && info.WebSocketDebuggerURL != "" {
			return info.WebSocketDebuggerURL, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return "", fmt.Errorf("browser not ready on port %d after %v", port, timeout)
}
