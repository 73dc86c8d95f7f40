// Package server defines shared session types and utility helpers that
// are reused across hub, client, and dispatcher logic.
package server

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Session is the server-side record binding a live connection to a
// username and its current room. Values returned by the hub are
// snapshots; mutating them has no effect on server state.
type Session struct {
	ID       uuid.UUID
	Username string
	Room     string
}

// Registry and dispatcher errors. Each is local to one connection's
// handler; none of them terminates the accept loop or any other
// connection.
var (
	ErrDuplicateSession      = errors.New("server: username already active")
	ErrInvalidRoomName       = errors.New("server: room name must start with #")
	ErrWhisperTargetNotFound = errors.New("server: whisper target not found")
)

// RoomPrefix is the conventional first character of every room name.
const RoomPrefix = "#"

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
