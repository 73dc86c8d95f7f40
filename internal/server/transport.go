// Package server abstracts the two byte transports a client may arrive
// over. A payloadConn carries opaque encrypted payloads in both
// directions; over raw TCP each payload travels as a length-prefixed
// frame, while over WebSocket the socket's own binary-message framing
// replaces the length prefix.
package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cipherchat/cipherchat/internal/protocol"
)

// payloadConn is one connected peer's transport, independent of whether
// it arrived over TCP or WebSocket. ReadPayload returns io.EOF on an
// orderly peer close. Implementations need not be safe for concurrent
// writers; the writePump is the sole steady-state writer.
type payloadConn interface {
	ReadPayload() ([]byte, error)
	WritePayload(payload []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// framedConn speaks the length-prefixed frame protocol over a raw TCP
// stream.
type framedConn struct {
	conn         net.Conn
	maxFrameSize uint32
}

func newFramedConn(conn net.Conn, maxFrameSize uint32) *framedConn {
	return &framedConn{conn: conn, maxFrameSize: maxFrameSize}
}

func (f *framedConn) ReadPayload() ([]byte, error) {
	return protocol.ReadFrame(f.conn, f.maxFrameSize)
}

func (f *framedConn) WritePayload(payload []byte) error {
	return protocol.WriteFrame(f.conn, payload)
}

func (f *framedConn) SetReadDeadline(t time.Time) error {
	return f.conn.SetReadDeadline(t)
}

func (f *framedConn) Close() error {
	return f.conn.Close()
}

func (f *framedConn) RemoteAddr() string {
	return f.conn.RemoteAddr().String()
}

// wsConn carries the same encrypted payloads over a WebSocket, one
// binary message per payload. Non-binary messages are skipped.
type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) ReadPayload() ([]byte, error) {
	for {
		messageType, payload, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, protocol.ErrFraming
			}
			return nil, err
		}
		if messageType == websocket.BinaryMessage {
			return payload, nil
		}
	}
}

func (w *wsConn) WritePayload(payload []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (w *wsConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

func (w *wsConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
