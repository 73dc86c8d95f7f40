// Package server exposes the WebSocket gateway: browser and WebSocket
// clients speak the identical encrypted envelope protocol, with the
// socket's binary-message framing standing in for the 4-byte length
// prefix used on raw TCP.
package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsHandler upgrades an HTTP request and drives the connection through
// the same handshake and read loop as a TCP client.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(int64(s.cfg.MaxFrameSize))

	client := NewClient(newWSConn(conn), s.hub)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		client.Run(time.Duration(s.cfg.HandshakeTimeout))
	}()
}

// healthHandler provides a simple health check endpoint.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "cipherchat relay is running!")
}

// routes configures the HTTP mux for the gateway.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.healthHandler)
	mux.HandleFunc("/ws", s.wsHandler)
	return mux
}
