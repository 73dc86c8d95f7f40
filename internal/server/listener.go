// Package server runs the relay's two listeners: the raw TCP accept loop
// for the framed protocol and the optional HTTP server hosting the
// WebSocket gateway. Both feed connections into the same hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cipherchat/cipherchat/internal/crypto"
)

// Server owns the accept loops and the hub. Construct with NewServer,
// call Start, and stop with Shutdown.
type Server struct {
	cfg *Config
	hub *Hub

	listener   net.Listener
	httpServer *http.Server

	allowedOrigins  map[string]struct{}
	allowAllOrigins bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer wires a hub and config into a runnable server. The cipher is
// the pre-shared-key primitive every connection encrypts under.
func NewServer(cfg *Config, cipher *crypto.Cipher) *Server {
	sanitized := sanitizeConfig(*cfg)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    &sanitized,
		hub:    NewHub(cipher, sanitized.DefaultRoom),
		ctx:    ctx,
		cancel: cancel,
	}
	s.allowedOrigins, s.allowAllOrigins = normalizeOrigins(sanitized.AllowedOrigins)
	return s
}

// Hub exposes the server's hub, mainly for tests and diagnostics.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Addr returns the bound TCP address once Start has succeeded. Useful
// when ListenAddr requested an ephemeral port.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the TCP listener (and the HTTP gateway, unless disabled)
// and spawns the accept loops. It returns once both are listening.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = listener
	log.Printf("Chat relay listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	if s.cfg.HTTPAddr != "" {
		s.httpServer = &http.Server{
			Addr:         s.cfg.HTTPAddr,
			Handler:      s.routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log.Printf("WebSocket gateway listening on %s", s.cfg.HTTPAddr)
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	return nil
}

// acceptLoop accepts raw TCP connections and hands each to its own
// handler goroutine. An error on one accept never stops the loop; only
// listener closure during shutdown does.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			log.Printf("Accept error: %v", err)
			continue
		}

		client := NewClient(newFramedConn(conn, s.cfg.MaxFrameSize), s.hub)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			client.Run(time.Duration(s.cfg.HandshakeTimeout))
		}()
	}
}

// Shutdown stops accepting, closes every client connection, and waits up
// to timeout for handler goroutines to finish. A zero timeout uses the
// configured ShutdownTimeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Duration(s.cfg.ShutdownTimeout)
	}
	log.Println("Initiating server shutdown...")

	s.cancel()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing listener: %v", err)
		}
	}
	if s.httpServer != nil {
		ctx, cancelHTTP := context.WithTimeout(context.Background(), timeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		cancelHTTP()
	}

	s.hub.closeAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Server shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Server shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
