// Package server manages individual client connections: the username
// handshake, the framed read loop, and the write pump that drains each
// session's outbound queue.
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cipherchat/cipherchat/internal/protocol"
)

// usernameChallenge is the content of the envelope the server sends a
// freshly accepted peer to request its username.
const usernameChallenge = "USERNAME"

// sendBufferSize is the per-client outbound queue depth. A client that
// falls this far behind is treated as disconnected.
const sendBufferSize = 256

// Client is one connected peer. The connection handle is owned
// exclusively by the client's own goroutines; the hub references the
// client by identity and writes only through the send channel. The
// username, room, and closed fields are guarded by the hub's mutex.
type Client struct {
	id   uuid.UUID
	conn payloadConn
	send chan []byte
	hub  *Hub
	addr string

	username string
	room     string
	closed   bool
}

// NewClient wraps an accepted transport in a Client ready to Run. Each
// client gets a fresh UUID as its connection identity.
func NewClient(conn payloadConn, hub *Hub) *Client {
	return &Client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		hub:  hub,
		addr: conn.RemoteAddr(),
	}
}

// Run drives the connection through its lifecycle: handshake, then the
// read loop until disconnect or protocol error, then cleanup. It blocks
// until the connection is fully torn down, so callers run it in its own
// goroutine, one per connection.
func (c *Client) Run(handshakeTimeout time.Duration) {
	if err := c.handshake(handshakeTimeout); err != nil {
		log.Printf("Handshake with %s failed: %v", c.addr, err)
		if closeErr := c.conn.Close(); closeErr != nil && !isExpectedCloseError(closeErr) {
			log.Printf("Error closing connection %s: %v", c.addr, closeErr)
		}
		return
	}

	go c.writePump()
	c.readPump()
}

// handshake performs the username exchange: the server sends an
// encrypted challenge envelope, the peer answers with its encrypted
// username, and the hub admits the session. The exchange uses the same
// framing as steady-state traffic and is bounded by handshakeTimeout so
// a silent peer cannot pin its goroutine forever.
func (c *Client) handshake(timeout time.Duration) error {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set handshake deadline: %w", err)
		}
	}

	challenge, err := c.hub.seal(protocol.Envelope{
		Type:    protocol.TypeNotification,
		Content: usernameChallenge,
	})
	if err != nil {
		return fmt.Errorf("seal challenge: %w", err)
	}
	if err := c.conn.WritePayload(challenge); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}

	sealed, err := c.conn.ReadPayload()
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	plain, err := c.hub.cipher.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("decrypt handshake response: %w", err)
	}

	username := strings.TrimSpace(string(plain))
	if username == "" {
		return errors.New("empty username")
	}

	if err := c.hub.Admit(c, username); err != nil {
		if errors.Is(err, ErrDuplicateSession) {
			c.refuse(fmt.Sprintf("Username %s is already taken", username))
		}
		return err
	}

	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			log.Printf("Error clearing read deadline for %s: %v", c.addr, err)
		}
	}
	return nil
}

// refuse writes a final notification directly to a peer that never made
// it past the handshake. The write pump is not running yet, so this is
// the only place a payload bypasses the send channel.
func (c *Client) refuse(text string) {
	payload, err := c.hub.seal(protocol.Envelope{Type: protocol.TypeNotification, Content: text})
	if err != nil {
		return
	}
	if err := c.conn.WritePayload(payload); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error writing refusal to %s: %v", c.addr, err)
	}
}

// readPump reads framed payloads, decrypts and decodes them, and hands
// the resulting envelopes to the dispatcher. Any framing, decryption, or
// envelope error terminates this connection only; no other session is
// affected. The deferred cleanup is idempotent with the hub's own
// failed-delivery path.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in readPump: %v", err)
		}
	}()

	for {
		sealed, err := c.conn.ReadPayload()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Printf("Client %q (%s) disconnected", c.username, c.addr)
			case errors.Is(err, protocol.ErrFraming):
				log.Printf("Framing violation from %q (%s): %v", c.username, c.addr, err)
			default:
				if !isExpectedCloseError(err) {
					log.Printf("Read error from %q (%s): %v", c.username, c.addr, err)
				}
			}
			return
		}

		plain, err := c.hub.cipher.Decrypt(sealed)
		if err != nil {
			log.Printf("Dropping connection %q (%s): %v", c.username, c.addr, err)
			return
		}

		envelope, err := protocol.Decode(plain)
		if err != nil {
			log.Printf("Dropping connection %q (%s): %v", c.username, c.addr, err)
			return
		}

		c.hub.dispatch(c, envelope)
	}
}

// writePump drains the send channel onto the wire. It exits when the hub
// closes the channel during disconnect, or after a write error, in which
// case closing the connection wakes the read loop to run cleanup.
func (c *Client) writePump() {
	for payload := range c.send {
		if err := c.conn.WritePayload(payload); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Write error to %q (%s): %v", c.username, c.addr, err)
			}
			if closeErr := c.conn.Close(); closeErr != nil && !isExpectedCloseError(closeErr) {
				log.Printf("Error closing connection in writePump: %v", closeErr)
			}
			for range c.send {
				// Discard until the hub closes the channel.
			}
			return
		}
	}
}
