// Package server coordinates session registration, room membership, and
// message broadcast for the chat relay via the Hub type. The hub is the
// single source of truth for both the connection→session registry and
// the room→members map; one mutex guards the two together so a broadcast
// never observes a half-applied membership change.
package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/cipherchat/cipherchat/internal/crypto"
	"github.com/cipherchat/cipherchat/internal/protocol"
)

// room is a named broadcast scope. Members are tracked both as a map for
// membership checks and as a join-ordered slice so user_list envelopes
// have a stable presentation order. Rooms are created lazily on first
// join and never deleted, so room_list output only ever grows.
type room struct {
	name    string
	members map[uuid.UUID]*Client
	order   []*Client
}

func (r *room) add(c *Client) {
	r.members[c.id] = c
	r.order = append(r.order, c)
}

func (r *room) remove(c *Client) {
	if _, ok := r.members[c.id]; !ok {
		return
	}
	delete(r.members, c.id)
	for i, member := range r.order {
		if member.id == c.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *room) usernames() []string {
	names := make([]string, 0, len(r.order))
	for _, member := range r.order {
		names = append(names, member.username)
	}
	return names
}

// Hub manages every active session and room. All exported methods are
// safe to call concurrently from any connection handler goroutine.
type Hub struct {
	cipher      *crypto.Cipher
	defaultRoom string

	mu        sync.Mutex
	clients   map[uuid.UUID]*Client
	usernames map[string]*Client
	rooms     map[string]*room
	roomOrder []string
}

// NewHub creates a hub whose default room exists from the start. Every
// admitted session is placed there until it joins elsewhere.
func NewHub(cipher *crypto.Cipher, defaultRoom string) *Hub {
	h := &Hub{
		cipher:      cipher,
		defaultRoom: defaultRoom,
		clients:     make(map[uuid.UUID]*Client),
		usernames:   make(map[string]*Client),
		rooms:       make(map[string]*room),
	}
	h.rooms[defaultRoom] = &room{name: defaultRoom, members: make(map[uuid.UUID]*Client)}
	h.roomOrder = append(h.roomOrder, defaultRoom)
	return h
}

// DefaultRoom returns the room every session is placed in after the
// handshake.
func (h *Hub) DefaultRoom() string {
	return h.defaultRoom
}

// seal encodes an envelope and encrypts it for the wire. The resulting
// bytes are valid for every recipient, since all peers share one key.
func (h *Hub) seal(e protocol.Envelope) ([]byte, error) {
	encoded, err := protocol.Encode(e)
	if err != nil {
		return nil, err
	}
	return h.cipher.Encrypt(encoded)
}

// enqueueLocked hands a sealed payload to one client's write pump. A
// client whose send buffer is full or that is already closed cannot be
// delivered to; its connection is closed so its own handler runs the
// standard disconnect cleanup. Callers must hold h.mu.
func (h *Hub) enqueueLocked(c *Client, payload []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("Send buffer full for %s (%s); closing connection", c.username, c.addr)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing stalled connection %s: %v", c.addr, err)
		}
	}
}

// broadcastRoomLocked delivers payload to every member of r except
// excluding (which may be nil). A failed delivery to one member never
// aborts delivery to the rest.
func (h *Hub) broadcastRoomLocked(r *room, payload []byte, excluding *Client) {
	for _, member := range r.order {
		if member == excluding {
			continue
		}
		h.enqueueLocked(member, payload)
	}
}

// broadcastAllLocked delivers payload to every registered session.
func (h *Hub) broadcastAllLocked(payload []byte) {
	for _, c := range h.clients {
		h.enqueueLocked(c, payload)
	}
}

func (h *Hub) sealAndBroadcastRoomLocked(r *room, e protocol.Envelope, excluding *Client) {
	payload, err := h.seal(e)
	if err != nil {
		log.Printf("Error sealing %s envelope for %s: %v", e.Type, r.name, err)
		return
	}
	h.broadcastRoomLocked(r, payload, excluding)
}

func (h *Hub) userListLocked(r *room) protocol.Envelope {
	return protocol.Envelope{Type: protocol.TypeUserList, List: r.usernames()}
}

func (h *Hub) roomListLocked() protocol.Envelope {
	names := make([]string, len(h.roomOrder))
	copy(names, h.roomOrder)
	return protocol.Envelope{Type: protocol.TypeRoomList, List: names}
}

// Admit registers a freshly handshaken client under username and places
// it in the default room. Usernames are unique among active sessions;
// a second session for an active name is refused with
// ErrDuplicateSession and never becomes visible to other sessions.
func (h *Hub) Admit(c *Client, username string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, taken := h.usernames[username]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, username)
	}

	c.username = username
	h.clients[c.id] = c
	h.usernames[username] = c

	h.joinLocked(c, h.defaultRoom)

	if payload, err := h.seal(h.roomListLocked()); err == nil {
		h.broadcastAllLocked(payload)
	} else {
		log.Printf("Error sealing room_list envelope: %v", err)
	}

	welcome := protocol.Envelope{Type: protocol.TypeNotification, Content: "Connected to the server!"}
	if payload, err := h.seal(welcome); err == nil {
		h.enqueueLocked(c, payload)
	}

	log.Printf("Session %s admitted as %q. Total sessions: %d", c.id, username, len(h.clients))
	return nil
}

// Join moves c into roomName, creating the room on first join. Room
// names must carry the # prefix; anything else is refused with
// ErrInvalidRoomName and no state changes.
func (h *Hub) Join(c *Client, roomName string) error {
	if !validRoomName(roomName) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomName, roomName)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, registered := h.clients[c.id]; !registered {
		return nil
	}
	h.joinLocked(c, roomName)
	return nil
}

// joinLocked implements the join sequence: leave the prior room with its
// departure broadcasts, lazily create the target room (announcing the
// new room list to everyone), then enter it with arrival broadcasts and
// a join_success addressed to the joiner alone. No-op if c is already a
// member of roomName. Callers must hold h.mu.
func (h *Hub) joinLocked(c *Client, roomName string) {
	if c.room == roomName {
		return
	}

	if c.room != "" {
		h.leaveRoomLocked(c)
	}

	target, exists := h.rooms[roomName]
	if !exists {
		target = &room{name: roomName, members: make(map[uuid.UUID]*Client)}
		h.rooms[roomName] = target
		h.roomOrder = append(h.roomOrder, roomName)
		log.Printf("Room %s created by %q", roomName, c.username)
		if payload, err := h.seal(h.roomListLocked()); err == nil {
			h.broadcastAllLocked(payload)
		} else {
			log.Printf("Error sealing room_list envelope: %v", err)
		}
	}

	target.add(c)
	c.room = roomName

	joined := protocol.Envelope{
		Type:    protocol.TypeNotification,
		Content: fmt.Sprintf("%s joined %s", c.username, roomName),
	}
	h.sealAndBroadcastRoomLocked(target, joined, nil)
	h.sealAndBroadcastRoomLocked(target, h.userListLocked(target), nil)

	success := protocol.Envelope{Type: protocol.TypeJoinSuccess, Content: roomName}
	if payload, err := h.seal(success); err == nil {
		h.enqueueLocked(c, payload)
	}
}

// leaveRoomLocked removes c from its current room and broadcasts the
// departure notification plus the shrunk user_list to the remaining
// members. Callers must hold h.mu.
func (h *Hub) leaveRoomLocked(c *Client) {
	r, ok := h.rooms[c.room]
	if !ok {
		c.room = ""
		return
	}

	r.remove(c)
	left := protocol.Envelope{
		Type:    protocol.TypeNotification,
		Content: fmt.Sprintf("%s left %s", c.username, c.room),
	}
	c.room = ""
	h.sealAndBroadcastRoomLocked(r, left, nil)
	h.sealAndBroadcastRoomLocked(r, h.userListLocked(r), nil)
}

// Disconnect removes c from its room and from the registry, then closes
// its send channel. Idempotent: the cleanup path may race between the
// read loop's deferred teardown and a failed broadcast delivery, and
// only the first call does any work.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if _, registered := h.clients[c.id]; !registered {
		h.mu.Unlock()
		return
	}

	if c.room != "" {
		h.leaveRoomLocked(c)
	}
	delete(h.clients, c.id)
	delete(h.usernames, c.username)
	c.closed = true
	remaining := len(h.clients)
	h.mu.Unlock()

	// Close the channel after releasing the lock; enqueueLocked checks
	// c.closed under the same lock, so no send can race the close.
	close(c.send)
	log.Printf("Session %q from %s disconnected. Total sessions: %d", c.username, c.addr, remaining)
}

// BroadcastMessage sends a public chat message from c to every other
// member of its current room. The sender is excluded; it already knows
// what it typed.
func (h *Hub) BroadcastMessage(c *Client, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[c.room]
	if !ok {
		return
	}
	msg := protocol.Envelope{
		Type:    protocol.TypeMessage,
		Sender:  c.username,
		Content: text,
	}
	h.sealAndBroadcastRoomLocked(r, msg, c)
}

// Whisper delivers a private envelope from c to the session named
// target. Both the recipient and the sender receive the envelope; the
// echo back to the sender lets its client render the outgoing whisper.
func (h *Hub) Whisper(c *Client, target, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	recipient, ok := h.usernames[target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWhisperTargetNotFound, target)
	}

	whisper := protocol.Envelope{
		Type:      protocol.TypeWhisper,
		Sender:    c.username,
		Recipient: target,
		Content:   text,
	}
	payload, err := h.seal(whisper)
	if err != nil {
		log.Printf("Error sealing whisper envelope: %v", err)
		return nil
	}
	h.enqueueLocked(recipient, payload)
	if recipient != c {
		h.enqueueLocked(c, payload)
	}
	return nil
}

// Notify sends a notification envelope to c alone.
func (h *Hub) Notify(c *Client, text string) {
	payload, err := h.seal(protocol.Envelope{Type: protocol.TypeNotification, Content: text})
	if err != nil {
		log.Printf("Error sealing notification envelope: %v", err)
		return
	}
	h.mu.Lock()
	h.enqueueLocked(c, payload)
	h.mu.Unlock()
}

// ListRooms returns every room name in creation order.
func (h *Hub) ListRooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.roomOrder))
	copy(names, h.roomOrder)
	return names
}

// Lookup returns a snapshot of c's session, if c is registered.
func (h *Hub) Lookup(c *Client) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, registered := h.clients[c.id]; !registered {
		return Session{}, false
	}
	return Session{ID: c.id, Username: c.username, Room: c.room}, true
}

// FindByUsername returns the session currently registered under name.
func (h *Hub) FindByUsername(name string) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.usernames[name]
	if !ok {
		return Session{}, false
	}
	return Session{ID: c.id, Username: c.username, Room: c.room}, true
}

// RoomMembers returns the usernames of roomName's current members in
// join order, or false if the room has never been created.
func (h *Hub) RoomMembers(roomName string) ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomName]
	if !ok {
		return nil, false
	}
	return r.usernames(), true
}

// SessionCount returns the number of active sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// closeAll closes every registered client's connection, triggering each
// handler's normal cleanup path. Used during server shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection %s during shutdown: %v", c.addr, err)
		}
	}
	log.Printf("Closed %d client connections", len(clients))
}

func validRoomName(name string) bool {
	return len(name) > len(RoomPrefix) && name[:len(RoomPrefix)] == RoomPrefix
}
