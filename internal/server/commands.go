// Package server interprets client input: slash-commands mutate room or
// whisper state, everything else relays to the sender's room as a public
// message.
package server

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cipherchat/cipherchat/internal/protocol"
)

const (
	cmdJoin    = "/join"
	cmdList    = "/list"
	cmdWhisper = "/whisper"

	joinUsage    = "Usage: /join #roomname"
	whisperUsage = "Usage: /whisper <username> <message>"
)

// dispatch routes one decoded envelope from c. Clients speak in command
// envelopes carrying the raw text the user typed; any other envelope
// type is ignored rather than treated as an error, so newer clients can
// probe without killing their connection.
func (h *Hub) dispatch(c *Client, e protocol.Envelope) {
	if e.Type != protocol.TypeCommand {
		log.Printf("Ignoring %q envelope from %q", e.Type, c.username)
		return
	}
	h.dispatchText(c, e.Content)
}

// dispatchText interprets the raw text a client sent. Slash-prefixed
// input must match a known command; unknown commands are refused with a
// sender-only notification, never broadcast. Plain text becomes a public
// message to the sender's current room.
func (h *Hub) dispatchText(c *Client, raw string) {
	if !strings.HasPrefix(raw, "/") {
		h.BroadcastMessage(c, raw)
		return
	}

	switch verb := strings.SplitN(raw, " ", 2)[0]; verb {
	case cmdJoin:
		h.handleJoin(c, raw)
	case cmdList:
		h.handleList(c)
	case cmdWhisper:
		h.handleWhisper(c, raw)
	default:
		h.Notify(c, fmt.Sprintf("Unknown command: %s", verb))
	}
}

func (h *Hub) handleJoin(c *Client, raw string) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		h.Notify(c, joinUsage)
		return
	}

	roomName := fields[1]
	if err := h.Join(c, roomName); err != nil {
		if errors.Is(err, ErrInvalidRoomName) {
			h.Notify(c, fmt.Sprintf("Room names must start with %s: %s", RoomPrefix, joinUsage))
			return
		}
		h.Notify(c, fmt.Sprintf("Could not join %s", roomName))
	}
}

func (h *Hub) handleList(c *Client) {
	h.Notify(c, "Rooms: "+strings.Join(h.ListRooms(), ", "))
}

// handleWhisper parses "/whisper <username> <text>". The message text is
// everything after the second space, so it may itself contain spaces.
func (h *Hub) handleWhisper(c *Client, raw string) {
	parts := strings.SplitN(raw, " ", 3)
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		h.Notify(c, whisperUsage)
		return
	}

	target, text := parts[1], parts[2]
	if err := h.Whisper(c, target, text); err != nil {
		if errors.Is(err, ErrWhisperTargetNotFound) {
			h.Notify(c, fmt.Sprintf("No user named %s is connected", target))
			return
		}
		h.Notify(c, fmt.Sprintf("Could not whisper to %s", target))
	}
}
