package hub

import (
	"sort"
	"strings"

	"guildpulse.gg/internal/protocol"
)

// Topics multiplexed over the shared connection. Community and clan rooms
// are parameterized: "community:<id>", "clan:<id>".
const (
	TopicPresence = "presence"
	TopicTyping   = "typing"
)

func validTopic(topic string) bool {
	if topic == TopicPresence || topic == TopicTyping {
		return true
	}
	return strings.HasPrefix(topic, "community:") || strings.HasPrefix(topic, "clan:")
}

func (h *Hub) subscribe(c *clientState, topic string) {
	if !validTopic(topic) {
		return
	}
	room := h.rooms[topic]
	if room == nil {
		room = map[string]struct{}{}
		h.rooms[topic] = room
	}
	if _, already := room[c.ConnID]; already {
		return
	}
	room[c.ConnID] = struct{}{}
	h.broadcastPresence(topic)
}

func (h *Hub) unsubscribe(c *clientState, topic string) {
	room, ok := h.rooms[topic]
	if !ok {
		return
	}
	if _, member := room[c.ConnID]; !member {
		return
	}
	delete(room, c.ConnID)
	if len(room) == 0 {
		delete(h.rooms, topic)
		return
	}
	h.broadcastPresence(topic)
}

// broadcastPresence sends the full membership to everyone in the topic.
// Duplicate user ids (several tabs) collapse to one entry.
func (h *Hub) broadcastPresence(topic string) {
	room := h.rooms[topic]
	users := map[string]struct{}{}
	for connID := range room {
		if c, ok := h.clients[connID]; ok {
			users[c.UserID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	payload := protocol.PresencePayload{Topic: topic, UserIDs: ids}
	for connID := range room {
		if c, ok := h.clients[connID]; ok {
			h.send(c, protocol.EventPresenceUpdate, payload)
		}
	}
}

// handleTyping relays a typing flag to the other members of the topic.
func (h *Hub) handleTyping(c *clientState, p protocol.TypingSetPayload) {
	room, ok := h.rooms[p.Topic]
	if !ok {
		return
	}
	if _, member := room[c.ConnID]; !member {
		return
	}
	payload := protocol.TypingUpdatePayload{Topic: p.Topic, UserID: c.UserID, Typing: p.Typing}
	for connID := range room {
		if connID == c.ConnID {
			continue
		}
		if peer, okc := h.clients[connID]; okc {
			h.send(peer, protocol.EventTypingUpdate, payload)
		}
	}
}
