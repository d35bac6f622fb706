package hub

import (
	"encoding/json"
	"strings"

	"guildpulse.gg/internal/protocol"
)

func (h *Hub) handleFrame(f Frame) {
	c, ok := h.clients[f.ConnID]
	if !ok {
		return
	}
	switch f.Envelope.Event {
	case protocol.EventChatCheckTokens:
		h.handleCheckTokens(c)
	case protocol.EventChatSend:
		var p protocol.ChatSendPayload
		if err := json.Unmarshal(f.Envelope.Payload, &p); err != nil {
			h.sendError(c, protocol.ErrBadRequest, "malformed send payload", nil)
			return
		}
		h.handleSend(c, p)
	case protocol.EventChatCancel:
		var p protocol.ChatCancelPayload
		if err := json.Unmarshal(f.Envelope.Payload, &p); err != nil {
			h.sendError(c, protocol.ErrBadRequest, "malformed cancel payload", nil)
			return
		}
		h.handleCancel(c, p.SessionID)
	case protocol.EventRoomSubscribe:
		var p protocol.RoomPayload
		if err := json.Unmarshal(f.Envelope.Payload, &p); err == nil && p.Topic != "" {
			h.subscribe(c, p.Topic)
		}
	case protocol.EventRoomUnsubscribe:
		var p protocol.RoomPayload
		if err := json.Unmarshal(f.Envelope.Payload, &p); err == nil && p.Topic != "" {
			h.unsubscribe(c, p.Topic)
		}
	case protocol.EventTypingSet:
		var p protocol.TypingSetPayload
		if err := json.Unmarshal(f.Envelope.Payload, &p); err == nil && p.Topic != "" {
			h.handleTyping(c, p)
		}
	default:
		// Unknown events are ignored, not fatal: older clients may emit
		// topics this build does not carry.
	}
}

func (h *Hub) handleCheckTokens(c *clientState) {
	tokens, err := h.store.Tokens(c.UserID)
	if err != nil {
		h.sendError(c, protocol.ErrInternal, "balance lookup failed", nil)
		return
	}
	h.send(c, protocol.EventChatTokenStatus, protocol.TokenStatusPayload{
		HasTokens:      tokens >= h.cfg.CostPerChat,
		CurrentTokens:  tokens,
		CostPerMessage: h.cfg.CostPerChat,
	})
}

func (h *Hub) handleSend(c *clientState, p protocol.ChatSendPayload) {
	prompt := strings.TrimSpace(p.Prompt)
	if p.SessionID == "" || prompt == "" {
		h.sendError(c, protocol.ErrBadRequest, "empty prompt or session", nil)
		return
	}
	if len([]rune(p.Prompt)) > h.cfg.MaxPromptChars {
		h.sendError(c, protocol.ErrPromptTooLong, "prompt exceeds limit", nil)
		return
	}
	if _, busy := h.streams[p.SessionID]; busy {
		h.sendError(c, protocol.ErrSessionBusy, "session already streaming", nil)
		return
	}

	// The client's gate was advisory; this debit is the authoritative check.
	ok, remaining, err := h.store.DebitTokens(c.UserID, h.cfg.CostPerChat)
	if err != nil {
		h.sendError(c, protocol.ErrInternal, "balance update failed", nil)
		return
	}
	if !ok {
		h.sendError(c, protocol.ErrInsufficientTokens, "not enough tokens", &remaining)
		return
	}

	h.store.AppendChat(p.SessionID, c.UserID, protocol.RoleUser, p.Prompt)
	// Queue the start frame before the generation goroutine exists so no
	// chunk can precede it on the wire.
	h.send(c, protocol.EventChatStart, nil)
	st := h.startStream(c, p)
	h.streams[p.SessionID] = st
}

func (h *Hub) handleCancel(c *clientState, sessionID string) {
	st, ok := h.streams[sessionID]
	if !ok || st.ConnID != c.ConnID {
		// Unknown or foreign session: nothing to stop, but acknowledge so
		// the client's cooperative cancel settles.
		h.send(c, protocol.EventChatCancelled, nil)
		return
	}
	st.Cancel()
	h.finished.Add(st.ExchangeID, struct{}{})
	delete(h.streams, sessionID)
	h.send(c, protocol.EventChatCancelled, nil)
}

func (h *Hub) sendError(c *clientState, code, msg string, currentTokens *int) {
	h.send(c, protocol.EventChatError, protocol.ChatErrorPayload{
		Code:          code,
		Message:       msg,
		CurrentTokens: currentTokens,
	})
}
