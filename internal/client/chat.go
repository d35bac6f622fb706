package client

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"guildpulse.gg/internal/protocol"
)

var (
	ErrEmptyPrompt        = errors.New("empty prompt")
	ErrPromptTooLong      = errors.New("prompt too long")
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrNotConnected       = errors.New("not connected")
	ErrBusy               = errors.New("exchange in flight")
)

type ChatState string

const (
	ChatIdle      ChatState = "IDLE"
	ChatSending   ChatState = "SENDING"
	ChatStreaming ChatState = "STREAMING"
	ChatComplete  ChatState = "COMPLETE"
	ChatCancelled ChatState = "CANCELLED"
	ChatError     ChatState = "ERROR"
)

// ChatSession drives one conversation over the shared channel. Send gates on
// the local mirror before any frame leaves; the server's complete/error
// frames carry the authoritative balance and settle the exchange.
type ChatSession struct {
	ch   *Channel
	cost int

	mu        sync.Mutex
	sessionID string
	state     ChatState
	lastErr   error
	errCode   string

	// Chunks keyed by index: the wire may reorder, the transcript may not.
	chunks   map[int]string
	response string
	history  []protocol.ChatMessage

	// OnChunk and OnStateChange fire outside the session lock.
	OnChunk       func(text string)
	OnStateChange func(s ChatState)

	removeHandlers []func()
}

// NewChatSession wires a session onto the channel. Cost is the client-side
// admission gate per message, normally the welcome's costPerMessage.
func NewChatSession(ch *Channel, cost int) *ChatSession {
	s := &ChatSession{
		ch:        ch,
		cost:      cost,
		sessionID: uuid.NewString(),
		state:     ChatIdle,
		chunks:    map[int]string{},
	}
	s.removeHandlers = []func(){
		ch.On(protocol.EventChatStart, s.onStart),
		ch.On(protocol.EventChatChunk, s.onChunk),
		ch.On(protocol.EventChatComplete, s.onComplete),
		ch.On(protocol.EventChatCancelled, s.onCancelled),
		ch.On(protocol.EventChatError, s.onError),
	}
	return s
}

// Detach removes the session's channel handlers.
func (s *ChatSession) Detach() {
	for _, rm := range s.removeHandlers {
		rm()
	}
}

func (s *ChatSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *ChatSession) State() ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last terminal error and its wire code, if any.
func (s *ChatSession) Err() (error, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr, s.errCode
}

// Response returns the settled response if complete, else the transcript
// reassembled from the contiguous chunk prefix.
func (s *ChatSession) Response() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response != "" {
		return s.response
	}
	return s.assembleLocked()
}

func (s *ChatSession) assembleLocked() string {
	idxs := make([]int, 0, len(s.chunks))
	for i := range s.chunks {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	var out string
	for want, i := range idxs {
		if i != want {
			break
		}
		out += s.chunks[i]
	}
	return out
}

// Send runs the admission gates in order, debits the mirror and emits the
// frame. The mirror debit is speculative; a server rejection restores it
// through the error frame's authoritative balance.
func (s *ChatSession) Send(prompt string, history []protocol.ChatMessage) error {
	if prompt == "" {
		return ErrEmptyPrompt
	}
	if len([]rune(prompt)) > protocol.MaxPromptChars {
		return ErrPromptTooLong
	}

	s.mu.Lock()
	if s.state == ChatSending || s.state == ChatStreaming {
		s.mu.Unlock()
		return ErrBusy
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	if !s.ch.Ledger().Debit(s.cost) {
		return ErrInsufficientTokens
	}
	if !s.ch.Connected() {
		// Undo the speculative debit; nothing left the client.
		s.ch.Ledger().Credit(s.cost)
		return ErrNotConnected
	}

	s.mu.Lock()
	s.state = ChatSending
	s.lastErr = nil
	s.errCode = ""
	s.chunks = map[int]string{}
	s.response = ""
	s.history = history
	s.mu.Unlock()
	s.notify(ChatSending)

	err := s.ch.Emit(protocol.EventChatSend, protocol.ChatSendPayload{
		Prompt:              prompt,
		SessionID:           sessionID,
		ConversationHistory: history,
	})
	if err != nil {
		s.ch.Ledger().Credit(s.cost)
		s.mu.Lock()
		s.state = ChatError
		s.lastErr = err
		s.mu.Unlock()
		s.notify(ChatError)
		return err
	}
	return nil
}

// Cancel settles the exchange locally and asks the server to stop streaming.
// The transition to CANCELLED is immediate: any complete that races in for
// this exchange afterwards no longer matches an active state and is dropped.
// The server's ack is a no-op confirmation.
func (s *ChatSession) Cancel() error {
	s.mu.Lock()
	if s.state != ChatSending && s.state != ChatStreaming {
		s.mu.Unlock()
		return nil
	}
	sessionID := s.sessionID
	s.state = ChatCancelled
	s.mu.Unlock()
	s.notify(ChatCancelled)
	return s.ch.Emit(protocol.EventChatCancel, protocol.ChatCancelPayload{SessionID: sessionID})
}

// Clear resets the session for a fresh conversation under a new id. Frames
// still in flight for the old id no longer match and are dropped.
func (s *ChatSession) Clear() {
	s.mu.Lock()
	s.sessionID = uuid.NewString()
	s.state = ChatIdle
	s.lastErr = nil
	s.errCode = ""
	s.chunks = map[int]string{}
	s.response = ""
	s.history = nil
	s.mu.Unlock()
	s.notify(ChatIdle)
}

func (s *ChatSession) notify(state ChatState) {
	if s.OnStateChange != nil {
		s.OnStateChange(state)
	}
}

func (s *ChatSession) onStart(payload []byte) {
	s.mu.Lock()
	if s.state != ChatSending {
		s.mu.Unlock()
		return
	}
	s.state = ChatStreaming
	s.mu.Unlock()
	s.notify(ChatStreaming)
}

func (s *ChatSession) onChunk(payload []byte) {
	var p protocol.ChatChunkPayload
	if json.Unmarshal(payload, &p) != nil {
		return
	}
	s.mu.Lock()
	if s.state != ChatSending && s.state != ChatStreaming {
		s.mu.Unlock()
		return
	}
	// A chunk may race ahead of the start frame.
	s.state = ChatStreaming
	s.chunks[p.Index] = p.Chunk
	text := s.assembleLocked()
	cb := s.OnChunk
	s.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}

func (s *ChatSession) onComplete(payload []byte) {
	var p protocol.ChatCompletePayload
	if json.Unmarshal(payload, &p) != nil {
		return
	}
	s.mu.Lock()
	// A complete for a cleared or cancelled session id is stale.
	if p.SessionID != s.sessionID || (s.state != ChatSending && s.state != ChatStreaming) {
		s.mu.Unlock()
		return
	}
	s.state = ChatComplete
	s.response = p.Response
	s.mu.Unlock()
	s.notify(ChatComplete)
}

// onCancelled is normally a no-op confirmation: Cancel already moved the
// session to CANCELLED. The guard keeps acks for settled sessions inert.
func (s *ChatSession) onCancelled(payload []byte) {
	s.mu.Lock()
	if s.state != ChatSending && s.state != ChatStreaming {
		s.mu.Unlock()
		return
	}
	s.state = ChatCancelled
	s.mu.Unlock()
	s.notify(ChatCancelled)
}

func (s *ChatSession) onError(payload []byte) {
	var p protocol.ChatErrorPayload
	if json.Unmarshal(payload, &p) != nil {
		return
	}
	s.mu.Lock()
	if s.state != ChatSending && s.state != ChatStreaming {
		s.mu.Unlock()
		return
	}
	s.state = ChatError
	s.errCode = p.Code
	switch p.Code {
	case protocol.ErrInsufficientTokens:
		s.lastErr = ErrInsufficientTokens
	case protocol.ErrPromptTooLong:
		s.lastErr = ErrPromptTooLong
	default:
		s.lastErr = errors.New(p.Message)
	}
	s.mu.Unlock()
	s.notify(ChatError)
}
