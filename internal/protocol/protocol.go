package protocol

import "encoding/json"

const Version = "1.0"

// Maximum prompt length accepted anywhere in the system. The client checks it
// before emitting a frame; the hub re-checks it authoritatively.
const MaxPromptChars = 4000

// Handshake events.
const (
	EventHello   = "hello"
	EventWelcome = "welcome"
)

// Chat events.
const (
	EventChatCheckTokens = "ai-chat:check-tokens"
	EventChatTokenStatus = "ai-chat:token-status"
	EventChatSend        = "ai-chat:send"
	EventChatStart       = "ai-chat:start"
	EventChatChunk       = "ai-chat:chunk"
	EventChatComplete    = "ai-chat:complete"
	EventChatCancel      = "ai-chat:cancel"
	EventChatCancelled   = "ai-chat:cancelled"
	EventChatTokens      = "ai-chat:tokens"
	EventChatError       = "ai-chat:error"
)

// Room/topic events. Topics share the one physical connection.
const (
	EventRoomSubscribe   = "room:subscribe"
	EventRoomUnsubscribe = "room:unsubscribe"
	EventPresenceUpdate  = "presence:update"
	EventTypingSet       = "typing:set"
	EventTypingUpdate    = "typing:update"
)

// Envelope lets us route unknown JSON frames by event name.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}

// Encode wraps a payload into a wire frame.
func Encode(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}
