package protocol

// Message roles in a conversation transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// hello (client -> server): first frame on a fresh connection.
type HelloPayload struct {
	UserID string   `json:"userId"`
	Token  string   `json:"token"`
	Topics []string `json:"topics,omitempty"`
}

// welcome (server -> client): accepted handshake. Tokens seeds the client's
// balance mirror so it never starts from a guess.
type WelcomePayload struct {
	UserID         string `json:"userId"`
	SessionKey     string `json:"sessionKey"`
	Tokens         int    `json:"tokens"`
	CostPerMessage int    `json:"costPerMessage"`
}

// ai-chat:token-status (server -> client).
type TokenStatusPayload struct {
	HasTokens      bool `json:"hasTokens"`
	CurrentTokens  int  `json:"currentTokens"`
	CostPerMessage int  `json:"costPerMessage,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ai-chat:send (client -> server).
type ChatSendPayload struct {
	Prompt              string        `json:"prompt"`
	SessionID           string        `json:"sessionId"`
	ConversationHistory []ChatMessage `json:"conversationHistory,omitempty"`
}

// ai-chat:chunk (server -> client). Index is strictly increasing per session;
// delivery order across the network is not assumed.
type ChatChunkPayload struct {
	Chunk string `json:"chunk"`
	Index int    `json:"index"`
}

// ai-chat:complete (server -> client). RemainingTokens is authoritative and
// always wins over any locally computed balance.
type ChatCompletePayload struct {
	SessionID       string `json:"sessionId"`
	Response        string `json:"response"`
	TokensUsed      int    `json:"tokensUsed"`
	RemainingTokens int    `json:"remainingTokens"`
	ResponseTimeMS  int64  `json:"responseTime"`
}

// ai-chat:cancel (client -> server).
type ChatCancelPayload struct {
	SessionID string `json:"sessionId"`
}

// ai-chat:tokens (server -> client): out-of-band balance push, e.g. after a
// quest completion credits tokens while a chat view is open.
type ChatTokensPayload struct {
	Tokens int `json:"tokens"`
}

// ai-chat:error (server -> client). CurrentTokens is present when the server
// wants the client mirror corrected (insufficient-token rejections).
type ChatErrorPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CurrentTokens *int   `json:"currentTokens,omitempty"`
}

// room:subscribe / room:unsubscribe (client -> server).
type RoomPayload struct {
	Topic string `json:"topic"`
}

// presence:update (server -> client): full membership for a topic.
type PresencePayload struct {
	Topic   string   `json:"topic"`
	UserIDs []string `json:"userIds"`
}

// typing:set (client -> server).
type TypingSetPayload struct {
	Topic  string `json:"topic"`
	Typing bool   `json:"typing"`
}

// typing:update (server -> client).
type TypingUpdatePayload struct {
	Topic  string `json:"topic"`
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}
