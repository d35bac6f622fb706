package protocol

const (
	// Chat admission / server rejection.
	ErrInsufficientTokens = "INSUFFICIENT_TOKENS"
	ErrPromptTooLong      = "PROMPT_TOO_LONG"
	ErrAuth               = "AUTH_ERROR"

	// Protocol/session layer.
	ErrBadRequest  = "BAD_REQUEST"
	ErrSessionBusy = "SESSION_BUSY"
	ErrInternal    = "INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrInsufficientTokens: {},
	ErrPromptTooLong:      {},
	ErrAuth:               {},
	ErrBadRequest:         {},
	ErrSessionBusy:        {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
