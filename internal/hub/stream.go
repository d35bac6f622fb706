package hub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"guildpulse.gg/internal/protocol"
	"guildpulse.gg/internal/transcripts"
)

// stream is one in-flight prompt/response exchange. The hub loop owns the
// registry; the generation goroutine only writes paced chunk frames to the
// client's outbound queue and reports back through the finalize channel.
type stream struct {
	ExchangeID string
	SessionID  string
	ConnID     string
	UserID     string
	StartedAt  time.Time

	cancel context.CancelFunc
}

func (s *stream) Cancel() { s.cancel() }

type streamResult struct {
	ExchangeID string
	SessionID  string
	ConnID     string
	UserID     string
	Prompt     string
	History    []protocol.ChatMessage
	Response   string
	StartedAt  time.Time
	Err        error
	Cancelled  bool
}

func (h *Hub) startStream(c *clientState, p protocol.ChatSendPayload) *stream {
	ctx, cancel := context.WithCancel(context.Background())
	st := &stream{
		ExchangeID: uuid.NewString(),
		SessionID:  p.SessionID,
		ConnID:     c.ConnID,
		UserID:     c.UserID,
		StartedAt:  time.Now(),
		cancel:     cancel,
	}

	out := c.Out
	go func() {
		defer cancel()
		res := streamResult{
			ExchangeID: st.ExchangeID,
			SessionID:  st.SessionID,
			ConnID:     st.ConnID,
			UserID:     st.UserID,
			Prompt:     p.Prompt,
			History:    p.ConversationHistory,
			StartedAt:  st.StartedAt,
		}

		response, err := h.resp.Respond(ctx, p.Prompt, p.ConversationHistory)
		if err != nil {
			res.Err = err
			res.Cancelled = ctx.Err() != nil
			h.finalize <- res
			return
		}

		// Chunks carry a strictly increasing index per exchange; the client
		// reassembles by index, so wire reordering is survivable.
		index := 0
		for _, chunk := range splitChunks(response, h.cfg.ChunkSize) {
			select {
			case <-ctx.Done():
				res.Cancelled = true
				h.finalize <- res
				return
			default:
			}
			if b, err := protocol.Encode(protocol.EventChatChunk, protocol.ChatChunkPayload{Chunk: chunk, Index: index}); err == nil {
				select {
				case out <- b:
				default:
				}
			}
			index++
			if h.cfg.ChunkDelay > 0 {
				select {
				case <-ctx.Done():
					res.Cancelled = true
					h.finalize <- res
					return
				case <-time.After(h.cfg.ChunkDelay):
				}
			}
		}

		res.Response = response
		h.finalize <- res
	}()
	return st
}

// handleFinalize settles an exchange in the loop: the registry check discards
// results for sessions that were cancelled or replaced while the generation
// goroutine was still running.
func (h *Hub) handleFinalize(res streamResult) {
	st, ok := h.streams[res.SessionID]
	if !ok || st.ExchangeID != res.ExchangeID {
		return
	}
	if _, late := h.finished.Get(res.ExchangeID); late {
		return
	}
	delete(h.streams, res.SessionID)
	h.finished.Add(res.ExchangeID, struct{}{})

	c, connected := h.clients[res.ConnID]

	if res.Cancelled {
		return
	}
	if res.Err != nil {
		if h.log != nil {
			h.log.Printf("stream %s: %v", res.SessionID, res.Err)
		}
		if connected {
			h.sendError(c, protocol.ErrInternal, "generation failed", nil)
		}
		return
	}

	remaining, err := h.store.Tokens(res.UserID)
	if err != nil {
		if h.log != nil {
			h.log.Printf("stream %s: balance read: %v", res.SessionID, err)
		}
		remaining = 0
	}

	h.store.AppendChat(res.SessionID, res.UserID, protocol.RoleAssistant, res.Response)
	elapsed := time.Since(res.StartedAt).Milliseconds()

	if connected {
		h.send(c, protocol.EventChatComplete, protocol.ChatCompletePayload{
			SessionID:       res.SessionID,
			Response:        res.Response,
			TokensUsed:      h.cfg.CostPerChat,
			RemainingTokens: remaining,
			ResponseTimeMS:  elapsed,
		})
	}

	if h.cfg.TranscriptDir != "" {
		tr := transcripts.Transcript{
			SessionID:      res.SessionID,
			UserID:         res.UserID,
			Messages:       append(append([]protocol.ChatMessage{}, res.History...), protocol.ChatMessage{Role: protocol.RoleUser, Content: res.Prompt}, protocol.ChatMessage{Role: protocol.RoleAssistant, Content: res.Response}),
			TokensUsed:     h.cfg.CostPerChat,
			ResponseTimeMS: elapsed,
			ArchivedAt:     time.Now().UTC(),
		}
		go func() {
			if _, err := transcripts.Write(h.cfg.TranscriptDir, tr); err != nil && h.log != nil {
				h.log.Printf("transcript %s: %v", tr.SessionID, err)
			}
		}()
	}
}

func splitChunks(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	out := make([]string, 0, len(runes)/size+1)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// ScriptedResponder is the default generation backend: deterministic,
// instant, and good enough for every flow that is not the model itself.
type ScriptedResponder struct{}

func (ScriptedResponder) Respond(_ context.Context, prompt string, history []protocol.ChatMessage) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return fmt.Sprintf("You asked: %q. This exchange is message %d of the conversation.", prompt, len(history)/2+1), nil
}
