// Package hub is the authoritative side of the realtime layer: one goroutine
// owns every client registration, room membership and chat stream, fed by
// channels from the websocket transport and the REST API. All state must be
// accessed only from the hub loop goroutine.
package hub

import (
	"context"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/google/uuid"

	"guildpulse.gg/internal/protocol"
	"guildpulse.gg/internal/store"
)

// Authorizer turns a handshake token into an accepted/rejected fact. Session
// issuance itself lives elsewhere; the hub only consumes the result.
type Authorizer interface {
	Authorize(userID, token string) error
}

// AcceptNonEmpty is the development default.
type AcceptNonEmpty struct{}

func (AcceptNonEmpty) Authorize(userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("missing credentials")
	}
	return nil
}

// Responder produces the assistant's reply for one exchange. Model invocation
// details are out of scope; the default implementation is deterministic.
type Responder interface {
	Respond(ctx context.Context, prompt string, history []protocol.ChatMessage) (string, error)
}

type Config struct {
	CostPerChat    int
	MaxPromptChars int
	StartingTokens int

	// ChunkDelay paces stream chunks; zero streams as fast as possible.
	ChunkDelay time.Duration
	// ChunkSize is the chunk payload length in runes.
	ChunkSize int

	// TranscriptDir, when set, archives completed exchanges.
	TranscriptDir string
}

type JoinRequest struct {
	UserID string
	Token  string
	Topics []string
	Out    chan []byte
	Resp   chan JoinResponse
}

type JoinResponse struct {
	ConnID  string
	Welcome protocol.WelcomePayload
	Err     error
}

// Frame is one decoded inbound envelope attributed to a connection.
type Frame struct {
	ConnID   string
	Envelope protocol.Envelope
}

type clientState struct {
	ConnID string
	UserID string
	Out    chan []byte
}

type Hub struct {
	cfg   Config
	store *store.Store
	auth  Authorizer
	resp  Responder
	log   *log.Logger

	join     chan JoinRequest
	leave    chan string
	inbox    chan Frame
	finalize chan streamResult
	pushes   chan tokenPush
	metricsq chan chan Metrics
	stop     chan struct{}
	done     chan struct{}

	clients map[string]*clientState
	byUser  map[string]map[string]*clientState
	rooms   map[string]map[string]struct{}
	streams map[string]*stream

	// Finished (completed or cancelled) exchange ids: a finalize for an
	// exchange in here arrived late and must be discarded.
	finished *lru.Cache
}

type tokenPush struct {
	UserID string
	Tokens int
}

func New(cfg Config, st *store.Store, auth Authorizer, resp Responder, logger *log.Logger) (*Hub, error) {
	if cfg.CostPerChat < 0 {
		return nil, fmt.Errorf("negative chat cost")
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = protocol.MaxPromptChars
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 48
	}
	if auth == nil {
		auth = AcceptNonEmpty{}
	}
	if resp == nil {
		resp = ScriptedResponder{}
	}
	fin, err := lru.New(4096)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		cfg:      cfg,
		store:    st,
		auth:     auth,
		resp:     resp,
		log:      logger,
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		inbox:    make(chan Frame, 1024),
		finalize: make(chan streamResult, 64),
		pushes:   make(chan tokenPush, 64),
		metricsq: make(chan chan Metrics, 8),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		clients:  map[string]*clientState{},
		byUser:   map[string]map[string]*clientState{},
		rooms:    map[string]map[string]struct{}{},
		streams:  map[string]*stream{},
		finished: fin,
	}
	return h, nil
}

func (h *Hub) Join() chan<- JoinRequest { return h.join }
func (h *Hub) Leave() chan<- string     { return h.leave }
func (h *Hub) Inbox() chan<- Frame      { return h.inbox }

// PushTokens fans an authoritative balance out to a user's live connections
// (e.g. after a quest completion credits tokens). Safe from any goroutine.
func (h *Hub) PushTokens(userID string, tokens int) {
	select {
	case h.pushes <- tokenPush{UserID: userID, Tokens: tokens}:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.cancelAllStreams()
			return ctx.Err()
		case <-h.stop:
			h.cancelAllStreams()
			return nil
		case req := <-h.join:
			h.handleJoin(req)
		case connID := <-h.leave:
			h.handleLeave(connID)
		case f := <-h.inbox:
			h.handleFrame(f)
		case res := <-h.finalize:
			h.handleFinalize(res)
		case p := <-h.pushes:
			h.sendToUser(p.UserID, protocol.EventChatTokens, protocol.ChatTokensPayload{Tokens: p.Tokens})
		case ch := <-h.metricsq:
			ch <- h.metricsLocked()
		}
	}
}

func (h *Hub) Stop() { close(h.stop) }

func (h *Hub) handleJoin(req JoinRequest) {
	resp := JoinResponse{}
	defer func() {
		if req.Resp != nil {
			req.Resp <- resp
		}
	}()

	if err := h.auth.Authorize(req.UserID, req.Token); err != nil {
		resp.Err = fmt.Errorf("%s: %w", protocol.ErrAuth, err)
		return
	}
	if req.Out == nil {
		resp.Err = fmt.Errorf("%s: no outbound channel", protocol.ErrBadRequest)
		return
	}
	if err := h.store.EnsureUser(req.UserID, h.cfg.StartingTokens); err != nil {
		resp.Err = fmt.Errorf("%s: %w", protocol.ErrInternal, err)
		return
	}
	tokens, err := h.store.Tokens(req.UserID)
	if err != nil {
		resp.Err = fmt.Errorf("%s: %w", protocol.ErrInternal, err)
		return
	}

	connID := uuid.NewString()
	c := &clientState{ConnID: connID, UserID: req.UserID, Out: req.Out}
	h.clients[connID] = c
	if h.byUser[req.UserID] == nil {
		h.byUser[req.UserID] = map[string]*clientState{}
	}
	h.byUser[req.UserID][connID] = c

	for _, topic := range req.Topics {
		h.subscribe(c, topic)
	}

	resp.ConnID = connID
	resp.Welcome = protocol.WelcomePayload{
		UserID:         req.UserID,
		SessionKey:     uuid.NewString(),
		Tokens:         tokens,
		CostPerMessage: h.cfg.CostPerChat,
	}
}

func (h *Hub) handleLeave(connID string) {
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	if conns := h.byUser[c.UserID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	for topic := range h.rooms {
		h.unsubscribe(c, topic)
	}
	// Cancel streams owned by this connection; the generation stops
	// server-side even though nobody is listening.
	for sid, st := range h.streams {
		if st.ConnID == connID {
			st.Cancel()
			h.finished.Add(st.ExchangeID, struct{}{})
			delete(h.streams, sid)
		}
	}
}

// send marshals a frame onto one connection's outbound queue. A saturated
// queue drops the frame rather than stalling the loop; the client's own
// reconcile paths recover from gaps.
func (h *Hub) send(c *clientState, event string, payload any) {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		if h.log != nil {
			h.log.Printf("encode %s: %v", event, err)
		}
		return
	}
	select {
	case c.Out <- b:
	default:
		if h.log != nil {
			h.log.Printf("drop %s for conn %s: queue full", event, c.ConnID)
		}
	}
}

func (h *Hub) sendToUser(userID, event string, payload any) {
	for _, c := range h.byUser[userID] {
		h.send(c, event, payload)
	}
}

func (h *Hub) cancelAllStreams() {
	for sid, st := range h.streams {
		st.Cancel()
		h.finished.Add(st.ExchangeID, struct{}{})
		delete(h.streams, sid)
	}
}
