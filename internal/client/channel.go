// Package client is the consumer side of the realtime layer: one shared
// websocket channel with reconnect, an optimistic token mirror, the chat
// session state machine and the quest board. Everything here treats the
// server as authoritative and reconciles on its pushes.
package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"guildpulse.gg/internal/ledger"
	"guildpulse.gg/internal/protocol"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
)

type ChannelConfig struct {
	URL    string
	UserID string
	Token  string

	// MaxAttempts bounds consecutive failed connects before the channel
	// gives up; a successful connect resets the count.
	MaxAttempts int
	// BaseBackoff grows linearly per attempt, capped at MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	HandshakeTimeout time.Duration
}

type Handler func(payload []byte)

// Channel is the single shared connection every feature multiplexes over.
// Consumers register event handlers and refcounted topic subscriptions; the
// channel re-subscribes live topics after every reconnect.
type Channel struct {
	cfg ChannelConfig

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}

	state   State
	lastErr string
	welcome protocol.WelcomePayload

	conn    *websocket.Conn
	writeMu sync.Mutex

	handlers   map[string]map[int]Handler
	handlerSeq int

	topics map[string]int

	ledger *ledger.Ledger
}

func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	return &Channel{
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateDisconnected,
		handlers: map[string]map[int]Handler{},
		topics:   map[string]int{},
		ledger:   ledger.New(0),
	}
}

func (c *Channel) Start() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()
		go c.run()
	})
}

func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		// Wake any blocking ReadMessage promptly.
		c.disconnect()
		c.mu.RLock()
		started := c.started
		c.mu.RUnlock()
		// Without Start there is no run goroutine to wait for.
		if started {
			<-c.done
		}
	})
}

func (c *Channel) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) Connected() bool { return c.State() == StateConnected }

func (c *Channel) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Welcome returns the most recent handshake result.
func (c *Channel) Welcome() protocol.WelcomePayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.welcome
}

// Ledger is the local token mirror, seeded by the welcome and reconciled by
// every authoritative server push.
func (c *Channel) Ledger() *ledger.Ledger { return c.ledger }

// On registers a handler for an inbound event and returns its remove func.
func (c *Channel) On(event string, fn Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.handlers[event]
	if m == nil {
		m = map[int]Handler{}
		c.handlers[event] = m
	}
	c.handlerSeq++
	id := c.handlerSeq
	m[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if hs := c.handlers[event]; hs != nil {
			delete(hs, id)
			if len(hs) == 0 {
				delete(c.handlers, event)
			}
		}
	}
}

// Subscribe takes a refcounted interest in a topic. The first reference
// emits room:subscribe; releasing the last one emits room:unsubscribe. The
// returned release func is idempotent.
func (c *Channel) Subscribe(topic string) func() {
	c.mu.Lock()
	c.topics[topic]++
	first := c.topics[topic] == 1
	c.mu.Unlock()

	if first {
		_ = c.Emit(protocol.EventRoomSubscribe, protocol.RoomPayload{Topic: topic})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.topics[topic]--
			last := c.topics[topic] <= 0
			if last {
				delete(c.topics, topic)
			}
			c.mu.Unlock()
			if last {
				_ = c.Emit(protocol.EventRoomUnsubscribe, protocol.RoomPayload{Topic: topic})
			}
		})
	}
}

// Emit writes one frame. Emitting while disconnected is an error, not a
// queue: callers that need delivery guarantees reconcile on reconnect.
func (c *Channel) Emit(event string, payload any) error {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) run() {
	defer close(c.done)

	attempts := 0
	for {
		select {
		case <-c.stop:
			c.disconnect()
			c.setState(StateDisconnected)
			return
		default:
		}

		if attempts == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		handshook, err := c.connectAndReadLoop()
		if handshook {
			// A completed handshake opens a fresh attempt window.
			attempts = 0
		}
		if err != nil {
			attempts++
			c.mu.Lock()
			c.lastErr = err.Error()
			c.mu.Unlock()
			if attempts >= c.cfg.MaxAttempts {
				c.setState(StateFailed)
				return
			}
			// Linear backoff: base, 2*base, ... capped.
			delay := time.Duration(attempts) * c.cfg.BaseBackoff
			if delay > c.cfg.MaxBackoff {
				delay = c.cfg.MaxBackoff
			}
			select {
			case <-c.stop:
				c.setState(StateDisconnected)
				return
			case <-time.After(delay):
			}
			continue
		}

		// Nil error means an ordered stop.
		c.setState(StateDisconnected)
		return
	}
}

// connectAndReadLoop dials, performs the hello/welcome handshake and pumps
// inbound frames to handlers until the connection drops. handshook reports
// whether a welcome arrived before the connection ended.
func (c *Channel) connectAndReadLoop() (handshook bool, _ error) {
	d := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := d.Dial(c.cfg.URL, http.Header{})
	if err != nil {
		return handshook, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.RLock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.RUnlock()

	hello := protocol.HelloPayload{
		UserID: c.cfg.UserID,
		Token:  c.cfg.Token,
		Topics: topics,
	}
	b, err := protocol.Encode(protocol.EventHello, hello)
	if err != nil {
		_ = conn.Close()
		return handshook, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		_ = conn.Close()
		return handshook, err
	}

	// First frame must be the welcome.
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return handshook, err
	}
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil || env.Event != protocol.EventWelcome {
		_ = conn.Close()
		return handshook, fmt.Errorf("handshake: expected welcome, got %q", env.Event)
	}
	var welcome protocol.WelcomePayload
	if err := json.Unmarshal(env.Payload, &welcome); err != nil {
		_ = conn.Close()
		return handshook, fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.welcome = welcome
	c.lastErr = ""
	c.mu.Unlock()
	c.ledger.Reconcile(welcome.Tokens)
	c.dispatch(protocol.EventWelcome, env.Payload)

	handshook = true
	for {
		select {
		case <-c.stop:
			_ = conn.Close()
			return handshook, nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			return handshook, err
		}
		env, err := protocol.DecodeEnvelope(msg)
		if err != nil || env.Event == "" {
			continue
		}
		c.reconcile(env)
		c.dispatch(env.Event, env.Payload)
	}
}

// reconcile applies authoritative balances from server frames to the local
// mirror before handlers observe them. Last write wins.
func (c *Channel) reconcile(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventChatTokens:
		var p protocol.ChatTokensPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.ledger.Reconcile(p.Tokens)
		}
	case protocol.EventChatTokenStatus:
		var p protocol.TokenStatusPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.ledger.Reconcile(p.CurrentTokens)
		}
	case protocol.EventChatComplete:
		var p protocol.ChatCompletePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.ledger.Reconcile(p.RemainingTokens)
		}
	case protocol.EventChatError:
		var p protocol.ChatErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil && p.CurrentTokens != nil {
			c.ledger.Reconcile(*p.CurrentTokens)
		}
	}
}

func (c *Channel) dispatch(event string, payload []byte) {
	c.mu.RLock()
	hs := make([]Handler, 0, len(c.handlers[event]))
	for _, fn := range c.handlers[event] {
		hs = append(hs, fn)
	}
	c.mu.RUnlock()
	for _, fn := range hs {
		fn(payload)
	}
}
