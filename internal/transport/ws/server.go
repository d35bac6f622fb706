// Package ws carries the realtime protocol over a single websocket per
// client. Frames are decoded here and attributed to a connection; everything
// stateful happens in the hub loop.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"guildpulse.gg/internal/hub"
	"guildpulse.gg/internal/protocol"
)

type Server struct {
	hub *hub.Hub
	log *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(h *hub.Hub, logger *log.Logger) *Server {
	return &Server{
		hub: h,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		connID, out := s.handshake(conn)
		if connID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			env, err := protocol.DecodeEnvelope(msg)
			if err != nil || env.Event == "" {
				continue
			}
			s.hub.Inbox() <- hub.Frame{ConnID: connID, Envelope: env}
		}

		// Cleanup.
		s.hub.Leave() <- connID
	}
}

// handshake expects a hello envelope as the first frame, registers with the
// hub and answers with a welcome carrying the seed token balance.
func (s *Server) handshake(conn *websocket.Conn) (connID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	env, err := protocol.DecodeEnvelope(msg)
	if err != nil || env.Event != protocol.EventHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected hello"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return "", nil
	}

	out = make(chan []byte, 64)
	respCh := make(chan hub.JoinResponse, 1)
	s.hub.Join() <- hub.JoinRequest{
		UserID: hello.UserID,
		Token:  hello.Token,
		Topics: hello.Topics,
		Out:    out,
		Resp:   respCh,
	}
	resp := <-respCh
	if resp.Err != nil {
		if s.log != nil {
			s.log.Printf("handshake rejected for %q: %v", hello.UserID, resp.Err)
		}
		_ = writeEvent(conn, protocol.EventChatError, protocol.ChatErrorPayload{
			Code:    protocol.ErrAuth,
			Message: "authentication failed",
		})
		return "", nil
	}

	if err := writeEvent(conn, protocol.EventWelcome, resp.Welcome); err != nil {
		s.hub.Leave() <- resp.ConnID
		return "", nil
	}
	return resp.ConnID, out
}

func writeEvent(conn *websocket.Conn, event string, payload any) error {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
