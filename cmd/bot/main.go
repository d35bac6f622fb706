// Command bot is a scripted smoke client: it connects over the shared
// channel, checks its token balance and runs one streamed chat exchange.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"guildpulse.gg/internal/client"
	"guildpulse.gg/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		userID = flag.String("user", "bot_1", "user id")
		token  = flag.String("token", "dev", "auth token")
		prompt = flag.String("prompt", "What quests should I run today?", "chat prompt")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ch := client.NewChannel(client.ChannelConfig{URL: *url, UserID: *userID, Token: *token})
	ch.Start()
	defer ch.Close()

	deadline := time.Now().Add(10 * time.Second)
	for !ch.Connected() {
		if ch.State() == client.StateFailed || time.Now().After(deadline) {
			logger.Fatalf("connect failed: %s", ch.LastError())
		}
		time.Sleep(50 * time.Millisecond)
	}
	w := ch.Welcome()
	logger.Printf("connected user=%s tokens=%d cost=%d", w.UserID, w.Tokens, w.CostPerMessage)

	if err := ch.Emit(protocol.EventChatCheckTokens, nil); err != nil {
		logger.Fatalf("check tokens: %v", err)
	}

	s := client.NewChatSession(ch, w.CostPerMessage)
	defer s.Detach()
	done := make(chan client.ChatState, 1)
	s.OnChunk = func(text string) {
		logger.Printf("partial: %q", text)
	}
	s.OnStateChange = func(st client.ChatState) {
		switch st {
		case client.ChatComplete, client.ChatCancelled, client.ChatError:
			select {
			case done <- st:
			default:
			}
		}
	}

	if err := s.Send(*prompt, nil); err != nil {
		logger.Fatalf("send: %v", err)
	}

	select {
	case st := <-done:
		if st != client.ChatComplete {
			err, code := s.Err()
			logger.Fatalf("exchange ended %s (code=%s err=%v)", st, code, err)
		}
		logger.Printf("response: %s", s.Response())
		logger.Printf("tokens remaining: %d", ch.Ledger().Tokens())
	case <-time.After(30 * time.Second):
		logger.Fatalf("timed out waiting for completion")
	}
}
