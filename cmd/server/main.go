package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"guildpulse.gg/internal/api"
	"guildpulse.gg/internal/config"
	"guildpulse.gg/internal/hub"
	"guildpulse.gg/internal/quest"
	"guildpulse.gg/internal/store"
	"guildpulse.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/guildpulse.yaml", "config path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		chunkDelay = flag.Duration("chunk_delay", 30*time.Millisecond, "chat stream chunk pacing")
		genOnBoot  = flag.Bool("generate_on_boot", true, "mint the current daily/weekly quest periods at startup")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("config not found (%s); using defaults", *configPath)
			cfg = config.Defaults()
		} else {
			logger.Fatalf("load config: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)
	st, err := store.Open(filepath.Join(*dataDir, "guildpulse.db"))
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Printf("store close: %v", err)
		}
	}()

	h, err := hub.New(hub.Config{
		CostPerChat:    cfg.AI.TokenCostPerChat,
		MaxPromptChars: cfg.AI.MaxPromptChars,
		StartingTokens: cfg.Tokens.StartingBalance,
		ChunkDelay:     *chunkDelay,
		TranscriptDir:  filepath.Join(*dataDir, "transcripts"),
	}, st, nil, nil, logger)
	if err != nil {
		logger.Fatalf("hub: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := h.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("hub stopped: %v", err)
		}
	}()

	apiSrv := api.NewServer(st, h, cfg, logger)
	if *genOnBoot {
		now := time.Now()
		for _, typ := range []quest.Type{quest.TypeDaily, quest.TypeWeekly} {
			n, err := apiSrv.Generate(typ, now)
			if err != nil {
				logger.Printf("generate %s: %v", strings.ToLower(string(typ)), err)
				continue
			}
			if n > 0 {
				logger.Printf("generated %d %s quests for %s", n, strings.ToLower(string(typ)), quest.PeriodKeyFor(typ, now))
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := h.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP guildpulse_hub_clients Current number of connected clients.\n")
		fmt.Fprintf(rw, "# TYPE guildpulse_hub_clients gauge\n")
		fmt.Fprintf(rw, "guildpulse_hub_clients %d\n", m.Clients)

		fmt.Fprintf(rw, "# HELP guildpulse_hub_users Current number of distinct users online.\n")
		fmt.Fprintf(rw, "# TYPE guildpulse_hub_users gauge\n")
		fmt.Fprintf(rw, "guildpulse_hub_users %d\n", m.Users)

		fmt.Fprintf(rw, "# HELP guildpulse_hub_rooms Current number of live rooms.\n")
		fmt.Fprintf(rw, "# TYPE guildpulse_hub_rooms gauge\n")
		fmt.Fprintf(rw, "guildpulse_hub_rooms %d\n", m.Rooms)

		fmt.Fprintf(rw, "# HELP guildpulse_hub_active_streams In-flight chat exchanges.\n")
		fmt.Fprintf(rw, "# TYPE guildpulse_hub_active_streams gauge\n")
		fmt.Fprintf(rw, "guildpulse_hub_active_streams %d\n", m.ActiveStreams)

		fmt.Fprintf(rw, "# HELP guildpulse_hub_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE guildpulse_hub_queue_depth gauge\n")
		fmt.Fprintf(rw, "guildpulse_hub_queue_depth{queue=%q} %d\n", "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "guildpulse_hub_queue_depth{queue=%q} %d\n", "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "guildpulse_hub_queue_depth{queue=%q} %d\n", "leave", m.QueueDepths.Leave)
		fmt.Fprintf(rw, "guildpulse_hub_queue_depth{queue=%q} %d\n", "finalize", m.QueueDepths.Finalize)
	})

	apiSrv.Routes(mux)
	mux.HandleFunc("/v1/ws", ws.NewServer(h, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
