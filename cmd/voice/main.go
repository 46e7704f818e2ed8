// Command voice runs one live voice call on the host microphone and speaker.
// Build with -tags portaudio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/archive"
	"github.com/room4-2/voicelab/audio"
	"github.com/room4-2/voicelab/config"
	"github.com/room4-2/voicelab/gemini"
	"github.com/room4-2/voicelab/session"
	"github.com/room4-2/voicelab/transcript"
)

func main() {
	agentID := flag.String("agent", "", "agent ID (default: the demo agent)")
	listenOnly := flag.Bool("listen-only", false, "keep the call running without a microphone")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	catalog := agent.NewCatalog(agent.NewMemoryStore(agent.Defaults()...))
	a, err := pickAgent(ctx, catalog, *agentID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dialer, err := gemini.NewClientDialer(ctx, cfg.GeminiAPIKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// done closes once the call is over and its summary is printed
	done := make(chan struct{})
	var once sync.Once
	var connected atomic.Bool
	finish := func() { once.Do(func() { close(done) }) }
	printed := 0
	ctrl := session.NewController(session.Options{
		Dialer:          dialer,
		Input:           audio.PortAudioInput{},
		Output:          audio.PortAudioOutput{},
		Model:           cfg.LiveModel,
		Voice:           cfg.Voice,
		AllowListenOnly: *listenOnly || cfg.ListenOnly,
		Greet:           cfg.Greet,
		Logger:          logger,
		OnStatus: func(st session.Status) {
			fmt.Printf("[%s] %s\n", st.State, st.Message)
			switch st.State {
			case session.StateConnected:
				connected.Store(true)
			case session.StateError, session.StateDisconnected:
				if !connected.Load() {
					finish()
				}
			}
		},
		OnTranscript: func(s transcript.Snapshot) {
			// Print each finalized turn once
			for ; printed < len(s.Turns); printed++ {
				t := s.Turns[printed]
				fmt.Printf("you:   %s\n%s: %s\n", t.UserInput, a.Name, t.AgentResponse)
			}
		},
		OnEnded: func(rec archive.Record) {
			fmt.Printf("call ended after %s (%s)\n", rec.Duration().Round(time.Second), rec.Outcome)
			finish()
		},
	})

	fmt.Printf("calling %s, press Ctrl+C to hang up\n", a.Name)
	if err := ctrl.Start(ctx, a); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
		ctrl.Stop()
		<-done
	case <-done:
	}
}

func pickAgent(ctx context.Context, catalog *agent.Catalog, id string) (agent.Agent, error) {
	if id != "" {
		return catalog.Get(ctx, id)
	}
	agents, err := catalog.List(ctx)
	if err != nil {
		return agent.Agent{}, err
	}
	if len(agents) == 0 {
		return agent.Agent{}, agent.ErrNotFound
	}
	return agents[0], nil
}
