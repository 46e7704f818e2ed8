// Command simulate holds a text-only call with an agent on the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/simulate"
)

func main() {
	agentID := flag.String("agent", "", "agent ID (default: the first agent)")
	redisAddr := flag.String("redis", "", "load agents from this Redis address instead of the demo set")
	agentsFile := flag.String("agents", "", "load agents from a YAML file instead of the demo set")
	model := flag.String("model", "", "text model (default "+simulate.DefaultModel+")")
	flag.Parse()

	_ = godotenv.Load()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GEMINI_API_KEY not set")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var store agent.Store = agent.NewMemoryStore(agent.Defaults()...)
	switch {
	case *agentsFile != "":
		agents, err := agent.LoadFile(*agentsFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		store = agent.NewMemoryStore(agents...)
	case *redisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		store = agent.NewRedisStore(rdb, agent.DefaultRedisKey)
	}
	a, err := pickAgent(ctx, agent.NewCatalog(store), *agentID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agent:", err)
		os.Exit(1)
	}

	llm, err := simulate.NewGeminiLLM(ctx, apiKey, *model)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	call := simulate.New(llm, logger, nil).NewCall(a)

	if greeting := call.Open(); greeting != "" {
		fmt.Printf("%s: %s\n", a.Name, greeting)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you: ")
		if !scanner.Scan() {
			break
		}
		reply, err := call.Say(ctx, scanner.Text())
		switch {
		case errors.Is(err, simulate.ErrEmptyInput):
			continue
		case err != nil:
			fmt.Fprintln(os.Stderr, "error:", err)
			if ctx.Err() != nil {
				return
			}
			continue
		}
		fmt.Printf("%s: %s\n", a.Name, reply)
	}
	fmt.Printf("\n%d turns\n", len(call.History()))
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
