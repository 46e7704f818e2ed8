// Package simulate runs text-only calls against an agent: call-flow keyword
// answers first, a language model otherwise.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/metrics"
	"github.com/room4-2/voicelab/transcript"
)

// ErrEmptyInput is returned for a blank caller line
var ErrEmptyInput = errors.New("input is empty")

// LLM produces the agent's next line from the conversation so far
type LLM interface {
	Complete(ctx context.Context, systemInstruction string, history []transcript.Turn, input string) (string, error)
}

// Simulator answers caller input on behalf of an agent.
type Simulator struct {
	llm     LLM
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(llm LLM, logger *slog.Logger, m *metrics.Metrics) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{llm: llm, logger: logger, metrics: m}
}

// Reply returns the agent's answer to input. A call-flow keyword contained in
// the input, case-insensitively, short-circuits the model.
func (s *Simulator) Reply(ctx context.Context, a agent.Agent, history []transcript.Turn, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	flow, err := a.Flow()
	if err != nil {
		return "", err
	}
	if reply, ok := matchFlow(flow, input); ok {
		s.metrics.RecordSimulatedReply("call_flow")
		return reply, nil
	}

	if s.llm == nil {
		return "", errors.New("no language model configured")
	}
	reply, err := s.llm.Complete(ctx, a.SystemInstruction(), history, input)
	if err != nil {
		s.logger.Error("simulated reply failed", "agent_id", a.ID, "error", err)
		return "", fmt.Errorf("agent reply: %w", err)
	}
	s.metrics.RecordSimulatedReply("llm")
	return reply, nil
}

// matchFlow checks keywords in sorted order so overlapping keywords resolve
// the same way every time.
func matchFlow(flow map[string]string, input string) (string, bool) {
	if len(flow) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(flow))
	for k := range flow {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lower := strings.ToLower(input)
	for _, k := range keys {
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			return flow[k], true
		}
	}
	return "", false
}

// Call is one simulated conversation with history.
type Call struct {
	sim   *Simulator
	agent agent.Agent

	mu      sync.Mutex
	history []transcript.Turn
}

// NewCall starts a conversation with a.
func (s *Simulator) NewCall(a agent.Agent) *Call {
	return &Call{sim: s, agent: a}
}

// Open returns the agent's greeting, if any
func (c *Call) Open() string {
	return c.agent.Greeting
}

// Say sends one caller line and records the exchange.
func (c *Call) Say(ctx context.Context, input string) (string, error) {
	c.mu.Lock()
	history := append([]transcript.Turn(nil), c.history...)
	c.mu.Unlock()

	reply, err := c.sim.Reply(ctx, c.agent, history, input)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.history = append(c.history, transcript.Turn{UserInput: strings.TrimSpace(input), AgentResponse: reply})
	c.mu.Unlock()
	return reply, nil
}

// History returns the exchanges so far
func (c *Call) History() []transcript.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transcript.Turn(nil), c.history...)
}
