// Package transcript folds partial transcription fragments into turns.
package transcript

import "sync"

// Turn is one finalized user/agent exchange
type Turn struct {
	UserInput     string `json:"userInput"`
	AgentResponse string `json:"agentResponse"`
}

// Snapshot is the transcript at one instant
type Snapshot struct {
	Turns   []Turn `json:"turns"`
	Partial Turn   `json:"partial"`
}

// Aggregator accumulates input and output deltas for the turn in progress and
// appends it to the finalized list on turn completion.
type Aggregator struct {
	mu      sync.Mutex
	turns   []Turn
	partial Turn
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) AppendInput(text string) {
	a.mu.Lock()
	a.partial.UserInput += text
	a.mu.Unlock()
}

func (a *Aggregator) AppendOutput(text string) {
	a.mu.Lock()
	a.partial.AgentResponse += text
	a.mu.Unlock()
}

// CompleteTurn finalizes the partial turn, even when one side is empty, and
// starts a new one.
func (a *Aggregator) CompleteTurn() Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	done := a.partial
	a.turns = append(a.turns, done)
	a.partial = Turn{}
	return done
}

// Turns returns a copy of the finalized turns
func (a *Aggregator) Turns() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Turn(nil), a.turns...)
}

func (a *Aggregator) Partial() Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Turns:   append([]Turn(nil), a.turns...),
		Partial: a.partial,
	}
}
