package simulate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/transcript"
	"google.golang.org/genai"
)

type fakeLLM struct {
	reply   string
	err     error
	calls   int
	system  string
	history []transcript.Turn
	input   string
}

func (f *fakeLLM) Complete(_ context.Context, system string, history []transcript.Turn, input string) (string, error) {
	f.calls++
	f.system, f.history, f.input = system, history, input
	return f.reply, f.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func bikeShop() agent.Agent {
	return agent.Agent{
		ID:            "a1",
		Name:          "Ada",
		Persona:       "You are Ada.",
		KnowledgeBase: "We sell bikes.",
		Greeting:      "Hi, Ada speaking.",
		CallFlow:      `{"hours":"9 to 5","price":"Bikes start at 200."}`,
	}
}

func TestReplyCallFlowShortcut(t *testing.T) {
	llm := &fakeLLM{reply: "model"}
	s := New(llm, quiet(), nil)

	got, err := s.Reply(context.Background(), bikeShop(), nil, "What are your HOURS?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "9 to 5" {
		t.Errorf("reply = %q", got)
	}
	if llm.calls != 0 {
		t.Error("model called despite keyword match")
	}
}

func TestReplyFallsBackToModel(t *testing.T) {
	llm := &fakeLLM{reply: "We have road bikes."}
	s := New(llm, quiet(), nil)
	history := []transcript.Turn{{UserInput: "hi", AgentResponse: "hello"}}

	got, err := s.Reply(context.Background(), bikeShop(), history, "  what do you stock?  ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "We have road bikes." {
		t.Errorf("reply = %q", got)
	}
	if llm.system != "You are Ada.\nWe sell bikes." {
		t.Errorf("system = %q", llm.system)
	}
	if llm.input != "what do you stock?" || len(llm.history) != 1 {
		t.Errorf("input = %q, history = %v", llm.input, llm.history)
	}
}

func TestReplyErrors(t *testing.T) {
	s := New(&fakeLLM{err: errors.New("quota")}, quiet(), nil)
	if _, err := s.Reply(context.Background(), bikeShop(), nil, "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank input err = %v", err)
	}
	if _, err := s.Reply(context.Background(), bikeShop(), nil, "tell me a joke"); err == nil {
		t.Error("expected model error")
	}

	bad := bikeShop()
	bad.CallFlow = "[]"
	if _, err := s.Reply(context.Background(), bad, nil, "hours"); !errors.Is(err, agent.ErrInvalidCallFlow) {
		t.Errorf("bad flow err = %v", err)
	}
}

func TestMatchFlowIsDeterministic(t *testing.T) {
	flow := map[string]string{"price": "p", "hours": "h"}
	for i := 0; i < 20; i++ {
		got, ok := matchFlow(flow, "price and hours please")
		if !ok || got != "h" {
			t.Fatalf("match = %q, %v", got, ok)
		}
	}
	if _, ok := matchFlow(map[string]string{"": "x"}, "anything"); ok {
		t.Error("empty keyword matched")
	}
}

func TestCallKeepsHistory(t *testing.T) {
	llm := &fakeLLM{reply: "Sure."}
	call := New(llm, quiet(), nil).NewCall(bikeShop())

	if call.Open() != "Hi, Ada speaking." {
		t.Errorf("Open = %q", call.Open())
	}
	if _, err := call.Say(context.Background(), "hours?"); err != nil {
		t.Fatal(err)
	}
	if _, err := call.Say(context.Background(), "can I book a repair?"); err != nil {
		t.Fatal(err)
	}

	h := call.History()
	if len(h) != 2 || h[0].AgentResponse != "9 to 5" || h[1].AgentResponse != "Sure." {
		t.Errorf("history = %+v", h)
	}
	if len(llm.history) != 1 {
		t.Errorf("model saw %d prior turns, want 1", len(llm.history))
	}
}

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, nil
}

func TestGeminiLLMComplete(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(" Hello there. ", genai.RoleModel),
		}},
	}}
	llm := &GeminiLLM{models: gen, model: "m"}

	history := []transcript.Turn{{UserInput: "hi", AgentResponse: "hello"}, {UserInput: "", AgentResponse: "still there?"}}
	got, err := llm.Complete(context.Background(), "sys", history, "yes")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello there." {
		t.Errorf("reply = %q", got)
	}
	if gen.model != "m" {
		t.Errorf("model = %q", gen.model)
	}

	wantRoles := []string{string(genai.RoleUser), string(genai.RoleModel), string(genai.RoleModel), string(genai.RoleUser)}
	if len(gen.contents) != len(wantRoles) {
		t.Fatalf("contents = %d", len(gen.contents))
	}
	for i, role := range wantRoles {
		if gen.contents[i].Role != role {
			t.Errorf("content %d role = %s, want %s", i, gen.contents[i].Role, role)
		}
	}
	if gen.config.SystemInstruction.Parts[0].Text != "sys" {
		t.Error("system instruction not set")
	}
}

func TestGeminiLLMEmptyReply(t *testing.T) {
	llm := &GeminiLLM{models: &fakeGenerator{resp: &genai.GenerateContentResponse{}}, model: "m"}
	if _, err := llm.Complete(context.Background(), "sys", nil, "hi"); err == nil {
		t.Error("expected error for empty response")
	}
}
