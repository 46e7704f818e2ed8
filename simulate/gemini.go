package simulate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/room4-2/voicelab/transcript"
	"google.golang.org/genai"
)

// DefaultModel is used for simulated calls
const DefaultModel = "gemini-2.5-flash"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiLLM completes simulated calls with one-shot text generation.
type GeminiLLM struct {
	models generator
	model  string
}

func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &GeminiLLM{models: client.Models, model: model}, nil
}

func (g *GeminiLLM) Complete(ctx context.Context, systemInstruction string, history []transcript.Turn, input string) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, buildContents(history, input), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("model returned no text")
	}
	return text, nil
}

// buildContents turns the history into alternating user/model turns, ending
// with the new input. Empty sides are skipped.
func buildContents(history []transcript.Turn, input string) []*genai.Content {
	contents := make([]*genai.Content, 0, 2*len(history)+1)
	for _, turn := range history {
		if turn.UserInput != "" {
			contents = append(contents, genai.NewContentFromText(turn.UserInput, genai.RoleUser))
		}
		if turn.AgentResponse != "" {
			contents = append(contents, genai.NewContentFromText(turn.AgentResponse, genai.RoleModel))
		}
	}
	return append(contents, genai.NewContentFromText(input, genai.RoleUser))
}
