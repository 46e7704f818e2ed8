package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Conn is the part of a genai live session the transport uses
type Conn interface {
	SendRealtimeInput(genai.LiveRealtimeInput) error
	SendClientContent(genai.LiveSendClientContentParameters) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Dialer opens live sessions
type Dialer interface {
	Dial(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (Conn, error)
}

// ClientDialer opens sessions through the Gemini API
type ClientDialer struct {
	client *genai.Client
}

// NewClientDialer creates the GenAI client used for live sessions.
func NewClientDialer(ctx context.Context, apiKey string) (*ClientDialer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &ClientDialer{client: client}, nil
}

func (d *ClientDialer) Dial(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (Conn, error) {
	session, err := d.client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return session, nil
}
