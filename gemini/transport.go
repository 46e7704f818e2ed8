// Package gemini owns one bidirectional Gemini Live session: connect, send
// microphone audio, translate inbound messages into events, close.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/room4-2/voicelab/pcm"
	"google.golang.org/genai"
)

// DefaultModel is the native-audio Live model
const DefaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"

var (
	// ErrNotOpen is returned by Send before Connect succeeds or after Close
	ErrNotOpen = errors.New("gemini: session not open")
	// ErrClosed is returned by Connect when Close won the race
	ErrClosed = errors.New("gemini: transport closed")
)

// ConnectError wraps a failure to open the session
type ConnectError struct {
	Model string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to Live API (%s): %v", e.Model, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError wraps a mid-session failure reported by the remote end
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live session failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// State of the transport
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config describes the session to open
type Config struct {
	Model               string
	SystemInstruction   string
	Voice               string // prebuilt voice name, empty for the model default
	InputTranscription  bool
	OutputTranscription bool
}

func (c Config) liveConfig() *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if c.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: c.SystemInstruction}},
		}
	}
	if c.InputTranscription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if c.OutputTranscription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if c.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.Voice},
			},
		}
	}
	return cfg
}

// Transport is single-use: Idle -> Connecting -> Open -> Closed, with
// Open -> Error -> Closed when the remote end fails.
type Transport struct {
	dialer Dialer
	logger *slog.Logger

	// OnOpen runs once, after the session opens and before any event.
	OnOpen func()
	// OnEvent receives events sequentially from one goroutine, in the order
	// the remote end produced them. SessionError and SessionClosed are last.
	OnEvent func(Event)

	mu     sync.RWMutex
	state  State
	conn   Conn
	sendMu sync.Mutex
}

func NewTransport(dialer Dialer, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{dialer: dialer, logger: logger}
}

// State returns the current state
func (t *Transport) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Connect opens the session and starts receiving. If Close is called while
// the dial is in flight, the late session is closed and ErrClosed returned.
func (t *Transport) Connect(ctx context.Context, cfg Config) error {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state != StateIdle {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("transport is %s, not idle", state)
	}
	t.state = StateConnecting
	t.mu.Unlock()

	conn, err := t.dialer.Dial(ctx, cfg.Model, cfg.liveConfig())

	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		t.state = StateClosed
		t.mu.Unlock()
		return &ConnectError{Model: cfg.Model, Err: err}
	}
	t.state = StateOpen
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info("connected to Gemini Live", "model", cfg.Model)
	if t.OnOpen != nil {
		t.OnOpen()
	}
	go t.receive(conn)
	return nil
}

func (t *Transport) receive(conn Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			t.finish(err)
			return
		}
		for _, ev := range translate(msg) {
			if t.State() != StateOpen {
				return
			}
			t.emit(ev)
		}
	}
}

// finish turns a receive failure into the terminal event, unless we closed
// the session ourselves.
func (t *Transport) finish(err error) {
	t.mu.Lock()
	if t.state != StateOpen {
		t.mu.Unlock()
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.state = StateClosed
		t.mu.Unlock()
		reason := closeErr.Text
		if reason == "" {
			reason = fmt.Sprintf("closed with code %d", closeErr.Code)
		}
		t.logger.Info("Gemini Live session closed", "reason", reason)
		t.emit(SessionClosed{Reason: reason})
		return
	}

	t.state = StateError
	t.mu.Unlock()
	t.logger.Error("Gemini receive error", "error", err)
	t.emit(SessionError{Err: &TransportError{Err: err}})

	t.mu.Lock()
	t.state = StateClosed
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (t *Transport) emit(ev Event) {
	if t.OnEvent != nil {
		t.OnEvent(ev)
	}
}

// Send forwards one captured chunk. It returns ErrNotOpen when the session
// is not open; there is no delivery acknowledgement.
func (t *Transport) Send(chunk pcm.EncodedChunk) error {
	t.mu.RLock()
	conn := t.conn
	open := t.state == StateOpen
	t.mu.RUnlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	data, err := pcm.Base64Decode(chunk.Data)
	if err != nil {
		return fmt.Errorf("invalid chunk: %w", err)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	err = conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: chunk.MIMEType,
			Data:     data,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendText sends one complete user turn as text
func (t *Transport) SendText(text string) error {
	t.mu.RLock()
	conn := t.conn
	open := t.state == StateOpen
	t.mu.RUnlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	turnComplete := true
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	err := conn.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: text}},
			},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// Close releases the remote session. Safe to call in any state, repeatedly.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosed
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("closing live session: %w", err)
	}
	return nil
}
