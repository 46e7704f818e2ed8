package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/archive"
	"github.com/room4-2/voicelab/audio"
	"github.com/room4-2/voicelab/gemini"
	"github.com/room4-2/voicelab/messages"
	"github.com/room4-2/voicelab/metrics"
	"github.com/room4-2/voicelab/pcm"
	"github.com/room4-2/voicelab/transcript"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 512 * 1024
	archiveTimeout  = 30 * time.Second
)

// ClientConfig is what every browser session shares
type ClientConfig struct {
	Dialer     gemini.Dialer
	Catalog    *agent.Catalog
	Archive    archive.Archive
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Model      string
	Voice      string
	ListenOnly bool
	Greet      bool
	KeepAlive  time.Duration
}

// Client bridges one browser WebSocket to a Controller. The browser is both
// microphone (binary float32 frames) and speaker (audio messages scheduled on
// its own clock).
type Client struct {
	ID         string
	ClientConn *websocket.Conn
	CreatedAt  time.Time

	input   *audio.StreamInput
	ctrl    *Controller
	catalog *agent.Catalog
	logger  *slog.Logger

	// OnStatus lets the manager mirror session state
	OnStatus func(id string, st Status)

	// Use channels for non-blocking writes
	writeChan chan any
	keepAlive time.Duration

	mu           sync.RWMutex
	lastActivity time.Time
	closed       bool
	CloseChan    chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewClient wires a Controller whose devices are the browser on conn.
func NewClient(id string, conn *websocket.Conn, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("client_id", id)
	arch := cfg.Archive
	if arch == nil {
		arch = archive.Noop{}
	}

	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:           id,
		ClientConn:   conn,
		CreatedAt:    time.Now(),
		input:        audio.NewStreamInput(),
		catalog:      cfg.Catalog,
		logger:       logger,
		writeChan:    make(chan any, writeBufferSize),
		keepAlive:    cfg.KeepAlive,
		lastActivity: time.Now(),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	c.ctrl = NewController(Options{
		Dialer: cfg.Dialer,
		Input:  c.input,
		Output: audio.TimerDevice{Hooks: audio.TimerHooks{
			OnSchedule: c.sendAudio,
			OnStop: func(srcID string) {
				c.queueMessage(messages.NewAudioStopMessage(c.ID, srcID))
			},
		}},
		Model:           cfg.Model,
		Voice:           cfg.Voice,
		AllowListenOnly: cfg.ListenOnly,
		Greet:           cfg.Greet,
		Logger:          logger,
		Metrics:         cfg.Metrics,
		OnStatus: func(st Status) {
			c.queueMessage(messages.NewStatusMessage(c.ID, st.State.String(), st.Message))
			if c.OnStatus != nil {
				c.OnStatus(c.ID, st)
			}
		},
		OnTranscript: func(s transcript.Snapshot) {
			c.queueMessage(messages.NewTranscriptMessage(c.ID, s))
		},
		OnEnded: func(rec archive.Record) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
				defer cancel()
				if err := arch.Put(ctx, rec); err != nil {
					logger.Error("failed to archive call log", "session_id", rec.SessionID, "error", err)
				}
			}()
		},
	})
	return c
}

// Start begins the bidirectional message handling
func (c *Client) Start() {
	go c.writePump()
	c.queueMessage(messages.NewStatusMessage(c.ID, StateIdle.String(), "connected to server"))
	go c.handleClientMessages()
}

// Controller returns the session controller
func (c *Client) Controller() *Controller {
	return c.ctrl
}

// LastActivity is the time of the last message in either direction
func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) sendAudio(srcID string, buf *audio.Buffer, at time.Duration) {
	data := pcm.Base64Encode(buf.PCM16())
	c.queueMessage(messages.NewAudioMessage(c.ID, srcID, data, pcm.OutputMIMEType, at))
}

// writePump handles all outgoing messages in a single goroutine
func (c *Client) writePump() {
	var ping <-chan time.Time
	if c.keepAlive > 0 {
		ticker := time.NewTicker(c.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		// Send close message before exiting
		c.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-c.CloseChan:
			return
		case <-ping:
			c.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-c.writeChan:
			if err := c.write(msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) write(msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode message", "error", err)
		return nil
	}
	c.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking)
func (c *Client) queueMessage(msg any) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	select {
	case c.writeChan <- msg:
		c.touch()
	default:
		c.logger.Warn("write queue full, dropping message")
	}
}

// Close stops the live session and the connection. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.ctrl.Stop()

	// Signal close (for other goroutines waiting on this)
	close(c.CloseChan)

	if c.ClientConn != nil {
		c.ClientConn.Close()
	}
	return nil
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) handleClientMessages() {
	defer c.Close()

	if c.keepAlive > 0 {
		deadline := 2 * c.keepAlive
		c.ClientConn.SetReadDeadline(time.Now().Add(deadline))
		c.ClientConn.SetPongHandler(func(string) error {
			return c.ClientConn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	for {
		messageType, message, err := c.ClientConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		c.touch()
		if c.keepAlive > 0 {
			c.ClientConn.SetReadDeadline(time.Now().Add(2 * c.keepAlive))
		}

		// Binary messages are microphone frames
		if messageType == websocket.BinaryMessage {
			samples, err := messages.DecodeAudioFrame(message)
			if err != nil {
				c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, err.Error()))
				continue
			}
			c.input.Push(samples)
			continue
		}

		var clientMsg messages.ClientMessage
		if err := sonic.Unmarshal(message, &clientMsg); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}
		c.processClientMessage(&clientMsg)
	}
}

func (c *Client) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeStart:
		var payload messages.StartPayload
		if err := sonic.Unmarshal(msg.Payload, &payload); err != nil || payload.AgentID == "" {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Invalid start payload"))
			return
		}
		// Start blocks until the live session opens; keep reading meanwhile.
		go c.startSession(payload.AgentID)

	case messages.TypeStop:
		c.ctrl.Stop()
		// A permission answer meant for the stopped session must not grant the next one.
		c.input.Reset()

	case messages.TypeControl:
		var payload messages.ControlPayload
		if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		c.handleControlMessage(&payload)

	default:
		c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (c *Client) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case messages.ActionPing:
		c.queueMessage(messages.NewStatusMessage(c.ID, "pong", ""))
	case messages.ActionMicGranted:
		c.input.Grant()
	case messages.ActionMicDenied:
		c.input.Deny()
	default:
		c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}

func (c *Client) startSession(agentID string) {
	a, err := c.catalog.Get(c.ctx, agentID)
	if err != nil {
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, agent.ErrNotFound) {
			code = messages.ErrCodeAgentNotFound
		}
		c.queueMessage(messages.NewErrorMessage(c.ID, code, err.Error()))
		return
	}

	err = c.ctrl.Start(c.ctx, a)
	switch {
	case err == nil, errors.Is(err, ErrStopped):
	case errors.Is(err, ErrAlreadyActive):
		c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeSessionActive, err.Error()))
	default:
		c.logger.Error("failed to start session", "agent_id", agentID, "error", err)
		c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeGeminiError, err.Error()))
	}
}
