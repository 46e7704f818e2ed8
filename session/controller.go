package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/archive"
	"github.com/room4-2/voicelab/audio"
	"github.com/room4-2/voicelab/gemini"
	"github.com/room4-2/voicelab/metrics"
	"github.com/room4-2/voicelab/pcm"
	"github.com/room4-2/voicelab/transcript"
)

var (
	// ErrAlreadyActive is returned by Start while a session is connecting or
	// connected
	ErrAlreadyActive = errors.New("session already active")
	// ErrStopped is returned by Start when Stop was called before the session
	// finished opening
	ErrStopped = errors.New("session stopped while starting")
)

// State of a live session
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Status is the state plus a human-readable message (the error text in
// StateError).
type Status struct {
	State   State
	Message string
}

// Options configures a Controller. Dialer, Input and Output are required.
type Options struct {
	Dialer gemini.Dialer
	Input  audio.InputDevice
	Output audio.OutputDevice

	Model string
	Voice string

	// AllowListenOnly keeps the session running without a microphone when
	// permission is denied. Otherwise denial ends the session in StateError.
	AllowListenOnly bool
	// Greet asks the model to open the call with the agent's greeting.
	Greet bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	OnStatus     func(Status)
	OnTranscript func(transcript.Snapshot)
	OnEnded      func(archive.Record)
}

// live holds the resources of one session; a fresh set per Start.
type live struct {
	gen         uint64
	id          string
	agent       agent.Agent
	cancel      context.CancelFunc
	capture     *audio.Capture
	transport   *gemini.Transport
	output      audio.OutputContext
	scheduler   *audio.Scheduler
	transcript  *transcript.Aggregator
	startedAt   time.Time
	connectedAt time.Time
}

// Controller runs at most one live session at a time: it wires capture,
// transport, playback and transcript together and tears them down on stop or
// failure.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	gen    uint64
	status Status
	cur    *live
	last   *transcript.Aggregator
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		logger: logger,
		status: Status{State: StateIdle},
		last:   transcript.NewAggregator(),
	}
}

// Status returns the current status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID of the current or most recent session
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.id
}

// Transcript of the current or most recent session
func (c *Controller) Transcript() transcript.Snapshot {
	c.mu.Lock()
	agg := c.last
	c.mu.Unlock()
	return agg.Snapshot()
}

// Start opens a session for a. It returns once the transport is open; the
// microphone is acquired in the background. Start fails with
// ErrAlreadyActive while another session is connecting or connected, and
// with ErrStopped if Stop wins the race against the connect.
func (c *Controller) Start(ctx context.Context, a agent.Agent) error {
	c.mu.Lock()
	if c.status.State == StateConnecting || c.status.State == StateConnected {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.gen++
	sessCtx, cancel := context.WithCancel(context.Background())
	l := &live{
		gen:        c.gen,
		id:         uuid.NewString(),
		agent:      a,
		cancel:     cancel,
		transcript: transcript.NewAggregator(),
		startedAt:  time.Now(),
	}
	c.cur = l
	c.last = l.transcript
	c.status = Status{State: StateConnecting}
	c.mu.Unlock()

	logger := c.logger.With("session_id", l.id, "agent_id", a.ID)
	logger.Info("starting session", "agent", a.Name)
	c.emitStatus(Status{State: StateConnecting})

	out, err := c.opts.Output.Open(ctx, pcm.OutputSampleRate)
	if err != nil {
		c.shutdown(l.gen, Status{State: StateError, Message: fmt.Sprintf("output device: %v", err)}, "connect_error")
		return fmt.Errorf("opening output device: %w", err)
	}

	tr := gemini.NewTransport(c.opts.Dialer, logger)
	capture := audio.NewCapture(c.opts.Input, c.sink(tr), logger)
	scheduler := audio.NewScheduler(out)
	scheduler.Reset()

	tr.OnOpen = func() { c.handleOpen(sessCtx, l.gen, capture) }
	tr.OnEvent = func(ev gemini.Event) { c.dispatch(l.gen, ev) }

	c.mu.Lock()
	if c.gen != l.gen {
		c.mu.Unlock()
		_ = out.Close()
		return ErrStopped
	}
	l.output = out
	l.scheduler = scheduler
	l.capture = capture
	l.transport = tr
	c.mu.Unlock()

	err = tr.Connect(ctx, gemini.Config{
		Model:               c.opts.Model,
		SystemInstruction:   a.SystemInstruction(),
		Voice:               c.opts.Voice,
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if errors.Is(err, gemini.ErrClosed) {
		logger.Info("session stopped before connect resolved")
		return ErrStopped
	}
	if err != nil {
		c.shutdown(l.gen, Status{State: StateError, Message: err.Error()}, "connect_error")
		return err
	}

	if c.opts.Greet && a.Greeting != "" {
		if err := tr.SendText("Open the call by saying: " + a.Greeting); err != nil {
			logger.Warn("failed to request greeting", "error", err)
		}
	}
	return nil
}

// Stop ends the current session and leaves the controller Disconnected,
// also after a failure. Safe to call at any time, repeatedly; before the
// first Start it does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.shutdown(gen, Status{State: StateDisconnected}, "stopped")

	// A failed session is already torn down; Stop only acknowledges it.
	c.mu.Lock()
	if c.status.State != StateError {
		c.mu.Unlock()
		return
	}
	st := Status{State: StateDisconnected}
	c.status = st
	c.mu.Unlock()
	c.emitStatus(st)
}

func (c *Controller) sink(tr *gemini.Transport) func(pcm.EncodedChunk) error {
	frameSeconds := float64(audio.FrameSize) / float64(pcm.InputSampleRate)
	return func(chunk pcm.EncodedChunk) error {
		err := tr.Send(chunk)
		c.opts.Metrics.RecordFrame(frameSeconds, err == nil)
		return err
	}
}

func (c *Controller) handleOpen(ctx context.Context, gen uint64, capture *audio.Capture) {
	c.mu.Lock()
	if c.gen != gen || c.cur == nil {
		c.mu.Unlock()
		return
	}
	c.cur.connectedAt = time.Now()
	c.status = Status{State: StateConnected}
	c.mu.Unlock()

	c.opts.Metrics.RecordSessionStart()
	c.emitStatus(Status{State: StateConnected})

	// Open blocks on the permission prompt; the transport must keep receiving.
	go c.startCapture(ctx, gen, capture)
}

func (c *Controller) startCapture(ctx context.Context, gen uint64, capture *audio.Capture) {
	err := capture.Start(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, audio.ErrCaptureStopped) || ctx.Err() != nil {
		return
	}

	if errors.Is(err, audio.ErrPermissionDenied) && c.opts.AllowListenOnly {
		c.logger.Warn("microphone unavailable, continuing without capture", "error", err)
		st := Status{State: StateConnected, Message: "microphone unavailable, listening only"}
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.status = st
		c.mu.Unlock()
		c.emitStatus(st)
		return
	}

	c.logger.Error("microphone failed", "error", err)
	c.shutdown(gen, Status{State: StateError, Message: err.Error()}, "error")
}

// dispatch routes one inbound event. Audio and transcript updates from the
// same server message are handled independently of each other.
func (c *Controller) dispatch(gen uint64, ev gemini.Event) {
	c.mu.Lock()
	if c.gen != gen || c.cur == nil {
		c.mu.Unlock()
		return
	}
	l := c.cur
	scheduler := l.scheduler
	c.mu.Unlock()

	switch ev := ev.(type) {
	case gemini.InputTranscription:
		l.transcript.AppendInput(ev.Text)
		c.emitTranscript(l.transcript.Snapshot())

	case gemini.OutputTranscription:
		l.transcript.AppendOutput(ev.Text)
		c.emitTranscript(l.transcript.Snapshot())

	case gemini.TurnComplete:
		l.transcript.CompleteTurn()
		c.opts.Metrics.RecordTurn()
		c.emitTranscript(l.transcript.Snapshot())

	case gemini.Interrupted:
		scheduler.StopAll()

	case gemini.AudioChunk:
		buf, err := audio.DecodeBuffer(ev.Data, ev.SampleRate, ev.Channels)
		if err != nil {
			c.opts.Metrics.RecordDecodeError()
			c.logger.Warn("dropping malformed audio chunk", "session_id", l.id, "error", err)
			return
		}
		if _, err := scheduler.Enqueue(buf); err != nil {
			c.logger.Debug("failed to schedule audio", "session_id", l.id, "error", err)
			return
		}
		c.opts.Metrics.RecordPlayback(buf.Duration().Seconds())

	case gemini.SessionError:
		c.shutdown(gen, Status{State: StateError, Message: ev.Message()}, "error")

	case gemini.SessionClosed:
		c.shutdown(gen, Status{State: StateDisconnected, Message: ev.Reason}, "remote_closed")
	}
}

// shutdown releases the resources of session gen, if it is still the
// current one, and reports the final status. Later callbacks for gen are
// ignored.
func (c *Controller) shutdown(gen uint64, st Status, outcome string) {
	c.mu.Lock()
	l := c.cur
	if c.gen != gen || l == nil || l.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.status.State != StateConnecting && c.status.State != StateConnected {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.status = st
	capture, tr, scheduler, out := l.capture, l.transport, l.scheduler, l.output
	connectedAt := l.connectedAt
	c.mu.Unlock()

	// Stop producing sends, then stop accepting them, then stop playback.
	l.cancel()
	if capture != nil {
		if err := capture.Stop(); err != nil {
			c.logger.Warn("failed to stop capture", "session_id", l.id, "error", err)
		}
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			c.logger.Warn("failed to close transport", "session_id", l.id, "error", err)
		}
	}
	if scheduler != nil {
		scheduler.StopAll()
	}
	if out != nil {
		if err := out.Close(); err != nil {
			c.logger.Warn("failed to close output", "session_id", l.id, "error", err)
		}
	}

	ended := time.Now()
	if connectedAt.IsZero() {
		c.opts.Metrics.RecordSessionFailed()
	} else {
		c.opts.Metrics.RecordSessionEnd(outcome, ended.Sub(connectedAt))
	}

	c.logger.Info("session ended", "session_id", l.id, "state", st.State.String(), "reason", st.Message)
	c.emitStatus(st)

	if c.opts.OnEnded != nil && !connectedAt.IsZero() {
		c.opts.OnEnded(archive.Record{
			SessionID: l.id,
			AgentID:   l.agent.ID,
			AgentName: l.agent.Name,
			StartedAt: l.startedAt,
			EndedAt:   ended,
			Outcome:   outcome,
			Reason:    st.Message,
			Turns:     l.transcript.Turns(),
		})
	}
}

func (c *Controller) emitStatus(st Status) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(st)
	}
}

func (c *Controller) emitTranscript(s transcript.Snapshot) {
	if c.opts.OnTranscript != nil {
		c.opts.OnTranscript(s)
	}
}
