package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/room4-2/voicelab/audio"
	"github.com/room4-2/voicelab/gemini"
	"google.golang.org/genai"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a scripted live session.
type fakeConn struct {
	inbox chan *genai.LiveServerMessage

	mu     sync.Mutex
	sent   []genai.LiveRealtimeInput
	texts  []genai.LiveSendClientContentParameters
	closed bool
	fail   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan *genai.LiveServerMessage, 16)}
}

func (c *fakeConn) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, in)
	return nil
}

func (c *fakeConn) SendClientContent(p genai.LiveSendClientContentParameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, p)
	return nil
}

func (c *fakeConn) Receive() (*genai.LiveServerMessage, error) {
	msg, ok := <-c.inbox
	if !ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.fail != nil {
			return nil, c.fail
		}
		return nil, errors.New("use of closed network connection")
	}
	return msg, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
	return nil
}

// breakWith makes the next Receive fail with err, as a dropped connection.
func (c *fakeConn) breakWith(err error) {
	c.mu.Lock()
	c.fail = err
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentInputs() []genai.LiveRealtimeInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]genai.LiveRealtimeInput(nil), c.sent...)
}

type fakeDialer struct {
	conn *fakeConn
	err  error
	gate chan struct{}

	mu      sync.Mutex
	cfg     *genai.LiveConnectConfig
	dials   int
	entered bool
}

func (d *fakeDialer) dialing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entered
}

func (d *fakeDialer) Dial(_ context.Context, _ string, cfg *genai.LiveConnectConfig) (gemini.Conn, error) {
	d.mu.Lock()
	d.entered = true
	d.mu.Unlock()
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	d.cfg = cfg
	d.dials++
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// recordingOutput remembers the contexts it opened.
type recordingOutput struct {
	mu       sync.Mutex
	contexts []*audio.TimerOutput
	err      error
}

func (o *recordingOutput) Open(_ context.Context, sampleRate int) (audio.OutputContext, error) {
	if o.err != nil {
		return nil, o.err
	}
	out := audio.NewTimerOutput(sampleRate, audio.TimerHooks{})
	o.mu.Lock()
	o.contexts = append(o.contexts, out)
	o.mu.Unlock()
	return out, nil
}

func (o *recordingOutput) last() *audio.TimerOutput {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.contexts) == 0 {
		return nil
	}
	return o.contexts[len(o.contexts)-1]
}

// statusLog collects status callbacks.
type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (l *statusLog) add(s Status) {
	l.mu.Lock()
	l.statuses = append(l.statuses, s)
	l.mu.Unlock()
}

func (l *statusLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.statuses))
	for i, s := range l.statuses {
		out[i] = s.State
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
