package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrOutputClosed is returned when scheduling on a closed output context
var ErrOutputClosed = errors.New("output context closed")

// TimerHooks lets a TimerOutput forward buffers to a real speaker elsewhere,
// typically a browser on the other end of a WebSocket.
type TimerHooks struct {
	OnSchedule func(id string, buf *Buffer, at time.Duration)
	OnStop     func(id string)
}

// TimerDevice opens TimerOutput contexts
type TimerDevice struct {
	Hooks TimerHooks
}

func (d TimerDevice) Open(_ context.Context, sampleRate int) (OutputContext, error) {
	return NewTimerOutput(sampleRate, d.Hooks), nil
}

// TimerOutput is an output context driven by the wall clock. Buffers do not
// sound locally; their end is signalled by timers at startAt+duration.
type TimerOutput struct {
	sampleRate int
	hooks      TimerHooks
	now        func() time.Time
	origin     time.Time

	mu      sync.Mutex
	closed  bool
	sources map[string]*timerSource
}

type timerSource struct {
	id      string
	out     *TimerOutput
	timer   *time.Timer
	onEnded func()
	once    sync.Once
}

func NewTimerOutput(sampleRate int, hooks TimerHooks) *TimerOutput {
	return newTimerOutput(sampleRate, hooks, time.Now)
}

func newTimerOutput(sampleRate int, hooks TimerHooks, now func() time.Time) *TimerOutput {
	return &TimerOutput{
		sampleRate: sampleRate,
		hooks:      hooks,
		now:        now,
		origin:     now(),
		sources:    make(map[string]*timerSource),
	}
}

func (o *TimerOutput) SampleRate() int { return o.sampleRate }

func (o *TimerOutput) CurrentTime() time.Duration {
	return o.now().Sub(o.origin)
}

func (o *TimerOutput) Schedule(buf *Buffer, at time.Duration, onEnded func()) (Source, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrOutputClosed
	}
	src := &timerSource{
		id:      uuid.NewString(),
		out:     o,
		onEnded: onEnded,
	}
	delay := at + buf.Duration() - o.CurrentTime()
	if delay < 0 {
		delay = 0
	}
	src.timer = time.AfterFunc(delay, func() { src.finish() })
	o.sources[src.id] = src
	o.mu.Unlock()

	if o.hooks.OnSchedule != nil {
		o.hooks.OnSchedule(src.id, buf, at)
	}
	return src, nil
}

// Active returns the number of sources that have not ended
func (o *TimerOutput) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sources)
}

// Closed reports whether Close has been called
func (o *TimerOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *TimerOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	sources := o.sources
	o.sources = make(map[string]*timerSource)
	o.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	return nil
}

func (s *timerSource) finish() {
	s.once.Do(func() {
		s.out.mu.Lock()
		delete(s.out.sources, s.id)
		s.out.mu.Unlock()
		if s.onEnded != nil {
			s.onEnded()
		}
	})
}

func (s *timerSource) Stop() {
	if !s.timer.Stop() {
		// Already fired, finish runs on the timer goroutine.
		return
	}
	if s.out.hooks.OnStop != nil {
		s.out.hooks.OnStop(s.id)
	}
	go s.finish()
}
