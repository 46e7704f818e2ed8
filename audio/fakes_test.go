package audio

import (
	"context"
	"sync"
	"time"
)

// fakeOutput is a manually clocked output context.
type fakeOutput struct {
	mu        sync.Mutex
	now       time.Duration
	scheduled []fakeScheduled
	closed    bool
}

type fakeScheduled struct {
	buf     *Buffer
	at      time.Duration
	onEnded func()
	src     *fakeSource
}

type fakeSource struct {
	mu      sync.Mutex
	stopped bool
	onEnded func()
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (o *fakeOutput) SampleRate() int { return 24000 }

func (o *fakeOutput) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	o.mu.Unlock()
}

func (o *fakeOutput) Schedule(buf *Buffer, at time.Duration, onEnded func()) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrOutputClosed
	}
	src := &fakeSource{onEnded: onEnded}
	o.scheduled = append(o.scheduled, fakeScheduled{buf: buf, at: at, onEnded: onEnded, src: src})
	return src, nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) starts() []time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]time.Duration, len(o.scheduled))
	for i, s := range o.scheduled {
		out[i] = s.at
	}
	return out
}

// fakeInput hands its frame callback to the test.
type fakeInput struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	onFrame func([]float32)
	opened  int
	closed  int
}

func (d *fakeInput) Open(ctx context.Context, _ int, _ int, onFrame func([]float32)) (InputStream, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.opened++
	d.onFrame = onFrame
	return fakeStream{d}, nil
}

func (d *fakeInput) emit(frame []float32) {
	d.mu.Lock()
	fn := d.onFrame
	d.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func (d *fakeInput) counts() (opened, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened, d.closed
}

type fakeStream struct{ d *fakeInput }

func (s fakeStream) Close() error {
	s.d.mu.Lock()
	s.d.closed++
	s.d.onFrame = nil
	s.d.mu.Unlock()
	return nil
}

func silentBuffer(frames int) *Buffer {
	return &Buffer{SampleRate: 24000, Channels: [][]float32{make([]float32, frames)}}
}
