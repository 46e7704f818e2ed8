package audio

import (
	"fmt"
	"sync"
	"time"
)

type handle struct {
	buf     *Buffer
	startAt time.Duration
	src     Source
	stopped bool
}

// Scheduler plays buffers back to back on an output context and keeps the
// set of buffers still sounding so they can be cut off.
type Scheduler struct {
	out OutputContext

	mu        sync.Mutex
	nextStart time.Duration
	active    map[*handle]struct{}
}

func NewScheduler(out OutputContext) *Scheduler {
	return &Scheduler{
		out:    out,
		active: make(map[*handle]struct{}),
	}
}

// Enqueue schedules buf right after the previously enqueued buffer, or now if
// the output clock has already passed that point. It returns the start time.
func (s *Scheduler) Enqueue(buf *Buffer) (time.Duration, error) {
	if buf == nil || buf.Frames() == 0 {
		return 0, fmt.Errorf("empty buffer")
	}

	s.mu.Lock()
	startAt := s.nextStart
	if now := s.out.CurrentTime(); now > startAt {
		startAt = now
	}
	s.nextStart = startAt + buf.Duration()
	h := &handle{buf: buf, startAt: startAt}
	s.active[h] = struct{}{}
	s.mu.Unlock()

	src, err := s.out.Schedule(buf, startAt, func() { s.release(h) })
	if err != nil {
		s.release(h)
		return 0, fmt.Errorf("scheduling buffer: %w", err)
	}

	s.mu.Lock()
	h.src = src
	stopNow := h.stopped
	s.mu.Unlock()
	if stopNow {
		src.Stop()
	}
	return startAt, nil
}

func (s *Scheduler) release(h *handle) {
	s.mu.Lock()
	delete(s.active, h)
	s.mu.Unlock()
}

// StopAll force-stops every buffer still sounding and empties the set.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	active := s.active
	s.active = make(map[*handle]struct{})
	var sources []Source
	for h := range active {
		h.stopped = true
		if h.src != nil {
			sources = append(sources, h.src)
		}
	}
	s.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
}

// Reset rewinds the schedule for a fresh output context.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStart = 0
	s.active = make(map[*handle]struct{})
}

// NextStartTime is where the next buffer would start if the clock stood still
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Active returns the number of buffers scheduled and not yet ended
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
