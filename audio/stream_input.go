package audio

import (
	"context"
	"fmt"
	"sync"
)

// StreamInput is a microphone whose frames are pushed by a remote client.
// The client answers the permission prompt with Grant or Deny; Open waits
// for that answer.
type StreamInput struct {
	decision chan bool

	mu        sync.Mutex
	onFrame   func([]float32)
	frameSize int
	pending   []float32
}

func NewStreamInput() *StreamInput {
	return &StreamInput{decision: make(chan bool, 1)}
}

// Grant answers the pending (or next) permission request with yes
func (s *StreamInput) Grant() { s.answer(true) }

// Deny answers the pending (or next) permission request with no
func (s *StreamInput) Deny() { s.answer(false) }

func (s *StreamInput) answer(ok bool) {
	// Keep only the latest answer.
	select {
	case <-s.decision:
	default:
	}
	s.decision <- ok
}

// Reset forgets an answer nobody has consumed yet, so the next Open asks
// again.
func (s *StreamInput) Reset() {
	select {
	case <-s.decision:
	default:
	}
}

func (s *StreamInput) Open(ctx context.Context, _ int, frameSize int, onFrame func([]float32)) (InputStream, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size %d", frameSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ok := <-s.decision:
		if !ok {
			return nil, ErrPermissionDenied
		}
	}

	s.mu.Lock()
	s.onFrame = onFrame
	s.frameSize = frameSize
	s.pending = s.pending[:0]
	s.mu.Unlock()
	return streamHandle{s}, nil
}

// Push appends samples and emits every complete frame. Samples pushed while
// no stream is open are discarded.
func (s *StreamInput) Push(samples []float32) {
	s.mu.Lock()
	if s.onFrame == nil {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, samples...)
	var frames [][]float32
	for len(s.pending) >= s.frameSize {
		frame := make([]float32, s.frameSize)
		copy(frame, s.pending[:s.frameSize])
		frames = append(frames, frame)
		s.pending = s.pending[s.frameSize:]
	}
	onFrame := s.onFrame
	s.mu.Unlock()

	for _, f := range frames {
		onFrame(f)
	}
}

// IsOpen reports whether a capture currently holds the stream
func (s *StreamInput) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onFrame != nil
}

type streamHandle struct{ s *StreamInput }

func (h streamHandle) Close() error {
	h.s.mu.Lock()
	h.s.onFrame = nil
	h.s.pending = nil
	h.s.mu.Unlock()
	h.s.Reset()
	return nil
}
