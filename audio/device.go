package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned when microphone access is refused
var ErrPermissionDenied = errors.New("microphone permission denied")

// InputDevice opens a microphone. Open blocks until access is granted or
// refused, then delivers frames of frameSize samples to onFrame from the
// device's own goroutine until the returned stream is closed.
type InputDevice interface {
	Open(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) (InputStream, error)
}

// InputStream releases the device on Close
type InputStream interface {
	Close() error
}

// OutputDevice opens an output audio context at a sample rate
type OutputDevice interface {
	Open(ctx context.Context, sampleRate int) (OutputContext, error)
}

// OutputContext is a clock plus a way to start buffers on it.
//
// Implementations must invoke onEnded asynchronously, never from inside
// Schedule or Source.Stop, and exactly once per scheduled buffer whether it
// finished or was stopped.
type OutputContext interface {
	SampleRate() int
	CurrentTime() time.Duration
	Schedule(buf *Buffer, at time.Duration, onEnded func()) (Source, error)
	Close() error
}

// Source is one scheduled buffer
type Source interface {
	Stop()
}
