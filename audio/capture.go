package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/room4-2/voicelab/pcm"
)

// FrameSize is the number of samples per captured frame
const FrameSize = 4096

// ErrCaptureStopped is returned by Start once Stop has been called, including
// while the device was still being opened.
var ErrCaptureStopped = errors.New("capture stopped before device opened")

// Capture taps an input device and forwards every frame, encoded, to a sink.
type Capture struct {
	device     InputDevice
	sink       func(pcm.EncodedChunk) error
	logger     *slog.Logger
	sampleRate int
	frameSize  int

	mu      sync.Mutex
	stream  InputStream
	opening bool
	stopped bool
	frames  uint64
	dropped uint64
}

// NewCapture creates a capture pipeline at 16 kHz with 4096-sample frames.
// sink is usually the transport's Send; its errors are logged and the frame
// dropped.
func NewCapture(device InputDevice, sink func(pcm.EncodedChunk) error, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		device:     device,
		sink:       sink,
		logger:     logger,
		sampleRate: pcm.InputSampleRate,
		frameSize:  FrameSize,
	}
}

// Start opens the device. It blocks while the device asks for permission.
// A capture is single-use: after Stop, Start fails with ErrCaptureStopped.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrCaptureStopped
	}
	if c.stream != nil || c.opening {
		c.mu.Unlock()
		return nil
	}
	c.opening = true
	c.mu.Unlock()

	stream, err := c.device.Open(ctx, c.sampleRate, c.frameSize, c.handleFrame)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opening = false
	if err != nil {
		return fmt.Errorf("opening input device: %w", err)
	}
	if c.stopped {
		_ = stream.Close()
		return ErrCaptureStopped
	}
	c.stream = stream
	c.logger.Debug("capture started", "sample_rate", c.sampleRate, "frame_size", c.frameSize)
	return nil
}

// Stop disconnects the tap and releases the device. Safe to call repeatedly.
// Stop before Start opens nothing but still retires the capture.
func (c *Capture) Stop() error {
	c.mu.Lock()
	c.stopped = true
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("closing input device: %w", err)
	}
	c.logger.Debug("capture stopped")
	return nil
}

// Active reports whether the device is open
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Stats returns frames delivered and frames the sink refused
func (c *Capture) Stats() (frames, dropped uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames, c.dropped
}

func (c *Capture) handleFrame(frame []float32) {
	c.mu.Lock()
	if c.stream == nil || c.stopped {
		c.mu.Unlock()
		return
	}
	c.frames++
	c.mu.Unlock()

	if err := c.sink(pcm.NewChunk(frame)); err != nil {
		// A later frame carries fresher audio; nothing is resent.
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.Debug("dropping captured frame", "error", err)
	}
}
