//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioInput is the host's default microphone
type PortAudioInput struct{}

func (PortAudioInput) Open(_ context.Context, sampleRate, frameSize int, onFrame func([]float32)) (InputStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, func(in []float32) {
		frame := make([]float32, len(in))
		copy(frame, in)
		onFrame(frame)
	})
	if err != nil {
		portaudio.Terminate()
		// The OS refusing the device surfaces as an open failure.
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting input stream: %w", err)
	}
	return &paInputStream{stream: stream}, nil
}

type paInputStream struct {
	stream *portaudio.Stream
	once   sync.Once
}

func (s *paInputStream) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.stream.Stop()
		err = s.stream.Close()
		portaudio.Terminate()
	})
	return err
}

// PortAudioOutput opens the host's default speaker
type PortAudioOutput struct{}

func (PortAudioOutput) Open(_ context.Context, sampleRate int) (OutputContext, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	o := &paOutput{sampleRate: sampleRate}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), 0, o.render)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting output stream: %w", err)
	}
	o.stream = stream
	return o, nil
}

// paOutput mixes scheduled buffers into the device callback. Its clock is
// the number of frames rendered so far.
type paOutput struct {
	sampleRate int
	stream     *portaudio.Stream

	mu       sync.Mutex
	rendered int64
	sources  []*paSource
	closed   bool
}

type paSource struct {
	out     *paOutput
	start   int64
	samples []float32
	onEnded func()
	done    bool
}

func (o *paOutput) SampleRate() int { return o.sampleRate }

func (o *paOutput) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return time.Duration(o.rendered) * time.Second / time.Duration(o.sampleRate)
}

func (o *paOutput) Schedule(buf *Buffer, at time.Duration, onEnded func()) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrOutputClosed
	}
	samples := buf.Mono()
	if buf.SampleRate != o.sampleRate {
		return nil, fmt.Errorf("buffer rate %d does not match output rate %d", buf.SampleRate, o.sampleRate)
	}
	src := &paSource{
		out:     o,
		start:   int64(at) * int64(o.sampleRate) / int64(time.Second),
		samples: samples,
		onEnded: onEnded,
	}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *paOutput) render(out []float32) {
	o.mu.Lock()
	for i := range out {
		out[i] = 0
	}
	base := o.rendered
	var ended []func()
	kept := o.sources[:0]
	for _, src := range o.sources {
		for i := range out {
			idx := base + int64(i) - src.start
			if idx >= 0 && idx < int64(len(src.samples)) {
				out[i] += src.samples[idx]
			}
		}
		if src.start+int64(len(src.samples)) <= base+int64(len(out)) {
			src.done = true
			ended = append(ended, src.onEnded)
			continue
		}
		kept = append(kept, src)
	}
	o.sources = kept
	o.rendered += int64(len(out))
	o.mu.Unlock()

	for _, fn := range ended {
		if fn != nil {
			go fn()
		}
	}
}

func (s *paSource) Stop() {
	o := s.out
	o.mu.Lock()
	if s.done {
		o.mu.Unlock()
		return
	}
	s.done = true
	for i, src := range o.sources {
		if src == s {
			o.sources = append(o.sources[:i], o.sources[i+1:]...)
			break
		}
	}
	o.mu.Unlock()
	if s.onEnded != nil {
		go s.onEnded()
	}
}

func (o *paOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	sources := o.sources
	o.sources = nil
	o.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	_ = o.stream.Stop()
	err := o.stream.Close()
	portaudio.Terminate()
	return err
}
