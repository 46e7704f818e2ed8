package audio

import (
	"fmt"
	"time"

	"github.com/room4-2/voicelab/pcm"
)

// Buffer is decoded audio ready to be scheduled on an output context
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewBuffer validates that every channel has the same length.
func NewBuffer(sampleRate int, channels [][]float32) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("buffer needs at least one channel")
	}
	for i, ch := range channels[1:] {
		if len(ch) != len(channels[0]) {
			return nil, fmt.Errorf("channel %d has %d frames, want %d", i+1, len(ch), len(channels[0]))
		}
	}
	return &Buffer{SampleRate: sampleRate, Channels: channels}, nil
}

// DecodeBuffer turns a base64 PCM16 payload into a playable buffer.
// Malformed payloads return an error wrapping pcm.ErrDecode.
func DecodeBuffer(data string, sampleRate, channels int) (*Buffer, error) {
	raw, err := pcm.Base64Decode(data)
	if err != nil {
		return nil, err
	}
	samples, err := pcm.PCM16ToFloat(raw, channels)
	if err != nil {
		return nil, err
	}
	return NewBuffer(sampleRate, samples)
}

// Frames returns the number of sample frames per channel
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns how long the buffer sounds at its sample rate
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// PCM16 re-encodes the buffer as interleaved PCM16 LE.
func (b *Buffer) PCM16() []byte {
	n := b.Frames()
	if n == 0 {
		return nil
	}
	if len(b.Channels) == 1 {
		return pcm.FloatToPCM16(b.Channels[0])
	}
	interleaved := make([]float32, 0, n*len(b.Channels))
	for i := 0; i < n; i++ {
		for _, ch := range b.Channels {
			interleaved = append(interleaved, ch[i])
		}
	}
	return pcm.FloatToPCM16(interleaved)
}

// Mono averages all channels into one.
func (b *Buffer) Mono() []float32 {
	if len(b.Channels) == 1 {
		return b.Channels[0]
	}
	out := make([]float32, b.Frames())
	for _, ch := range b.Channels {
		for i, s := range ch {
			out[i] += s
		}
	}
	k := float32(len(b.Channels))
	for i := range out {
		out[i] /= k
	}
	return out
}
