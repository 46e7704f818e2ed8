//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"errors"
)

var errNoPortAudio = errors.New("host audio devices not available: rebuild with -tags portaudio")

// PortAudioInput stub when portaudio is not available
type PortAudioInput struct{}

func (PortAudioInput) Open(context.Context, int, int, func([]float32)) (InputStream, error) {
	return nil, errNoPortAudio
}

// PortAudioOutput stub when portaudio is not available
type PortAudioOutput struct{}

func (PortAudioOutput) Open(context.Context, int) (OutputContext, error) {
	return nil, errNoPortAudio
}
