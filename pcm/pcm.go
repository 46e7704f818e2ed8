// Package pcm converts between float audio samples and the 16-bit
// little-endian PCM byte stream used on the wire, plus its base64 transport
// encoding.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// InputSampleRate is the capture rate expected by the remote endpoint.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of response audio.
	OutputSampleRate = 24000
	// InputMIMEType tags every outbound chunk.
	InputMIMEType = "audio/pcm;rate=16000"
	// OutputMIMEType tags response audio forwarded to clients.
	OutputMIMEType = "audio/pcm;rate=24000"

	bytesPerSample = 2
	scale          = 32768.0
)

// ErrDecode is returned for malformed base64 or PCM payloads
var ErrDecode = errors.New("pcm: decode error")

// EncodedChunk is one transport unit sent to the remote endpoint
type EncodedChunk struct {
	Data     string // base64 PCM16 LE
	MIMEType string
}

// NewChunk encodes a captured frame into a transport chunk.
func NewChunk(frame []float32) EncodedChunk {
	return EncodedChunk{
		Data:     Base64Encode(FloatToPCM16(frame)),
		MIMEType: InputMIMEType,
	}
}

// FloatToPCM16 scales each sample by 32768 and truncates it to int16.
// Out-of-range values wrap (1.0 becomes -32768); there is no clamping.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(toInt16(s)))
	}
	return out
}

func toInt16(s float32) int16 {
	v := float64(s) * scale
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	// Truncate toward zero, then keep the low 16 bits.
	return int16(int64(v))
}

// PCM16ToFloat de-interleaves PCM16 LE data into one slice per channel.
func PCM16ToFloat(data []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrDecode, channels)
	}
	frameBytes := bytesPerSample * channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames", ErrDecode, len(data), channels)
	}

	frames := len(data) / frameBytes
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * bytesPerSample
			sample := int16(binary.LittleEndian.Uint16(data[off:]))
			out[ch][i] = float32(float64(sample) / scale)
		}
	}
	return out, nil
}

// Base64Encode uses the standard alphabet with padding and no line breaks.
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode rejects characters outside the standard alphabet and bad padding.
func Base64Decode(s string) ([]byte, error) {
	// The decoder skips line breaks even in strict mode.
	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("%w: line break in base64 input", ErrDecode)
	}
	data, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}
