package messages

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Client message types
const (
	TypeStart   = "start"
	TypeStop    = "stop"
	TypeControl = "control"
)

// Control actions
const (
	ActionPing       = "ping"
	ActionMicGranted = "mic_granted"
	ActionMicDenied  = "mic_denied"
)

// ClientMessage represents a JSON message from the browser. Microphone audio
// arrives separately as binary frames.
type ClientMessage struct {
	Type    string          `json:"type"` // "start", "stop", "control"
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload selects the agent for a new live session
type StartPayload struct {
	AgentID string `json:"agentId"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "mic_granted", "mic_denied"
}

// DecodeAudioFrame reads a binary WebSocket message of little-endian float32
// samples.
func DecodeAudioFrame(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("audio frame length %d is not a multiple of 4", len(data))
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}

// EncodeAudioFrame is the inverse of DecodeAudioFrame
func EncodeAudioFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
