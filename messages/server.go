package messages

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/room4-2/voicelab/transcript"
)

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeGeminiError      = "GEMINI_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeSessionActive    = "SESSION_ACTIVE"
	ErrCodeAgentNotFound    = "AGENT_NOT_FOUND"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// Server message types
const (
	TypeAudio      = "audio"
	TypeAudioStop  = "audio_stop"
	TypeTranscript = "transcript"
	TypeStatus     = "status"
	TypeError      = "error"
)

// ServerMessage represents a message sent to the browser
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload"`
}

// Encode serializes the message for a text frame
func (m *ServerMessage) Encode() ([]byte, error) {
	return sonic.Marshal(m)
}

// AudioPayload is one response buffer the browser should start at StartAt
// milliseconds on its playback clock.
type AudioPayload struct {
	ID       string  `json:"id"`
	Data     string  `json:"data"`     // Base64-encoded PCM16
	MimeType string  `json:"mimeType"` // "audio/pcm;rate=24000"
	StartAt  float64 `json:"startAt"`
}

// AudioStopPayload cancels a scheduled buffer
type AudioStopPayload struct {
	ID string `json:"id"`
}

// TranscriptPayload carries the finalized turns and the turn in progress
type TranscriptPayload struct {
	Turns   []transcript.Turn `json:"turns"`
	Partial transcript.Turn   `json:"partial"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connecting", "connected", "error", "disconnected", "pong"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID, id, data, mimeType string, startAt time.Duration) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioPayload{
			ID:       id,
			Data:     data,
			MimeType: mimeType,
			StartAt:  float64(startAt) / float64(time.Millisecond),
		},
	}
}

// NewAudioStopMessage tells the browser to cut a scheduled buffer
func NewAudioStopMessage(sessionID, id string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudioStop,
		SessionID: sessionID,
		Payload:   AudioStopPayload{ID: id},
	}
}

// NewTranscriptMessage creates a transcript update
func NewTranscriptMessage(sessionID string, snap transcript.Snapshot) *ServerMessage {
	turns := snap.Turns
	if turns == nil {
		turns = []transcript.Turn{}
	}
	return &ServerMessage{
		Type:      TypeTranscript,
		SessionID: sessionID,
		Payload:   TranscriptPayload{Turns: turns, Partial: snap.Partial},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
