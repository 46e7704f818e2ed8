package gemini

import (
	"github.com/room4-2/voicelab/pcm"
	"google.golang.org/genai"
)

// Event is one inbound item from a live session. The concrete types below
// are the only implementations.
type Event interface {
	isEvent()
}

// InputTranscription is a fragment of what the user said
type InputTranscription struct{ Text string }

// OutputTranscription is a fragment of what the model said
type OutputTranscription struct{ Text string }

// TurnComplete marks the end of the model's turn
type TurnComplete struct{}

// Interrupted means the user barged in and queued model audio is stale
type Interrupted struct{}

// AudioChunk carries base64 PCM16 response audio
type AudioChunk struct {
	Data       string
	SampleRate int
	Channels   int
}

// SessionError is terminal; nothing follows it
type SessionError struct{ Err error }

// SessionClosed is terminal; nothing follows it
type SessionClosed struct{ Reason string }

func (InputTranscription) isEvent()  {}
func (OutputTranscription) isEvent() {}
func (TurnComplete) isEvent()        {}
func (Interrupted) isEvent()         {}
func (AudioChunk) isEvent()          {}
func (SessionError) isEvent()        {}
func (SessionClosed) isEvent()       {}

// Message returns the error text
func (e SessionError) Message() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

// translate flattens one server message into events in delivery order:
// transcriptions, interruption, audio, turn completion. An interruption
// precedes the audio of the same message so playback of the new reply
// survives the stop of the old one.
func translate(msg *genai.LiveServerMessage) []Event {
	if msg == nil || msg.ServerContent == nil {
		return nil
	}
	sc := msg.ServerContent

	var events []Event
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, InputTranscription{Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, OutputTranscription{Text: sc.OutputTranscription.Text})
	}
	if sc.Interrupted {
		events = append(events, Interrupted{})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			// The SDK hands over raw bytes; the pipeline carries base64.
			events = append(events, AudioChunk{
				Data:       pcm.Base64Encode(part.InlineData.Data),
				SampleRate: pcm.OutputSampleRate,
				Channels:   1,
			})
		}
	}
	if sc.TurnComplete {
		events = append(events, TurnComplete{})
	}
	return events
}
