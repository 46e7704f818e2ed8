// Command test drives the /ws bridge from a recorded file: it grants the
// microphone, starts a call, streams the file and plays the replies via sox.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/voicelab/messages"
	"github.com/room4-2/voicelab/pcm"
	"github.com/room4-2/voicelab/transcript"
)

// serverMessage mirrors messages.ServerMessage with a deferred payload
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload"`
}

// AudioPlayer streams 24kHz PCM16 to the default device via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer() (*AudioPlayer, error) {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", fmt.Sprint(pcm.OutputSampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &AudioPlayer{cmd: cmd, stdin: stdin}, nil
}

func (p *AudioPlayer) Play(audioData []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	_, _ = p.stdin.Write(audioData)
}

func (p *AudioPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stdin.Close()
	_ = p.cmd.Wait()
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	audioFile := flag.String("file", "examples/user.pcm", "16kHz mono PCM16 file (raw or WAV)")
	agentID := flag.String("agent", "somone-burger", "agent to call")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		logger.Error("failed to connect", "url", *serverURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	player, err := NewAudioPlayer()
	if err != nil {
		logger.Error("failed to start sox", "error", err)
		os.Exit(1)
	}
	defer player.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	connected := make(chan struct{})
	var connectedOnce sync.Once
	done := make(chan struct{})

	go func() {
		defer close(done)
		printed := 0
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				logger.Info("read stopped", "error", err)
				return
			}
			var msg serverMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				logger.Warn("bad message", "error", err)
				continue
			}
			raw, _ := sonic.Marshal(msg.Payload)

			switch msg.Type {
			case messages.TypeAudio:
				var p messages.AudioPayload
				if err := sonic.Unmarshal(raw, &p); err != nil {
					continue
				}
				if audio, err := pcm.Base64Decode(p.Data); err == nil {
					player.Play(audio)
				}
			case messages.TypeTranscript:
				var p transcript.Snapshot
				if err := sonic.Unmarshal(raw, &p); err != nil {
					continue
				}
				for ; printed < len(p.Turns); printed++ {
					fmt.Printf("you:   %s\nagent: %s\n", p.Turns[printed].UserInput, p.Turns[printed].AgentResponse)
				}
			case messages.TypeStatus:
				var p messages.StatusPayload
				if err := sonic.Unmarshal(raw, &p); err != nil {
					continue
				}
				logger.Info("status", "status", p.Status, "message", p.Message)
				if p.Status == "connected" {
					connectedOnce.Do(func() { close(connected) })
				}
			case messages.TypeError:
				logger.Error("server error", "payload", string(raw))
			}
		}
	}()

	send := func(v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = send(map[string]any{"type": messages.TypeControl, "payload": messages.ControlPayload{Action: messages.ActionMicGranted}})
	_ = send(map[string]any{"type": messages.TypeStart, "payload": messages.StartPayload{AgentID: *agentID}})

	select {
	case <-connected:
	case <-done:
		return
	case <-time.After(15 * time.Second):
		logger.Error("timed out waiting for the session")
		return
	}

	samples, err := loadAudioFile(*audioFile)
	if err != nil {
		logger.Error("failed to load audio", "error", err)
		os.Exit(1)
	}

	// 100ms frames, paced in real time
	chunk := pcm.InputSampleRate / 10
	for i := 0; i < len(samples); i += chunk {
		end := min(i+chunk, len(samples))
		if err := conn.WriteMessage(websocket.BinaryMessage, messages.EncodeAudioFrame(samples[i:end])); err != nil {
			logger.Error("send failed", "error", err)
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	logger.Info("audio sent, waiting for the reply")

	select {
	case <-done:
	case <-interrupt:
	case <-time.After(30 * time.Second):
		logger.Info("timeout waiting for response")
	}
	_ = send(map[string]any{"type": messages.TypeStop})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// loadAudioFile returns the file's samples, skipping a WAV header
func loadAudioFile(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		data = data[44:]
	}
	if len(data)%2 == 1 {
		data = data[:len(data)-1]
	}
	channels, err := pcm.PCM16ToFloat(data, 1)
	if err != nil {
		return nil, err
	}
	return channels[0], nil
}
