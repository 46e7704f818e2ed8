package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/archive"
	"github.com/room4-2/voicelab/audio"
	"github.com/room4-2/voicelab/pcm"
	"github.com/room4-2/voicelab/transcript"
	"google.golang.org/genai"
)

type harness struct {
	conn    *fakeConn
	dialer  *fakeDialer
	input   *audio.StreamInput
	output  *recordingOutput
	status  *statusLog
	ctrl    *Controller
	mu      sync.Mutex
	records []archive.Record
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		conn:   newFakeConn(),
		input:  audio.NewStreamInput(),
		output: &recordingOutput{},
		status: &statusLog{},
	}
	h.dialer = &fakeDialer{conn: h.conn}
	opts := Options{
		Dialer:   h.dialer,
		Input:    h.input,
		Output:   h.output,
		Logger:   quietLogger(),
		OnStatus: h.status.add,
		OnEnded: func(r archive.Record) {
			h.mu.Lock()
			h.records = append(h.records, r)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.ctrl = NewController(opts)
	t.Cleanup(h.ctrl.Stop)
	return h
}

func (h *harness) ended() []archive.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]archive.Record(nil), h.records...)
}

func testAgent() agent.Agent {
	return agent.Agent{
		ID:            "a1",
		Name:          "Ada",
		Persona:       "You are Ada.",
		KnowledgeBase: "We sell bikes.",
		Greeting:      "Hello, Ada here.",
	}
}

func audioMessage(data []byte) *genai.LiveServerMessage {
	return &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{{InlineData: &genai.Blob{Data: data}}}},
	}}
}

func TestController_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.input.Grant()

	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.ctrl.Status().State; got != StateConnected {
		t.Fatalf("state = %s", got)
	}
	waitFor(t, "microphone open", h.input.IsOpen)

	h.input.Push(make([]float32, audio.FrameSize))

	sent := h.conn.sentInputs()
	if len(sent) != 1 {
		t.Fatalf("sent %d chunks, want 1", len(sent))
	}
	if len(sent[0].Media.Data) != 8192 || sent[0].Media.MIMEType != pcm.InputMIMEType {
		t.Errorf("chunk = %d bytes %s", len(sent[0].Media.Data), sent[0].Media.MIMEType)
	}

	h.conn.inbox <- audioMessage(make([]byte, 48000))
	out := h.output.last()
	waitFor(t, "audio scheduled", func() bool { return out.Active() == 1 })

	h.ctrl.Stop()

	if h.input.IsOpen() {
		t.Error("microphone still open after Stop")
	}
	if !out.Closed() {
		t.Error("output context still open after Stop")
	}
	if out.Active() != 0 {
		t.Errorf("output has %d active sources", out.Active())
	}
	if n := h.ctrl.cur.scheduler.Active(); n != 0 {
		t.Errorf("scheduler has %d active buffers", n)
	}
	if !h.conn.isClosed() {
		t.Error("live session still open after Stop")
	}
	if got := h.ctrl.Status().State; got != StateDisconnected {
		t.Errorf("state = %s", got)
	}

	want := []State{StateConnecting, StateConnected, StateDisconnected}
	got := h.status.states()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestController_ConfiguresSession(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Greet = true })
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}

	cfg := h.dialer.cfg
	if cfg.SystemInstruction.Parts[0].Text != "You are Ada.\nWe sell bikes." {
		t.Errorf("system instruction = %q", cfg.SystemInstruction.Parts[0].Text)
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("transcription not requested")
	}

	h.conn.mu.Lock()
	defer h.conn.mu.Unlock()
	if len(h.conn.texts) != 1 {
		t.Fatalf("greeting requests = %d", len(h.conn.texts))
	}
}

func TestController_AlreadyActive(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Start(context.Background(), testAgent()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start = %v, want ErrAlreadyActive", err)
	}
	if h.dialer.dials != 1 {
		t.Errorf("dialed %d times", h.dialer.dials)
	}
}

func TestController_StopBeforeConnectResolves(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.gate = make(chan struct{})
	h.input.Grant()

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Start(context.Background(), testAgent()) }()

	waitFor(t, "dial in flight", h.dialer.dialing)
	h.ctrl.Stop()
	close(h.dialer.gate)

	if err := <-errCh; !errors.Is(err, ErrStopped) {
		t.Fatalf("Start = %v, want ErrStopped", err)
	}
	if h.input.IsOpen() {
		t.Error("microphone opened after stop")
	}
	if !h.conn.isClosed() {
		t.Error("late session left open")
	}
	if out := h.output.last(); out != nil && !out.Closed() {
		t.Error("output context left open")
	}
	if got := h.ctrl.Status().State; got != StateDisconnected {
		t.Errorf("state = %s", got)
	}
	if len(h.ended()) != 0 {
		t.Error("a session that never connected was archived")
	}
}

func TestController_StopWhileAwaitingPermission(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	h.ctrl.Stop()

	// A late grant must not reopen the microphone.
	h.input.Grant()
	waitFor(t, "microphone closed", func() bool { return !h.input.IsOpen() })
	h.input.Push(make([]float32, audio.FrameSize))
	if n := len(h.conn.sentInputs()); n != 0 {
		t.Errorf("sent %d chunks after Stop", n)
	}
}

func TestController_TranscriptAndArchive(t *testing.T) {
	var snaps []transcript.Snapshot
	var mu sync.Mutex
	h := newHarness(t, func(o *Options) {
		o.OnTranscript = func(s transcript.Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			mu.Unlock()
		}
	})
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}

	h.conn.inbox <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{InputTranscription: &genai.Transcription{Text: "hel"}}}
	h.conn.inbox <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{InputTranscription: &genai.Transcription{Text: "lo"}}}
	h.conn.inbox <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		OutputTranscription: &genai.Transcription{Text: "hi"},
		TurnComplete:        true,
	}}

	waitFor(t, "turn complete", func() bool { return len(h.ctrl.Transcript().Turns) == 1 })
	snap := h.ctrl.Transcript()
	if snap.Turns[0] != (transcript.Turn{UserInput: "hello", AgentResponse: "hi"}) {
		t.Errorf("turn = %+v", snap.Turns[0])
	}
	if snap.Partial != (transcript.Turn{}) {
		t.Errorf("partial = %+v", snap.Partial)
	}
	mu.Lock()
	if len(snaps) != 4 {
		t.Errorf("transcript callbacks = %d, want 4", len(snaps))
	}
	mu.Unlock()

	h.ctrl.Stop()
	records := h.ended()
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].AgentID != "a1" || records[0].Outcome != "stopped" || len(records[0].Turns) != 1 {
		t.Errorf("record = %+v", records[0])
	}
}

func TestController_MalformedAudioIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}

	h.conn.inbox <- audioMessage([]byte{1, 2, 3})
	h.conn.inbox <- audioMessage(make([]byte, 48000))
	out := h.output.last()
	waitFor(t, "valid chunk scheduled", func() bool { return out.Active() == 1 })

	if got := h.ctrl.Status().State; got != StateConnected {
		t.Errorf("state = %s after malformed chunk", got)
	}
}

func TestController_InterruptStopsPlayback(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	out := h.output.last()

	h.conn.inbox <- audioMessage(make([]byte, 48000))
	waitFor(t, "audio scheduled", func() bool { return out.Active() == 1 })

	h.conn.inbox <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}}
	waitFor(t, "playback stopped", func() bool { return out.Active() == 0 })

	if got := h.ctrl.Status().State; got != StateConnected {
		t.Errorf("state = %s, interruption must not end the session", got)
	}
}

func TestController_TransportErrorTearsDown(t *testing.T) {
	h := newHarness(t, nil)
	h.input.Grant()
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "microphone open", h.input.IsOpen)

	h.conn.breakWith(errors.New("connection reset by peer"))
	waitFor(t, "error state", func() bool { return h.ctrl.Status().State == StateError })

	if h.input.IsOpen() {
		t.Error("microphone still open after transport error")
	}
	if !h.output.last().Closed() {
		t.Error("output still open after transport error")
	}
	if msg := h.ctrl.Status().Message; msg == "" {
		t.Error("error status has no message")
	}

	h.ctrl.Stop()
	if got := h.ctrl.Status().State; got != StateDisconnected {
		t.Errorf("state after Stop = %s, want disconnected", got)
	}
	if n := len(h.ended()); n != 1 {
		t.Errorf("ended %d times, want 1", n)
	}

	// Not terminal for the application.
	h.conn = newFakeConn()
	h.dialer.conn = h.conn
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatalf("restart after error: %v", err)
	}
}

func TestController_RemoteClose(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	h.conn.breakWith(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "session expired"})

	waitFor(t, "disconnected", func() bool { return h.ctrl.Status().State == StateDisconnected })
	if msg := h.ctrl.Status().Message; msg != "session expired" {
		t.Errorf("message = %q", msg)
	}
	records := h.ended()
	if len(records) != 1 || records[0].Outcome != "remote_closed" {
		t.Errorf("records = %+v", records)
	}
}

func TestController_ConnectError(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.err = errors.New("invalid api key")

	err := h.ctrl.Start(context.Background(), testAgent())
	if err == nil {
		t.Fatal("expected connect error")
	}
	st := h.ctrl.Status()
	if st.State != StateError || st.Message == "" {
		t.Errorf("status = %+v", st)
	}
	if !h.output.last().Closed() {
		t.Error("output left open after connect error")
	}
}

func TestController_PermissionDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.input.Deny()
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "error state", func() bool { return h.ctrl.Status().State == StateError })
	if !h.conn.isClosed() {
		t.Error("session left open after permission denied")
	}
}

func TestController_PermissionDeniedListenOnly(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AllowListenOnly = true })
	h.input.Deny()
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "listen-only status", func() bool { return h.ctrl.Status().Message != "" })

	st := h.ctrl.Status()
	if st.State != StateConnected {
		t.Errorf("state = %s, want connected", st.State)
	}
	if h.conn.isClosed() {
		t.Error("session closed despite listen-only policy")
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.Stop()
	if got := h.ctrl.Status().State; got != StateIdle {
		t.Errorf("Stop before Start changed state to %s", got)
	}
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	h.ctrl.Stop()
	h.ctrl.Stop()
	if n := len(h.ended()); n != 1 {
		t.Errorf("ended %d times", n)
	}
}

func TestController_InterruptKeepsNewReply(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	out := h.output.last()

	h.conn.inbox <- audioMessage(make([]byte, 48000))
	waitFor(t, "audio scheduled", func() bool { return out.Active() == 1 })

	// Barge-in and the start of the new reply arrive together.
	h.conn.inbox <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		Interrupted:  true,
		ModelTurn:    &genai.Content{Parts: []*genai.Part{{InlineData: &genai.Blob{Data: make([]byte, 48000)}}}},
		TurnComplete: true,
	}}
	waitFor(t, "turn complete", func() bool { return len(h.ctrl.Transcript().Turns) == 1 })

	if n := out.Active(); n != 1 {
		t.Errorf("active sources = %d, want the new reply playing", n)
	}
}
