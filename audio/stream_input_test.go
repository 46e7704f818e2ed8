package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamInput_WaitsForGrant(t *testing.T) {
	in := NewStreamInput()
	var frames [][]float32

	done := make(chan error, 1)
	go func() {
		_, err := in.Open(context.Background(), 16000, 4, func(f []float32) { frames = append(frames, f) })
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Open returned before permission: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	in.Grant()
	if err := <-done; err != nil {
		t.Fatalf("Open: %v", err)
	}

	in.Push([]float32{1, 2, 3})
	in.Push([]float32{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[1][0] != 5 || frames[1][3] != 8 {
		t.Errorf("second frame = %v", frames[1])
	}
}

func TestStreamInput_Deny(t *testing.T) {
	in := NewStreamInput()
	in.Deny()
	if _, err := in.Open(context.Background(), 16000, 4, func([]float32) {}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestStreamInput_LatestAnswerWins(t *testing.T) {
	in := NewStreamInput()
	in.Deny()
	in.Grant()
	if _, err := in.Open(context.Background(), 16000, 4, func([]float32) {}); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestStreamInput_ContextCancel(t *testing.T) {
	in := NewStreamInput()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := in.Open(ctx, 16000, 4, func([]float32) {}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamInput_CloseStopsDelivery(t *testing.T) {
	in := NewStreamInput()
	in.Grant()
	count := 0
	stream, err := in.Open(context.Background(), 16000, 2, func([]float32) { count++ })
	if err != nil {
		t.Fatal(err)
	}
	if err := stream.Close(); err != nil {
		t.Fatal(err)
	}
	in.Push([]float32{1, 2, 3, 4})
	if count != 0 || in.IsOpen() {
		t.Errorf("delivered %d frames after close", count)
	}
}

func TestStreamInput_AnswerDoesNotOutliveStream(t *testing.T) {
	in := NewStreamInput()
	in.Grant()
	stream, err := in.Open(context.Background(), 16000, 4, func([]float32) {})
	if err != nil {
		t.Fatal(err)
	}

	// A duplicate answer arriving during the session
	in.Grant()
	stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := in.Open(ctx, 16000, 4, func([]float32) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Open = %v, want it to wait for a new answer", err)
	}
}

func TestStreamInput_Reset(t *testing.T) {
	in := NewStreamInput()
	in.Grant()
	in.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := in.Open(ctx, 16000, 4, func([]float32) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Open after Reset = %v, want DeadlineExceeded", err)
	}

	in.Deny()
	if _, err := in.Open(context.Background(), 16000, 4, func([]float32) {}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Open after Deny = %v", err)
	}
}
