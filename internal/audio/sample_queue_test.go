package audio

import (
	"context"
	"testing"
	"time"

	"sonix.click/internal/decode"
)

func TestSampleQueueFillAcrossChunks(t *testing.T) {
	chunks := make(chan decode.AudioChunk, 3)
	chunks <- decode.AudioChunk{Samples: []float32{1, 2, 3}}
	chunks <- decode.AudioChunk{Samples: []float32{4, 5}}
	chunks <- decode.AudioChunk{Samples: []float32{6}, IsLast: true}

	queue := newSampleQueue(chunks)
	out := make([]float32, 4)

	n, more := queue.Fill(context.Background(), out)
	if n != 4 || !more {
		t.Fatalf("first fill: n=%d more=%v, want 4 true", n, more)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if out[i] != want {
			t.Errorf("out[%d] = %f, want %f", i, out[i], want)
		}
	}

	n, more = queue.Fill(context.Background(), out)
	if n != 2 || more {
		t.Fatalf("second fill: n=%d more=%v, want 2 false", n, more)
	}
	if out[0] != 5 || out[1] != 6 {
		t.Errorf("tail samples wrong: %v", out[:2])
	}
}

func TestSampleQueueChannelClose(t *testing.T) {
	chunks := make(chan decode.AudioChunk, 1)
	chunks <- decode.AudioChunk{Samples: []float32{1, 2}}
	close(chunks)

	queue := newSampleQueue(chunks)
	out := make([]float32, 8)

	n, more := queue.Fill(context.Background(), out)
	if n != 2 || more {
		t.Errorf("n=%d more=%v, want 2 false", n, more)
	}

	n, more = queue.Fill(context.Background(), out)
	if n != 0 || more {
		t.Errorf("drained queue: n=%d more=%v, want 0 false", n, more)
	}
}

func TestSampleQueueCancellation(t *testing.T) {
	// Channel never delivers; cancellation must unblock the fill
	chunks := make(chan decode.AudioChunk)
	queue := newSampleQueue(chunks)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out := make([]float32, 4)
	n, more := queue.Fill(ctx, out)
	if n != 0 || more {
		t.Errorf("n=%d more=%v, want 0 false after cancellation", n, more)
	}
}

func TestSampleQueueStopsPullingAfterLast(t *testing.T) {
	chunks := make(chan decode.AudioChunk, 2)
	chunks <- decode.AudioChunk{Samples: []float32{1}, IsLast: true}
	chunks <- decode.AudioChunk{Samples: []float32{99}}

	queue := newSampleQueue(chunks)
	out := make([]float32, 4)

	n, more := queue.Fill(context.Background(), out)
	if n != 1 || more {
		t.Errorf("n=%d more=%v, want 1 false", n, more)
	}
	if out[0] != 1 {
		t.Errorf("out[0] = %f, want 1", out[0])
	}
	// The chunk after IsLast must never be consumed
	if len(chunks) != 1 {
		t.Errorf("queue pulled past the last chunk")
	}
}
