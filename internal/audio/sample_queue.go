package audio

import (
	"context"

	"sonix.click/internal/decode"
)

// sampleQueue adapts a channel of decoded chunks into fixed-size sample
// reads for a device callback. Not safe for concurrent use; malgo invokes
// the data callback from a single thread.
type sampleQueue struct {
	chunks    <-chan decode.AudioChunk
	pending   []float32
	exhausted bool
}

func newSampleQueue(chunks <-chan decode.AudioChunk) *sampleQueue {
	return &sampleQueue{chunks: chunks}
}

// Fill copies up to len(out) samples into out, pulling chunks off the
// channel as the pending buffer drains. It returns the number of samples
// written and whether more audio may follow. A cancelled ctx, a closed
// channel, or a chunk marked last all end the stream.
func (q *sampleQueue) Fill(ctx context.Context, out []float32) (int, bool) {
	written := 0
	for written < len(out) {
		if len(q.pending) == 0 {
			if q.exhausted {
				break
			}
			select {
			case <-ctx.Done():
				q.exhausted = true
			case chunk, ok := <-q.chunks:
				if !ok {
					q.exhausted = true
					continue
				}
				q.pending = chunk.Samples
				if chunk.IsLast {
					q.exhausted = true
				}
			}
			continue
		}

		n := copy(out[written:], q.pending)
		q.pending = q.pending[n:]
		written += n
	}

	return written, !q.done()
}

func (q *sampleQueue) done() bool {
	return q.exhausted && len(q.pending) == 0
}
