package worker

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"sonix.click/internal/decode"
)

// Pool errors
var (
	ErrPoolClosed     = errors.New("worker pool is closed")
	ErrQueueFull      = errors.New("worker pool queue is full")
	ErrUnknownRequest = errors.New("no task found for request id")
	ErrCancelled      = errors.New("processing cancelled")
	ErrUnresponsive   = errors.New("worker unresponsive")
)

// Message is any protocol message flowing from the pool to the caller.
// All messages carry their own id and timestamp plus the request id that
// threads one task's messages together.
type Message interface {
	MessageID() uuid.UUID
	Request() uuid.UUID
	SentAt() time.Time
}

// envelope carries the fields shared by every message.
type envelope struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	Timestamp time.Time
}

func (e envelope) MessageID() uuid.UUID { return e.ID }
func (e envelope) Request() uuid.UUID   { return e.RequestID }
func (e envelope) SentAt() time.Time    { return e.Timestamp }

func newEnvelope(requestID uuid.UUID) envelope {
	return envelope{
		ID:        uuid.New(),
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// ProcessingRequest asks the pool to decode one file end-to-end.
type ProcessingRequest struct {
	FilePath      string
	ChunkSize     int            // 0 means use the format's optimal size
	SeekTo        *time.Duration // optional initial seek
	StreamResults bool           // stream AudioChunks in ProgressUpdates
}

// ProgressUpdate reports decode progress for one request. PartialData is
// set only when the request asked for streamed results.
type ProgressUpdate struct {
	envelope
	Progress      float64 // in [0, 1]
	StatusMessage string
	PartialData   *decode.AudioChunk
}

// TaskResult is the final outcome of a completed decode task.
type TaskResult struct {
	Samples     []float32 // empty when results were streamed
	SampleRate  uint32
	Channels    uint32
	Duration    time.Duration
	ChunksRead  int
	ChunksAudio int
	Metadata    *decode.SessionMetadata
}

// ProcessingResponse is the single terminal message for one request. It
// carries either a result or an error, never both. Partial results already
// streamed before an error stay valid.
type ProcessingResponse struct {
	envelope
	Result     *TaskResult
	Err        error
	IsComplete bool
}

// HealthCheckResponse reports one worker's health as of the last probe
// cycle. An unresponsive worker is reported with Healthy false before the
// pool replaces it.
type HealthCheckResponse struct {
	WorkerID    uuid.UUID
	Healthy     bool
	ActiveTasks int
	MemoryUsed  uint64 // governor usage at probe time, 0 without a governor
	Timestamp   time.Time
}
