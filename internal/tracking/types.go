package tracking

import "time"

// Session outcomes as stored in the database.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// SessionRecord is one decode session's outcome as stored in the tracking
// database.
type SessionRecord struct {
	ID           int64
	Timestamp    time.Time
	FilePath     string
	Format       string
	Codec        string
	SampleRate   uint32
	Channels     uint32
	Duration     time.Duration
	ChunksRead   int
	AudioChunks  int
	Truncations  int
	PreciseIndex bool
	Outcome      string
	Error        string
	Elapsed      time.Duration
}

// SessionStats aggregates decode sessions for the stats command.
type SessionStats struct {
	TotalSessions     int
	Completed         int
	Cancelled         int
	Failed            int
	TotalAudioChunks  int
	TotalTruncations  int
	EstimatedIndexes  int // sessions that fell back to an estimated index
	SessionsByFormat  map[string]int
	TotalDecodedAudio time.Duration
}
