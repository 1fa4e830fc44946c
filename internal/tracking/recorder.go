package tracking

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Recorder writes and reads decode session records.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a recorder over an open tracking database.
func NewRecorder(db *sql.DB) *Recorder {
	slog.Debug("creating new session recorder")
	return &Recorder{db: db}
}

// RecordSession inserts one session record and returns its row id.
func (r *Recorder) RecordSession(record *SessionRecord) (int64, error) {
	slog.Debug("recording decode session",
		"file_path", record.FilePath,
		"format", record.Format,
		"outcome", record.Outcome)

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	result, err := r.db.Exec(`
INSERT INTO decode_sessions
    (timestamp, file_path, format, codec, sample_rate, channels, duration_ms,
     chunks_read, audio_chunks, truncations, precise_index, outcome, error, elapsed_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Timestamp.Unix(),
		record.FilePath,
		record.Format,
		record.Codec,
		record.SampleRate,
		record.Channels,
		record.Duration.Milliseconds(),
		record.ChunksRead,
		record.AudioChunks,
		record.Truncations,
		boolToInt(record.PreciseIndex),
		record.Outcome,
		record.Error,
		record.Elapsed.Milliseconds(),
	)
	if err != nil {
		slog.Error("failed to record session", "error", err)
		return 0, fmt.Errorf("failed to record session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read session row id: %w", err)
	}

	slog.Debug("decode session recorded", "id", id)
	return id, nil
}

// QuerySessions returns session records matching the filter, newest first
// unless the filter orders otherwise.
func (r *Recorder) QuerySessions(filter *QueryFilter) ([]SessionRecord, error) {
	where, args := filter.BuildWhereClause()

	query := `
SELECT id, timestamp, file_path, format, codec, sample_rate, channels,
       duration_ms, chunks_read, audio_chunks, truncations, precise_index,
       outcome, error, elapsed_ms
FROM decode_sessions`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + filter.orderClause()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Offset)

	slog.Debug("querying sessions", "where", where, "limit", limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		slog.Error("session query failed", "error", err)
		return nil, fmt.Errorf("session query failed: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var ts, durationMs, elapsedMs int64
		var precise int
		var codec, errText sql.NullString

		err := rows.Scan(&rec.ID, &ts, &rec.FilePath, &rec.Format, &codec,
			&rec.SampleRate, &rec.Channels, &durationMs, &rec.ChunksRead,
			&rec.AudioChunks, &rec.Truncations, &precise, &rec.Outcome,
			&errText, &elapsedMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		rec.Timestamp = time.Unix(ts, 0)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		rec.PreciseIndex = precise == 1
		rec.Codec = codec.String
		rec.Error = errText.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Stats aggregates the sessions matching the filter.
func (r *Recorder) Stats(filter *QueryFilter) (*SessionStats, error) {
	// Aggregation reuses the filtered rows rather than a second SQL pass;
	// session counts stay small enough for that to be fine
	unlimited := *filter
	unlimited.Limit = maxStatsRows
	unlimited.Offset = 0

	records, err := r.QuerySessions(&unlimited)
	if err != nil {
		return nil, err
	}

	stats := &SessionStats{
		SessionsByFormat: make(map[string]int),
	}
	for _, rec := range records {
		stats.TotalSessions++
		switch rec.Outcome {
		case OutcomeCompleted:
			stats.Completed++
		case OutcomeCancelled:
			stats.Cancelled++
		case OutcomeFailed:
			stats.Failed++
		}
		stats.TotalAudioChunks += rec.AudioChunks
		stats.TotalTruncations += rec.Truncations
		if !rec.PreciseIndex {
			stats.EstimatedIndexes++
		}
		stats.SessionsByFormat[rec.Format]++
		if rec.Outcome == OutcomeCompleted {
			stats.TotalDecodedAudio += rec.Duration
		}
	}

	slog.Debug("computed session stats",
		"total", stats.TotalSessions,
		"completed", stats.Completed,
		"failed", stats.Failed)

	return stats, nil
}

const (
	defaultQueryLimit = 20
	maxStatsRows      = 100000
)

// orderClause returns a safe ORDER BY expression for the filter.
func (q *QueryFilter) orderClause() string {
	column := "timestamp"
	switch strings.ToLower(q.OrderBy) {
	case "", "timestamp", "time":
		column = "timestamp"
	case "duration":
		column = "duration_ms"
	case "elapsed":
		column = "elapsed_ms"
	case "format":
		column = "format"
	default:
		slog.Warn("unknown order field, using timestamp", "field", q.OrderBy)
	}
	if q.OrderAsc {
		return column + " ASC"
	}
	return column + " DESC"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
