package tracking

import (
	"database/sql"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRecord(path, format, outcome string) *SessionRecord {
	return &SessionRecord{
		FilePath:     path,
		Format:       format,
		Codec:        "aac",
		SampleRate:   44100,
		Channels:     2,
		Duration:     3 * time.Second,
		ChunksRead:   12,
		AudioChunks:  10,
		PreciseIndex: true,
		Outcome:      outcome,
		Elapsed:      150 * time.Millisecond,
	}
}

func TestRecordAndQuerySession(t *testing.T) {
	recorder := NewRecorder(openTestDB(t))

	id, err := recorder.RecordSession(sampleRecord("/music/a.mp3", "MP3", OutcomeCompleted))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if id == 0 {
		t.Error("expected nonzero row id")
	}

	records, err := recorder.QuerySessions(&QueryFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.FilePath != "/music/a.mp3" || rec.Format != "MP3" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Duration != 3*time.Second {
		t.Errorf("duration = %v, want 3s", rec.Duration)
	}
	if !rec.PreciseIndex {
		t.Error("precise index flag lost in round trip")
	}
	if rec.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q", rec.Outcome)
	}
}

func TestRecordRejectsInvalidOutcome(t *testing.T) {
	recorder := NewRecorder(openTestDB(t))
	if _, err := recorder.RecordSession(sampleRecord("/x.mp3", "MP3", "exploded")); err == nil {
		t.Error("expected schema check to reject unknown outcome")
	}
}

func TestQuerySessionsFilters(t *testing.T) {
	recorder := NewRecorder(openTestDB(t))

	seed := []*SessionRecord{
		sampleRecord("/music/a.mp3", "MP3", OutcomeCompleted),
		sampleRecord("/music/b.wav", "WAV", OutcomeCompleted),
		sampleRecord("/podcasts/c.m4a", "MP4", OutcomeFailed),
		sampleRecord("/music/d.mp3", "MP3", OutcomeCancelled),
	}
	for _, rec := range seed {
		if _, err := recorder.RecordSession(rec); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter QueryFilter
		want   int
	}{
		{"by format", QueryFilter{Format: "mp3"}, 2},
		{"by outcome", QueryFilter{Outcome: "failed"}, 1},
		{"by path substring", QueryFilter{PathContains: "podcasts"}, 1},
		{"format and outcome", QueryFilter{Format: "MP3", Outcome: OutcomeCancelled}, 1},
		{"no match", QueryFilter{Format: "AIFF"}, 0},
		{"limit", QueryFilter{Limit: 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := recorder.QuerySessions(&tt.filter)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("got %d records, want %d", len(records), tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	recorder := NewRecorder(openTestDB(t))

	completed := sampleRecord("/music/a.mp3", "MP3", OutcomeCompleted)
	failed := sampleRecord("/music/b.m4a", "MP4", OutcomeFailed)
	failed.PreciseIndex = false
	failed.Truncations = 2
	cancelled := sampleRecord("/music/c.mp3", "MP3", OutcomeCancelled)

	for _, rec := range []*SessionRecord{completed, failed, cancelled} {
		if _, err := recorder.RecordSession(rec); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	stats, err := recorder.Stats(&QueryFilter{})
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	if stats.TotalSessions != 3 {
		t.Errorf("total = %d, want 3", stats.TotalSessions)
	}
	if stats.Completed != 1 || stats.Failed != 1 || stats.Cancelled != 1 {
		t.Errorf("outcome counts wrong: %+v", stats)
	}
	if stats.SessionsByFormat["MP3"] != 2 || stats.SessionsByFormat["MP4"] != 1 {
		t.Errorf("format counts wrong: %v", stats.SessionsByFormat)
	}
	if stats.EstimatedIndexes != 1 {
		t.Errorf("estimated indexes = %d, want 1", stats.EstimatedIndexes)
	}
	if stats.TotalTruncations != 2 {
		t.Errorf("truncations = %d, want 2", stats.TotalTruncations)
	}
	// Only completed sessions count toward decoded audio
	if stats.TotalDecodedAudio != 3*time.Second {
		t.Errorf("decoded audio = %v, want 3s", stats.TotalDecodedAudio)
	}
}
