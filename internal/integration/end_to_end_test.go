package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonix.click/internal/decode"
	"sonix.click/internal/memgov"
	"sonix.click/internal/tracking"
	"sonix.click/internal/worker"
)

// fixedFrameDecoder decodes fixed-size fake frames so the pipeline can be
// exercised without real codec data.
type fixedFrameDecoder struct {
	frameSize int
}

func (d *fixedFrameDecoder) DecodeAll(data []byte) decode.DecodeResult {
	frames := len(data) / d.frameSize
	if frames == 0 {
		return decode.DecodeResult{Status: decode.StatusNeedMoreData}
	}
	return decode.DecodeResult{
		Status:        decode.StatusDecoded,
		Samples:       make([]float32, frames*1152*2),
		SampleRate:    44100,
		Channels:      2,
		BytesConsumed: frames * d.frameSize,
	}
}

func (d *fixedFrameDecoder) CanDecode(string) bool { return true }
func (d *fixedFrameDecoder) FormatName() string    { return "MP3" }

func writeFakeMp3(t *testing.T, fs afero.Fs, path string, size int) {
	t.Helper()
	data := make([]byte, size)
	data[0] = 0xFF
	data[1] = 0xFB
	require.NoError(t, afero.WriteFile(fs, path, data, 0644))
}

// collectTerminal drains pool messages for one request until its terminal
// response arrives.
func collectTerminal(t *testing.T, pool *worker.Pool, requestID uuid.UUID) ([]worker.ProgressUpdate, worker.ProcessingResponse) {
	t.Helper()

	var updates []worker.ProgressUpdate
	timeout := time.After(10 * time.Second)
	for {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for terminal response")
		case msg, ok := <-pool.Messages():
			require.True(t, ok, "message channel closed before terminal response")
			if msg.Request() != requestID {
				continue
			}
			switch m := msg.(type) {
			case worker.ProgressUpdate:
				updates = append(updates, m)
			case worker.ProcessingResponse:
				return updates, m
			}
		}
	}
}

// TestDecodeToTrackingPipeline drives a file through the worker pool and
// records the outcome in the tracking database, the way the decode command
// wires the two together.
func TestDecodeToTrackingPipeline(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFakeMp3(t, fs, "/audio/test.mp3", 128*1024)

	governor := memgov.New(8 * 1024 * 1024)
	pool := worker.NewPool(worker.PoolOptions{
		Size:     1,
		Fs:       fs,
		Governor: governor,
		Decoder:  &fixedFrameDecoder{frameSize: 4 * 1024},
	})
	defer pool.Shutdown()

	db, err := tracking.NewDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()
	recorder := tracking.NewRecorder(db)

	started := time.Now()
	requestID, err := pool.Submit(worker.ProcessingRequest{FilePath: "/audio/test.mp3"})
	require.NoError(t, err)

	updates, response := collectTerminal(t, pool, requestID)
	require.NoError(t, response.Err)
	require.NotNil(t, response.Result)
	require.True(t, response.IsComplete)

	result := response.Result
	assert.Equal(t, uint32(44100), result.SampleRate)
	assert.Equal(t, uint32(2), result.Channels)
	assert.NotEmpty(t, result.Samples)
	assert.NotEmpty(t, updates)
	require.NotNil(t, result.Metadata)

	format, _ := result.Metadata.Extra["format"].(string)
	assert.Equal(t, "MP3", format)

	// Record the session the way the CLI does after a terminal response
	record := &tracking.SessionRecord{
		FilePath:     "/audio/test.mp3",
		Format:       format,
		SampleRate:   result.SampleRate,
		Channels:     result.Channels,
		Duration:     result.Duration,
		ChunksRead:   result.ChunksRead,
		AudioChunks:  result.ChunksAudio,
		PreciseIndex: result.Metadata.HasPreciseIndex,
		Outcome:      tracking.OutcomeCompleted,
		Elapsed:      time.Since(started),
	}
	_, err = recorder.RecordSession(record)
	require.NoError(t, err)

	stats, err := recorder.Stats(&tracking.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.SessionsByFormat["MP3"])

	// Everything released once the decode finished
	assert.Equal(t, uint64(0), governor.GetSnapshot().Used)
}

// TestFailedDecodeIsTracked verifies the failure path lands in the database
// with a failed outcome and the error message preserved.
func TestFailedDecodeIsTracked(t *testing.T) {
	fs := afero.NewMemMapFs()

	pool := worker.NewPool(worker.PoolOptions{
		Size:    1,
		Fs:      fs,
		Decoder: &fixedFrameDecoder{frameSize: 4 * 1024},
	})
	defer pool.Shutdown()

	db, err := tracking.NewDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()
	recorder := tracking.NewRecorder(db)

	requestID, err := pool.Submit(worker.ProcessingRequest{FilePath: "/missing.mp3"})
	require.NoError(t, err)

	_, response := collectTerminal(t, pool, requestID)
	require.Error(t, response.Err)
	assert.Nil(t, response.Result)

	_, err = recorder.RecordSession(&tracking.SessionRecord{
		FilePath: "/missing.mp3",
		Outcome:  tracking.OutcomeFailed,
		Error:    response.Err.Error(),
	})
	require.NoError(t, err)

	records, err := recorder.QuerySessions(&tracking.QueryFilter{Outcome: tracking.OutcomeFailed})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/missing.mp3", records[0].FilePath)
	assert.NotEmpty(t, records[0].Error)
}
