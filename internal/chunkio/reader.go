package chunkio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

// Common reader errors
var (
	ErrFileNotFound = errors.New("audio file not found")
	ErrEmptyFile    = errors.New("audio file is empty")
	ErrClosed       = errors.New("chunk reader is closed")
)

// Reader reads a source file as a sequence of contiguous byte-range chunks.
// It supports random access for seeking and tracks the current read position.
type Reader struct {
	fs       afero.Fs
	file     afero.File
	path     string
	size     uint64
	position uint64
	closed   bool
}

// Open opens the file at path for chunked reading using the given filesystem.
func Open(fs afero.Fs, path string) (*Reader, error) {
	slog.Debug("opening file for chunked reading", "path", path)

	exists, err := afero.Exists(fs, path)
	if err != nil {
		slog.Error("failed to check file existence", "path", path, "error", err)
		return nil, fmt.Errorf("failed to check file existence: %w", err)
	}
	if !exists {
		slog.Error("audio file not found", "path", path)
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	file, err := fs.Open(path)
	if err != nil {
		slog.Error("failed to open audio file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		slog.Error("failed to stat audio file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}

	if info.Size() == 0 {
		file.Close()
		slog.Error("audio file is empty", "path", path)
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	slog.Debug("file opened for chunked reading",
		"path", path,
		"size_bytes", info.Size())

	return &Reader{
		fs:   fs,
		file: file,
		path: path,
		size: uint64(info.Size()),
	}, nil
}

// FileSize returns the total size of the underlying file in bytes.
func (r *Reader) FileSize() uint64 {
	return r.size
}

// Position returns the current sequential read position.
func (r *Reader) Position() uint64 {
	return r.position
}

// SetPosition moves the sequential read position, used after a seek.
// Positions past the end of the file are clamped.
func (r *Reader) SetPosition(offset uint64) {
	if offset > r.size {
		offset = r.size
	}
	slog.Debug("repositioning chunk reader",
		"path", r.path,
		"old_position", r.position,
		"new_position", offset)
	r.position = offset
}

// ReadNextChunk reads up to chunkSize bytes from the current position and
// advances it. The returned chunk has IsLast set when it reaches the end of
// the file.
func (r *Reader) ReadNextChunk(chunkSize int) (*FileChunk, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size: %d", chunkSize)
	}
	if r.position >= r.size {
		return nil, io.EOF
	}

	remaining := r.size - r.position
	toRead := uint64(chunkSize)
	if toRead > remaining {
		toRead = remaining
	}

	data := make([]byte, toRead)
	n, err := r.file.ReadAt(data, int64(r.position))
	if err != nil && err != io.EOF {
		slog.Error("chunk read failed",
			"path", r.path,
			"offset", r.position,
			"length", toRead,
			"error", err)
		return nil, fmt.Errorf("failed to read chunk at offset %d: %w", r.position, err)
	}

	chunk := &FileChunk{
		Data:          data[:n],
		StartPosition: r.position,
		EndPosition:   r.position + uint64(n),
		IsLast:        r.position+uint64(n) >= r.size,
	}
	r.position += uint64(n)

	slog.Debug("chunk read",
		"path", r.path,
		"start", chunk.StartPosition,
		"end", chunk.EndPosition,
		"is_last", chunk.IsLast)

	return chunk, nil
}

// ReadRange reads an arbitrary byte range without moving the sequential
// position. Reads past the end of the file are truncated.
func (r *Reader) ReadRange(offset uint64, length int) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if offset >= r.size {
		return nil, io.EOF
	}

	toRead := uint64(length)
	if offset+toRead > r.size {
		toRead = r.size - offset
	}

	data := make([]byte, toRead)
	n, err := r.file.ReadAt(data, int64(offset))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read range at offset %d: %w", offset, err)
	}

	return data[:n], nil
}

// EstimateRemainingChunks estimates how many chunks of chunkSize remain from
// the current position. Used for progress reporting.
func (r *Reader) EstimateRemainingChunks(chunkSize int) int {
	if chunkSize <= 0 || r.position >= r.size {
		return 0
	}
	remaining := r.size - r.position
	chunks := remaining / uint64(chunkSize)
	if remaining%uint64(chunkSize) != 0 {
		chunks++
	}
	return int(chunks)
}

// Close releases the underlying file. Close is idempotent.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	slog.Debug("closing chunk reader", "path", r.path)
	return r.file.Close()
}
