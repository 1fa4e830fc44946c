package chunkio

import "fmt"

// FileChunk is an immutable byte range of the source file handed to the
// decode pipeline. Chunks delivered to a single session are contiguous and
// non-overlapping.
type FileChunk struct {
	Data          []byte // Raw bytes of this range
	StartPosition uint64 // Absolute file offset of the first byte
	EndPosition   uint64 // Absolute file offset one past the last byte
	IsLast        bool   // True for the final chunk of the file
}

// Len returns the number of bytes in the chunk.
func (c *FileChunk) Len() int {
	return len(c.Data)
}

// Validate checks the chunk range invariant: EndPosition - StartPosition
// must equal the data length.
func (c *FileChunk) Validate() error {
	if c.EndPosition < c.StartPosition {
		return fmt.Errorf("chunk range inverted: start=%d end=%d", c.StartPosition, c.EndPosition)
	}
	if c.EndPosition-c.StartPosition != uint64(len(c.Data)) {
		return fmt.Errorf("chunk range/data mismatch: range=%d data=%d",
			c.EndPosition-c.StartPosition, len(c.Data))
	}
	return nil
}
