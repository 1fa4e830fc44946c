package mp4

import (
	"errors"
	"fmt"
)

// Box type tags (4-byte big-endian identifiers)
const (
	BoxTypeFtyp = 0x66747970 // 'ftyp'
	BoxTypeMoov = 0x6D6F6F76 // 'moov'
	BoxTypeTrak = 0x7472616B // 'trak'
	BoxTypeMdia = 0x6D646961 // 'mdia'
	BoxTypeMinf = 0x6D696E66 // 'minf'
	BoxTypeStbl = 0x7374626C // 'stbl'
	BoxTypeStsd = 0x73747364 // 'stsd'
	BoxTypeStts = 0x73747473 // 'stts'
	BoxTypeStsc = 0x73747363 // 'stsc'
	BoxTypeStsz = 0x7374737A // 'stsz'
	BoxTypeStco = 0x7374636F // 'stco'
	BoxTypeCo64 = 0x636F3634 // 'co64'
	BoxTypeMdhd = 0x6D646864 // 'mdhd'
	BoxTypeHdlr = 0x68646C72 // 'hdlr'
)

// Audio codec and handler tags
const (
	CodecTypeMp4a   = 0x6D703461 // 'mp4a'
	HandlerTypeSoun = 0x736F756E // 'soun'
)

// Common parsing errors
var (
	ErrShortBuffer      = errors.New("read past end of buffer")
	ErrInvalidBox       = errors.New("invalid box structure")
	ErrUnsupportedSize  = errors.New("box size extends to end of file")
)

// readBE16 reads a 16-bit big-endian integer at offset, returning
// ErrShortBuffer when the read would run past the end of data.
func readBE16(data []byte, offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(data) {
		return 0, fmt.Errorf("%w: be16 at offset %d, buffer %d", ErrShortBuffer, offset, len(data))
	}
	return uint16(data[offset])<<8 | uint16(data[offset+1]), nil
}

// readBE32 reads a 32-bit big-endian integer at offset.
func readBE32(data []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(data) {
		return 0, fmt.Errorf("%w: be32 at offset %d, buffer %d", ErrShortBuffer, offset, len(data))
	}
	return uint32(data[offset])<<24 | uint32(data[offset+1])<<16 |
		uint32(data[offset+2])<<8 | uint32(data[offset+3]), nil
}

// readBE64 reads a 64-bit big-endian integer at offset.
func readBE64(data []byte, offset int) (uint64, error) {
	hi, err := readBE32(data, offset)
	if err != nil {
		return 0, err
	}
	lo, err := readBE32(data, offset+4)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// BoxHeader describes a size-prefixed, 4-byte-tagged container box.
type BoxHeader struct {
	Size       uint64 // Total box size including the header
	Type       uint32 // 4-byte box tag
	HeaderSize int    // 8 for 32-bit sizes, 16 for 64-bit
}

// TypeString renders the 4-byte tag as ASCII for logging.
func (h BoxHeader) TypeString() string {
	return string([]byte{
		byte(h.Type >> 24), byte(h.Type >> 16), byte(h.Type >> 8), byte(h.Type),
	})
}

// ParseBoxHeader parses a box header at the start of data. Boxes with a
// 64-bit size (size field == 1) are supported; size field == 0 (box extends
// to end of file) is not. A declared size smaller than the header or larger
// than the remaining buffer is rejected.
func ParseBoxHeader(data []byte) (BoxHeader, error) {
	var header BoxHeader

	size32, err := readBE32(data, 0)
	if err != nil {
		return header, err
	}
	boxType, err := readBE32(data, 4)
	if err != nil {
		return header, err
	}

	header.Type = boxType
	header.Size = uint64(size32)
	header.HeaderSize = 8

	switch size32 {
	case 1:
		size64, err := readBE64(data, 8)
		if err != nil {
			return header, err
		}
		header.Size = size64
		header.HeaderSize = 16
	case 0:
		return header, fmt.Errorf("%w: type %s", ErrUnsupportedSize, header.TypeString())
	}

	if header.Size < uint64(header.HeaderSize) || header.Size > uint64(len(data)) {
		return header, fmt.Errorf("%w: type %s declares size %d, buffer %d",
			ErrInvalidBox, header.TypeString(), header.Size, len(data))
	}

	return header, nil
}

// FindBox scans a sequence of sibling boxes for the first box of the given
// type and returns the bytes of the whole box (header included). Unknown
// boxes are skipped using their declared size. A box whose declared size is
// inconsistent with the remaining buffer stops the scan; boxes already
// walked are unaffected.
func FindBox(data []byte, boxType uint32) []byte {
	remaining := data

	for len(remaining) >= 8 {
		header, err := ParseBoxHeader(remaining)
		if err != nil {
			return nil
		}

		if header.Type == boxType {
			return remaining[:header.Size]
		}

		remaining = remaining[header.Size:]
	}

	return nil
}

// payload returns the content bytes of a box (declared size minus header).
func payload(box []byte, header BoxHeader) []byte {
	return box[header.HeaderSize:header.Size]
}
