package mp4

import (
	"encoding/binary"
	"errors"
	"testing"
)

// box builds a size-prefixed box with the given 4-character tag.
func box(tag string, content []byte) []byte {
	out := make([]byte, 8+len(content))
	binary.BigEndian.PutUint32(out, uint32(8+len(content)))
	copy(out[4:8], tag)
	copy(out[8:], content)
	return out
}

// fullBox prepends a version byte and zero flags to box content.
func fullBox(tag string, version byte, content []byte) []byte {
	full := append([]byte{version, 0, 0, 0}, content...)
	return box(tag, full)
}

func be32(v uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, v)
	return out
}

func be16(v uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, v)
	return out
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestParseBoxHeader(t *testing.T) {
	ftyp := box("ftyp", concat([]byte("isom"), be32(0x200), []byte("isomiso2mp41mp42")))

	header, err := ParseBoxHeader(ftyp)
	if err != nil {
		t.Fatalf("ParseBoxHeader failed: %v", err)
	}
	if header.Size != 32 {
		t.Errorf("size = %d, want 32", header.Size)
	}
	if header.Type != BoxTypeFtyp {
		t.Errorf("type = %08x, want ftyp", header.Type)
	}
	if header.HeaderSize != 8 {
		t.Errorf("header size = %d, want 8", header.HeaderSize)
	}
	if header.TypeString() != "ftyp" {
		t.Errorf("type string = %q, want ftyp", header.TypeString())
	}
}

func TestParseBoxHeaderShortBuffer(t *testing.T) {
	data := box("ftyp", []byte("isom"))

	_, err := ParseBoxHeader(data[:4])
	if !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer for 4-byte input, got %v", err)
	}
}

func TestParseBoxHeader64BitSize(t *testing.T) {
	// size field 1 switches to the 64-bit size after the tag
	content := []byte("payload-")
	data := make([]byte, 16+len(content))
	binary.BigEndian.PutUint32(data, 1)
	copy(data[4:8], "mdat")
	binary.BigEndian.PutUint64(data[8:], uint64(16+len(content)))
	copy(data[16:], content)

	header, err := ParseBoxHeader(data)
	if err != nil {
		t.Fatalf("ParseBoxHeader failed: %v", err)
	}
	if header.Size != uint64(16+len(content)) {
		t.Errorf("size = %d, want %d", header.Size, 16+len(content))
	}
	if header.HeaderSize != 16 {
		t.Errorf("header size = %d, want 16", header.HeaderSize)
	}
}

func TestParseBoxHeaderZeroSize(t *testing.T) {
	data := make([]byte, 16)
	binary.BigEndian.PutUint32(data, 0)
	copy(data[4:8], "mdat")

	_, err := ParseBoxHeader(data)
	if !errors.Is(err, ErrUnsupportedSize) {
		t.Errorf("expected ErrUnsupportedSize, got %v", err)
	}
}

func TestParseBoxHeaderDeclaredSizeTooLarge(t *testing.T) {
	data := make([]byte, 16)
	binary.BigEndian.PutUint32(data, 1024) // declares more than the buffer holds
	copy(data[4:8], "moov")

	_, err := ParseBoxHeader(data)
	if !errors.Is(err, ErrInvalidBox) {
		t.Errorf("expected ErrInvalidBox, got %v", err)
	}
}

func TestFindBox(t *testing.T) {
	ftyp := box("ftyp", []byte("isom\x00\x00\x02\x00"))
	mdhd := fullBox("mdhd", 0, concat(be32(0), be32(0), be32(44100), be32(90000), be32(0)))
	data := concat(ftyp, mdhd)

	found := FindBox(data, BoxTypeFtyp)
	if found == nil {
		t.Fatal("ftyp box not found")
	}
	if len(found) != len(ftyp) {
		t.Errorf("ftyp box length = %d, want %d", len(found), len(ftyp))
	}

	found = FindBox(data, BoxTypeMdhd)
	if found == nil {
		t.Fatal("mdhd box not found")
	}
	if len(found) != len(mdhd) {
		t.Errorf("mdhd box length = %d, want %d", len(found), len(mdhd))
	}

	if FindBox(data, 0x12345678) != nil {
		t.Error("found nonexistent box type")
	}
}

func TestFindBoxStopsOnCorruptSize(t *testing.T) {
	good := box("free", []byte("xxxx"))
	corrupt := make([]byte, 12)
	binary.BigEndian.PutUint32(corrupt, 4096) // size exceeds the buffer
	copy(corrupt[4:8], "skip")
	target := box("mdhd", []byte("never-reached"))
	data := concat(good, corrupt, target)

	// The scan aborts at the corrupt box rather than misreading past it
	if FindBox(data, BoxTypeMdhd) != nil {
		t.Error("scan should stop at box with inconsistent size")
	}
	// Boxes before the corruption are still reachable
	if FindBox(data, 0x66726565) == nil { // 'free'
		t.Error("box before corruption should still be found")
	}
}

func TestReadBigEndianBounds(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}

	v32, err := readBE32(data, 0)
	if err != nil {
		t.Fatalf("readBE32 failed: %v", err)
	}
	if v32 != 0x01020304 {
		t.Errorf("readBE32 = %08x, want 01020304", v32)
	}

	v16, err := readBE16(data, 2)
	if err != nil {
		t.Fatalf("readBE16 failed: %v", err)
	}
	if v16 != 0x0304 {
		t.Errorf("readBE16 = %04x, want 0304", v16)
	}

	if _, err := readBE32(data, 1); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("readBE32 past end: expected ErrShortBuffer, got %v", err)
	}
	if _, err := readBE16(data, 3); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("readBE16 past end: expected ErrShortBuffer, got %v", err)
	}
	if _, err := readBE64(data, 0); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("readBE64 on 4 bytes: expected ErrShortBuffer, got %v", err)
	}
	if _, err := readBE32(data, -1); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("negative offset: expected ErrShortBuffer, got %v", err)
	}
}
