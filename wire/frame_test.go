package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	body := []byte("remote signer frame")

	var buf bytes.Buffer
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("frame body mismatch")
	}
	if buf.Len() != 0 {
		t.Errorf("%d trailing bytes after frame", buf.Len())
	}
}

func TestFrameEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	// An empty body is still a frame: the single zero length byte.
	if !bytes.Equal(buf.Bytes(), []byte{0x00}) {
		t.Errorf("expected [0x00], got %x", buf.Bytes())
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty body, got %d bytes", len(got))
	}
}

func TestFrameOversizedRejected(t *testing.T) {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(hdr[:n]))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("full message body")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFrame(bytes.NewReader(truncated))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected unexpected EOF, got %v", err)
	}
}

func TestFrameBadVarint(t *testing.T) {
	// Ten continuation bytes never terminate a uvarint.
	bad := bytes.Repeat([]byte{0x80}, 10)
	_, err := ReadFrame(bytes.NewReader(bad))
	if !errors.Is(err, ErrBadFrameLen) {
		t.Errorf("expected ErrBadFrameLen, got %v", err)
	}
}
