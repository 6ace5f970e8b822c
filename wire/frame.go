package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameSize caps the declared body length of a single frame. Anything
// larger is a framing error fatal to the connection.
const MaxFrameSize = 1 << 20

// Framing errors
var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrBadFrameLen   = errors.New("malformed frame length")
)

// WriteFrame writes one uvarint-length-prefixed frame. An empty body still
// produces a one-byte frame (the zero-length varint).
func WriteFrame(w io.Writer, body []byte) error {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(body)))
	if _, err := w.Write(hdr[:n]); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return errors.Wrap(err, "write frame body")
}

// ReadFrame reads one frame. The length prefix is read a byte at a time so
// no body bytes are consumed past the header; the declared length is checked
// against MaxFrameSize before anything is allocated. A stream that closes
// mid-frame yields an unexpected-EOF framing error.
func ReadFrame(r io.Reader) ([]byte, error) {
	length, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "declared %d bytes", length)
	}
	if length == 0 {
		return nil, nil
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "read frame body")
	}
	return body, nil
}

func readUvarint(r io.Reader) (uint64, error) {
	var x uint64
	var s uint
	var b [1]byte
	for i := 0; i < binary.MaxVarintLen64; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, errors.Wrap(err, "read frame header")
		}
		if b[0] < 0x80 {
			if i == binary.MaxVarintLen64-1 && b[0] > 1 {
				return 0, ErrBadFrameLen
			}
			return x | uint64(b[0])<<s, nil
		}
		x |= uint64(b[0]&0x7f) << s
		s += 7
	}
	return 0, ErrBadFrameLen
}
