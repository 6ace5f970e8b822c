package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Huginntech/tmkms/types"
)

const (
	logFilePerm = 0600
	logDirPerm  = 0700

	recordHeaderSize = 8
	maxRecordSize    = 4096

	// defaultMaxLogSize triggers rotation. Sign records are ~50 bytes, so
	// this retains on the order of a hundred thousand signs per segment.
	defaultMaxLogSize = 8 * 1024 * 1024

	oldSuffix = ".old"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Errors
var (
	ErrLogClosed     = errors.New("sign log is closed")
	ErrRecordTooBig  = errors.New("sign log record exceeds maximum size")
	errCorruptRecord = errors.New("corrupt sign log record")
)

// Record is one authorized sign: the coordinate and the fingerprint of the
// canonical sign bytes.
type Record struct {
	Height        int64
	Round         int32
	Step          int8
	SignBytesHash types.Hash
}

// SignLog is the append-only per-chain log of authorized signs.
type SignLog struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	size    int64
	maxSize int64
	last    *Record
	closed  bool
}

// Open opens (or creates) the sign log for one chain under dir and replays
// it to recover the last recorded coordinate.
func Open(dir string, chainID types.ChainID) (*SignLog, error) {
	return OpenWithMaxSize(dir, chainID, defaultMaxLogSize)
}

// OpenWithMaxSize is Open with an explicit rotation threshold.
func OpenWithMaxSize(dir string, chainID types.ChainID, maxSize int64) (*SignLog, error) {
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return nil, errors.Wrap(err, "create sign log directory")
	}
	path := filepath.Join(dir, chainID.String()+"_sign.log")

	last, err := replayFile(path)
	if err != nil {
		return nil, err
	}
	if last == nil {
		// Fresh or empty log: the rotated segment may still hold the tail.
		if last, err = replayFile(path + oldSuffix); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
	if err != nil {
		return nil, errors.Wrap(err, "open sign log")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat sign log")
	}
	return &SignLog{
		path:    path,
		file:    file,
		size:    info.Size(),
		maxSize: maxSize,
		last:    last,
	}, nil
}

// Last returns the most recent record, or nil for an empty log.
func (l *SignLog) Last() *Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return nil
	}
	rec := *l.last
	return &rec
}

// Append durably writes one record. The write is synced before returning;
// a record that Append accepted survives a crash.
func (l *SignLog) Append(rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	if err := l.appendLocked(rec); err != nil {
		return err
	}
	if l.size > l.maxSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	cp := *rec
	l.last = &cp
	return nil
}

// Close releases the underlying file.
func (l *SignLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

func (l *SignLog) appendLocked(rec *Record) error {
	payload := marshalRecord(rec)
	if len(payload) > maxRecordSize {
		return ErrRecordTooBig
	}
	frame := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(payload, crcTable))
	copy(frame[recordHeaderSize:], payload)

	if _, err := l.file.Write(frame); err != nil {
		return errors.Wrap(err, "append sign log record")
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "sync sign log")
	}
	l.size += int64(len(frame))
	return nil
}

func (l *SignLog) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return errors.Wrap(err, "close sign log for rotation")
	}
	if err := os.Rename(l.path, l.path+oldSuffix); err != nil {
		return errors.Wrap(err, "rotate sign log")
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
	if err != nil {
		return errors.Wrap(err, "open rotated sign log")
	}
	l.file = file
	l.size = 0
	return nil
}

func marshalRecord(rec *Record) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(rec.Height))
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(uint32(rec.Round)))
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(uint8(rec.Step)))
	buf = protowire.AppendTag(buf, 4, protowire.BytesType)
	buf = protowire.AppendBytes(buf, rec.SignBytesHash)
	return buf
}

func unmarshalRecord(data []byte) (*Record, error) {
	rec := &Record{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			rec.Height = int64(v)
			data = data[m:]
		case num == 2 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			rec.Round = int32(v)
			data = data[m:]
		case num == 3 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			rec.Step = int8(v)
			data = data[m:]
		case num == 4 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			rec.SignBytesHash = append(types.Hash(nil), v...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	return rec, nil
}

// replayFile scans a log file and returns its last intact record. A missing
// file yields nil; a corrupt or torn tail stops the scan at the last good
// record rather than failing.
func replayFile(path string) (*Record, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "open sign log for replay")
	}
	defer file.Close()

	var last *Record
	var hdr [recordHeaderSize]byte
	for {
		if _, err := io.ReadFull(file, hdr[:]); err != nil {
			// EOF here means a clean end; a partial header is a torn tail.
			break
		}
		length := binary.LittleEndian.Uint32(hdr[0:4])
		wantCRC := binary.LittleEndian.Uint32(hdr[4:8])
		if length > maxRecordSize {
			break
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			break
		}
		if crc32.Checksum(payload, crcTable) != wantCRC {
			break
		}
		rec, err := unmarshalRecord(payload)
		if err != nil {
			break
		}
		last = rec
	}
	return last, nil
}
