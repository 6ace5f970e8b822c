// Package audit retains rejected double-sign attempts.
//
// A safety rejection is the event class this daemon exists to produce
// instead of a slashable signature, so rejections are kept queryable rather
// than reduced to a log line that scrolls away. The recorder holds a
// bounded, deduplicated window of attempts per chain.
package audit

import (
	"sync"
	"time"

	"github.com/Huginntech/tmkms/types"
)

// MaxAttemptsPerChain bounds memory: with one record per rejected request
// this covers far more history than any operator investigation needs.
const MaxAttemptsPerChain = 4096

// Attempt is one rejected sign request.
type Attempt struct {
	Time          time.Time
	Height        int64
	Round         int32
	Step          int8
	SignBytesHash types.Hash
	Reason        string
}

// Recorder stores attempts per chain.
type Recorder struct {
	mu       sync.RWMutex
	byChain  map[types.ChainID][]Attempt
	seen     map[types.ChainID]map[string]struct{}
	maxPerCh int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		byChain:  make(map[types.ChainID][]Attempt),
		seen:     make(map[types.ChainID]map[string]struct{}),
		maxPerCh: MaxAttemptsPerChain,
	}
}

// Record stores one rejected attempt. Exact repeats (same coordinate, same
// fingerprint, same reason) are deduplicated so a retry loop on the
// validator side cannot flood the window.
func (r *Recorder) Record(chainID types.ChainID, a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := attemptKey(a)
	seen, ok := r.seen[chainID]
	if !ok {
		seen = make(map[string]struct{})
		r.seen[chainID] = seen
	}
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}

	attempts := append(r.byChain[chainID], a)
	if len(attempts) > r.maxPerCh {
		// Drop the oldest tenth in one move so pruning is not per-record.
		drop := r.maxPerCh / 10
		for _, old := range attempts[:drop] {
			delete(seen, attemptKey(old))
		}
		attempts = append(attempts[:0], attempts[drop:]...)
	}
	r.byChain[chainID] = attempts
}

// Attempts returns a copy of the retained attempts for one chain.
func (r *Recorder) Attempts(chainID types.ChainID) []Attempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts := r.byChain[chainID]
	out := make([]Attempt, len(attempts))
	copy(out, attempts)
	return out
}

func attemptKey(a Attempt) string {
	buf := make([]byte, 0, 64)
	buf = appendInt64(buf, a.Height)
	buf = append(buf, '/')
	buf = appendInt64(buf, int64(a.Round))
	buf = append(buf, '/')
	buf = appendInt64(buf, int64(a.Step))
	buf = append(buf, '/')
	buf = append(buf, a.SignBytesHash...)
	buf = append(buf, '/')
	buf = append(buf, a.Reason...)
	return string(buf)
}

func appendInt64(buf []byte, v int64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}
