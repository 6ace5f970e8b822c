package privval

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Huginntech/tmkms/types"
	"github.com/Huginntech/tmkms/wal"
)

const (
	stateFilePerm = 0600
	stateDirPerm  = 0700
)

// stateFile is the JSON layout of the persisted sign state.
type stateFile struct {
	Height        int64  `json:"height"`
	Round         int32  `json:"round"`
	Step          int8   `json:"step"`
	SignBytesHash []byte `json:"sign_bytes_hash,omitempty"`
	Signature     []byte `json:"signature,omitempty"`
}

// ChainState is the safety guard for one chain: the in-memory copy of the
// persisted SignState plus the lock making check-sign-persist atomic.
type ChainState struct {
	mu      sync.Mutex
	chainID types.ChainID
	path    string
	state   SignState
	dirty   bool // state advanced in memory but not yet durably recorded
	log     *wal.SignLog
	logger  *zap.Logger
}

// LoadChainState loads (or initializes) the sign state for one chain from
// dir. A missing state file is recovered from the sign log when one is
// given and non-empty; otherwise the state initializes to the zero
// coordinate, which is logged loudly since it weakens protection after data
// loss. A corrupted state file fails the load outright.
func LoadChainState(dir string, chainID types.ChainID, log *wal.SignLog, logger *zap.Logger) (*ChainState, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, stateDirPerm); err != nil {
		return nil, errors.Wrap(err, "create state directory")
	}
	cs := &ChainState{
		chainID: chainID,
		path:    filepath.Join(dir, chainID.String()+"_priv_validator_state.json"),
		log:     log,
		logger:  logger.With(zap.String("chain_id", chainID.String())),
	}

	data, err := os.ReadFile(cs.path)
	switch {
	case os.IsNotExist(err):
		if rec := lastLogRecord(log); rec != nil {
			cs.state = SignState{
				Height:        rec.Height,
				Round:         rec.Round,
				Step:          rec.Step,
				SignBytesHash: rec.SignBytesHash,
			}
			cs.logger.Warn("state file missing; recovered coordinate from sign log",
				zap.Int64("height", rec.Height),
				zap.Int32("round", rec.Round),
				zap.Int8("step", rec.Step))
		} else {
			cs.logger.Warn("state file missing and no sign log records; initializing to zero coordinate")
		}
		if err := cs.persistLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errors.Wrap(err, "read state file")
	default:
		var sf stateFile
		if err := json.Unmarshal(data, &sf); err != nil {
			return nil, errors.Wrapf(ErrStateCorrupted, "%s: %v", cs.path, err)
		}
		cs.state = SignState{
			Height:        sf.Height,
			Round:         sf.Round,
			Step:          sf.Step,
			SignBytesHash: sf.SignBytesHash,
			Signature:     sf.Signature,
		}
	}
	return cs, nil
}

// ChainID returns the chain this guard protects.
func (cs *ChainState) ChainID() types.ChainID { return cs.chainID }

// Last returns a copy of the current sign state.
func (cs *ChainState) Last() SignState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// Sign runs one guarded signing operation as a single critical section:
// check the coordinate, invoke sign, durably persist the new state, and
// only then release the signature. On an exact repeat of the last signed
// message the cached signature is returned and sign is never invoked.
func (cs *ChainState) Sign(height int64, round int32, step int8, signBytesHash types.Hash, sign func() (types.Signature, error)) (types.Signature, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch err := cs.state.CheckHRS(height, round, step); {
	case err == nil:
		// New coordinate; proceed.
	case errors.Is(err, ErrDoubleSign):
		if !cs.state.SignBytesHash.Equal(signBytesHash) {
			return nil, errors.Wrapf(ErrConflictingData,
				"height %d round %d step %d", height, round, step)
		}
		if len(cs.state.Signature) == 0 {
			return nil, ErrNoCachedSig
		}
		if cs.dirty {
			// An earlier attempt signed this exact message but could not
			// durably record it. The cached signature stays withheld until
			// the record lands.
			if err := cs.flushLocked(); err != nil {
				return nil, errors.Wrap(ErrPersistFailure, err.Error())
			}
		}
		return cs.state.Signature, nil
	default:
		return nil, err
	}

	sig, err := sign()
	if err != nil {
		// Provider failure: state is not advanced.
		return nil, err
	}

	// The provider has signed, so the coordinate and fingerprint advance
	// unconditionally from here; rolling back would reopen this coordinate
	// for different content. If recording fails, only the signature release
	// is withheld, and the dirty flag forces a flush before any later
	// retry can see the cached signature.
	cs.state = SignState{
		Height:        height,
		Round:         round,
		Step:          step,
		SignBytesHash: signBytesHash,
		Signature:     sig,
	}
	cs.dirty = true
	if err := cs.flushLocked(); err != nil {
		return nil, errors.Wrap(ErrPersistFailure, err.Error())
	}
	return sig, nil
}

// flushLocked durably records the current state: the atomic state file
// replace followed by the sign log append. dirty clears only once both
// have landed.
func (cs *ChainState) flushLocked() error {
	if err := cs.persistLocked(); err != nil {
		return err
	}
	if cs.log != nil {
		if err := cs.log.Append(&wal.Record{
			Height:        cs.state.Height,
			Round:         cs.state.Round,
			Step:          cs.state.Step,
			SignBytesHash: cs.state.SignBytesHash,
		}); err != nil {
			return errors.Wrap(err, "append sign log")
		}
	}
	cs.dirty = false
	return nil
}

// persistLocked atomically replaces the state file. renameio stages the
// write in a temporary file in the same directory and renames it over the
// target, so no torn record can exist after a crash.
func (cs *ChainState) persistLocked() error {
	sf := stateFile{
		Height:        cs.state.Height,
		Round:         cs.state.Round,
		Step:          cs.state.Step,
		SignBytesHash: cs.state.SignBytesHash,
		Signature:     cs.state.Signature,
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	if err := renameio.WriteFile(cs.path, data, stateFilePerm); err != nil {
		return errors.Wrap(err, "persist state file")
	}
	return nil
}

func lastLogRecord(log *wal.SignLog) *wal.Record {
	if log == nil {
		return nil
	}
	return log.Last()
}
