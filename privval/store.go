package privval

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Huginntech/tmkms/types"
	"github.com/Huginntech/tmkms/wal"
)

// StateStore owns the per-chain guards. State is partitioned by chain id;
// two links signing for different chains never contend.
type StateStore struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
	chains map[types.ChainID]*ChainState
	logs   map[types.ChainID]*wal.SignLog
}

// NewStateStore creates a store keeping all state files under dir.
func NewStateStore(dir string, logger *zap.Logger) *StateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateStore{
		dir:    dir,
		logger: logger,
		chains: make(map[types.ChainID]*ChainState),
		logs:   make(map[types.ChainID]*wal.SignLog),
	}
}

// Load returns the guard for a chain, opening its sign log and state file
// on first use. Safe for concurrent callers; all callers share one guard
// per chain.
func (s *StateStore) Load(chainID types.ChainID) (*ChainState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs, ok := s.chains[chainID]; ok {
		return cs, nil
	}
	log, err := wal.Open(s.dir, chainID)
	if err != nil {
		return nil, err
	}
	cs, err := LoadChainState(s.dir, chainID, log, s.logger)
	if err != nil {
		log.Close()
		return nil, err
	}
	s.logs[chainID] = log
	s.chains[chainID] = cs
	return cs, nil
}

// Close releases all sign logs.
func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, log := range s.logs {
		if err := log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.logs = make(map[types.ChainID]*wal.SignLog)
	s.chains = make(map[types.ChainID]*ChainState)
	return firstErr
}
