package privval

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Huginntech/tmkms/types"
	"github.com/Huginntech/tmkms/wal"
)

func fixedSigner(sig types.Signature) func() (types.Signature, error) {
	return func() (types.Signature, error) { return sig, nil }
}

func testSig(b byte) types.Signature {
	sig := make(types.Signature, types.SignatureSize)
	sig[0] = b
	return sig
}

func loadTestState(t *testing.T, dir string) *ChainState {
	t.Helper()
	cs, err := LoadChainState(dir, "test_chain_id", nil, nil)
	if err != nil {
		t.Fatalf("load chain state: %v", err)
	}
	return cs
}

func TestSignAdvancesState(t *testing.T) {
	cs := loadTestState(t, t.TempDir())

	sig, err := cs.Sign(1, 0, StepPrevote, types.HashBytes([]byte("a")), fixedSigner(testSig(1)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !sig.Equal(testSig(1)) {
		t.Error("returned wrong signature")
	}

	last := cs.Last()
	if last.Height != 1 || last.Round != 0 || last.Step != StepPrevote {
		t.Errorf("state not advanced: %+v", last)
	}
}

func TestSignRejectsRegression(t *testing.T) {
	cs := loadTestState(t, t.TempDir())

	if _, err := cs.Sign(10, 1, StepPrecommit, types.HashBytes([]byte("a")), fixedSigner(testSig(1))); err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err := cs.Sign(9, 1, StepPrecommit, types.HashBytes([]byte("b")), fixedSigner(testSig(2)))
	if !errors.Is(err, ErrHeightRegression) {
		t.Errorf("expected height regression, got %v", err)
	}
	_, err = cs.Sign(10, 0, StepPrecommit, types.HashBytes([]byte("b")), fixedSigner(testSig(2)))
	if !errors.Is(err, ErrRoundRegression) {
		t.Errorf("expected round regression, got %v", err)
	}
	_, err = cs.Sign(10, 1, StepPrevote, types.HashBytes([]byte("b")), fixedSigner(testSig(2)))
	if !errors.Is(err, ErrStepRegression) {
		t.Errorf("expected step regression, got %v", err)
	}

	// A failed attempt must not move the state.
	last := cs.Last()
	if last.Height != 10 || last.Round != 1 || last.Step != StepPrecommit {
		t.Errorf("state moved on rejection: %+v", last)
	}
}

func TestSignIdempotentRetry(t *testing.T) {
	cs := loadTestState(t, t.TempDir())
	hash := types.HashBytes([]byte("vote"))

	first, err := cs.Sign(5, 0, StepPrecommit, hash, fixedSigner(testSig(7)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Same coordinate, same bytes: cached signature, provider not invoked.
	called := false
	retry, err := cs.Sign(5, 0, StepPrecommit, hash, func() (types.Signature, error) {
		called = true
		return testSig(8), nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if called {
		t.Error("provider invoked on idempotent retry")
	}
	if !retry.Equal(first) {
		t.Error("retry returned a different signature")
	}
}

func TestSignConflictingData(t *testing.T) {
	cs := loadTestState(t, t.TempDir())

	if _, err := cs.Sign(5, 0, StepPrecommit, types.HashBytes([]byte("block-a")), fixedSigner(testSig(1))); err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Same coordinate, different bytes: equivocation.
	_, err := cs.Sign(5, 0, StepPrecommit, types.HashBytes([]byte("block-b")), fixedSigner(testSig(2)))
	if !errors.Is(err, ErrConflictingData) {
		t.Errorf("expected ErrConflictingData, got %v", err)
	}
}

func TestSignProviderFailureKeepsState(t *testing.T) {
	cs := loadTestState(t, t.TempDir())

	if _, err := cs.Sign(3, 0, StepPrevote, types.HashBytes([]byte("a")), fixedSigner(testSig(1))); err != nil {
		t.Fatalf("sign: %v", err)
	}

	boom := errors.New("hsm unavailable")
	_, err := cs.Sign(4, 0, StepPrevote, types.HashBytes([]byte("b")), func() (types.Signature, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected provider error, got %v", err)
	}

	// The coordinate stays where it was, so a later retry is allowed.
	if _, err := cs.Sign(4, 0, StepPrevote, types.HashBytes([]byte("b")), fixedSigner(testSig(2))); err != nil {
		t.Fatalf("retry after provider failure: %v", err)
	}
}

func TestSignLogFailureKeepsCoordinateAdvanced(t *testing.T) {
	dir := t.TempDir()
	chainID := types.ChainID("test_chain_id")

	log, err := wal.Open(dir, chainID)
	if err != nil {
		t.Fatalf("open sign log: %v", err)
	}
	cs, err := LoadChainState(dir, chainID, log, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cs.Sign(5, 0, StepPrevote, types.HashBytes([]byte("base")), fixedSigner(testSig(1))); err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Break the sign log. The state file write still succeeds, so the
	// attempt lands on disk even though the signature is withheld.
	if err := log.Close(); err != nil {
		t.Fatalf("close sign log: %v", err)
	}
	hashB := types.HashBytes([]byte("block-b"))
	_, err = cs.Sign(6, 0, StepPrevote, hashB, fixedSigner(testSig(2)))
	if !errors.Is(err, ErrPersistFailure) {
		t.Fatalf("expected ErrPersistFailure, got %v", err)
	}

	// The coordinate and fingerprint must stay advanced: different content
	// at the same coordinate is equivocation and must never reach the
	// provider, recorded or not.
	called := false
	_, err = cs.Sign(6, 0, StepPrevote, types.HashBytes([]byte("block-c")), func() (types.Signature, error) {
		called = true
		return testSig(3), nil
	})
	if !errors.Is(err, ErrConflictingData) {
		t.Errorf("expected ErrConflictingData, got %v", err)
	}
	if called {
		t.Error("provider invoked for conflicting content after persist failure")
	}
	last := cs.Last()
	if last.Height != 6 || !last.SignBytesHash.Equal(hashB) {
		t.Errorf("state rolled back past the signed attempt: %+v", last)
	}

	// An exact repeat may not release the cached signature while the
	// record still cannot land.
	called = false
	_, err = cs.Sign(6, 0, StepPrevote, hashB, func() (types.Signature, error) {
		called = true
		return testSig(4), nil
	})
	if !errors.Is(err, ErrPersistFailure) {
		t.Errorf("expected ErrPersistFailure on retry, got %v", err)
	}
	if called {
		t.Error("provider invoked on retry of an already-signed message")
	}

	// On disk the attempt is recorded, so a restart cannot reopen the
	// coordinate either.
	reloaded, err := LoadChainState(dir, chainID, nil, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Last(); got.Height != 6 || !got.SignBytesHash.Equal(hashB) {
		t.Errorf("reloaded state missing the attempt: %+v", got)
	}
}

func TestStatePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	cs := loadTestState(t, dir)

	hash := types.HashBytes([]byte("vote"))
	if _, err := cs.Sign(100, 2, StepPrecommit, hash, fixedSigner(testSig(9))); err != nil {
		t.Fatalf("sign: %v", err)
	}

	reloaded := loadTestState(t, dir)
	last := reloaded.Last()
	if last.Height != 100 || last.Round != 2 || last.Step != StepPrecommit {
		t.Errorf("reloaded wrong coordinate: %+v", last)
	}
	if !last.SignBytesHash.Equal(hash) {
		t.Error("reloaded wrong fingerprint")
	}

	// The cached signature survives too, so retries keep working.
	sig, err := reloaded.Sign(100, 2, StepPrecommit, hash, fixedSigner(testSig(1)))
	if err != nil {
		t.Fatalf("retry after reload: %v", err)
	}
	if !sig.Equal(testSig(9)) {
		t.Error("retry after reload returned a fresh signature")
	}
}

func TestCorruptedStateFailsLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_chain_id_priv_validator_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write state: %v", err)
	}

	_, err := LoadChainState(dir, "test_chain_id", nil, nil)
	if !errors.Is(err, ErrStateCorrupted) {
		t.Errorf("expected ErrStateCorrupted, got %v", err)
	}
}

func TestMissingStateRecoversFromSignLog(t *testing.T) {
	dir := t.TempDir()
	chainID := types.ChainID("test_chain_id")

	log, err := wal.Open(dir, chainID)
	if err != nil {
		t.Fatalf("open sign log: %v", err)
	}
	defer log.Close()

	cs, err := LoadChainState(dir, chainID, log, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cs.Sign(50, 1, StepPrevote, types.HashBytes([]byte("v")), fixedSigner(testSig(3))); err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Lose the state file; the sign log still knows the coordinate.
	path := filepath.Join(dir, "test_chain_id_priv_validator_state.json")
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove state: %v", err)
	}

	recovered, err := LoadChainState(dir, chainID, log, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	last := recovered.Last()
	if last.Height != 50 || last.Round != 1 || last.Step != StepPrevote {
		t.Errorf("recovered wrong coordinate: %+v", last)
	}

	// Recovery rewrites the state file.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file not rewritten: %v", err)
	}

	// No cached signature after recovery, so an exact repeat is refused
	// rather than silently re-signed.
	_, err = recovered.Sign(50, 1, StepPrevote, types.HashBytes([]byte("v")), fixedSigner(testSig(4)))
	if !errors.Is(err, ErrNoCachedSig) {
		t.Errorf("expected ErrNoCachedSig, got %v", err)
	}
}

func TestConcurrentSignsSerializePerChain(t *testing.T) {
	cs := loadTestState(t, t.TempDir())

	// All workers race for the same coordinate with distinct content.
	// The guard must admit exactly one; nobody else may reach the
	// provider after it.
	const workers = 16
	var (
		wg        sync.WaitGroup
		signs     atomic.Int32
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hash := types.HashBytes([]byte{byte(i)})
			_, err := cs.Sign(20, 0, StepPrecommit, hash, func() (types.Signature, error) {
				signs.Add(1)
				return testSig(byte(i)), nil
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrConflictingData):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Errorf("%d requests approved at one coordinate, want 1", got)
	}
	if got := signs.Load(); got != 1 {
		t.Errorf("provider invoked %d times, want 1", got)
	}
	if got := conflicts.Load(); got != int32(workers-1) {
		t.Errorf("%d conflicts, want %d", got, workers-1)
	}
}

func TestStateStoreSharesGuards(t *testing.T) {
	store := NewStateStore(t.TempDir(), nil)
	defer store.Close()

	a, err := store.Load("chain-a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	again, err := store.Load("chain-a")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if a != again {
		t.Error("same chain should share one guard")
	}

	b, err := store.Load("chain-b")
	if err != nil {
		t.Fatalf("load second chain: %v", err)
	}
	if a == b {
		t.Error("different chains must not share a guard")
	}
}
