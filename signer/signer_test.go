package signer

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Huginntech/tmkms/privval"
	"github.com/Huginntech/tmkms/types"
	"github.com/Huginntech/tmkms/wal"
	"github.com/Huginntech/tmkms/wire"
)

// countingProvider signs with a fixed ed25519 key and counts invocations.
type countingProvider struct {
	priv      ed25519.PrivateKey
	signCalls int
}

func newCountingProvider(t *testing.T) *countingProvider {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return &countingProvider{priv: priv}
}

func (p *countingProvider) Sign(_ types.ChainID, msg []byte) (types.Signature, error) {
	p.signCalls++
	return ed25519.Sign(p.priv, msg), nil
}

func (p *countingProvider) PubKey(types.ChainID) (types.PublicKey, error) {
	return types.PublicKey(p.priv.Public().(ed25519.PublicKey)), nil
}

func newTestSigner(t *testing.T, maxHeight int64) (*Signer, *countingProvider) {
	t.Helper()
	prov := newCountingProvider(t)
	state, err := privval.LoadChainState(t.TempDir(), "test_chain_id", nil, nil)
	require.NoError(t, err)
	return New(Config{
		ChainID:   "test_chain_id",
		Version:   types.VersionCurrent,
		MaxHeight: maxHeight,
		Provider:  prov,
		State:     state,
	}), prov
}

func prevoteAt(height int64) *wire.SignVoteRequest {
	return &wire.SignVoteRequest{
		ChainID: "test_chain_id",
		Vote: &types.Vote{
			Type:      types.SignedMsgTypePrevote,
			Height:    height,
			Round:     0,
			BlockID:   &types.BlockID{Hash: types.HashBytes([]byte("block"))},
			Timestamp: types.Timestamp{Seconds: 1000},
		},
	}
}

func TestHandlePing(t *testing.T) {
	s, prov := newTestSigner(t, 0)

	resp := s.Handle(&wire.PingRequest{})
	require.IsType(t, &wire.PingResponse{}, resp)

	// Liveness probes touch neither the provider nor the guard.
	require.Zero(t, prov.signCalls)
	require.Equal(t, privval.SignState{}, s.state.Last())
}

func TestHandlePubKey(t *testing.T) {
	s, prov := newTestSigner(t, 0)

	resp := s.Handle(&wire.PubKeyRequest{ChainID: "test_chain_id"})
	pk, ok := resp.(*wire.PubKeyResponse)
	require.True(t, ok)
	require.Nil(t, pk.Error)

	want, err := prov.PubKey("test_chain_id")
	require.NoError(t, err)
	require.True(t, pk.PubKey.Equal(want))
}

func TestHandleSignVote(t *testing.T) {
	s, prov := newTestSigner(t, 0)

	resp := s.Handle(prevoteAt(12345))
	signed, ok := resp.(*wire.SignedVoteResponse)
	require.True(t, ok)
	require.Nil(t, signed.Error)
	require.Equal(t, 1, prov.signCalls)

	pub, err := prov.PubKey("test_chain_id")
	require.NoError(t, err)
	require.NoError(t, types.VerifyVoteSignature("test_chain_id", types.VersionCurrent, signed.Vote, pub))
}

func TestHandleSignProposal(t *testing.T) {
	s, prov := newTestSigner(t, 0)

	resp := s.Handle(&wire.SignProposalRequest{
		ChainID: "test_chain_id",
		Proposal: &types.Proposal{
			Height:    10,
			Round:     0,
			PolRound:  -1,
			BlockID:   &types.BlockID{Hash: types.HashBytes([]byte("block"))},
			Timestamp: types.Timestamp{Seconds: 1000},
		},
	})
	signed, ok := resp.(*wire.SignedProposalResponse)
	require.True(t, ok)
	require.Nil(t, signed.Error)

	pub, err := prov.PubKey("test_chain_id")
	require.NoError(t, err)
	require.NoError(t, types.VerifyProposalSignature("test_chain_id", types.VersionCurrent, signed.Proposal, pub))
}

func TestHeightCeiling(t *testing.T) {
	s, prov := newTestSigner(t, 500000)

	// At the ceiling: allowed.
	resp := s.Handle(prevoteAt(500000))
	signed := resp.(*wire.SignedVoteResponse)
	require.Nil(t, signed.Error)
	require.Equal(t, 1, prov.signCalls)

	// Above the ceiling: rejected before guard and provider.
	resp = s.Handle(prevoteAt(500001))
	signed = resp.(*wire.SignedVoteResponse)
	require.NotNil(t, signed.Error)
	require.Equal(t, wire.CodeExceedsMaxHeight, signed.Error.Code)
	require.Equal(t, 1, prov.signCalls)

	last := s.state.Last()
	require.Equal(t, int64(500000), last.Height)
}

func TestChainIDMismatch(t *testing.T) {
	s, prov := newTestSigner(t, 0)

	req := prevoteAt(1)
	req.ChainID = "other_chain"
	resp := s.Handle(req)
	signed := resp.(*wire.SignedVoteResponse)
	require.NotNil(t, signed.Error)
	require.Equal(t, wire.CodeChainIDMismatch, signed.Error.Code)
	require.Zero(t, prov.signCalls)
}

func TestEmptyChainIDUsesLinkChain(t *testing.T) {
	s, _ := newTestSigner(t, 0)

	// Legacy requests carry no chain id.
	req := prevoteAt(1)
	req.ChainID = ""
	resp := s.Handle(req)
	signed := resp.(*wire.SignedVoteResponse)
	require.Nil(t, signed.Error)
}

func TestDoubleSignRejected(t *testing.T) {
	s, prov := newTestSigner(t, 0)

	resp := s.Handle(prevoteAt(10))
	require.Nil(t, resp.(*wire.SignedVoteResponse).Error)

	// Same coordinate, different block: conflicting data.
	conflicting := prevoteAt(10)
	conflicting.Vote.BlockID = &types.BlockID{Hash: types.HashBytes([]byte("other"))}
	resp = s.Handle(conflicting)
	signed := resp.(*wire.SignedVoteResponse)
	require.NotNil(t, signed.Error)
	require.Equal(t, wire.CodeDoubleSign, signed.Error.Code)
	require.Equal(t, 1, prov.signCalls)
}

func TestIdempotentRetryReturnsCachedSignature(t *testing.T) {
	s, prov := newTestSigner(t, 0)

	first := s.Handle(prevoteAt(10)).(*wire.SignedVoteResponse)
	require.Nil(t, first.Error)
	firstSig := append(types.Signature(nil), first.Vote.Signature...)

	retry := s.Handle(prevoteAt(10)).(*wire.SignedVoteResponse)
	require.Nil(t, retry.Error)
	require.True(t, retry.Vote.Signature.Equal(firstSig))
	require.Equal(t, 1, prov.signCalls)
}

func TestPersistFailureWithholdsSignature(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(dir, "test_chain_id")
	require.NoError(t, err)
	state, err := privval.LoadChainState(dir, "test_chain_id", log, nil)
	require.NoError(t, err)
	prov := newCountingProvider(t)
	s := New(Config{
		ChainID:  "test_chain_id",
		Version:  types.VersionCurrent,
		Provider: prov,
		State:    state,
	})

	require.Nil(t, s.Handle(prevoteAt(10)).(*wire.SignedVoteResponse).Error)

	// With the sign log broken the new coordinate cannot be durably
	// recorded, so no signature leaves the daemon.
	require.NoError(t, log.Close())
	resp := s.Handle(prevoteAt(11)).(*wire.SignedVoteResponse)
	require.NotNil(t, resp.Error)
	require.Equal(t, wire.CodeStateError, resp.Error.Code)
	require.Nil(t, resp.Vote)

	// The retry stays withheld too while recording keeps failing.
	retry := s.Handle(prevoteAt(11)).(*wire.SignedVoteResponse)
	require.NotNil(t, retry.Error)
	require.Equal(t, wire.CodeStateError, retry.Error.Code)
	require.Nil(t, retry.Vote)
	require.Equal(t, 2, prov.signCalls)
}

func TestRegressionRejected(t *testing.T) {
	s, _ := newTestSigner(t, 0)

	require.Nil(t, s.Handle(prevoteAt(10)).(*wire.SignedVoteResponse).Error)

	resp := s.Handle(prevoteAt(5)).(*wire.SignedVoteResponse)
	require.NotNil(t, resp.Error)
	require.Equal(t, wire.CodeDoubleSign, resp.Error.Code)
}

func TestInvalidVoteRejected(t *testing.T) {
	s, prov := newTestSigner(t, 0)

	req := prevoteAt(1)
	req.Vote.Type = types.SignedMsgTypeProposal
	resp := s.Handle(req).(*wire.SignedVoteResponse)
	require.NotNil(t, resp.Error)
	require.Equal(t, wire.CodeDecodeError, resp.Error.Code)
	require.Zero(t, prov.signCalls)
}
