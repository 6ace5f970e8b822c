package session

import (
	"context"
	"crypto/ed25519"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Huginntech/tmkms/config"
	"github.com/Huginntech/tmkms/privval"
	"github.com/Huginntech/tmkms/signer"
	"github.com/Huginntech/tmkms/types"
	"github.com/Huginntech/tmkms/wire"
)

type keyProvider struct {
	priv ed25519.PrivateKey
}

func (p *keyProvider) Sign(_ types.ChainID, msg []byte) (types.Signature, error) {
	return ed25519.Sign(p.priv, msg), nil
}

func (p *keyProvider) PubKey(types.ChainID) (types.PublicKey, error) {
	return types.PublicKey(p.priv.Public().(ed25519.PublicKey)), nil
}

func newLinkSigner(t *testing.T) (*signer.Signer, types.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	state, err := privval.LoadChainState(t.TempDir(), "test_chain_id", nil, nil)
	require.NoError(t, err)
	return signer.New(signer.Config{
		ChainID:  "test_chain_id",
		Version:  types.VersionCurrent,
		Provider: &keyProvider{priv: priv},
		State:    state,
	}), types.PublicKey(pub)
}

func exchange(t *testing.T, conn net.Conn, req wire.Msg) wire.Msg {
	t.Helper()
	body, err := wire.Encode(types.VersionCurrent, req)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, body))

	respBody, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := wire.Decode(types.VersionCurrent, respBody)
	require.NoError(t, err)
	return resp
}

func TestSupervisorPlainLink(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "kms.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	sgn, pub := newLinkSigner(t)
	sup := New(Link{
		Addr:    &config.Addr{Scheme: config.SchemeUnix, Host: sock},
		ChainID: "test_chain_id",
		Version: types.VersionCurrent,
		Signer:  sgn,
		Logger:  zap.NewNop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	// Liveness probe.
	resp := exchange(t, conn, &wire.PingRequest{})
	require.IsType(t, &wire.PingResponse{}, resp)

	// Public key.
	pkResp, ok := exchange(t, conn, &wire.PubKeyRequest{ChainID: "test_chain_id"}).(*wire.PubKeyResponse)
	require.True(t, ok)
	require.Nil(t, pkResp.Error)
	require.True(t, pkResp.PubKey.Equal(pub))

	// Signing round trip.
	vote := &types.Vote{
		Type:      types.SignedMsgTypePrevote,
		Height:    42,
		Round:     0,
		BlockID:   &types.BlockID{Hash: types.HashBytes([]byte("block"))},
		Timestamp: types.Timestamp{Seconds: 1000},
	}
	signed, ok := exchange(t, conn, &wire.SignVoteRequest{Vote: vote, ChainID: "test_chain_id"}).(*wire.SignedVoteResponse)
	require.True(t, ok)
	require.Nil(t, signed.Error)
	require.NoError(t, types.VerifyVoteSignature("test_chain_id", types.VersionCurrent, signed.Vote, pub))

	// A one-shot link ends when the validator hangs up.
	conn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit after hangup")
	}
}

func TestSupervisorAnswersUndecodableRequest(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "kms.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	sgn, _ := newLinkSigner(t)
	sup := New(Link{
		Addr:    &config.Addr{Scheme: config.SchemeUnix, Host: sock},
		ChainID: "test_chain_id",
		Version: types.VersionCurrent,
		Signer:  sgn,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go sup.Run(ctx)

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	// Garbage that frames correctly but does not decode.
	require.NoError(t, wire.WriteFrame(conn, []byte{0xff, 0xff, 0xff}))
	respBody, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := wire.Decode(types.VersionCurrent, respBody)
	require.NoError(t, err)

	errResp, ok := resp.(*wire.ErrorResponse)
	require.True(t, ok)
	require.Equal(t, wire.CodeDecodeError, errResp.Error.Code)

	// The connection survives a bad request.
	require.IsType(t, &wire.PingResponse{}, exchange(t, conn, &wire.PingRequest{}))
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "kms.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	sgn, _ := newLinkSigner(t)
	sup := New(Link{
		Addr:      &config.Addr{Scheme: config.SchemeUnix, Host: sock},
		ChainID:   "test_chain_id",
		Version:   types.VersionCurrent,
		Reconnect: true,
		Signer:    sgn,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
}

func TestNextBackoffBounded(t *testing.T) {
	d := backoffBase
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
		require.LessOrEqual(t, d, backoffMax)
	}
	require.Equal(t, backoffMax, d)
}
