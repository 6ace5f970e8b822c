package provider

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/Huginntech/tmkms/types"
)

const keyFilePerm = 0600

// SoftSign is the file-backed Ed25519 provider. Keys are loaded once at
// startup and held in process memory; the key file is base64 of either a
// 32-byte seed or a 64-byte expanded private key.
type SoftSign struct {
	keys map[types.ChainID]ed25519.PrivateKey
}

// NewSoftSign returns a provider with no keys; use AddKeyFile per chain.
func NewSoftSign() *SoftSign {
	return &SoftSign{keys: make(map[types.ChainID]ed25519.PrivateKey)}
}

// AddKeyFile loads the base64 key file at path for chainID.
func (s *SoftSign) AddKeyFile(chainID types.ChainID, path string) error {
	key, err := LoadBase64Ed25519Key(path)
	if err != nil {
		return errors.Wrapf(err, "chain %s", chainID)
	}
	s.keys[chainID] = key
	return nil
}

// Sign implements Provider.
func (s *SoftSign) Sign(chainID types.ChainID, msg []byte) (types.Signature, error) {
	key, ok := s.keys[chainID]
	if !ok {
		return nil, errors.Wrap(ErrUnknownChain, chainID.String())
	}
	return ed25519.Sign(key, msg), nil
}

// PubKey implements Provider.
func (s *SoftSign) PubKey(chainID types.ChainID) (types.PublicKey, error) {
	key, ok := s.keys[chainID]
	if !ok {
		return nil, errors.Wrap(ErrUnknownChain, chainID.String())
	}
	return types.PublicKey(key.Public().(ed25519.PublicKey)), nil
}

// LoadBase64Ed25519Key reads a base64-encoded Ed25519 key file. Both raw
// seeds and expanded private keys are accepted.
func LoadBase64Ed25519Key(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errors.Wrap(err, "decode key file")
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, errors.Errorf("key file %s: unexpected key length %d", path, len(raw))
	}
}

// GenerateKeyFile creates a new Ed25519 seed, writes it base64-encoded to
// path with restrictive permissions, and returns the public key. Used by
// the init scaffolding.
func GenerateKeyFile(path string) (types.PublicKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	encoded := base64.StdEncoding.EncodeToString(priv.Seed())
	if err := os.WriteFile(path, []byte(encoded+"\n"), keyFilePerm); err != nil {
		return nil, errors.Wrap(err, "write key file")
	}
	return types.PublicKey(priv.Public().(ed25519.PublicKey)), nil
}
