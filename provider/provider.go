// Package provider defines the signing backend contract and the software
// implementation.
//
// A Provider holds the actual consensus keys. The rest of the daemon never
// sees private key material: it submits canonical sign bytes and receives
// an opaque signature. Hardware-backed implementations (HSM, hardware
// wallet) satisfy the same contract; they may additionally serialize access
// to the physical device, on top of the per-chain serialization the safety
// guard already enforces.
package provider

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/Huginntech/tmkms/types"
)

// Errors
var (
	ErrNoProviderForChain = errors.New("no signing provider registered for chain")
	ErrUnknownChain       = errors.New("provider holds no key for chain")
)

// Provider is a signing backend for one or more chains.
type Provider interface {
	// Sign signs the exact byte sequence msg for the given chain.
	Sign(chainID types.ChainID, msg []byte) (types.Signature, error)

	// PubKey returns the consensus public key for the given chain.
	PubKey(chainID types.ChainID) (types.PublicKey, error)
}

// Registry binds chains to their providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[types.ChainID]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[types.ChainID]Provider)}
}

// Bind registers p as the provider for chainID. A chain can have exactly
// one provider; rebinding is a configuration error.
func (r *Registry) Bind(chainID types.ChainID, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[chainID]; exists {
		return errors.Errorf("chain %s already has a provider", chainID)
	}
	r.providers[chainID] = p
	return nil
}

// Lookup returns the provider bound to chainID.
func (r *Registry) Lookup(chainID types.ChainID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[chainID]
	if !ok {
		return nil, errors.Wrap(ErrNoProviderForChain, chainID.String())
	}
	return p, nil
}
