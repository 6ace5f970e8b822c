package types

import (
	"fmt"
	"regexp"
)

// MaxChainIDLen is the maximum length of a chain identifier.
const MaxChainIDLen = 50

// ChainID identifies a blockchain instance. It keys both the persisted
// safety state and the provider lookup, so it is validated on construction
// and otherwise treated as opaque.
type ChainID string

var chainIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._\-]+$`)

// NewChainID validates and returns a chain identifier.
func NewChainID(s string) (ChainID, error) {
	if s == "" {
		return "", fmt.Errorf("chain id must not be empty")
	}
	if len(s) > MaxChainIDLen {
		return "", fmt.Errorf("chain id %q exceeds %d characters", s, MaxChainIDLen)
	}
	if !chainIDPattern.MatchString(s) {
		return "", fmt.Errorf("chain id %q contains invalid characters", s)
	}
	return ChainID(s), nil
}

func (c ChainID) String() string { return string(c) }
