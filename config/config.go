// Package config loads and validates the daemon's TOML configuration.
//
// The file declares chains, validator links and provider bindings:
//
//	[[chain]]
//	id = "test_chain_id"
//	state_dir = "/var/lib/tmkms/state"
//
//	[[validator]]
//	addr = "tcp://9f1a…@validator.example.com:26659"
//	chain_id = "test_chain_id"
//	max_height = 500000
//	reconnect = true
//	secret_key = "/var/lib/tmkms/secret_connection.key"
//	protocol_version = "legacy"
//
//	[[providers.softsign]]
//	chain_ids = ["test_chain_id"]
//	key_format = "base64"
//	path = "/var/lib/tmkms/signing.key"
package config

import (
	"net/url"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/Huginntech/tmkms/types"
)

// Config is the root of the TOML file.
type Config struct {
	Chains     []Chain     `toml:"chain"`
	Validators []Validator `toml:"validator"`
	Providers  Providers   `toml:"providers"`
}

// Chain declares one blockchain the daemon can sign for.
type Chain struct {
	ID       string `toml:"id"`
	StateDir string `toml:"state_dir,omitempty"`
}

// Validator declares one link to a validator process.
type Validator struct {
	Addr            string `toml:"addr"`
	ChainID         string `toml:"chain_id"`
	MaxHeight       int64  `toml:"max_height,omitempty"`
	Reconnect       *bool  `toml:"reconnect,omitempty"`
	Listen          bool   `toml:"listen,omitempty"`
	SecretKey       string `toml:"secret_key,omitempty"`
	ProtocolVersion string `toml:"protocol_version,omitempty"`
}

// Providers groups the provider bindings by backend kind.
type Providers struct {
	SoftSign []SoftSign `toml:"softsign"`
}

// SoftSign binds chains to a software key file.
type SoftSign struct {
	ChainIDs  []string `toml:"chain_ids"`
	KeyFormat string   `toml:"key_format,omitempty"`
	Path      string   `toml:"path"`
}

// ShouldReconnect reports the link's reconnect policy; the default is on.
func (v *Validator) ShouldReconnect() bool {
	return v.Reconnect == nil || *v.Reconnect
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-references: every validator link names a
// declared chain, every chain has exactly one provider binding, addresses
// parse.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("no chains configured")
	}
	chains := make(map[string]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if _, err := types.NewChainID(ch.ID); err != nil {
			return errors.Wrap(err, "chain")
		}
		if chains[ch.ID] {
			return errors.Errorf("chain %s declared twice", ch.ID)
		}
		chains[ch.ID] = true
	}

	if len(c.Validators) == 0 {
		return errors.New("no validator links configured")
	}
	for i := range c.Validators {
		v := &c.Validators[i]
		if !chains[v.ChainID] {
			return errors.Errorf("validator link references undeclared chain %q", v.ChainID)
		}
		addr, err := ParseAddr(v.Addr)
		if err != nil {
			return errors.Wrapf(err, "validator link for chain %s", v.ChainID)
		}
		if addr.Scheme == SchemeTCP && v.SecretKey == "" {
			return errors.Errorf("tcp link for chain %s needs a secret_key for the connection identity", v.ChainID)
		}
		if _, err := types.ParseProtocolVersion(v.ProtocolVersion); err != nil {
			return errors.Wrapf(err, "validator link for chain %s", v.ChainID)
		}
	}

	bound := make(map[string]bool)
	for _, p := range c.Providers.SoftSign {
		if p.Path == "" {
			return errors.New("softsign provider needs a key path")
		}
		if p.KeyFormat != "" && p.KeyFormat != "base64" {
			return errors.Errorf("unsupported softsign key_format %q", p.KeyFormat)
		}
		for _, id := range p.ChainIDs {
			if !chains[id] {
				return errors.Errorf("softsign provider references undeclared chain %q", id)
			}
			if bound[id] {
				return errors.Errorf("chain %s bound to more than one provider", id)
			}
			bound[id] = true
		}
	}
	for id := range chains {
		if !bound[id] {
			return errors.Errorf("chain %s has no provider binding", id)
		}
	}
	return nil
}

// Address schemes.
const (
	SchemeTCP  = "tcp"
	SchemeUnix = "unix"
)

// Addr is a parsed validator link address. TCP addresses may pin the
// expected peer: tcp://<peer_id>@host:port, where peer_id is the hex
// address of the validator's long-term connection key.
type Addr struct {
	Scheme string
	PeerID string
	Host   string // host:port for tcp, filesystem path for unix
}

// ParseAddr parses a validator link address.
func ParseAddr(raw string) (*Addr, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "address %q", raw)
	}
	switch u.Scheme {
	case SchemeTCP:
		a := &Addr{Scheme: SchemeTCP, Host: u.Host}
		if u.User != nil {
			a.PeerID = strings.ToLower(u.User.Username())
			a.Host = u.Host
		}
		if a.Host == "" {
			return nil, errors.Errorf("address %q has no host", raw)
		}
		return a, nil
	case SchemeUnix:
		if u.Path == "" {
			return nil, errors.Errorf("address %q has no socket path", raw)
		}
		return &Addr{Scheme: SchemeUnix, Host: u.Path}, nil
	default:
		return nil, errors.Errorf("unsupported address scheme %q", u.Scheme)
	}
}
