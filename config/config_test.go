package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validConfig = `
[[chain]]
id = "test_chain_id"
state_dir = "/tmp/state"

[[providers.softsign]]
chain_ids = ["test_chain_id"]
key_format = "base64"
path = "/tmp/signing.key"

[[validator]]
addr = "tcp://validator.example.com:26659"
chain_id = "test_chain_id"
max_height = 500000
reconnect = false
secret_key = "/tmp/identity.key"
protocol_version = "legacy"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tmkms.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Chains, 1)
	require.Equal(t, "test_chain_id", cfg.Chains[0].ID)
	require.Equal(t, "/tmp/state", cfg.Chains[0].StateDir)

	require.Len(t, cfg.Validators, 1)
	v := cfg.Validators[0]
	require.Equal(t, int64(500000), v.MaxHeight)
	require.False(t, v.ShouldReconnect())
	require.Equal(t, "legacy", v.ProtocolVersion)

	require.Len(t, cfg.Providers.SoftSign, 1)
	require.Equal(t, []string{"test_chain_id"}, cfg.Providers.SoftSign[0].ChainIDs)
}

func TestReconnectDefaultsOn(t *testing.T) {
	v := Validator{}
	require.True(t, v.ShouldReconnect())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no chains", func(c *Config) { c.Chains = nil }},
		{"no links", func(c *Config) { c.Validators = nil }},
		{"duplicate chain", func(c *Config) { c.Chains = append(c.Chains, c.Chains[0]) }},
		{"undeclared link chain", func(c *Config) { c.Validators[0].ChainID = "ghost" }},
		{"bad address", func(c *Config) { c.Validators[0].Addr = "http://x" }},
		{"tcp without secret key", func(c *Config) { c.Validators[0].SecretKey = "" }},
		{"bad protocol version", func(c *Config) { c.Validators[0].ProtocolVersion = "v9" }},
		{"provider without path", func(c *Config) { c.Providers.SoftSign[0].Path = "" }},
		{"bad key format", func(c *Config) { c.Providers.SoftSign[0].KeyFormat = "hex" }},
		{"undeclared provider chain", func(c *Config) { c.Providers.SoftSign[0].ChainIDs = []string{"ghost"} }},
		{"unbound chain", func(c *Config) { c.Providers.SoftSign = nil }},
		{"double binding", func(c *Config) {
			c.Providers.SoftSign = append(c.Providers.SoftSign, c.Providers.SoftSign[0])
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			require.NoError(t, err)
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseAddrTCP(t *testing.T) {
	a, err := ParseAddr("tcp://validator.example.com:26659")
	require.NoError(t, err)
	require.Equal(t, SchemeTCP, a.Scheme)
	require.Equal(t, "validator.example.com:26659", a.Host)
	require.Empty(t, a.PeerID)
}

func TestParseAddrTCPWithPeerID(t *testing.T) {
	a, err := ParseAddr("tcp://9FA420AB129B86FAD94F9F9DFD0A608D8B961123@10.0.0.1:26659")
	require.NoError(t, err)
	require.Equal(t, "9fa420ab129b86fad94f9f9dfd0a608d8b961123", a.PeerID)
	require.Equal(t, "10.0.0.1:26659", a.Host)
}

func TestParseAddrUnix(t *testing.T) {
	a, err := ParseAddr("unix:///var/run/tmkms.sock")
	require.NoError(t, err)
	require.Equal(t, SchemeUnix, a.Scheme)
	require.Equal(t, "/var/run/tmkms.sock", a.Host)
}

func TestParseAddrErrors(t *testing.T) {
	for _, raw := range []string{"http://x:1", "tcp://", "unix://", "not an address"} {
		_, err := ParseAddr(raw)
		require.Error(t, err, raw)
	}
}
