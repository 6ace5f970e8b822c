package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Huginntech/tmkms/provider"
)

const configTemplate = `[[chain]]
id = "%s"
state_dir = "%s"

[[providers.softsign]]
chain_ids = ["%s"]
key_format = "base64"
path = "%s"

[[validator]]
addr = "tcp://127.0.0.1:26659"
chain_id = "%s"
secret_key = "%s"
reconnect = true
protocol_version = "v0.34"
`

func initCommand() *cobra.Command {
	var chainID string
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a config directory with a fresh consensus key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return initDir(dir, chainID)
		},
	}
	cmd.Flags().StringVar(&chainID, "chain-id", "test_chain_id", "chain to scaffold for")
	return cmd
}

func initDir(dir, chainID string) error {
	for _, sub := range []string{"secrets", "state"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return errors.Wrap(err, "create directory")
		}
	}

	consensusKey := filepath.Join(dir, "secrets", chainID+"_consensus.key")
	pub, err := provider.GenerateKeyFile(consensusKey)
	if err != nil {
		return errors.Wrap(err, "generate consensus key")
	}

	linkKey := filepath.Join(dir, "secrets", "kms_identity.key")
	if _, err := provider.GenerateKeyFile(linkKey); err != nil {
		return errors.Wrap(err, "generate link identity key")
	}

	configPath := filepath.Join(dir, "tmkms.toml")
	if _, err := os.Stat(configPath); err == nil {
		return errors.Errorf("refusing to overwrite %s", configPath)
	}
	body := fmt.Sprintf(configTemplate,
		chainID, filepath.Join(dir, "state"),
		chainID, consensusKey,
		chainID, linkKey)
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		return errors.Wrap(err, "write config")
	}

	fmt.Printf("wrote %s\n", configPath)
	fmt.Printf("validator address: %X\n", pub.Address())
	return nil
}
