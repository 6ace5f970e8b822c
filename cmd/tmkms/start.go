package main

import (
	"context"
	"crypto/ed25519"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Huginntech/tmkms/audit"
	"github.com/Huginntech/tmkms/config"
	"github.com/Huginntech/tmkms/metrics"
	"github.com/Huginntech/tmkms/privval"
	"github.com/Huginntech/tmkms/provider"
	"github.com/Huginntech/tmkms/session"
	"github.com/Huginntech/tmkms/signer"
	"github.com/Huginntech/tmkms/types"
)

func startCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the signing daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return start(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "tmkms.toml", "path to the config file")
	return cmd
}

func start(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	recorder := audit.NewRecorder()

	registry := provider.NewRegistry()
	for _, ss := range cfg.Providers.SoftSign {
		soft := provider.NewSoftSign()
		for _, id := range ss.ChainIDs {
			chainID, err := types.NewChainID(id)
			if err != nil {
				return err
			}
			if err := soft.AddKeyFile(chainID, ss.Path); err != nil {
				return errors.Wrapf(err, "softsign key for %s", id)
			}
			if err := registry.Bind(chainID, soft); err != nil {
				return err
			}
		}
	}

	stateDirs := make(map[string]string, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		dir := ch.StateDir
		if dir == "" {
			dir = "."
		}
		stateDirs[ch.ID] = dir
	}

	stores := make(map[string]*privval.StateStore)
	defer func() {
		for _, st := range stores {
			st.Close()
		}
	}()

	supers := make([]*session.Supervisor, 0, len(cfg.Validators))
	for _, v := range cfg.Validators {
		chainID, err := types.NewChainID(v.ChainID)
		if err != nil {
			return err
		}
		version, err := types.ParseProtocolVersion(v.ProtocolVersion)
		if err != nil {
			return err
		}
		addr, err := config.ParseAddr(v.Addr)
		if err != nil {
			return err
		}

		dir := stateDirs[v.ChainID]
		store, ok := stores[dir]
		if !ok {
			store = privval.NewStateStore(dir, logger)
			stores[dir] = store
		}
		state, err := store.Load(chainID)
		if err != nil {
			return errors.Wrapf(err, "sign state for %s", v.ChainID)
		}

		prov, err := registry.Lookup(chainID)
		if err != nil {
			return err
		}

		var identity ed25519.PrivateKey
		if v.SecretKey != "" {
			identity, err = provider.LoadBase64Ed25519Key(v.SecretKey)
			if err != nil {
				return errors.Wrapf(err, "link identity key for %s", v.ChainID)
			}
		}

		sgn := signer.New(signer.Config{
			ChainID:   chainID,
			Version:   version,
			MaxHeight: v.MaxHeight,
			Provider:  prov,
			State:     state,
			Audit:     recorder,
			Metrics:   m,
			Logger:    logger,
		})
		supers = append(supers, session.New(session.Link{
			Addr:      addr,
			ChainID:   chainID,
			Version:   version,
			Reconnect: v.ShouldReconnect(),
			Listen:    v.Listen,
			Identity:  identity,
			Signer:    sgn,
			Metrics:   m,
			Logger:    logger,
		}))
	}

	logger.Info("starting signing daemon",
		zap.Int("chains", len(cfg.Chains)),
		zap.Int("links", len(cfg.Validators)))

	var wg sync.WaitGroup
	for _, sup := range supers {
		wg.Add(1)
		go func(sup *session.Supervisor) {
			defer wg.Done()
			if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("link supervisor exited", zap.Error(err))
			}
		}(sup)
	}
	wg.Wait()
	logger.Info("all links finished, shutting down")
	return nil
}
