package main

import (
	"fmt"
	"io"
	"log/slog"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/relaykeys/internal/config"
	"github.com/foxzi/relaykeys/internal/credential"
	"github.com/foxzi/relaykeys/internal/dkimkey"
	"github.com/foxzi/relaykeys/internal/lifecycle"
	"github.com/foxzi/relaykeys/internal/store"
)

// registries bundles direct storage access for admin commands. They
// open the bolt file exclusively, so the daemon must not be running.
type registries struct {
	db           *bolt.DB
	credentials  *credential.Registry
	keys         *dkimkey.Registry
	orchestrator *lifecycle.Orchestrator
}

func openRegistries(cfg *config.Config) (*registries, error) {
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage (is the daemon running?): %w", err)
	}

	credStorage, err := credential.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	keyStorage, err := dkimkey.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Admin commands print their own output, keep the log quiet.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &registries{
		db:          db,
		credentials: credential.NewRegistry(credStorage, logger, credential.WithMaxPerAccount(cfg.Credentials.MaxPerAccount)),
		keys:        dkimkey.NewRegistry(keyStorage, logger),
		orchestrator: lifecycle.NewOrchestrator(
			keyStorage,
			logger,
			lifecycle.WithWarningWindow(cfg.Lifecycle.WarningWindow),
		),
	}, nil
}

func (r *registries) Close() error {
	return r.db.Close()
}
