package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/config"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/db"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/remote"
)

// InitRemote selects the remote store driver. The postgres store is wrapped in
// a circuit breaker and connects lazily when the first ping fails, so the
// player still boots offline.
func InitRemote(ctx context.Context, cfg config.RemoteConfig) (remote.Store, func()) {
	tables := cfg.MutableTables
	if cfg.Driver == "memory" {
		log.Warn().Msg("using in-memory remote store")
		return remote.NewMemoryStore(tables), func() {}
	}

	conn, err := db.Init(ctx, cfg.DatabaseURL, cfg.ConnectRetries)
	if err != nil {
		log.Warn().Err(err).Msg("remote store unreachable at startup, continuing offline")
		if conn, err = db.Open(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("invalid database url")
		}
	}
	return remote.NewBreaker(db.NewStore(conn, tables), remote.DefaultBreakerConfig()), func() {
		_ = conn.Close()
	}
}
