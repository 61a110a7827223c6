// Package db opens the configured job store.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"docqa-engine/internal/config"
	"docqa-engine/internal/domain/ports/repository"
	"docqa-engine/internal/infra/db/postgres"
	"docqa-engine/internal/infra/db/sqlite"
	"docqa-engine/internal/infra/logging"
)

// Store bundles the repositories of one backend.
type Store struct {
	Driver   string
	Jobs     repository.JobRepository
	Messages repository.MessageRepository
	TM       repository.TransactionManager

	ping  func(ctx context.Context) error
	stats func(ctx context.Context)
	close func()
}

// Open connects to postgres or opens the sqlite file named by cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log := logging.Component(logger, "PgPool")
		return &Store{
			Driver:   cfg.Driver,
			Jobs:     postgres.NewJobRepo(pool),
			Messages: postgres.NewMessageRepo(pool),
			TM:       postgres.NewTxManager(pool),
			ping:     pool.Ping,
			stats:    func(ctx context.Context) { postgres.ReportPoolStats(ctx, pool, 15*time.Second, log) },
			close:    pool.Close,
		}, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Store{
			Driver:   cfg.Driver,
			Jobs:     sqlite.NewJobRepo(s),
			Messages: sqlite.NewMessageRepo(s),
			TM:       s,
			ping:     s.DB().PingContext,
			stats:    func(ctx context.Context) { s.ReportPoolStats(ctx, 15*time.Second) },
			close:    func() { _ = s.Close() },
		}, nil
	}
	return nil, fmt.Errorf("database driver %q is not supported", cfg.Driver)
}

func (s *Store) Ping(ctx context.Context) error { return s.ping(ctx) }

// ReportStats publishes pool gauges until ctx is done.
func (s *Store) ReportStats(ctx context.Context) { s.stats(ctx) }

func (s *Store) Close() { s.close() }
