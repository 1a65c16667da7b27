package godbconn

import (
	"github.com/objectgraph/godbconn/cache"
	"github.com/objectgraph/godbconn/codec"
	"github.com/objectgraph/godbconn/config"
	"github.com/objectgraph/godbconn/database"
	"github.com/objectgraph/godbconn/storage"
)

// Open builds a Database over st, the config-driven counterpart to
// NewConnection/database.New for deployments that tune their pool and
// cache from a config.Config rather than wiring each collaborator by
// hand. cfg.Database sizes the connection pool (spec.md §4.7's pool
// semantics); cfg.Cache sizes every pooled Connection's cache and, when
// SweepCron is set, schedules its background incremental sweep
// (grounded on the teacher's scheduler.go, the same robfig/cron.Cron
// wrapping one maintenance func). cdc is shared across every Connection
// in the pool, since GobCodec's type registry must agree database-wide.
func Open(st storage.Storage, cdc codec.Codec, cfg config.Config) *database.Database {
	dbCfg := database.Config{
		MaxConnections: cfg.Database.MaxConnections,
		BusyTimeout:    cfg.Database.BusyTimeout.AsDuration(),
	}

	factory := func(d *database.Database) database.Connection {
		ch := cache.New(cfg.Cache.Target)
		ch.SetDrainResistance(cfg.Cache.DrainResistance)

		c := NewConnection(ConnectionParams{
			Cache: ch,
			Codec: cdc,
			MVCC:  cfg.MVCC,
		})
		c.BindDatabase(d)

		if cfg.Cache.SweepCron != "" {
			sweeper := cache.NewSweeper(c.logger)
			if err := sweeper.Start(cfg.Cache.SweepCron, ch); err != nil {
				c.logger.Printf("schedule cache sweep %q: %v", cfg.Cache.SweepCron, err)
			} else {
				c.OnCloseCallback(sweeper.Stop)
			}
		}

		return c
	}

	return database.New(st, factory, dbCfg)
}
