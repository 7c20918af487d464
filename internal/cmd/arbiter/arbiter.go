// Package arbiter parses arbiter command flags and starts the session
// authority.
package arbiter

import (
	"context"
	"flag"
	"log"

	natsbus "github.com/louisbranch/foeveil/internal/bus/nats"
	entrypoint "github.com/louisbranch/foeveil/internal/platform/cmd"
	"github.com/louisbranch/foeveil/internal/protocol"
	"github.com/louisbranch/foeveil/internal/queue"
	"github.com/louisbranch/foeveil/internal/storage/sqlite"
)

// Config holds arbiter command configuration.
type Config struct {
	DBPath  string `env:"FOEVEIL_ARBITER_DB" envDefault:"foeveil.db"`
	NATSURL string `env:"FOEVEIL_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the session settings database")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the arbiter endpoint and blocks until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceArbiter, func(ctx context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		b, err := natsbus.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer b.Close()

		q, err := queue.New(store)
		if err != nil {
			return err
		}

		arbiter, err := protocol.NewArbiter(protocol.ArbiterConfig{
			Store: store,
			Queue: q,
			Bus:   b,
		})
		if err != nil {
			return err
		}
		if err := arbiter.Start(ctx); err != nil {
			return err
		}
		defer arbiter.Stop()

		// Hydrate after the arbiter has registered its resolution
		// handlers, so re-armed timers can broadcast their rejections.
		opts, err := store.LoadOptions(ctx)
		if err != nil {
			return err
		}
		if err := q.Load(ctx, opts.AutoRejectDelay()); err != nil {
			return err
		}

		log.Printf("arbiter listening on %s", cfg.NATSURL)
		<-ctx.Done()
		return nil
	})
}
