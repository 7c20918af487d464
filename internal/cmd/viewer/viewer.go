// Package viewer parses viewer command flags and starts a player-side
// replica endpoint.
package viewer

import (
	"context"
	"flag"
	"log"

	natsbus "github.com/louisbranch/foeveil/internal/bus/nats"
	entrypoint "github.com/louisbranch/foeveil/internal/platform/cmd"
	"github.com/louisbranch/foeveil/internal/protocol"
)

// Config holds viewer command configuration.
type Config struct {
	ViewerID string `env:"FOEVEIL_VIEWER_ID"`
	NATSURL  string `env:"FOEVEIL_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.ViewerID, "viewer", cfg.ViewerID, "Viewer identifier for this session")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the viewer endpoint and blocks until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceViewer, func(ctx context.Context) error {
		b, err := natsbus.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer b.Close()

		viewer, err := protocol.NewViewer(protocol.ViewerConfig{
			ViewerID: cfg.ViewerID,
			Bus:      b,
			OnResult: logOutcome,
		})
		if err != nil {
			return err
		}
		if err := viewer.Start(ctx); err != nil {
			return err
		}
		defer viewer.Stop()

		log.Printf("viewer %s connected to %s", cfg.ViewerID, cfg.NATSURL)
		<-ctx.Done()
		return nil
	})
}

func logOutcome(outcome protocol.Outcome) {
	if !outcome.Approved {
		log.Printf("request for %s of %s was rejected", outcome.AttributeKey, outcome.EntityID)
		return
	}
	verdict := "failed"
	if outcome.Success {
		verdict = "succeeded"
	}
	log.Printf("check for %s of %s %s: rolled %d against %d",
		outcome.AttributeKey, outcome.EntityID, verdict, outcome.Total, outcome.Threshold)
}
