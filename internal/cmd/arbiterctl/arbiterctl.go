// Package arbiterctl parses control command flags and publishes a single
// disclosure resolution to the running arbiter.
package arbiterctl

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/louisbranch/foeveil/internal/bus"
	natsbus "github.com/louisbranch/foeveil/internal/bus/nats"
	entrypoint "github.com/louisbranch/foeveil/internal/platform/cmd"
	"github.com/louisbranch/foeveil/internal/protocol"
)

// Actions accepted by the command.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Config holds control command configuration.
type Config struct {
	NATSURL      string `env:"FOEVEIL_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Action       string
	ViewerID     string
	EntityID     string
	AttributeKey string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL")
	fs.StringVar(&cfg.Action, "action", "", "Resolution action: approve or reject")
	fs.StringVar(&cfg.ViewerID, "viewer", "", "Viewer whose request is being resolved")
	fs.StringVar(&cfg.EntityID, "entity", "", "Entity of the pending request")
	fs.StringVar(&cfg.AttributeKey, "attribute", "", "Attribute of the pending request")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the config names a complete resolution.
func (cfg Config) Validate() error {
	switch cfg.Action {
	case ActionApprove, ActionReject:
	default:
		return fmt.Errorf("action must be %q or %q, got %q", ActionApprove, ActionReject, cfg.Action)
	}
	if strings.TrimSpace(cfg.ViewerID) == "" {
		return fmt.Errorf("viewer is required")
	}
	if strings.TrimSpace(cfg.EntityID) == "" {
		return fmt.Errorf("entity is required")
	}
	if strings.TrimSpace(cfg.AttributeKey) == "" {
		return fmt.Errorf("attribute is required")
	}
	return nil
}

// Message builds the control message the config describes.
func (cfg Config) Message() (protocol.Message, error) {
	if err := cfg.Validate(); err != nil {
		return protocol.Message{}, err
	}
	kind := protocol.KindApproveDisclosure
	if cfg.Action == ActionReject {
		kind = protocol.KindRejectDisclosure
	}
	return protocol.Message{
		Kind:         kind,
		ViewerID:     strings.TrimSpace(cfg.ViewerID),
		EntityID:     strings.TrimSpace(cfg.EntityID),
		AttributeKey: strings.TrimSpace(cfg.AttributeKey),
	}, nil
}

// Run publishes the resolution and exits.
func Run(ctx context.Context, cfg Config) error {
	message, err := cfg.Message()
	if err != nil {
		return err
	}
	data, err := protocol.Encode(message)
	if err != nil {
		return err
	}

	b, err := natsbus.Connect(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer b.Close()

	return b.Publish(ctx, bus.SubjectControl, data)
}
