// Package options holds the arbiter-configurable session options.
package options

import (
	"fmt"
	"time"

	"github.com/louisbranch/foeveil/internal/core/dc"
)

// Options is the session configuration aggregate, persisted wholesale and
// owned by the arbiter.
type Options struct {
	// DCCalculationMode selects the threshold calculation mode.
	DCCalculationMode dc.Mode `json:"dcCalculationMode"`
	// FixedDCValue is the base threshold for the fixed mode.
	FixedDCValue int `json:"fixedDCValue"`
	// DCModifiers are global per-attribute threshold deltas.
	DCModifiers map[string]int `json:"dcModifiers,omitempty"`
	// ArbiterDCAdjustments are per-attribute override deltas applied after
	// the mode-computed base.
	ArbiterDCAdjustments map[string]int `json:"arbiterDCAdjustments,omitempty"`
	// RequireApproval gates disclosure rolls behind arbiter approval.
	RequireApproval bool `json:"requireApproval"`
	// AutoRejectEnabled schedules automatic rejection of unanswered
	// disclosure requests.
	AutoRejectEnabled bool `json:"autoRejectEnabled"`
	// AutoRejectMinutes is the auto-reject delay in minutes.
	AutoRejectMinutes int `json:"autoRejectMinutes"`
	// UseViewerModifiers applies the requesting viewer's ability modifier
	// to ability-check disclosure rolls.
	UseViewerModifiers bool `json:"useViewerModifiers"`
	// NotifyOnReveal posts reveal/hide notices to affected viewers.
	NotifyOnReveal bool `json:"notifyOnReveal"`
}

// Defaults returns the out-of-the-box session options.
func Defaults() Options {
	return Options{
		DCCalculationMode: dc.ModeScaling,
		FixedDCValue:      dc.DefaultFixedBase,
		RequireApproval:   true,
		AutoRejectEnabled: false,
		AutoRejectMinutes: 5,
		NotifyOnReveal:    true,
	}
}

// Validate checks option values that have constrained ranges.
func (o Options) Validate() error {
	switch o.DCCalculationMode {
	case dc.ModeDefault, dc.ModeFixed, dc.ModeScaling:
	default:
		return fmt.Errorf("unknown dc calculation mode %q", o.DCCalculationMode)
	}
	if o.FixedDCValue < 0 {
		return fmt.Errorf("fixed dc value must not be negative")
	}
	if o.AutoRejectEnabled && (o.AutoRejectMinutes < 1 || o.AutoRejectMinutes > 60) {
		return fmt.Errorf("auto-reject minutes must be between 1 and 60")
	}
	return nil
}

// Policy builds the threshold policy described by these options.
func (o Options) Policy() dc.Policy {
	return dc.Policy{
		Mode:      o.DCCalculationMode,
		FixedBase: o.FixedDCValue,
		Modifiers: o.DCModifiers,
		Overrides: o.ArbiterDCAdjustments,
	}
}

// AutoRejectDelay returns the configured auto-reject duration, or zero when
// auto-reject is disabled.
func (o Options) AutoRejectDelay() time.Duration {
	if !o.AutoRejectEnabled {
		return 0
	}
	return time.Duration(o.AutoRejectMinutes) * time.Minute
}
