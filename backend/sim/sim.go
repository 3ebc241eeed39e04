// Package sim is the deterministic simulation Backend: spec.md §9
// treats "BCML-enabled" and "simulation" as a single injected
// capability, not separate modes, so this is simply the trivial
// implementation of command.Backend used when no real device control
// plumbing is wired in (local dev, fleet-sim, tests).
package sim

import (
	"context"
	"log/slog"

	"github.com/rustyeddy/dms-agent/command"
	"github.com/rustyeddy/dms-agent/restclient"
)

// Backend always reports success and logs the item it was asked to
// apply, mirroring how blasters/mqtt_blaster.go in this codebase
// stands in for a real station when none is wired up.
type Backend struct{}

// New returns a ready-to-use simulation Backend.
func New() *Backend { return &Backend{} }

func (b *Backend) ApplyControlConfig(ctx context.Context, item restclient.ControlConfigItem) command.Result {
	slog.Info("sim backend applying control config", "item", item.Item, "value", item.Value)
	return command.Result{Success: true}
}
