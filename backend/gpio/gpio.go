// Package gpio is a command.Backend for AP/signage devices whose
// control-config items map onto GPIO lines (radio kill switches, relay
// power for signage panels, status LEDs). It is built on
// github.com/warthog618/go-gpiocdev for the Linux gpiod character
// device ABI, with periph.io/x/host providing the platform init this
// codebase's hardware-facing code already performs before touching
// any GPIO or SPI/I2C peripheral.
package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/host/v3"

	"github.com/rustyeddy/dms-agent/command"
	"github.com/rustyeddy/dms-agent/restclient"
)

// LineMap associates a control-config item name with the offset of
// the gpiochip line that controls it.
type LineMap map[string]int

// Backend drives a single gpiochip's output lines. One Backend serves
// the whole control-config namespace for a device; unmapped items are
// rejected with a Result.Success == false rather than panicking, since
// an unrecognized config key from the DMS should never crash the
// agent (spec.md §7's "no error aborts the process").
type Backend struct {
	chipName string
	lines    LineMap

	mu     sync.Mutex
	chip   *gpiocdev.Chip
	lineHs map[int]*gpiocdev.Line
}

// New opens chipName (e.g. "gpiochip0") and prepares it for lazy
// per-line requests. periph.io/x/host.Init is called once so platform
// drivers relevant to this board are registered before any gpiocdev
// line request, matching this codebase's hardware bring-up order.
func New(chipName string, lines LineMap) (*Backend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: platform init: %w", err)
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("gpio: opening %s: %w", chipName, err)
	}

	return &Backend{
		chipName: chipName,
		lines:    lines,
		chip:     chip,
		lineHs:   make(map[int]*gpiocdev.Line),
	}, nil
}

func (b *Backend) lineFor(offset int) (*gpiocdev.Line, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.lineHs[offset]; ok {
		return l, nil
	}
	l, err := b.chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("gpio: requesting line %d: %w", offset, err)
	}
	b.lineHs[offset] = l
	return l, nil
}

// ApplyControlConfig drives the GPIO line mapped to item.Item to the
// value parsed from item.Value (expected "0" or "1"). Unmapped items
// or parse failures return a failed Result rather than an error: the
// dispatcher's job is to report per-item status back to the DMS, not
// to abort the batch.
func (b *Backend) ApplyControlConfig(ctx context.Context, item restclient.ControlConfigItem) command.Result {
	offset, ok := b.lines[item.Item]
	if !ok {
		slog.Warn("gpio backend: no line mapped for control item", "item", item.Item)
		return command.Result{Success: false, FailedCode: "unmapped_item", FailedReason: item.Item}
	}

	value, err := strconv.Atoi(item.Value)
	if err != nil || (value != 0 && value != 1) {
		return command.Result{Success: false, FailedCode: "invalid_value", FailedReason: item.Value}
	}

	line, err := b.lineFor(offset)
	if err != nil {
		slog.Error("gpio backend: requesting line failed", "item", item.Item, "error", err)
		return command.Result{Success: false, FailedCode: "line_request_failed", FailedReason: err.Error()}
	}

	if err := line.SetValue(value); err != nil {
		slog.Error("gpio backend: set value failed", "item", item.Item, "error", err)
		return command.Result{Success: false, FailedCode: "set_value_failed", FailedReason: err.Error()}
	}
	return command.Result{Success: true}
}

// Close releases every requested line and the chip handle.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.lineHs {
		_ = l.Close()
	}
	return b.chip.Close()
}
