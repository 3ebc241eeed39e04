// Package serial is a command.Backend for RS-232-controlled
// projectors (device_type == identity.Projector). It is built on
// go.bug.st/serial, the serial port library already in this
// codebase's dependency set for exactly this device class.
package serial

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/rustyeddy/dms-agent/command"
	"github.com/rustyeddy/dms-agent/restclient"
)

// CommandSet maps a control-config item name to the literal ASCII
// command bytes this projector model expects on the wire, with an
// expected ACK substring the projector echoes back.
type CommandSet map[string]ProjectorCommand

// ProjectorCommand is one control-config item's wire encoding.
type ProjectorCommand struct {
	OnFrame  []byte
	OffFrame []byte
	AckWant  string
}

// Backend owns one open serial port shared across every control-config
// item for this device; most PJLink/PJ-style protocols are
// command/ack over a single half-duplex line.
type Backend struct {
	portName string
	mode     *serial.Mode
	commands CommandSet
	timeout  time.Duration

	mu   sync.Mutex
	port serial.Port
}

// New opens portName (e.g. "/dev/ttyUSB0") at mode and returns a
// Backend ready to drive commands.
func New(portName string, mode *serial.Mode, commands CommandSet) (*Backend, error) {
	if mode == nil {
		mode = &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: opening %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(2 * time.Second); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serial: setting read timeout: %w", err)
	}

	return &Backend{
		portName: portName,
		mode:     mode,
		commands: commands,
		timeout:  2 * time.Second,
		port:     port,
	}, nil
}

// ApplyControlConfig writes the on/off frame for item.Item based on
// item.Value ("1" selects OnFrame, anything else OffFrame) and checks
// the projector's ACK.
func (b *Backend) ApplyControlConfig(ctx context.Context, item restclient.ControlConfigItem) command.Result {
	cmd, ok := b.commands[item.Item]
	if !ok {
		slog.Warn("serial backend: no command mapped for control item", "item", item.Item)
		return command.Result{Success: false, FailedCode: "unmapped_item", FailedReason: item.Item}
	}

	frame := cmd.OffFrame
	if item.Value == "1" {
		frame = cmd.OnFrame
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.port.Write(frame); err != nil {
		slog.Error("serial backend: write failed", "item", item.Item, "error", err)
		return command.Result{Success: false, FailedCode: "write_failed", FailedReason: err.Error()}
	}

	if cmd.AckWant == "" {
		return command.Result{Success: true}
	}

	buf := make([]byte, 64)
	n, err := b.port.Read(buf)
	if err != nil {
		slog.Error("serial backend: read ack failed", "item", item.Item, "error", err)
		return command.Result{Success: false, FailedCode: "ack_read_failed", FailedReason: err.Error()}
	}
	if n == 0 {
		return command.Result{Success: false, FailedCode: "ack_timeout", FailedReason: item.Item}
	}
	if !strings.Contains(string(buf[:n]), cmd.AckWant) {
		return command.Result{Success: false, FailedCode: "ack_mismatch", FailedReason: string(buf[:n])}
	}
	return command.Result{Success: true}
}

// Close releases the serial port.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.Close()
}
