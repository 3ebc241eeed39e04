package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dms-agent/backend/gpio"
	"github.com/rustyeddy/dms-agent/backend/serial"
	"github.com/rustyeddy/dms-agent/backend/sim"
	"github.com/rustyeddy/dms-agent/command"
	"github.com/rustyeddy/dms-agent/debugconsole"
	"github.com/rustyeddy/dms-agent/supervisor"
)

var (
	backendKind string
	gpioChip    string
	gpioLines   string
	serialPort  string
	debugAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the DMS and run the supervisor loop until SIGINT/SIGTERM",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&backendKind, "backend", "sim", "local device backend: sim, gpio, serial")
	runCmd.Flags().StringVar(&gpioChip, "gpio-chip", "/dev/gpiochip0", "gpiocdev chip path (backend=gpio)")
	runCmd.Flags().StringVar(&gpioLines, "gpio-lines", "", "comma-separated item=offset pairs (backend=gpio), e.g. power=17,lamp=27")
	runCmd.Flags().StringVar(&serialPort, "serial-port", "/dev/ttyUSB0", "serial device path (backend=serial)")
	runCmd.Flags().StringVar(&debugAddr, "debug-addr", "127.0.0.1:8700", "loopback address for the debug console (empty disables it)")
}

func runRun(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}

	id, err := loaded.Identity()
	if err != nil {
		return fmt.Errorf("building device identity: %w", err)
	}

	backend, closeBackend, err := buildBackend()
	if err != nil {
		return err
	}
	if closeBackend != nil {
		defer closeBackend()
	}

	sup := supervisor.New(loaded, id, backend, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if debugAddr != "" {
		stopConsole, err := serveDebugConsole(sup)
		if err != nil {
			return fmt.Errorf("starting debug console: %w", err)
		}
		defer stopConsole()
	}

	slog.Info("agent: starting", "client_id", id.ClientID(), "backend", backendKind)
	return sup.Run(ctx)
}

func buildBackend() (command.Backend, func(), error) {
	switch backendKind {
	case "", "sim":
		return sim.New(), nil, nil
	case "gpio":
		lines, err := parseGpioLines(gpioLines)
		if err != nil {
			return nil, nil, err
		}
		b, err := gpio.New(gpioChip, lines)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	case "serial":
		b, err := serial.New(serialPort, nil, nil)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backendKind)
	}
}

func parseGpioLines(raw string) (gpio.LineMap, error) {
	lines := make(gpio.LineMap)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return lines, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed --gpio-lines entry %q, want item=offset", pair)
		}
		offset, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed --gpio-lines offset in %q: %w", pair, err)
		}
		lines[strings.TrimSpace(kv[0])] = offset
	}
	return lines, nil
}

// serveDebugConsole starts the debug console on a loopback-only
// listener in the background, mirroring this codebase's serve-command
// pattern of a goroutine-driven http.Server alongside the main loop.
func serveDebugConsole(provider debugconsole.StateProvider) (func(), error) {
	ln, err := net.Listen("tcp", debugAddr)
	if err != nil {
		return nil, err
	}
	console := debugconsole.New(provider, 5*time.Second)
	srv := &http.Server{Handler: console.Mux()}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("debug console stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
