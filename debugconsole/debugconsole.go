// Package debugconsole exposes a loopback-only HTTP+WebSocket status
// view of the running agent: connection state, reconnect counters, and
// a shadow binding snapshot. It is adapted from this codebase's HTTP
// server package, generalized from serving live sensor readings to
// serving agent supervisor state, using the same
// github.com/gorilla/websocket upgrade pattern.
package debugconsole

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyeddy/dms-agent/reconnect"
	"github.com/rustyeddy/dms-agent/utils"
)

// Snapshot is the JSON status document served on both the REST
// endpoint and the WebSocket stream.
type Snapshot struct {
	ConnectionState string    `json:"connection_state"`
	RetryCount      int       `json:"retry_count"`
	TotalReconnects int       `json:"total_reconnects"`
	DeviceBound     bool      `json:"device_bound"`
	Uptime          string    `json:"uptime"`
	SampledAt       time.Time `json:"sampled_at"`
}

// StateProvider is the minimal read-only view the console needs from
// the Supervisor, kept as an interface so debugconsole has no import
// dependency on supervisor; cmd/run.go wires the console to the
// running Supervisor.
type StateProvider interface {
	ConnectionStateString() string
	Reconnect() *reconnect.Scheduler
	DeviceBound() bool
	ForceReconnect()
}

// Console serves /status (JSON) and /ws (live push every interval) on
// a loopback-only listener.
type Console struct {
	provider StateProvider
	interval time.Duration

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New builds a Console that samples provider every interval for its
// WebSocket subscribers. A zero interval defaults to 5s.
func New(provider StateProvider, interval time.Duration) *Console {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Console{
		provider: provider,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // loopback-only by listen address, not origin
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (c *Console) snapshot() Snapshot {
	s := Snapshot{
		ConnectionState: c.provider.ConnectionStateString(),
		DeviceBound:     c.provider.DeviceBound(),
		Uptime:          utils.Timestamp().String(),
		SampledAt:       time.Now(),
	}
	if sched := c.provider.Reconnect(); sched != nil {
		s.RetryCount = sched.RetryCount()
		s.TotalReconnects = sched.TotalReconnects()
	}
	return s
}

// ServeStatus handles GET /status.
func (c *Console) ServeStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c.snapshot())
}

// ServeWS handles GET /ws: upgrades then pushes a Snapshot every
// interval until the client disconnects. The push is driven by a named
// utils.Ticker rather than a bare time.Ticker, so each live connection
// shows up in utils.GetTickers() alongside any other periodic task the
// agent registers there.
func (c *Console) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("debugconsole: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c.mu.Lock()
	c.clients[conn] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.clients, conn)
		c.mu.Unlock()
	}()

	name := fmt.Sprintf("debugconsole-ws-%p", conn)
	failed := make(chan struct{})
	var closeOnce sync.Once
	utils.NewTicker(name, c.interval, func(time.Time) {
		if err := conn.WriteJSON(c.snapshot()); err != nil {
			closeOnce.Do(func() { close(failed) })
		}
	})
	defer utils.StopTicker(name)

	<-failed
}

// ServeReconnect handles POST /reconnect: forces the supervisor to drop
// its connection and re-enter the reconnect loop on its next tick, for
// the `agent shell` REPL's "force a reconnect" command.
func (c *Console) ServeReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c.provider.ForceReconnect()
	w.WriteHeader(http.StatusAccepted)
}

// Mux returns an http.ServeMux with /status, /ws, and /reconnect
// registered, ready to be wrapped by http.Serve on a loopback listener
// by the caller.
func (c *Console) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", c.ServeStatus)
	mux.HandleFunc("/ws", c.ServeWS)
	mux.HandleFunc("/reconnect", c.ServeReconnect)
	return mux
}
