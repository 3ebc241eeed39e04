package utils

import (
	"sync"
	"time"
)

// Ticker is a wrapper around time.Ticker it is given a name, it hold
// the duration and kept in a map indexed by name such that it is easy
// to lookup to shutdown or reset
type Ticker struct {
	Name string
	*time.Ticker
	Func func(t time.Time)

	mu       sync.Mutex
	ticks    int
	lastTick time.Time
}

var (
	// Start time is the time otto started
	StartTime time.Time

	// the map with all our tickers, guarded by tickersMu since callers
	// like debugconsole create one named ticker per connection from
	// concurrent request handlers
	tickersMu sync.Mutex
	tickers   = make(map[string]*Ticker)
)

func init() {
	StartTime = time.Now()
}

// Timestamp returns the time.Duration since the program was started,
// useful to stamping communication messages.
func Timestamp() time.Duration {
	return time.Since(StartTime)
}

// NewTicker creates a time.Ticker with the name n that will fire
// every d time.Duration. The function f will be called every time
// ticker goes off.  The ticker can be stoped, restarted and reset
// with a different duration
func NewTicker(n string, d time.Duration, f func(t time.Time)) *Ticker {
	t := &Ticker{
		Name:   n,
		Ticker: time.NewTicker(d),
		Func:   f,
	}

	tickersMu.Lock()
	tickers[n] = t
	tickersMu.Unlock()

	go func() {
		for tick := range t.Ticker.C {
			t.mu.Lock()
			t.ticks++
			t.lastTick = tick
			t.mu.Unlock()
			f(tick)
		}
	}()
	return t
}

// GetTickers will return the map of all ticker values.
func GetTickers() map[string]*Ticker {
	tickersMu.Lock()
	defer tickersMu.Unlock()
	cp := make(map[string]*Ticker, len(tickers))
	for k, v := range tickers {
		cp[k] = v
	}
	return cp
}

// GetTicker will return the named ticker or nil if it does not exist
func GetTicker(n string) *Ticker {
	tickersMu.Lock()
	defer tickersMu.Unlock()
	return tickers[n]
}

// StopTicker stops the named ticker's underlying time.Ticker and
// removes it from the registry. Callers that create a ticker scoped to
// a short-lived session (a debug console websocket connection, for
// instance) must call this on teardown or the registry grows without
// bound.
func StopTicker(n string) {
	tickersMu.Lock()
	t, ok := tickers[n]
	if ok {
		delete(tickers, n)
	}
	tickersMu.Unlock()
	if ok {
		t.Ticker.Stop()
	}
}
