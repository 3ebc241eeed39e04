package debugconsole

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dms-agent/identity"
	"github.com/rustyeddy/dms-agent/reconnect"
)

type fakeProvider struct {
	state  string
	bound  bool
	sched  *reconnect.Scheduler
	forced bool
}

func (p *fakeProvider) ConnectionStateString() string   { return p.state }
func (p *fakeProvider) Reconnect() *reconnect.Scheduler { return p.sched }
func (p *fakeProvider) DeviceBound() bool               { return p.bound }
func (p *fakeProvider) ForceReconnect()                 { p.forced = true }

func testScheduler(t *testing.T) *reconnect.Scheduler {
	t.Helper()
	cfg := identity.DefaultConfig()
	id, err := identity.NewIdentity("M", "S", "aabbccddeeff", "NA", "B",
		identity.Linux, identity.Embedded, "US", "1", nil)
	require.NoError(t, err)
	return reconnect.New(cfg, id, reconnect.Capabilities{})
}

func TestServeStatusReturnsSnapshot(t *testing.T) {
	p := &fakeProvider{state: "mqtt_connected", bound: true, sched: testScheduler(t)}
	c := New(p, time.Second)

	srv := httptest.NewServer(c.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "mqtt_connected", snap.ConnectionState)
	assert.True(t, snap.DeviceBound)
}

func TestServeReconnectForcesProviderAndRejectsGet(t *testing.T) {
	p := &fakeProvider{state: "mqtt_connected", sched: testScheduler(t)}
	c := New(p, time.Second)

	srv := httptest.NewServer(c.Mux())
	defer srv.Close()

	getResp, err := http.Get(srv.URL + "/reconnect")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
	assert.False(t, p.forced)

	postResp, err := http.Post(srv.URL+"/reconnect", "application/json", nil)
	require.NoError(t, err)
	defer postResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, postResp.StatusCode)
	assert.True(t, p.forced)
}

func TestServeWSPushesSnapshots(t *testing.T) {
	p := &fakeProvider{state: "disconnected", sched: testScheduler(t)}
	c := New(p, 20*time.Millisecond)

	srv := httptest.NewServer(c.Mux())
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var snap Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "disconnected", snap.ConnectionState)
}
