package shadow

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher is an in-memory Publisher that records every publish
// and lets tests inject inbound messages through a routed handler.
type fakePublisher struct {
	mu         sync.Mutex
	published  []fakeMsg
	subscribed []string
	handler    func(topic string, payload []byte)
	pumpErr    error
	feed       []fakeMsg // messages delivered on the next ProcessLoop call
}

type fakeMsg struct {
	topic   string
	payload []byte
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, fakeMsg{topic, append([]byte(nil), payload...)})
	return nil
}

func (f *fakePublisher) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakePublisher) ProcessLoop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pumpErr != nil {
		return f.pumpErr
	}
	for _, m := range f.feed {
		if f.handler != nil {
			f.handler(m.topic, m.payload)
		}
	}
	f.feed = nil
	return nil
}

func newEngine(t *testing.T) (*Engine, *fakePublisher, []string) {
	t.Helper()
	fp := &fakePublisher{}
	var deltas []string
	e := New(fp, "dms-AABBCCDDEEFF", func(topic string, payload []byte) {
		deltas = append(deltas, string(payload))
	})
	fp.handler = e.HandleInbound
	return e, fp, deltas
}

func TestStartSubscribesFiveTopicsAndGets(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.Start())

	assert.Len(t, fp.subscribed, 5)
	require.NotEmpty(t, fp.published)
	last := fp.published[len(fp.published)-1]
	assert.Equal(t, e.topic(suffixGet), last.topic)
	assert.Equal(t, "{}", string(last.payload))
}

func TestGetAcceptedBoundDevice(t *testing.T) {
	e, fp, _ := newEngine(t)

	payload := []byte(`{"state":{"reported":{"info":{
		"company_name":"ACME","added_by":"alice","device_name":"rx-01","company_id":"c7"
	}}}}`)
	fp.feed = []fakeMsg{{topic: e.topic(suffixGetAccepted), payload: payload}}
	require.NoError(t, fp.ProcessLoop())

	assert.True(t, e.IsDeviceBound())
	assert.Equal(t, "ACME", e.Binding().CompanyName)
}

func TestGetAcceptedUnboundDevice(t *testing.T) {
	e, fp, _ := newEngine(t)

	payload := []byte(`{"state":{"reported":{"info":{}}}}`)
	fp.feed = []fakeMsg{{topic: e.topic(suffixGetAccepted), payload: payload}}
	require.NoError(t, fp.ProcessLoop())

	assert.False(t, e.IsDeviceBound())
}

func TestGetRejectedSettlesPendingWithoutBinding(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.GetDocument())

	fp.feed = []fakeMsg{{topic: e.topic(suffixGetRejected), payload: []byte(`{}`)}}
	require.NoError(t, fp.ProcessLoop())

	assert.False(t, e.pending.pending)
	assert.False(t, e.pending.received)
}

func TestUpdateDeltaForwardsToDispatcher(t *testing.T) {
	e, fp, _ := newEngine(t)
	var got string
	e.onDelta = func(topic string, payload []byte) { got = string(payload) }
	fp.handler = e.HandleInbound

	delta := `{"state":{"desired":{"control-config-change":1}}}`
	fp.feed = []fakeMsg{{topic: e.topic(suffixUpdateDelta), payload: []byte(delta)}}
	require.NoError(t, fp.ProcessLoop())

	assert.Equal(t, delta, got)
}

func TestResetDesiredPublishesNullKey(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.ResetDesired("control-config-change"))

	require.Len(t, fp.published, 1)
	assert.Contains(t, string(fp.published[0].payload), `"control-config-change":null`)
	assert.Equal(t, e.topic(suffixUpdate), fp.published[0].topic)
}

func TestReportCommandResultPublishesOutcome(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.ReportCommandResult("control-config-change", true))

	require.Len(t, fp.published, 1)
	body := string(fp.published[0].payload)
	assert.Contains(t, body, `"control-config-change_result":"success"`)
	assert.Contains(t, body, `"control-config-change_timestamp"`)
}

func TestReportCommandResultFailure(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.ReportCommandResult("upload_logs", false))

	body := string(fp.published[0].payload)
	assert.Contains(t, body, `"upload_logs_result":"failed"`)
}

func TestWaitGetResponseTimesOut(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.GetDocument())

	result := e.WaitGetResponse(time.Now().Add(10 * time.Millisecond))
	assert.Equal(t, GetTimeout, result)
	assert.False(t, e.pending.pending)
	_ = fp
}

func TestWaitGetResponseSettlesOnReceive(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.GetDocument())

	fp.feed = []fakeMsg{{topic: e.topic(suffixGetAccepted), payload: []byte(`{"state":{"reported":{"info":{}}}}`)}}

	result := e.WaitGetResponse(time.Now().Add(time.Second))
	assert.Equal(t, GetSuccess, result)
}

func TestWaitGetResponsePropagatesTransportFailure(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.GetDocument())
	fp.pumpErr = fmt.Errorf("recv failed")

	result := e.WaitGetResponse(time.Now().Add(time.Second))
	assert.Equal(t, GetMqttFailure, result)
}

func TestBindingBoundRequiresAllFourFields(t *testing.T) {
	full := Binding{CompanyName: "a", CompanyID: "b", DeviceName: "c", AddedBy: "d"}
	assert.True(t, full.Bound())

	partial := full
	partial.AddedBy = ""
	assert.False(t, partial.Bound())
}

func TestUpdateReportedDerivesSnapshotWhenNil(t *testing.T) {
	e, fp, _ := newEngine(t)
	require.NoError(t, e.UpdateReported(nil))

	require.Len(t, fp.published, 1)
	assert.Equal(t, e.topic(suffixUpdate), fp.published[0].topic)
	assert.Contains(t, string(fp.published[0].payload), `"connected":true`)
}
