package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dms-agent/restclient"
)

type fakeBackend struct {
	results map[string]Result
	calls   []restclient.ControlConfigItem
}

func (b *fakeBackend) ApplyControlConfig(ctx context.Context, item restclient.ControlConfigItem) Result {
	b.calls = append(b.calls, item)
	if r, ok := b.results[item.Item]; ok {
		return r
	}
	return Result{Success: true}
}

type fakeREST struct {
	listItems     []restclient.ControlConfigItem
	listErr       error
	progressCalls []restclient.ControlProgressResult
	progressErr   error
	uploadResp    restclient.UploadURLResponse
	uploadErr     error
	putErr        error
	putCalledWith []byte
}

func (r *fakeREST) ControlConfigList(ctx context.Context, uniqueID string) ([]restclient.ControlConfigItem, error) {
	return r.listItems, r.listErr
}

func (r *fakeREST) ControlProgressUpdate(ctx context.Context, uniqueID string, results []restclient.ControlProgressResult) error {
	r.progressCalls = results
	return r.progressErr
}

func (r *fakeREST) LogUploadURLAttain(ctx context.Context, req restclient.LogUploadURLRequest) (restclient.UploadURLResponse, error) {
	return r.uploadResp, r.uploadErr
}

func (r *fakeREST) PutLogArtifact(ctx context.Context, uploadURL, contentType string, data []byte) error {
	r.putCalledWith = data
	return r.putErr
}

type fakeShadow struct {
	resetCalls  []string
	reportCalls map[string]bool
}

func newFakeShadow() *fakeShadow {
	return &fakeShadow{reportCalls: map[string]bool{}}
}

func (s *fakeShadow) ResetDesired(key string) error {
	s.resetCalls = append(s.resetCalls, key)
	return nil
}

func (s *fakeShadow) ReportCommandResult(key string, success bool) error {
	s.reportCalls[key] = success
	return nil
}

func TestParseDeltaRecognizesControlConfigChange(t *testing.T) {
	cmd, err := ParseDelta([]byte(`{"state":{"desired":{"control-config-change":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindControlConfigChange, cmd.Kind)
	assert.Equal(t, "control-config-change", cmd.Key)
}

func TestParseDeltaIgnoresNonOneValues(t *testing.T) {
	cmd, err := ParseDelta([]byte(`{"state":{"desired":{"control-config-change":0}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindNone, cmd.Kind)
}

func TestParseDeltaNoRecognizedKeyIsNoOp(t *testing.T) {
	cmd, err := ParseDelta([]byte(`{"state":{"desired":{"something_else":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindNone, cmd.Kind)
}

func TestParseDeltaMalformedJSON(t *testing.T) {
	_, err := ParseDelta([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseDeltaToleratesNonIntegerSiblingValue(t *testing.T) {
	cases := []struct {
		name string
		key  string
		kind Kind
	}{
		{"control-config-change", "control-config-change", KindControlConfigChange},
		{"upload_logs", "upload_logs", KindUploadLogs},
		{"fw_upgrade", "fw_upgrade", KindFwUpgrade},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := []byte(`{"state":{"desired":{"` + tc.key + `":1,"unrelated":"not-a-number","nested":{"a":1},"list":[1,2]}}}`)
			cmd, err := ParseDelta(payload)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, cmd.Kind)
			assert.Equal(t, tc.key, cmd.Key)
		})
	}
}

func TestParseDeltaSkipsRecognizedKeyWithNonIntegerValue(t *testing.T) {
	cmd, err := ParseDelta([]byte(`{"state":{"desired":{"control-config-change":"yes","upload_logs":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindUploadLogs, cmd.Kind)
}

func TestControlConfigChangeAllSucceed(t *testing.T) {
	backend := &fakeBackend{}
	rest := &fakeREST{listItems: []restclient.ControlConfigItem{
		{StatusProgressID: 1, Item: "wifi_ssid", Type: restclient.ItemTypeString, Value: "guest"},
		{StatusProgressID: 2, Item: "wifi_password", Type: restclient.ItemTypeString, Value: "secret"},
	}}
	sh := newFakeShadow()
	d := &Dispatcher{UniqueID: "dms-AABBCCDDEEFF", Backend: backend, REST: rest, Shadow: sh}

	outcome := d.Process(context.Background(), Command{Kind: KindControlConfigChange, Key: "control-config-change"})

	assert.True(t, outcome)
	assert.Len(t, backend.calls, 2)
	require.Len(t, rest.progressCalls, 2)
	assert.Equal(t, restclient.ProgressSuccess, rest.progressCalls[0].Status)
	assert.Equal(t, []string{"control-config-change"}, sh.resetCalls)
	assert.Equal(t, true, sh.reportCalls["control-config-change"])
}

func TestControlConfigChangePartialFailure(t *testing.T) {
	backend := &fakeBackend{results: map[string]Result{
		"wifi_password": {Success: false, FailedCode: "E1", FailedReason: "rejected"},
	}}
	rest := &fakeREST{listItems: []restclient.ControlConfigItem{
		{StatusProgressID: 1, Item: "wifi_ssid"},
		{StatusProgressID: 2, Item: "wifi_password"},
	}}
	sh := newFakeShadow()
	d := &Dispatcher{Backend: backend, REST: rest, Shadow: sh}

	outcome := d.Process(context.Background(), Command{Kind: KindControlConfigChange, Key: "control-config-change"})

	assert.False(t, outcome)
	assert.Equal(t, restclient.ProgressFailed, rest.progressCalls[1].Status)
	assert.Equal(t, false, sh.reportCalls["control-config-change"])
}

func TestControlConfigChangeListFailureStillReportsProgress(t *testing.T) {
	backend := &fakeBackend{}
	rest := &fakeREST{listErr: errors.New("network down")}
	sh := newFakeShadow()
	d := &Dispatcher{Backend: backend, REST: rest, Shadow: sh}

	outcome := d.Process(context.Background(), Command{Kind: KindControlConfigChange, Key: "control-config-change"})

	assert.True(t, outcome) // zero items, vacuously all succeeded
	assert.Empty(t, backend.calls)
}

func TestUploadLogsWithoutProducerIsNoOp(t *testing.T) {
	sh := newFakeShadow()
	d := &Dispatcher{Shadow: sh}

	outcome := d.Process(context.Background(), Command{Kind: KindUploadLogs, Key: "upload_logs"})
	assert.True(t, outcome)
}

type fakeLogProducer struct {
	contentType string
	data        []byte
	err         error
}

func (p *fakeLogProducer) ProduceLog(ctx context.Context) (string, []byte, error) {
	return p.contentType, p.data, p.err
}

func TestUploadLogsSuccess(t *testing.T) {
	rest := &fakeREST{uploadResp: restclient.UploadURLResponse{UploadURL: "https://upload.example.com/x"}}
	sh := newFakeShadow()
	d := &Dispatcher{
		UniqueID:    "dms-AABBCCDDEEFF",
		REST:        rest,
		Shadow:      sh,
		LogProducer: &fakeLogProducer{contentType: "text/plain", data: []byte("log contents")},
	}

	outcome := d.Process(context.Background(), Command{Kind: KindUploadLogs, Key: "upload_logs"})
	assert.True(t, outcome)
	assert.Equal(t, []byte("log contents"), rest.putCalledWith)
}

func TestUploadLogsProducerFailure(t *testing.T) {
	sh := newFakeShadow()
	d := &Dispatcher{
		Shadow:      sh,
		LogProducer: &fakeLogProducer{err: errors.New("disk full")},
		REST:        &fakeREST{},
	}

	outcome := d.Process(context.Background(), Command{Kind: KindUploadLogs, Key: "upload_logs"})
	assert.False(t, outcome)
}

func TestFwUpgradeIsReservedNoOp(t *testing.T) {
	sh := newFakeShadow()
	d := &Dispatcher{Shadow: sh}

	outcome := d.Process(context.Background(), Command{Kind: KindFwUpgrade, Key: "fw_upgrade"})
	assert.True(t, outcome)
	assert.Equal(t, true, sh.reportCalls["fw_upgrade"])
}

func TestResetDesiredAndReportAlwaysCalledEvenOnFailure(t *testing.T) {
	sh := newFakeShadow()
	d := &Dispatcher{REST: &fakeREST{listErr: errors.New("x")}, Backend: &fakeBackend{}, Shadow: sh}
	d.REST.(*fakeREST).progressErr = errors.New("progress update failed")

	d.Process(context.Background(), Command{Kind: KindControlConfigChange, Key: "control-config-change"})

	assert.Contains(t, sh.resetCalls, "control-config-change")
	_, reported := sh.reportCalls["control-config-change"]
	assert.True(t, reported)
}

func TestOnDeltaIgnoresNoOpCommands(t *testing.T) {
	sh := newFakeShadow()
	d := &Dispatcher{Shadow: sh}
	d.OnDelta("topic", []byte(`{"state":{"desired":{}}}`))
	assert.Empty(t, sh.resetCalls)
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "control-config-change", KindControlConfigChange.String())
	assert.Equal(t, "upload_logs", KindUploadLogs.String())
	assert.Equal(t, "fw_upgrade", KindFwUpgrade.String())
	assert.Equal(t, "none", KindNone.String())
}
