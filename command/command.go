// Package command implements the Command Dispatcher of spec.md §4.4:
// it parses shadow delta documents into typed Commands, executes them
// through an injected device backend and the REST client, and closes
// the loop with the shadow engine's reset/report helpers.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/dms-agent/cryptoutil"
	"github.com/rustyeddy/dms-agent/restclient"
)

// Kind is the Command.kind enum of spec.md §3.
type Kind int

const (
	KindNone Kind = iota
	KindControlConfigChange
	KindUploadLogs
	KindFwUpgrade
)

func (k Kind) String() string {
	switch k {
	case KindControlConfigChange:
		return "control-config-change"
	case KindUploadLogs:
		return "upload_logs"
	case KindFwUpgrade:
		return "fw_upgrade"
	default:
		return "none"
	}
}

// Command is the parsed, typed result of one delta document
// (spec.md §3).
type Command struct {
	Kind         Kind
	Key          string
	TriggerValue int
	Timestamp    time.Time
}

// recognizedKeys lists the top-level desired keys this dispatcher
// understands, in the parsing order spec.md §4.4 requires ("the first
// recognized key with value 1 becomes the command").
var recognizedKeys = []struct {
	key  string
	kind Kind
}{
	{"control-config-change", KindControlConfigChange},
	{"upload_logs", KindUploadLogs},
	{"fw_upgrade", KindFwUpgrade},
}

type deltaDoc struct {
	State struct {
		Desired map[string]json.RawMessage `json:"desired"`
	} `json:"state"`
}

// ParseDelta implements spec.md §4.4's parsing rule without mutating
// any shadow state. A delta with no recognized key at value 1 yields
// Kind == KindNone. Desired is decoded key-by-key rather than as a
// single map[string]int so an unrelated sibling key with a
// non-integer value (a string, object, or array) doesn't fail the
// whole parse and drop a well-formed recognized key.
func ParseDelta(payload []byte) (Command, error) {
	var doc deltaDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Command{}, fmt.Errorf("command: parsing delta: %w", err)
	}

	for _, rk := range recognizedKeys {
		raw, ok := doc.State.Desired[rk.key]
		if !ok {
			continue
		}
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if v == 1 {
			return Command{Kind: rk.kind, Key: rk.key, TriggerValue: v, Timestamp: time.Now()}, nil
		}
	}
	return Command{Kind: KindNone}, nil
}

// Result is the outcome of one backend call against a single control
// config item.
type Result struct {
	Success      bool
	FailedCode   string
	FailedReason string
}

// Backend is the injected device capability spec.md §1 calls out as
// external: applying one control-config item to the device. The
// simulation, GPIO, and serial implementations in backend/ satisfy
// this for their respective device classes.
type Backend interface {
	ApplyControlConfig(ctx context.Context, item restclient.ControlConfigItem) Result
}

// LogProducer is the optional injected capability for UploadLogs; when
// absent, UploadLogs is a reserved no-op per spec.md §4.4.
type LogProducer interface {
	ProduceLog(ctx context.Context) (contentType string, data []byte, err error)
}

// ShadowAcker is the subset of shadow.Engine the dispatcher needs for
// the end-of-command chain (spec.md §4.4).
type ShadowAcker interface {
	ResetDesired(key string) error
	ReportCommandResult(key string, success bool) error
}

// RESTClient is the subset of restclient.Client the dispatcher drives.
type RESTClient interface {
	ControlConfigList(ctx context.Context, uniqueID string) ([]restclient.ControlConfigItem, error)
	ControlProgressUpdate(ctx context.Context, uniqueID string, results []restclient.ControlProgressResult) error
	LogUploadURLAttain(ctx context.Context, req restclient.LogUploadURLRequest) (restclient.UploadURLResponse, error)
	PutLogArtifact(ctx context.Context, uploadURL, contentType string, data []byte) error
}

// Dispatcher wires a Backend, LogProducer, REST client, and shadow
// acker together (spec.md §4.4).
type Dispatcher struct {
	UniqueID   string
	MACAddress string

	Backend     Backend
	LogProducer LogProducer
	REST        RESTClient
	Shadow      ShadowAcker
}

// OnDelta matches shadow.DeltaHandler's signature so a Dispatcher can
// be registered directly with shadow.New. It parses, executes, and
// runs the end-of-command chain (spec.md §4.4) against a background
// context: command execution is bounded by the REST client's own
// per-request timeouts, not by the transport's cooperative pump.
func (d *Dispatcher) OnDelta(topic string, payload []byte) {
	cmd, err := ParseDelta(payload)
	if err != nil {
		slog.Error("command: discarding malformed delta", "topic", topic, "error", err)
		return
	}
	if cmd.Kind == KindNone {
		return
	}
	d.Process(context.Background(), cmd)
}

// Process runs the normative end-of-command chain (spec.md §4.4):
// execute, reset_desired, report_command_result, in that order,
// regardless of execute's outcome.
func (d *Dispatcher) Process(ctx context.Context, cmd Command) bool {
	outcome := d.execute(ctx, cmd)

	if d.Shadow != nil {
		if err := d.Shadow.ResetDesired(cmd.Key); err != nil {
			slog.Warn("command: reset_desired failed", "key", cmd.Key, "error", err)
		}
		if err := d.Shadow.ReportCommandResult(cmd.Key, outcome); err != nil {
			slog.Warn("command: report_command_result failed", "key", cmd.Key, "error", err)
		}
	}
	return outcome
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) bool {
	switch cmd.Kind {
	case KindControlConfigChange:
		return d.executeControlConfigChange(ctx)
	case KindUploadLogs:
		return d.executeUploadLogs(ctx)
	case KindFwUpgrade:
		// Reserved no-op per spec.md §4.4/§9: no firmware update path
		// is implemented yet.
		return true
	default:
		return false
	}
}

func (d *Dispatcher) executeControlConfigChange(ctx context.Context) bool {
	items, err := d.REST.ControlConfigList(ctx, d.UniqueID)
	if err != nil {
		slog.Warn("command: control-config/list failed, using fallback", "error", err)
	}

	allSucceeded := true
	results := make([]restclient.ControlProgressResult, 0, len(items))
	for _, item := range items {
		res := d.Backend.ApplyControlConfig(ctx, item)
		status := restclient.ProgressSuccess
		if !res.Success {
			status = restclient.ProgressFailed
			allSucceeded = false
		}
		results = append(results, restclient.ControlProgressResult{
			StatusProgressID: item.StatusProgressID,
			Status:           status,
			FailedCode:       res.FailedCode,
			FailedReason:     res.FailedReason,
		})
	}

	if err := d.REST.ControlProgressUpdate(ctx, d.UniqueID, results); err != nil {
		slog.Warn("command: control/progress/update failed", "error", err)
		return false
	}
	return allSucceeded
}

func (d *Dispatcher) executeUploadLogs(ctx context.Context) bool {
	if d.LogProducer == nil {
		// No producer injected: reserved simulation-mode no-op
		// (spec.md §4.4).
		return true
	}

	contentType, data, err := d.LogProducer.ProduceLog(ctx)
	if err != nil {
		slog.Warn("command: producing log artifact failed", "error", err)
		return false
	}

	req := restclient.LogUploadURLRequest{
		MACAddress:  d.MACAddress,
		ContentType: contentType,
		LogFile:     fmt.Sprintf("%s.log", d.UniqueID),
		Size:        int64(len(data)),
		MD5:         cryptoutil.MD5Hex(data),
	}

	resp, err := d.REST.LogUploadURLAttain(ctx, req)
	if err != nil {
		slog.Warn("command: log/uploadurl/attain failed", "error", err)
		return false
	}

	if err := d.REST.PutLogArtifact(ctx, resp.UploadURL, contentType, data); err != nil {
		slog.Warn("command: uploading log artifact failed", "error", err)
		return false
	}
	return true
}
