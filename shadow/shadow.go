// Package shadow implements the Shadow Engine of spec.md §4.3: the
// reflective-state protocol spoken over five fixed topic suffixes
// rooted at a per-device prefix. It owns Binding and Pending Shadow
// Get state, and fans inbound deltas out to a Command Dispatcher.
package shadow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/rustyeddy/dms-agent/identity"
	"github.com/rustyeddy/dms-agent/utils"
)

const (
	suffixUpdate         = "update"
	suffixUpdateAccepted = "update/accepted"
	suffixUpdateRejected = "update/rejected"
	suffixUpdateDelta    = "update/delta"
	suffixGet            = "get"
	suffixGetAccepted    = "get/accepted"
	suffixGetRejected    = "get/rejected"

	primingWindow = 3 * time.Second
)

// Publisher is the capability the shadow engine needs from the
// transport: publish to a topic, subscribe a topic, and pump the
// transport for a bounded window. Kept minimal and interface-shaped so
// shadow can be tested without a real transport.Session.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) error
	ProcessLoop() error
}

// DeltaHandler receives (topic, payload) for every update/delta
// publish; the Command Dispatcher implements this.
type DeltaHandler func(topic string, payload []byte)

// Binding is the company/device association of spec.md §3, parsed
// from state.reported.info on get/accepted.
type Binding struct {
	CompanyName string
	CompanyID   string
	DeviceName  string
	AddedBy     string
}

// Bound is true iff all four fields are non-empty.
func (b Binding) Bound() bool {
	return b.CompanyName != "" && b.CompanyID != "" && b.DeviceName != "" && b.AddedBy != ""
}

// pendingGet is the Pending Shadow Get state of spec.md §3.
type pendingGet struct {
	pending  bool
	received bool
}

// Engine is the Shadow Engine. One Engine exists per device session.
type Engine struct {
	transport Publisher
	rootTopic string // "<root>/<client_id>/shadow/"
	onDelta   DeltaHandler

	binding Binding
	pending pendingGet
}

// New builds an Engine for the given client id, rooted at the
// implementation-defined cloud shadow convention.
func New(transport Publisher, clientID string, onDelta DeltaHandler) *Engine {
	return &Engine{
		transport: transport,
		rootTopic: fmt.Sprintf("%s%s/shadow/", "$aws/things/", clientID),
		onDelta:   onDelta,
	}
}

func (e *Engine) topic(suffix string) string { return e.rootTopic + suffix }

// Start subscribes the five inbound topics, publishes an empty get,
// and drives the transport pump for a short priming window to absorb
// confirmations (spec.md §4.3).
func (e *Engine) Start() error {
	for _, suffix := range []string{
		suffixUpdateAccepted, suffixUpdateRejected, suffixUpdateDelta,
		suffixGetAccepted, suffixGetRejected,
	} {
		if err := e.transport.Subscribe(e.topic(suffix)); err != nil {
			return fmt.Errorf("shadow: subscribing %s: %w", suffix, err)
		}
	}

	if err := e.GetDocument(); err != nil {
		return err
	}

	deadline := time.Now().Add(primingWindow)
	for time.Now().Before(deadline) {
		if err := e.transport.ProcessLoop(); err != nil {
			return fmt.Errorf("shadow: priming pump: %w", err)
		}
		if e.pending.received {
			break
		}
	}
	return nil
}

// GetDocument publishes {} to get and arms the pending-get tracker.
func (e *Engine) GetDocument() error {
	e.pending = pendingGet{pending: true}
	return e.transport.Publish(e.topic(suffixGet), []byte("{}"))
}

// GetResult is the outcome of WaitGetResponse.
type GetResult int

const (
	GetSuccess GetResult = iota
	GetTimeout
	GetMqttFailure
)

// WaitGetResponse drives the transport pump until the pending get is
// settled or deadline elapses (spec.md §4.3).
func (e *Engine) WaitGetResponse(deadline time.Time) GetResult {
	for time.Now().Before(deadline) {
		if err := e.transport.ProcessLoop(); err != nil {
			e.pending = pendingGet{}
			return GetMqttFailure
		}
		if e.pending.received {
			e.pending.pending = false
			return GetSuccess
		}
	}
	e.pending.pending = false
	return GetTimeout
}

// reportedTemplate mirrors spec.md §6's outbound reported JSON schema.
type reportedTemplate struct {
	Connected       bool    `json:"connected"`
	Status          string  `json:"status"`
	Uptime          uint32  `json:"uptime"`
	Timestamp       uint32  `json:"timestamp"`
	Firmware        string  `json:"firmware"`
	DeviceType      string  `json:"device_type"`
	CPUUsage        float32 `json:"cpu_usage"`
	MemoryUsage     float32 `json:"memory_usage"`
	NetworkSent     uint64  `json:"network_sent"`
	NetworkReceived uint64  `json:"network_received"`
}

// ReportedState is the snapshot UpdateReported publishes; callers
// capture it from the device, or leave it nil to have UpdateReported
// derive a best-effort snapshot from runtime stats.
type ReportedState struct {
	Connected       bool
	Status          string
	Firmware        string
	DeviceType      identity.DeviceType
	NetworkSent     uint64
	NetworkReceived uint64
}

// UpdateReported publishes the fixed reported-state template. If state
// is nil, fresh system stats are captured first via utils.GetStats,
// mirroring how this codebase's HTTP stats handler self-samples.
func (e *Engine) UpdateReported(state *ReportedState) error {
	if state == nil {
		state = &ReportedState{
			Connected: true,
			Status:    "online",
		}
	}

	stats := utils.GetStats()
	body := map[string]any{
		"state": map[string]any{
			"reported": reportedTemplate{
				Connected:       state.Connected,
				Status:          defaultStatus(state.Status),
				Uptime:          uint32(utils.Timestamp().Seconds()),
				Timestamp:       uint32(time.Now().Unix()),
				Firmware:        state.Firmware,
				DeviceType:      string(state.DeviceType),
				CPUUsage:        float32(stats.Goroutines) / float32(runtime.NumCPU()+1),
				MemoryUsage:     float32(stats.MemStats.Alloc) / float32(stats.MemStats.Sys+1),
				NetworkSent:     state.NetworkSent,
				NetworkReceived: state.NetworkReceived,
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shadow: marshaling reported state: %w", err)
	}
	return e.transport.Publish(e.topic(suffixUpdate), payload)
}

func defaultStatus(s string) string {
	if s == "" {
		return "online"
	}
	return s
}

// ResetDesired publishes {"state":{"desired":{"<key>":null}}}, the
// protocol's idempotent "command consumed" signal (spec.md §4.3).
func (e *Engine) ResetDesired(key string) error {
	body := fmt.Sprintf(`{"state":{"desired":{%q:null}}}`, key)
	return e.transport.Publish(e.topic(suffixUpdate), []byte(body))
}

// ReportCommandResult publishes the per-key result/timestamp pair
// (spec.md §4.3, §6).
func (e *Engine) ReportCommandResult(key string, success bool) error {
	outcome := "failed"
	if success {
		outcome = "success"
	}
	body := fmt.Sprintf(
		`{"state":{"reported":{%q:%q,%q:%d}}}`,
		key+"_result", outcome, key+"_timestamp", time.Now().Unix(),
	)
	return e.transport.Publish(e.topic(suffixUpdate), []byte(body))
}

// IsDeviceBound returns the cached result of the last get/accepted
// parse.
func (e *Engine) IsDeviceBound() bool { return e.binding.Bound() }

// Binding returns a copy of the last-parsed binding.
func (e *Engine) Binding() Binding { return e.binding }

// HandleInbound is the single transport.Handler this engine registers
// (directly, or wrapped by a topic router upstream). It implements the
// pure routing table of spec.md §4.3.
func (e *Engine) HandleInbound(topic string, payload []byte) {
	suffix := suffixOf(topic, e.rootTopic)
	switch suffix {
	case suffixUpdateAccepted:
		slog.Debug("shadow update accepted")
	case suffixUpdateRejected:
		slog.Error("shadow update rejected", "payload", string(payload))
	case suffixUpdateDelta:
		if e.onDelta != nil {
			e.onDelta(topic, payload)
		}
	case suffixGetAccepted:
		e.binding = parseBinding(payload)
		e.pending.received = true
	case suffixGetRejected:
		slog.Error("shadow get rejected", "payload", string(payload))
		e.pending.received = false
		e.pending.pending = false
	default:
		slog.Debug("shadow: unrecognized topic", "topic", topic)
	}
}

func suffixOf(topic, root string) string {
	return strings.TrimPrefix(topic, root)
}

type getAcceptedDoc struct {
	State struct {
		Reported struct {
			Info struct {
				CompanyName string `json:"company_name"`
				CompanyID   string `json:"company_id"`
				DeviceName  string `json:"device_name"`
				AddedBy     string `json:"added_by"`
			} `json:"info"`
		} `json:"reported"`
	} `json:"state"`
}

// parseBinding implements the "unescape then quote-strip" parse rule
// of spec.md §4.3: a record is bound iff all four fields are non-empty
// after JSON-unescape.
func parseBinding(payload []byte) Binding {
	unescaped := strings.ReplaceAll(string(payload), `\/`, "/")

	var doc getAcceptedDoc
	if err := json.Unmarshal([]byte(unescaped), &doc); err != nil {
		slog.Warn("shadow: malformed get/accepted payload", "error", err)
		return Binding{}
	}
	info := doc.State.Reported.Info
	return Binding{
		CompanyName: info.CompanyName,
		CompanyID:   info.CompanyID,
		DeviceName:  info.DeviceName,
		AddedBy:     info.AddedBy,
	}
}
