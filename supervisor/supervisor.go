// Package supervisor is the composition root of spec.md §4.6: it owns
// Connection State, wires every subsystem together in strict startup
// order, drives the steady-state loop, and unwinds everything in
// reverse order on shutdown.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/dms-agent/command"
	"github.com/rustyeddy/dms-agent/identity"
	"github.com/rustyeddy/dms-agent/reconnect"
	"github.com/rustyeddy/dms-agent/restclient"
	"github.com/rustyeddy/dms-agent/shadow"
	"github.com/rustyeddy/dms-agent/transport"
)

// Supervisor composes the Connection Supervisor of spec.md §2 from
// config, REST client, transport, dispatcher (with the injected
// backend), shadow engine, and reconnect scheduler.
type Supervisor struct {
	cfg  identity.Config
	id   identity.Identity
	rest *restclient.Client

	session    *transport.Session
	shadow     *shadow.Engine
	dispatcher *command.Dispatcher
	reconnect  *reconnect.Scheduler

	state identity.ConnectionState

	shutdownOnce sync.Once
	exit         chan struct{}
}

// New builds every component but does not connect; call Run to start
// the steady-state loop. Construction has no side effects and runs in
// this order: REST client, transport, dispatcher, shadow engine (which
// takes the dispatcher's OnDelta), reconnect scheduler.
func New(cfg identity.Config, id identity.Identity, backend command.Backend, logProducer command.LogProducer) *Supervisor {
	rest := restclient.New(cfg.RESTBaseURL, cfg.ProductKey, cfg.ProductType, cfg.RESTTimeout)

	session := transport.New(cfg, id.ClientID())

	sup := &Supervisor{
		cfg:     cfg,
		id:      id,
		rest:    rest,
		session: session,
		state:   identity.Disconnected,
		exit:    make(chan struct{}),
	}

	dispatcher := &command.Dispatcher{
		UniqueID:    id.ClientID(),
		MACAddress:  id.MACColon(),
		Backend:     backend,
		LogProducer: logProducer,
		REST:        rest,
	}
	sup.dispatcher = dispatcher

	shadowEngine := shadow.New(session, id.ClientID(), dispatcher.OnDelta)
	sup.shadow = shadowEngine
	dispatcher.Shadow = shadowEngine

	session.SetHandler(shadowEngine.HandleInbound)

	sup.reconnect = reconnect.New(cfg, id, reconnect.Capabilities{
		Connect:       sup.connect,
		Disconnect:    session.Disconnect,
		ShadowRestart: shadowEngine.Start,
	})

	return sup
}

// connect is the Reconnect Scheduler's injected Connect capability: it
// dials the transport then starts the shadow engine (subscribe five
// topics, request the document).
func (s *Supervisor) connect() error {
	if err := s.session.Connect(); err != nil {
		return err
	}
	s.state = identity.MqttConnected
	if err := s.shadow.Start(); err != nil {
		return err
	}
	return nil
}

// Bootstrap performs the optional server_url/get exchange spec.md
// §4.6 allows to refresh endpoints before the main connect loop.
func (s *Supervisor) Bootstrap(ctx context.Context, site, environment string) (restclient.BootstrapConfig, error) {
	return s.rest.ServerURLGet(ctx, site, environment, s.id.ClientID())
}

// EnsureRegistered checks the shadow binding parsed by the most recent
// get/accepted and, if unbound, registers the device and requests a
// pincode (spec.md §8 scenario 2).
func (s *Supervisor) EnsureRegistered(ctx context.Context) error {
	if s.shadow.IsDeviceBound() {
		return nil
	}
	if err := s.rest.DeviceRegister(ctx, s.id); err != nil {
		return err
	}
	_, err := s.rest.DevicePincode(ctx, s.id.ClientID(), "registration")
	return err
}

// Run drives the steady-state loop of spec.md §4.6 until ctx is
// cancelled: when Connected, pump the transport and heartbeat on
// interval; when Disconnected, consult the Reconnect Scheduler.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.reconnect.Attempt(ctx); err != nil {
		slog.Warn("supervisor: initial connect failed, entering retry loop", "error", err)
	} else {
		if err := s.EnsureRegistered(ctx); err != nil {
			slog.Warn("supervisor: registration check failed", "error", err)
		}
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return ctx.Err()
		default:
		}

		if s.reconnect.State() == reconnect.StateConnected {
			if err := s.session.ProcessLoop(); err != nil {
				slog.Warn("supervisor: process_loop failed, reconnecting", "error", err)
				s.state = identity.Disconnected
				s.reconnect.MarkDisconnected()
				continue
			}
			select {
			case <-heartbeat.C:
				if err := s.shadow.UpdateReported(nil); err != nil {
					slog.Warn("supervisor: heartbeat publish failed", "error", err)
				}
			default:
			}
			continue
		}

		if !s.reconnect.ShouldRetry() {
			slog.Error("supervisor: retry budget exhausted, exiting")
			s.Shutdown()
			return nil
		}
		if err := s.reconnect.Attempt(ctx); err != nil {
			slog.Warn("supervisor: reconnect attempt failed", "error", err)
		} else if err := s.EnsureRegistered(ctx); err != nil {
			slog.Warn("supervisor: registration check failed", "error", err)
		}
	}
}

// ConnectionStateString satisfies debugconsole.StateProvider.
func (s *Supervisor) ConnectionStateString() string { return s.state.String() }

// Reconnect satisfies debugconsole.StateProvider.
func (s *Supervisor) Reconnect() *reconnect.Scheduler { return s.reconnect }

// DeviceBound satisfies debugconsole.StateProvider.
func (s *Supervisor) DeviceBound() bool { return s.shadow.IsDeviceBound() }

// ForceReconnect satisfies debugconsole.StateProvider: it drops the
// current transport session so Run's next loop iteration falls into
// the reconnect branch, for the `agent shell` REPL's manual override.
func (s *Supervisor) ForceReconnect() {
	s.session.Disconnect()
	s.state = identity.Disconnected
	s.reconnect.MarkDisconnected()
}

// Shutdown unwinds every component in reverse startup order
// (spec.md §4.6): REST client has nothing to close, so shutdown starts
// at the dispatcher (stateless, nothing to close), reconnect (no
// background tasks to stop), shadow (nothing to unsubscribe from a
// closing session), then transport.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.session.Disconnect()
		s.state = identity.Disconnected
		close(s.exit)
	})
}
