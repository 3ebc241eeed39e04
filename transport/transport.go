// Package transport owns the TLS+MQTT session lifecycle described in
// spec.md §4.1: mutual-auth connect, QoS-1 publish/subscribe, and a
// cooperative process-loop step. It is built on
// github.com/eclipse/paho.mqtt.golang, the only MQTT client this
// codebase has ever imported (messenger/mqtt/paho.go talks to the
// same library against a non-TLS broker).
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rustyeddy/dms-agent/identity"
)

// Kind is the flat error taxonomy for transport failures (spec.md §7).
type Kind int

const (
	KindNone Kind = iota
	KindTLS
	KindNetwork
	KindMQTT
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTLS:
		return "tls_failure"
	case KindNetwork:
		return "network_failure"
	case KindMQTT:
		return "mqtt_failure"
	case KindTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Error wraps a Kind with context, matching the taxonomy style used
// throughout this agent's packages (see restclient.Error).
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: %s: %s: %v", e.Kind, e.Context, e.Cause)
	}
	return fmt.Sprintf("transport: %s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// Handler is called for every received PUBLISH regardless of topic;
// routing by topic suffix is the consumer's job (spec.md §4.1).
type Handler func(topic string, payload []byte)

const (
	inboundBufferCap  = 10
	outboundBufferCap = 10
	processLoopWindow = time.Second
)

// Session is a TLS+MQTT transport session. The zero value is not
// usable; construct with New.
type Session struct {
	cfg      identity.Config
	clientID string

	mu      sync.Mutex
	client  mqtt.Client
	handler Handler

	// inbox/outbox are QoS-1 tracking buffers, provisioned up front per
	// spec.md §4.1's "before first publish" requirement. Real delivery
	// tracking lives inside paho's client. inbox carries received
	// messages from paho's callback to ProcessLoop; outbox holds the most
	// recent outbound messages and is not read by this package.
	inbox  chan inboundMsg
	outbox chan outboundMsg

	connected bool
}

type inboundMsg struct {
	topic   string
	payload []byte
}

type outboundMsg struct {
	topic   string
	payload []byte
}

// New builds a Session for the given identity/config pair. It does
// not dial; call Connect.
func New(cfg identity.Config, clientID string) *Session {
	return &Session{
		cfg:      cfg,
		clientID: clientID,
		inbox:    make(chan inboundMsg, inboundBufferCap),
		outbox:   make(chan outboundMsg, outboundBufferCap),
	}
}

// SetHandler registers the single incoming-publish handler. Each
// ProcessLoop call delivers buffered messages to the handler registered
// at the time of that call; messages drained while none is set are
// dropped.
func (s *Session) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Session) tlsConfig() (*tls.Config, error) {
	caPEM, err := os.ReadFile(s.cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("reading ca cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parsing ca cert: no certificates found")
	}

	cert, err := tls.LoadX509KeyPair(s.cfg.ClientCertPath, s.cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading client keypair: %w", err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Connect establishes TLS with mutual auth then an MQTT session with
// clean_session=true, the configured keep-alive, and CONNACK timeout
// (spec.md §4.1).
func (s *Session) Connect() error {
	tlsCfg, err := s.tlsConfig()
	if err != nil {
		return &Error{Kind: KindTLS, Context: "building tls config", Cause: err}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", s.cfg.BrokerHost, s.cfg.BrokerPort)).
		SetClientID(s.clientID).
		SetTLSConfig(tlsCfg).
		SetCleanSession(true).
		SetKeepAlive(s.cfg.KeepAlive).
		SetConnectTimeout(s.cfg.ConnAckTimeout).
		SetAutoReconnect(false).
		SetConnectionLostHandler(s.onConnectionLost).
		SetDefaultPublishHandler(s.onMessage)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnAckTimeout + time.Second) {
		return &Error{Kind: KindTimeout, Context: "waiting for connack"}
	}
	if err := token.Error(); err != nil {
		return &Error{Kind: KindMQTT, Context: "connect", Cause: err}
	}

	s.mu.Lock()
	s.client = client
	s.connected = true
	s.mu.Unlock()

	slog.Info("transport connected", "broker", s.cfg.BrokerHost, "client_id", s.clientID)
	return nil
}

func (s *Session) onConnectionLost(_ mqtt.Client, err error) {
	slog.Warn("transport connection lost", "error", err)
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *Session) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case s.inbox <- inboundMsg{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		slog.Warn("transport inbox full, dropping message", "topic", msg.Topic())
	}
}

// Publish sends payload to topic at QoS 1, retain=false. It blocks for
// up to processLoopWindow on the library's publish token, which for
// QoS 1 completes when the broker acknowledges the message; a token
// that does not complete in time returns a Timeout error. ProcessLoop
// plays no part in confirming outbound delivery.
func (s *Session) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	client := s.client
	connected := s.connected
	s.mu.Unlock()

	if !connected || client == nil {
		return &Error{Kind: KindNetwork, Context: "publish: not connected"}
	}

	select {
	case s.outbox <- outboundMsg{topic: topic, payload: payload}:
	default:
		slog.Warn("transport outbox full, dropping oldest", "topic", topic)
		<-s.outbox
		s.outbox <- outboundMsg{topic: topic, payload: payload}
	}

	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(processLoopWindow) {
		return &Error{Kind: KindTimeout, Context: "publish: " + topic}
	}
	if err := token.Error(); err != nil {
		s.markDisconnected()
		return &Error{Kind: KindNetwork, Context: "publish: " + topic, Cause: err}
	}
	return nil
}

// Subscribe registers topic at QoS 1. Delivery is routed through the
// single Handler registered via SetHandler, not a per-topic callback
// (spec.md §4.1).
func (s *Session) Subscribe(topic string) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return &Error{Kind: KindNetwork, Context: "subscribe: not connected"}
	}
	token := client.Subscribe(topic, 1, nil)
	if !token.WaitTimeout(processLoopWindow) {
		return &Error{Kind: KindTimeout, Context: "subscribe: " + topic}
	}
	if err := token.Error(); err != nil {
		return &Error{Kind: KindMQTT, Context: "subscribe: " + topic, Cause: err}
	}
	return nil
}

// ProcessLoop drains the inbound buffer to the registered Handler and
// returns after at most its internal timeout window. It must be
// called repeatedly from the Supervisor's steady-state loop.
func (s *Session) ProcessLoop() error {
	s.mu.Lock()
	connected := s.connected
	handler := s.handler
	s.mu.Unlock()

	if !connected {
		return &Error{Kind: KindNetwork, Context: "process_loop: not connected"}
	}

	deadline := time.After(processLoopWindow)
	for {
		select {
		case msg := <-s.inbox:
			if handler != nil {
				handler(msg.topic, msg.payload)
			}
		case <-deadline:
			return nil
		}
	}
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Connected reports the Session's last-known connection state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect performs a graceful MQTT DISCONNECT then releases the
// client. It is idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.connected = false
	s.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}
