package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dms-agent/identity"
)

func testConfig() identity.Config {
	cfg := identity.DefaultConfig()
	cfg.BrokerHost = "broker.example.com"
	cfg.RESTBaseURL = "https://dms.example.com"
	cfg.ProductKey = "key"
	return cfg
}

func TestPublishBeforeConnectFails(t *testing.T) {
	s := New(testConfig(), "dms-AABBCCDDEEFF")
	err := s.Publish("x/y", []byte("{}"))
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindNetwork, terr.Kind)
	assert.False(t, s.Connected())
}

func TestSubscribeBeforeConnectFails(t *testing.T) {
	s := New(testConfig(), "dms-AABBCCDDEEFF")
	err := s.Subscribe("x/y")
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindNetwork, terr.Kind)
}

func TestProcessLoopBeforeConnectFails(t *testing.T) {
	s := New(testConfig(), "dms-AABBCCDDEEFF")
	err := s.ProcessLoop()
	require.Error(t, err)
}

func TestConnectMissingCertFails(t *testing.T) {
	cfg := testConfig()
	cfg.CACertPath = "/nonexistent/ca.pem"
	cfg.ClientCertPath = "/nonexistent/cert.pem"
	cfg.ClientKeyPath = "/nonexistent/key.pem"
	s := New(cfg, "dms-AABBCCDDEEFF")

	err := s.Connect()
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindTLS, terr.Kind)
	assert.False(t, s.Connected())
}

func TestDisconnectIdempotentWithoutConnect(t *testing.T) {
	s := New(testConfig(), "dms-AABBCCDDEEFF")
	assert.NotPanics(t, func() {
		s.Disconnect()
		s.Disconnect()
	})
}

func TestHandlerRegistrationDoesNotRace(t *testing.T) {
	s := New(testConfig(), "dms-AABBCCDDEEFF")
	done := make(chan struct{})
	go func() {
		s.SetHandler(func(topic string, payload []byte) {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetHandler did not return")
	}
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "tls_failure", KindTLS.String())
	assert.Equal(t, "network_failure", KindNetwork.String())
	assert.Equal(t, "mqtt_failure", KindMQTT.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "none", KindNone.String())
}
