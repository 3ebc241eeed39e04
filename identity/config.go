package identity

import (
	"fmt"
	"time"
)

// Config is the Endpoint Config of spec.md §3: immutable after Load,
// shared read-only by the transport, REST client, and reconnect
// scheduler.
type Config struct {
	BrokerHost string `mapstructure:"broker_host"`
	BrokerPort int    `mapstructure:"broker_port"`

	CACertPath     string `mapstructure:"ca_cert"`
	ClientCertPath string `mapstructure:"client_cert"`
	ClientKeyPath  string `mapstructure:"private_key"`

	RESTBaseURL string `mapstructure:"rest_base_url"`
	ProductKey  string `mapstructure:"product_key"`
	ProductType string `mapstructure:"product_type"`

	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RESTTimeout       time.Duration `mapstructure:"rest_timeout"`
	ConnAckTimeout    time.Duration `mapstructure:"connack_timeout"`
	KeepAlive         time.Duration `mapstructure:"keep_alive"`

	// Device identity facts, config-file supplied per spec.md §1's
	// hardware-info-gathering non-goal: a real build reads these from
	// NVRAM/sysfs and feeds them in, this repository takes them from
	// config instead.
	Model           string        `mapstructure:"model"`
	Serial          string        `mapstructure:"serial"`
	MAC             string        `mapstructure:"mac_address"`
	Panel           string        `mapstructure:"panel"`
	Brand           string        `mapstructure:"brand"`
	DeviceType      DeviceType    `mapstructure:"device_type"`
	DeviceSubtype   DeviceSubtype `mapstructure:"device_subtype"`
	CountryCode     string        `mapstructure:"country_code"`
	FirmwareVersion string        `mapstructure:"firmware_version"`
	Architecture    []string      `mapstructure:"architecture"`
}

// Identity builds the immutable Identity this Config describes. Called
// once at startup; the result is threaded read-only from then on.
func (c Config) Identity() (Identity, error) {
	return NewIdentity(c.Model, c.Serial, c.MAC, c.Panel, c.Brand,
		c.DeviceType, c.DeviceSubtype, c.CountryCode, c.FirmwareVersion, c.Architecture)
}

// DefaultConfig returns the normative defaults: 60s keep-alive,
// ~1s CONNACK timeout, 5s REST timeout (spec.md §4.1, §4.5).
func DefaultConfig() Config {
	return Config{
		BrokerPort:        8883,
		ProductType:       "default",
		RetryBaseDelay:    2 * time.Second,
		RetryMaxDelay:     300 * time.Second,
		RetryMaxAttempts:  20,
		HeartbeatInterval: 60 * time.Second,
		RESTTimeout:       5 * time.Second,
		ConnAckTimeout:    1 * time.Second,
		KeepAlive:         60 * time.Second,
	}
}

// Validate checks that the fields required for both the transport and
// the REST client are present. It does not check filesystem paths for
// existence; that is Transport.Connect's job at dial time.
func (c Config) Validate() error {
	if c.BrokerHost == "" {
		return fmt.Errorf("config: broker_host is required")
	}
	if c.RESTBaseURL == "" {
		return fmt.Errorf("config: rest_base_url is required")
	}
	if c.ProductKey == "" {
		return fmt.Errorf("config: product_key is required")
	}
	if c.MAC == "" {
		return fmt.Errorf("config: mac_address is required")
	}
	if _, err := CanonicalMAC(c.MAC); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("config: retry_max_attempts must be positive")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("config: retry_base_delay/retry_max_delay are inconsistent")
	}
	return nil
}
