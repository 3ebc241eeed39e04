package identity

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads agent configuration from the YAML file at path (if any),
// layers in DMS_*-prefixed environment variable overrides, applies
// DefaultConfig for anything left unset, and validates the result.
//
// This mirrors cmd/cmd_root.go's persistent-flag-plus-viper pattern
// already used in this codebase, generalized to a full config struct
// instead of a couple of loose globals.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("dms")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("identity: reading config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("identity: decoding config: %w", err)
	}
	cfg = applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in any zero-valued duration/attempt fields that
// viper.Unmarshal left at the Go zero value because the key was
// entirely absent from both the file and the environment.
func applyDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.BrokerPort == 0 {
		cfg.BrokerPort = d.BrokerPort
	}
	if cfg.ProductType == "" {
		cfg.ProductType = d.ProductType
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = d.RetryBaseDelay
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = d.RetryMaxDelay
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = d.RetryMaxAttempts
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = d.HeartbeatInterval
	}
	if cfg.RESTTimeout == 0 {
		cfg.RESTTimeout = d.RESTTimeout
	}
	if cfg.ConnAckTimeout == 0 {
		cfg.ConnAckTimeout = d.ConnAckTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = d.KeepAlive
	}
	return cfg
}
