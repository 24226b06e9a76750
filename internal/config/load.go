package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses a connection definition from a YAML file.
// Fields absent from the file keep their defaults; string values for
// boolean and integer fields are coerced the way connection extras
// traditionally allow ("true"/"false", "42").
func LoadFile(path string) (*Connection, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection file: %w", err)
	}

	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	conn := &Connection{Policy: DefaultPolicy()}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           conn,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(rawConfig); err != nil {
		return nil, fmt.Errorf("failed to decode connection file: %w", err)
	}

	// WeaklyTypedInput coerces "" to 0 for the integer fields, which must
	// mean "use the default" rather than an explicit zero.
	if isEmptyString(rawConfig["expire_time"]) {
		conn.Policy.KeyExpirySeconds = DefaultKeyExpirySeconds
	}
	if isEmptyString(rawConfig["cmd_timeout"]) {
		conn.Policy.CommandTimeoutSeconds = DefaultCommandTimeoutSeconds
	}
	if isEmptyString(rawConfig["max_retries"]) {
		conn.Policy.MaxRetries = DefaultMaxRetries
	}

	if err := conn.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("connection file validation failed: %w", err)
	}

	return conn, nil
}

func isEmptyString(v interface{}) bool {
	s, ok := v.(string)
	return ok && s == ""
}
