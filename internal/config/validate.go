package config

import (
	"fmt"
	"strings"
)

// Validate checks the target for required fields, returning a single error
// naming every missing field.
func (t Target) Validate() error {
	if missing := t.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("required parameters are missing: [%s]; pass them as flags or set them in the connection file", strings.Join(missing, ", "))
	}
	return nil
}

// Validate checks policy values for internal consistency.
func (p Policy) Validate() error {
	if p.User == "" {
		return fmt.Errorf("user is required")
	}
	if p.KeyExpirySeconds <= 0 {
		return fmt.Errorf("expire_time must be positive, got %d", p.KeyExpirySeconds)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", p.MaxRetries)
	}
	if p.CommandTimeoutSeconds < 0 {
		return fmt.Errorf("cmd_timeout must not be negative, got %d", p.CommandTimeoutSeconds)
	}
	return nil
}
