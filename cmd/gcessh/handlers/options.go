// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command
// definitions in the commands package. Handlers are framework-agnostic
// and can be tested independently of the CLI framework.
package handlers

import (
	"github.com/tverly/gcessh/internal/config"
)

// Overrides carries the flag values the user actually set. Nil fields
// leave the connection file value (or default) in place.
type Overrides struct {
	Zone                      *string
	ProjectID                 *string
	Hostname                  *string
	User                      *string
	ImpersonateServiceAccount *string

	UseInternalAddress *bool
	UseTunnel          *bool
	UseLoginRegistry   *bool

	KeyExpirySeconds      *int
	MaxRetries            *int
	CommandTimeoutSeconds *int

	Verbose bool
}

// resolveConnection merges the connection file, the positional instance
// argument and the flag overrides, in ascending precedence.
func resolveConnection(configPath, instance string, o Overrides) (config.Connection, error) {
	conn := config.Connection{Policy: config.DefaultPolicy()}
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return conn, err
		}
		conn = *loaded
	}

	if instance != "" {
		conn.Target.Instance = instance
	}

	applyString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	applyString(&conn.Target.Zone, o.Zone)
	applyString(&conn.Target.ProjectID, o.ProjectID)
	applyString(&conn.Target.Hostname, o.Hostname)
	applyString(&conn.Policy.User, o.User)
	applyString(&conn.Policy.ImpersonateServiceAccount, o.ImpersonateServiceAccount)

	if o.UseInternalAddress != nil {
		conn.Policy.UseInternalAddress = *o.UseInternalAddress
	}
	if o.UseTunnel != nil {
		conn.Policy.UseTunnel = *o.UseTunnel
	}
	if o.UseLoginRegistry != nil {
		conn.Policy.UseLoginRegistry = *o.UseLoginRegistry
	}
	if o.KeyExpirySeconds != nil {
		conn.Policy.KeyExpirySeconds = *o.KeyExpirySeconds
	}
	if o.MaxRetries != nil {
		conn.Policy.MaxRetries = *o.MaxRetries
	}
	if o.CommandTimeoutSeconds != nil {
		conn.Policy.CommandTimeoutSeconds = *o.CommandTimeoutSeconds
	}

	return conn, nil
}
