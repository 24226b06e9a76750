// Package config defines the connection target and policy structures and
// loads them from YAML connection files.
package config

const (
	// DefaultUser is the login user requested when none is configured.
	DefaultUser = "root"

	// DefaultKeyExpirySeconds is how long a published key stays valid.
	DefaultKeyExpirySeconds = 300

	// DefaultMaxRetries bounds the outer publish+handshake retry loop.
	DefaultMaxRetries = 10

	// DefaultCommandTimeoutSeconds bounds remote command execution.
	DefaultCommandTimeoutSeconds = 10
)

// Target identifies a Compute Engine instance. It is immutable once
// resolved for a connection attempt.
type Target struct {
	Instance  string `mapstructure:"instance" yaml:"instance"`
	Zone      string `mapstructure:"zone" yaml:"zone"`
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`

	// Hostname overrides address resolution entirely when set.
	Hostname string `mapstructure:"hostname" yaml:"hostname"`
}

// MissingFields returns the names of required fields that are not set.
// Hostname is optional; the rest identify the instance within GCP.
func (t Target) MissingFields() []string {
	var missing []string
	if t.Instance == "" {
		missing = append(missing, "instance")
	}
	if t.Zone == "" {
		missing = append(missing, "zone")
	}
	if t.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	return missing
}

// Policy drives how a connection is established: which address is used,
// how the public key is published and how hard the orchestrator retries.
// It is read-only for the lifetime of a connection attempt.
type Policy struct {
	User string `mapstructure:"user" yaml:"user"`

	// UseInternalAddress selects the instance's internal IP.
	UseInternalAddress bool `mapstructure:"use_internal_ip" yaml:"use_internal_ip"`

	// UseTunnel routes the connection through an IAP tunnel subprocess.
	// A tunnel terminates locally, so it implies the internal address.
	UseTunnel bool `mapstructure:"use_iap_tunnel" yaml:"use_iap_tunnel"`

	// UseLoginRegistry publishes the key via OS Login instead of
	// instance metadata.
	UseLoginRegistry bool `mapstructure:"use_oslogin" yaml:"use_oslogin"`

	// KeyExpirySeconds is the lifetime of an OS Login key registration.
	KeyExpirySeconds int `mapstructure:"expire_time" yaml:"expire_time"`

	// MaxRetries is the number of additional publish+handshake cycles
	// after the first one. Zero means exactly one cycle.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// CommandTimeoutSeconds bounds remote command execution time.
	CommandTimeoutSeconds int `mapstructure:"cmd_timeout" yaml:"cmd_timeout"`

	// ImpersonateServiceAccount scopes the tunnel to an impersonated
	// identity when set.
	ImpersonateServiceAccount string `mapstructure:"impersonate_service_account" yaml:"impersonate_service_account"`
}

// DefaultPolicy returns a policy with the package defaults applied.
func DefaultPolicy() Policy {
	return Policy{
		User:                  DefaultUser,
		KeyExpirySeconds:      DefaultKeyExpirySeconds,
		MaxRetries:            DefaultMaxRetries,
		CommandTimeoutSeconds: DefaultCommandTimeoutSeconds,
	}
}

// Connection bundles a target and policy as loaded from a connection file.
type Connection struct {
	Target Target `mapstructure:",squash" yaml:",inline"`
	Policy Policy `mapstructure:",squash" yaml:",inline"`
}
