package connect

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports missing or invalid target fields. It is
// fatal and never retried.
type ConfigurationError struct {
	MissingFields []string
	Reason        string
	Err           error
}

func (e *ConfigurationError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("required parameters are missing: [%s]", strings.Join(e.MissingFields, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// KeyGenerationError indicates the ephemeral key pair could not be
// created. It points at environment failure, not a race, and is fatal.
type KeyGenerationError struct {
	Err error
}

func (e *KeyGenerationError) Error() string {
	return fmt.Sprintf("error encountered creating ssh keys: %v", e.Err)
}

func (e *KeyGenerationError) Unwrap() error { return e.Err }

// PublishError is a non-precondition rejection from the credential
// publishing path. It is fatal.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish ssh key: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PreconditionRaceError is the metadata API's optimistic-concurrency
// rejection: another writer updated the metadata between our read and
// write. Retryable at the outer loop.
type PreconditionRaceError struct {
	Err error
}

func (e *PreconditionRaceError) Error() string {
	return fmt.Sprintf("instance metadata changed during update: %v", e.Err)
}

func (e *PreconditionRaceError) Unwrap() error { return e.Err }

// HandshakeError is a failure of the SSH handshake layer after the inner
// attempt budget. Retryable at the outer loop with a fresh key pair.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("ssh handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// TunnelError indicates the tunnel process failed to start. Fatal.
type TunnelError struct {
	Err error
}

func (e *TunnelError) Error() string {
	return fmt.Sprintf("failed to start tunnel: %v", e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }

// MaxRetriesExceededError is raised when the outer retry budget is
// exhausted. It wraps the last underlying cause.
type MaxRetriesExceededError struct {
	Attempts int
	Err      error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("maximum retries exceeded after %d attempts, aborting operation: %v", e.Attempts, e.Err)
}

func (e *MaxRetriesExceededError) Unwrap() error { return e.Err }

// Retryable is the classification table of the outer loop: precondition
// races on the publish side and handshake failures feed back into a new
// publish+handshake cycle; everything else surfaces immediately.
func Retryable(err error) bool {
	var race *PreconditionRaceError
	if errors.As(err, &race) {
		return true
	}
	var handshake *HandshakeError
	return errors.As(err, &handshake)
}
