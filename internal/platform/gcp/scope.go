package gcp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/compute/v1"
)

// CredentialScope verifies that usable GCP credentials exist before the
// handshake is attempted. Its acquire/release pair brackets the handshake
// and the session lifetime.
type CredentialScope struct {
	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewCredentialScope returns a scope backed by application default
// credentials, resolved lazily on first acquire.
func NewCredentialScope() *CredentialScope {
	return &CredentialScope{}
}

// Acquire obtains a fresh access token, failing fast when credentials are
// missing or expired. The returned release function must be called on
// every exit path; for this scope it is a no-op placeholder that keeps
// the guard contract uniform.
func (s *CredentialScope) Acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.source == nil {
		creds, err := google.FindDefaultCredentials(ctx, compute.CloudPlatformScope)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to load default credentials: %w", err)
		}
		s.source = creds.TokenSource
	}
	source := s.source
	s.mu.Unlock()

	if _, err := source.Token(); err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}
	return func() {}, nil
}
