package connect

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/api/compute/v1"

	"github.com/tverly/gcessh/internal/config"
	"github.com/tverly/gcessh/internal/platform/gcp"
	"github.com/tverly/gcessh/internal/util/keygen"
	"github.com/tverly/gcessh/internal/util/ptr"
)

// sshKeysMetadataKey is the instance metadata entry acting as the
// authorized-keys substitute.
const sshKeysMetadataKey = "ssh-keys"

// CredentialPublisher makes a generated public key acceptable to the
// target instance and reports the login user the handshake must use.
// The strategy is fixed once per policy.
type CredentialPublisher interface {
	Publish(ctx context.Context, key *keygen.KeyPair) (loginUser string, err error)
}

// NewCredentialPublisher selects the strategy the policy asks for.
func NewCredentialPublisher(directory InstanceDirectory, registry IdentityRegistry, target config.Target, policy config.Policy, log logr.Logger) CredentialPublisher {
	if policy.UseLoginRegistry {
		return &LoginProfileRegistrar{
			registry: registry,
			target:   target,
			expiry:   time.Duration(policy.KeyExpirySeconds) * time.Second,
			log:      log,
			now:      time.Now,
		}
	}
	return &MetadataKeyInjector{
		directory: directory,
		target:    target,
		log:       log,
	}
}

// MetadataKeyInjector publishes keys by prepending them to the instance's
// ssh-keys metadata entry. The read-modify-write has no atomicity beyond
// the API's fingerprint check; concurrent injectors may race, and the
// resulting precondition rejection is surfaced as retryable so the outer
// loop re-reads and re-writes.
type MetadataKeyInjector struct {
	directory InstanceDirectory
	target    config.Target
	log       logr.Logger
}

// Publish prepends "<user>:<public_key>\n" ahead of any existing entries
// and writes the metadata back. The login user is the requested one.
func (p *MetadataKeyInjector) Publish(ctx context.Context, key *keygen.KeyPair) (string, error) {
	p.log.Info("Appending SSH public key to instance metadata", "instance", p.target.Instance)

	metadata, err := p.directory.ReadMetadata(ctx, p.target)
	if err != nil {
		return "", &PublishError{Err: err}
	}

	injectKey(metadata, key.User, key.PublicKey)

	if err := p.directory.WriteMetadata(ctx, p.target, metadata); err != nil {
		if gcp.IsPreconditionFailed(err) {
			return "", &PreconditionRaceError{Err: err}
		}
		return "", &PublishError{Err: err}
	}
	return key.User, nil
}

// injectKey places the new entry first so it survives tail truncation and
// is found before stale entries for the same user.
func injectKey(metadata *compute.Metadata, user, publicKey string) {
	entry := user + ":" + publicKey + "\n"

	for _, item := range metadata.Items {
		if item.Key == sshKeysMetadataKey {
			value := entry
			if item.Value != nil {
				value += *item.Value
			}
			item.Value = &value
			return
		}
	}
	metadata.Items = append(metadata.Items, &compute.MetadataItems{
		Key:   sshKeysMetadataKey,
		Value: ptr.String(entry),
	})
}

// LoginProfileRegistrar publishes keys through the OS Login service with
// an explicit expiration. The registry assigns the actual login user; its
// first POSIX account entry wins.
type LoginProfileRegistrar struct {
	registry IdentityRegistry
	target   config.Target
	expiry   time.Duration
	log      logr.Logger

	now func() time.Time
}

// Publish resolves the caller's principal email and registers the key
// under it, valid until now+expiry.
func (p *LoginProfileRegistrar) Publish(ctx context.Context, key *keygen.KeyPair) (string, error) {
	email, err := p.registry.CurrentPrincipalEmail(ctx)
	if err != nil {
		return "", &PublishError{Err: err}
	}

	p.log.Info("Importing SSH public key using OSLogin", "user", email)

	expiryUsec := p.now().Add(p.expiry).UnixMicro()
	username, err := p.registry.RegisterKey(ctx, email, key.PublicKey, expiryUsec, p.target.ProjectID)
	if err != nil {
		return "", &PublishError{Err: err}
	}
	return username, nil
}
