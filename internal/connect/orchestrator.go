package connect

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/tverly/gcessh/internal/config"
	"github.com/tverly/gcessh/internal/util/keygen"
	"github.com/tverly/gcessh/internal/util/retry"
)

// state names the phases of one connection attempt. Transitions:
// ResolvingAddress -> GeneratingKey -> PublishingCredential -> Handshaking
// -> Established, with RetryWait looping back to GeneratingKey so every
// cycle publishes a fresh key pair.
type state string

const (
	stateResolvingAddress state = "resolving-address"
	stateGeneratingKey    state = "generating-key"
	statePublishing       state = "publishing-credential"
	stateHandshaking      state = "handshaking"
	stateRetryWait        state = "retry-wait"
	stateEstablished      state = "established"
	stateAborted          state = "aborted"
)

const (
	defaultKeyBits           = 2048
	defaultDialTimeout       = 10 * time.Second
	defaultHandshakeAttempts = 6
	defaultHandshakeStep     = 1 * time.Second
	defaultMaxJitterSeconds  = 10
)

// Orchestrator drives the connection state machine: resolve address,
// generate key, publish credential, handshake, and retry the whole cycle
// on transient failure classes with randomized backoff.
type Orchestrator struct {
	directory InstanceDirectory
	registry  IdentityRegistry
	sshClient SecureShellClient
	tunnels   TunnelStarter
	authScope AuthorizationScope
	log       logr.Logger

	state state

	keyBits           int
	dialTimeout       time.Duration
	handshakeAttempts int
	handshakeStep     time.Duration
	maxJitterSeconds  int

	sleep    func(ctx context.Context, d time.Duration) error
	randIntN func(n int) int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(log logr.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithTunnelStarter enables tunnel transport for policies that ask for it.
func WithTunnelStarter(t TunnelStarter) Option {
	return func(o *Orchestrator) { o.tunnels = t }
}

// WithAuthorizationScope wraps every handshake in the given guard.
func WithAuthorizationScope(s AuthorizationScope) Option {
	return func(o *Orchestrator) { o.authScope = s }
}

// WithKeyBits overrides the generated RSA key size.
func WithKeyBits(bits int) Option {
	return func(o *Orchestrator) { o.keyBits = bits }
}

// WithDialTimeout overrides the per-handshake dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.dialTimeout = d }
}

// New builds an Orchestrator over the given collaborators.
func New(directory InstanceDirectory, registry IdentityRegistry, sshClient SecureShellClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		directory:         directory,
		registry:          registry,
		sshClient:         sshClient,
		log:               logr.Discard(),
		keyBits:           defaultKeyBits,
		dialTimeout:       defaultDialTimeout,
		handshakeAttempts: defaultHandshakeAttempts,
		handshakeStep:     defaultHandshakeStep,
		maxJitterSeconds:  defaultMaxJitterSeconds,
		sleep:             ctxSleep,
		randIntN:          rand.IntN,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ObtainSession establishes an authenticated SSH session to the target,
// returning an open, ready-to-use session the caller owns. Key material
// generated along the way is scoped to this call and discarded on every
// path, including the final failure one.
func (o *Orchestrator) ObtainSession(ctx context.Context, target config.Target, policy config.Policy) (Session, error) {
	target, err := o.prepareTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: "invalid connection policy", Err: err}
	}

	o.log.Info("Connecting to instance",
		"instance", target.Instance,
		"user", policy.User,
		"zone", target.Zone,
		"useInternalAddress", policy.UseInternalAddress,
		"useTunnel", policy.UseTunnel,
		"useLoginRegistry", policy.UseLoginRegistry,
	)

	o.transition(stateResolvingAddress)
	address, err := NewAddressResolver(o.directory).Resolve(ctx, target, policy)
	if err != nil {
		o.transition(stateAborted)
		return nil, err
	}

	// The publishing strategy is fixed once per policy, not per cycle.
	publisher := NewCredentialPublisher(o.directory, o.registry, target, policy, o.log)

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		session, err := o.runCycle(ctx, target, policy, address, publisher)
		if err == nil {
			o.transition(stateEstablished)
			return session, nil
		}
		if !Retryable(err) {
			o.transition(stateAborted)
			return nil, err
		}

		lastErr = err
		if attempt == policy.MaxRetries {
			break
		}

		o.transition(stateRetryWait)
		delay := time.Duration(o.randIntN(o.maxJitterSeconds+1)) * time.Second
		o.log.Info("Failed to establish SSH connection, waiting to retry",
			"attempt", attempt+1, "cause", err.Error(), "wait", delay.String())
		if err := o.sleep(ctx, delay); err != nil {
			o.transition(stateAborted)
			return nil, err
		}
	}

	o.transition(stateAborted)
	return nil, &MaxRetriesExceededError{Attempts: policy.MaxRetries + 1, Err: lastErr}
}

// runCycle performs one publish+handshake cycle with a fresh key pair.
// A key whose publication may have raced with a failed handshake is never
// reused; the next cycle generates a new one.
func (o *Orchestrator) runCycle(ctx context.Context, target config.Target, policy config.Policy, address string, publisher CredentialPublisher) (Session, error) {
	o.transition(stateGeneratingKey)
	o.log.Info("Generating ssh keys")
	key, err := keygen.Generate(policy.User, o.keyBits)
	if err != nil {
		return nil, &KeyGenerationError{Err: err}
	}

	o.transition(statePublishing)
	loginUser, err := publisher.Publish(ctx, key)
	if err != nil {
		return nil, err
	}

	o.transition(stateHandshaking)
	return o.handshake(ctx, target, policy, address, loginUser, key)
}

// handshake opens the authorization scope and runs the bounded inner
// connect loop over it. The scope is released on every exit path: on
// failure here, on session close otherwise.
func (o *Orchestrator) handshake(ctx context.Context, target config.Target, policy config.Policy, address, loginUser string, key *keygen.KeyPair) (Session, error) {
	release := func() {}
	if o.authScope != nil {
		r, err := o.authScope.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open authorization scope: %w", err)
		}
		release = r
	}

	var session Session
	attempt := 0
	err := retry.Do(ctx, func() error {
		attempt++

		var stream net.Conn
		if policy.UseTunnel {
			if o.tunnels == nil {
				return retry.Fatal(&TunnelError{Err: errors.New("no tunnel starter configured")})
			}
			s, err := o.tunnels.Start(ctx, target, policy)
			if err != nil {
				return retry.Fatal(&TunnelError{Err: err})
			}
			stream = s
		}

		o.log.Info("Opening remote connection to host", "username", loginUser, "hostname", address, "attempt", attempt)
		s, err := o.sshClient.Connect(ctx, ConnectOptions{
			Address:       address,
			Stream:        stream,
			User:          loginUser,
			PrivateKeyPEM: key.PrivateKeyPEM,
			Timeout:       o.dialTimeout,
		})
		if err != nil {
			if stream != nil {
				_ = stream.Close()
			}
			o.log.Info("Failed to connect", "attempt", attempt, "cause", err.Error())
			return err
		}
		session = s
		return nil
	}, retry.WithMaxAttempts(o.handshakeAttempts), retry.WithLinearStep(o.handshakeStep))

	if err != nil {
		release()
		var tunnelErr *TunnelError
		if errors.As(err, &tunnelErr) {
			return nil, tunnelErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &HandshakeError{Err: err}
	}
	return &guardedSession{Session: session, release: release}, nil
}

// prepareTarget fills the project from the directory when unset and
// validates that the target identifies an instance.
func (o *Orchestrator) prepareTarget(ctx context.Context, target config.Target) (config.Target, error) {
	if target.ProjectID == "" {
		if id, err := o.directory.ResolveProjectID(ctx); err == nil {
			target.ProjectID = id
		}
	}
	if missing := target.MissingFields(); len(missing) > 0 {
		return target, &ConfigurationError{MissingFields: missing}
	}
	return target, nil
}

func (o *Orchestrator) transition(s state) {
	o.state = s
	o.log.V(1).Info("state transition", "state", string(s))
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// guardedSession holds the authorization scope open for the session
// lifetime and releases it exactly once on close.
type guardedSession struct {
	Session
	release func()
	once    sync.Once
}

func (s *guardedSession) Close() error {
	err := s.Session.Close()
	s.once.Do(s.release)
	return err
}
