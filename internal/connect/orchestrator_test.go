package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"

	"github.com/tverly/gcessh/internal/config"
)

var errSSHRefused = errors.New("ssh: handshake failed: connection refused")

// newTestOrchestrator disables all waiting so retry loops run instantly.
func newTestOrchestrator(directory InstanceDirectory, registry IdentityRegistry, sshClient SecureShellClient, opts ...Option) (*Orchestrator, *[]time.Duration) {
	o := New(directory, registry, sshClient, opts...)
	o.handshakeStep = 0
	o.randIntN = func(int) int { return 3 }

	var sleeps []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return o, &sleeps
}

// publicKeyOf derives the provider-encoded public key from the private
// material offered during a handshake attempt.
func publicKeyOf(t *testing.T, privateKeyPEM []byte) string {
	t.Helper()
	signer, err := cryptossh.ParsePrivateKey(privateKeyPEM)
	require.NoError(t, err)
	return strings.TrimSpace(string(cryptossh.MarshalAuthorizedKey(signer.PublicKey())))
}

func TestObtainSession_SecondCycleSucceeds(t *testing.T) {
	directory := &mockDirectory{}
	registry := &mockRegistry{}
	sshClient := &mockSSHClient{failN: 1}

	o, sleeps := newTestOrchestrator(directory, registry, sshClient)
	o.handshakeAttempts = 1

	policy := config.DefaultPolicy()
	policy.UseLoginRegistry = true
	policy.MaxRetries = 2

	session, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, stateEstablished, o.state)

	// One fresh key pair and one registration per cycle, never reused.
	require.Len(t, registry.registeredKeys, 2)
	assert.NotEqual(t, registry.registeredKeys[0], registry.registeredKeys[1])
	require.Len(t, sshClient.attempts, 2)

	// The session came from the second key pair; the registry-assigned
	// username is the one offered to the SSH layer.
	pub := publicKeyOf(t, sshClient.attempts[1].PrivateKeyPEM)
	assert.True(t, strings.HasPrefix(registry.registeredKeys[1], pub))
	assert.Equal(t, "sa_robot", sshClient.attempts[1].User)

	assert.Len(t, *sleeps, 1)
}

func TestObtainSession_ZeroRetriesMeansOneCycle(t *testing.T) {
	directory := &mockDirectory{}
	sshClient := &mockSSHClient{failN: 100}

	o, sleeps := newTestOrchestrator(directory, &mockRegistry{}, sshClient)
	o.handshakeAttempts = 1

	policy := config.DefaultPolicy()
	policy.MaxRetries = 0

	_, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.Error(t, err)

	var exhausted *MaxRetriesExceededError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, 1, directory.writeCalls)
	assert.Len(t, sshClient.attempts, 1)
	assert.Empty(t, *sleeps, "no backoff sleep on the only permitted attempt")
}

func TestObtainSession_RetriesExhausted(t *testing.T) {
	var written []string
	directory := &mockDirectory{
		WriteMetadataFunc: func(_ context.Context, _ config.Target, metadata *compute.Metadata) error {
			require.NotEmpty(t, metadata.Items)
			written = append(written, *metadata.Items[0].Value)
			return nil
		},
	}
	sshClient := &mockSSHClient{failN: 100}

	o, sleeps := newTestOrchestrator(directory, &mockRegistry{}, sshClient)
	o.handshakeAttempts = 1

	policy := config.DefaultPolicy()
	policy.MaxRetries = 2

	_, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.Error(t, err)

	var exhausted *MaxRetriesExceededError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errSSHRefused)

	// Exactly maxRetries+1 publish+handshake cycles, each with a key pair
	// never seen before.
	require.Len(t, written, 3)
	assert.NotEqual(t, written[0], written[1])
	assert.NotEqual(t, written[1], written[2])
	assert.Len(t, sshClient.attempts, 3)
	assert.Len(t, *sleeps, 2, "sleep between cycles but not after the last")
	assert.Equal(t, stateAborted, o.state)
}

func TestObtainSession_MetadataWrittenBeforeHandshake(t *testing.T) {
	var events []string
	directory := &mockDirectory{
		WriteMetadataFunc: func(context.Context, config.Target, *compute.Metadata) error {
			events = append(events, "write")
			return nil
		},
	}
	sshClient := &mockSSHClient{
		ConnectFunc: func(context.Context, ConnectOptions) (Session, error) {
			events = append(events, "connect")
			return &mockSession{}, nil
		},
	}

	o, _ := newTestOrchestrator(directory, &mockRegistry{}, sshClient)

	_, err := o.ObtainSession(context.Background(), testTarget, config.DefaultPolicy())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, []string{"write", "connect"}, events[:2])
}

func TestObtainSession_FatalWriteErrorStopsImmediately(t *testing.T) {
	directory := &mockDirectory{
		WriteMetadataFunc: func(context.Context, config.Target, *compute.Metadata) error {
			return fmt.Errorf("write rejected: %w", &googleapi.Error{Code: 403})
		},
	}
	sshClient := &mockSSHClient{}

	o, sleeps := newTestOrchestrator(directory, &mockRegistry{}, sshClient)

	policy := config.DefaultPolicy()
	policy.MaxRetries = 5

	_, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.Error(t, err)

	var publishErr *PublishError
	require.True(t, errors.As(err, &publishErr))
	assert.Equal(t, 1, directory.writeCalls, "no further attempts after a fatal failure")
	assert.Empty(t, sshClient.attempts)
	assert.Empty(t, *sleeps)
}

func TestObtainSession_PreconditionRaceRetried(t *testing.T) {
	calls := 0
	directory := &mockDirectory{
		WriteMetadataFunc: func(context.Context, config.Target, *compute.Metadata) error {
			calls++
			if calls == 1 {
				return fmt.Errorf("write rejected: %w", &googleapi.Error{Code: 412})
			}
			return nil
		},
	}
	sshClient := &mockSSHClient{}

	o, sleeps := newTestOrchestrator(directory, &mockRegistry{}, sshClient)

	session, err := o.ObtainSession(context.Background(), testTarget, config.DefaultPolicy())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 2, calls)
	assert.Len(t, *sleeps, 1)
}

func TestObtainSession_InnerLoopExhaustsSixAttempts(t *testing.T) {
	sshClient := &mockSSHClient{failN: 100}

	o, _ := newTestOrchestrator(&mockDirectory{}, &mockRegistry{}, sshClient)

	policy := config.DefaultPolicy()
	policy.MaxRetries = 0

	_, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.Error(t, err)
	assert.Len(t, sshClient.attempts, 6, "inner handshake loop runs its full budget")

	var exhausted *MaxRetriesExceededError
	require.True(t, errors.As(err, &exhausted))
	var handshakeErr *HandshakeError
	assert.True(t, errors.As(exhausted.Err, &handshakeErr))
}

func TestObtainSession_KeyGenerationFailureIsFatal(t *testing.T) {
	directory := &mockDirectory{}
	o, _ := newTestOrchestrator(directory, &mockRegistry{}, &mockSSHClient{}, WithKeyBits(1024))

	_, err := o.ObtainSession(context.Background(), testTarget, config.DefaultPolicy())
	require.Error(t, err)

	var keyErr *KeyGenerationError
	require.True(t, errors.As(err, &keyErr))
	assert.Zero(t, directory.writeCalls, "nothing published after key generation fails")
}

func TestObtainSession_MissingFields(t *testing.T) {
	directory := &mockDirectory{
		ResolveProjectIDFunc: func(context.Context) (string, error) {
			return "", errors.New("no ambient project")
		},
	}
	o, _ := newTestOrchestrator(directory, &mockRegistry{}, &mockSSHClient{})

	_, err := o.ObtainSession(context.Background(), config.Target{}, config.DefaultPolicy())
	require.Error(t, err)

	var confErr *ConfigurationError
	require.True(t, errors.As(err, &confErr))
	assert.Equal(t, []string{"instance", "zone", "project_id"}, confErr.MissingFields)
}

func TestObtainSession_ProjectFallback(t *testing.T) {
	registry := &mockRegistry{}
	o, _ := newTestOrchestrator(&mockDirectory{}, registry, &mockSSHClient{})

	target := testTarget
	target.ProjectID = ""

	policy := config.DefaultPolicy()
	policy.UseLoginRegistry = true

	_, err := o.ObtainSession(context.Background(), target, policy)
	require.NoError(t, err)
	require.Len(t, registry.projects, 1)
	assert.Equal(t, "ambient-project", registry.projects[0])
}

func TestObtainSession_InvalidPolicy(t *testing.T) {
	o, _ := newTestOrchestrator(&mockDirectory{}, &mockRegistry{}, &mockSSHClient{})

	policy := config.DefaultPolicy()
	policy.User = ""

	_, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.Error(t, err)
	var confErr *ConfigurationError
	assert.True(t, errors.As(err, &confErr))
}

type recordingConn struct {
	net.Conn
	closed bool
}

func (c *recordingConn) Close() error {
	c.closed = true
	return c.Conn.Close()
}

func TestObtainSession_TunnelTransport(t *testing.T) {
	var conns []*recordingConn
	tunnels := &mockTunnelStarter{
		StartFunc: func(context.Context, config.Target, config.Policy) (net.Conn, error) {
			local, _ := net.Pipe()
			conn := &recordingConn{Conn: local}
			conns = append(conns, conn)
			return conn, nil
		},
	}
	sshClient := &mockSSHClient{
		ConnectFunc: func(_ context.Context, opts ConnectOptions) (Session, error) {
			require.NotNil(t, opts.Stream, "tunnel stream replaces the direct socket")
			if len(conns) < 2 {
				return nil, errSSHRefused
			}
			return &mockSession{}, nil
		},
	}

	o, _ := newTestOrchestrator(&mockDirectory{}, &mockRegistry{}, sshClient, WithTunnelStarter(tunnels))

	policy := config.DefaultPolicy()
	policy.UseTunnel = true

	session, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.NoError(t, err)
	require.NotNil(t, session)

	// A fresh tunnel per handshake attempt; the failed attempt's tunnel
	// was torn down, the live one stays with the session.
	require.Len(t, conns, 2)
	assert.True(t, conns[0].closed)
	assert.False(t, conns[1].closed)
}

func TestObtainSession_TunnelStartFailureIsFatal(t *testing.T) {
	tunnels := &mockTunnelStarter{
		StartFunc: func(context.Context, config.Target, config.Policy) (net.Conn, error) {
			return nil, errors.New("gcloud not found")
		},
	}
	directory := &mockDirectory{}

	o, sleeps := newTestOrchestrator(directory, &mockRegistry{}, &mockSSHClient{}, WithTunnelStarter(tunnels))

	policy := config.DefaultPolicy()
	policy.UseTunnel = true
	policy.MaxRetries = 5

	_, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.Error(t, err)

	var tunnelErr *TunnelError
	require.True(t, errors.As(err, &tunnelErr))
	assert.Equal(t, 1, tunnels.started, "tunnel start failure is not retried")
	assert.Empty(t, *sleeps)
}

func TestObtainSession_NoTunnelStarterConfigured(t *testing.T) {
	o, _ := newTestOrchestrator(&mockDirectory{}, &mockRegistry{}, &mockSSHClient{})

	policy := config.DefaultPolicy()
	policy.UseTunnel = true

	_, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.Error(t, err)
	var tunnelErr *TunnelError
	assert.True(t, errors.As(err, &tunnelErr))
}

func TestObtainSession_AuthScopeHeldForSessionLifetime(t *testing.T) {
	scope := &mockAuthScope{}
	o, _ := newTestOrchestrator(&mockDirectory{}, &mockRegistry{}, &mockSSHClient{}, WithAuthorizationScope(scope))

	session, err := o.ObtainSession(context.Background(), testTarget, config.DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 1, scope.acquired)
	assert.Zero(t, scope.released, "scope stays open while the session lives")

	require.NoError(t, session.Close())
	assert.Equal(t, 1, scope.released)

	// Closing again must not release twice.
	_ = session.Close()
	assert.Equal(t, 1, scope.released)
}

func TestObtainSession_AuthScopeReleasedOnHandshakeFailure(t *testing.T) {
	scope := &mockAuthScope{}
	sshClient := &mockSSHClient{failN: 100}

	o, _ := newTestOrchestrator(&mockDirectory{}, &mockRegistry{}, sshClient, WithAuthorizationScope(scope))
	o.handshakeAttempts = 1

	policy := config.DefaultPolicy()
	policy.MaxRetries = 0

	_, err := o.ObtainSession(context.Background(), testTarget, policy)
	require.Error(t, err)
	assert.Equal(t, scope.acquired, scope.released, "every acquire matched by a release")
}
