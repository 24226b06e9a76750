package connect

import (
	"context"
	"io"
	"net"

	"google.golang.org/api/compute/v1"

	"github.com/tverly/gcessh/internal/config"
)

// mockDirectory implements InstanceDirectory with overridable behavior.
type mockDirectory struct {
	ResolveAddressFunc   func(ctx context.Context, target config.Target, internal bool) (string, error)
	ReadMetadataFunc     func(ctx context.Context, target config.Target) (*compute.Metadata, error)
	WriteMetadataFunc    func(ctx context.Context, target config.Target, metadata *compute.Metadata) error
	ResolveProjectIDFunc func(ctx context.Context) (string, error)

	resolveCalls int
	writeCalls   int
}

func (m *mockDirectory) ResolveAddress(ctx context.Context, target config.Target, internal bool) (string, error) {
	m.resolveCalls++
	if m.ResolveAddressFunc != nil {
		return m.ResolveAddressFunc(ctx, target, internal)
	}
	return "203.0.113.7", nil
}

func (m *mockDirectory) ReadMetadata(ctx context.Context, target config.Target) (*compute.Metadata, error) {
	if m.ReadMetadataFunc != nil {
		return m.ReadMetadataFunc(ctx, target)
	}
	return &compute.Metadata{}, nil
}

func (m *mockDirectory) WriteMetadata(ctx context.Context, target config.Target, metadata *compute.Metadata) error {
	m.writeCalls++
	if m.WriteMetadataFunc != nil {
		return m.WriteMetadataFunc(ctx, target, metadata)
	}
	return nil
}

func (m *mockDirectory) ResolveProjectID(ctx context.Context) (string, error) {
	if m.ResolveProjectIDFunc != nil {
		return m.ResolveProjectIDFunc(ctx)
	}
	return "ambient-project", nil
}

// mockRegistry implements IdentityRegistry and records registrations.
type mockRegistry struct {
	CurrentPrincipalEmailFunc func(ctx context.Context) (string, error)
	RegisterKeyFunc           func(ctx context.Context, user, publicKey string, expiryUsec int64, project string) (string, error)

	registeredKeys []string
	projects       []string
	expiries       []int64
}

func (m *mockRegistry) CurrentPrincipalEmail(ctx context.Context) (string, error) {
	if m.CurrentPrincipalEmailFunc != nil {
		return m.CurrentPrincipalEmailFunc(ctx)
	}
	return "robot@p1.iam.gserviceaccount.com", nil
}

func (m *mockRegistry) RegisterKey(ctx context.Context, user, publicKey string, expiryUsec int64, project string) (string, error) {
	m.registeredKeys = append(m.registeredKeys, publicKey)
	m.projects = append(m.projects, project)
	m.expiries = append(m.expiries, expiryUsec)
	if m.RegisterKeyFunc != nil {
		return m.RegisterKeyFunc(ctx, user, publicKey, expiryUsec, project)
	}
	return "sa_robot", nil
}

// mockSession satisfies Session for handshake results.
type mockSession struct {
	closed bool
}

func (s *mockSession) Close() error                                 { s.closed = true; return nil }
func (s *mockSession) Run(context.Context, string) (string, error)  { return "", nil }
func (s *mockSession) Shell(context.Context, io.Reader, io.Writer, io.Writer) error {
	return nil
}

// mockSSHClient records every connect attempt and fails the first
// failUntil of them.
type mockSSHClient struct {
	ConnectFunc func(ctx context.Context, opts ConnectOptions) (Session, error)

	attempts []ConnectOptions
	failWith error
	failN    int
}

func (m *mockSSHClient) Connect(ctx context.Context, opts ConnectOptions) (Session, error) {
	m.attempts = append(m.attempts, opts)
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, opts)
	}
	if m.failN > 0 {
		m.failN--
		err := m.failWith
		if err == nil {
			err = errSSHRefused
		}
		return nil, err
	}
	return &mockSession{}, nil
}

// mockTunnelStarter hands out one end of a pipe per start.
type mockTunnelStarter struct {
	StartFunc func(ctx context.Context, target config.Target, policy config.Policy) (net.Conn, error)

	started int
}

func (m *mockTunnelStarter) Start(ctx context.Context, target config.Target, policy config.Policy) (net.Conn, error) {
	m.started++
	if m.StartFunc != nil {
		return m.StartFunc(ctx, target, policy)
	}
	local, remote := net.Pipe()
	_ = remote
	return local, nil
}

// mockAuthScope counts acquires and releases.
type mockAuthScope struct {
	AcquireFunc func(ctx context.Context) (func(), error)

	acquired int
	released int
}

func (m *mockAuthScope) Acquire(ctx context.Context) (func(), error) {
	m.acquired++
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx)
	}
	return func() { m.released++ }, nil
}
