// Package connect establishes authenticated SSH sessions to Compute Engine
// instances without any pre-existing credential. It generates an ephemeral
// key pair, publishes the public key through instance metadata or OS Login,
// and drives the handshake through layered retry loops that separate
// transient propagation races from fatal misconfiguration.
package connect

import (
	"context"
	"io"
	"net"
	"time"

	"google.golang.org/api/compute/v1"

	"github.com/tverly/gcessh/internal/config"
)

// InstanceDirectory describes instances: their reachable addresses, their
// metadata, and the ambient project.
type InstanceDirectory interface {
	ResolveAddress(ctx context.Context, target config.Target, internal bool) (string, error)
	ReadMetadata(ctx context.Context, target config.Target) (*compute.Metadata, error)
	WriteMetadata(ctx context.Context, target config.Target, metadata *compute.Metadata) error
	ResolveProjectID(ctx context.Context) (string, error)
}

// IdentityRegistry resolves the calling principal and registers public
// keys with the OS Login service.
type IdentityRegistry interface {
	CurrentPrincipalEmail(ctx context.Context) (string, error)
	// RegisterKey returns the POSIX username the registry assigned, which
	// may differ from the requested user.
	RegisterKey(ctx context.Context, user, publicKey string, expiryUsec int64, project string) (string, error)
}

// ConnectOptions carries everything one handshake attempt needs.
type ConnectOptions struct {
	// Address is the resolved hostname or IP of the instance.
	Address string
	// Stream, when non-nil, replaces the direct TCP connection; the
	// handshake runs over it (tunnel transport).
	Stream net.Conn
	// User is the login user whose key was published.
	User string
	// PrivateKeyPEM is the ephemeral private key, in memory only.
	PrivateKeyPEM []byte
	// Timeout bounds the dial and handshake.
	Timeout time.Duration
}

// SecureShellClient performs the SSH handshake with the just-published key.
type SecureShellClient interface {
	Connect(ctx context.Context, opts ConnectOptions) (Session, error)
}

// Session is an established, ready-to-use SSH connection. The caller owns
// it exclusively and must close it.
type Session interface {
	io.Closer
	// Run executes one command and returns its combined output.
	Run(ctx context.Context, command string) (string, error)
	// Shell binds the given streams to an interactive shell.
	Shell(ctx context.Context, in io.Reader, out, errOut io.Writer) error
}

// TunnelStarter spawns the transport for instances without direct
// reachability. The returned conn is owned by the caller.
type TunnelStarter interface {
	Start(ctx context.Context, target config.Target, policy config.Policy) (net.Conn, error)
}

// AuthorizationScope guards the handshake with an acquire/release pair:
// acquired before connecting, released on every exit path, held for the
// session lifetime on success.
type AuthorizationScope interface {
	Acquire(ctx context.Context) (release func(), err error)
}
