// Package ssh performs the client-side SSH handshake with an ephemeral
// private key, over either a direct TCP connection or a caller-supplied
// stream such as a tunnel subprocess.
package ssh

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/tverly/gcessh/internal/connect"
)

// Dialer implements connect.SecureShellClient with golang.org/x/crypto/ssh.
type Dialer struct{}

var _ connect.SecureShellClient = (*Dialer)(nil)

// NewDialer returns a Dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Connect performs the SSH handshake with the given ephemeral key. When
// opts.Stream is set the handshake runs over it; otherwise a TCP
// connection to opts.Address:22 is dialed.
func (d *Dialer) Connect(ctx context.Context, opts connect.ConnectOptions) (connect.Session, error) {
	signer, err := ssh.ParsePrivateKey(opts.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User: opts.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Instance host keys are freshly generated and not known in
		// advance; the ephemeral key already binds the session to the
		// intended instance.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.Timeout,
	}

	if opts.Stream != nil {
		conn, chans, reqs, err := ssh.NewClientConn(opts.Stream, opts.Address, cfg)
		if err != nil {
			return nil, fmt.Errorf("handshake over tunnel failed: %w", err)
		}
		return &session{client: ssh.NewClient(conn, chans, reqs), stream: opts.Stream}, nil
	}

	addr := opts.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &session{client: client}, nil
}
