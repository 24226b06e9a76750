package ssh

import (
	"context"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/tverly/gcessh/internal/connect"
)

// session wraps an established *ssh.Client, and the tunnel stream when
// one carries it, as a connect.Session.
type session struct {
	client *ssh.Client
	stream net.Conn
}

var _ connect.Session = (*session)(nil)

// Run executes the command on the remote host and returns its combined
// output. Cancelling the context tears the session down, which aborts
// the running command.
func (s *session) Run(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := sess.CombinedOutput(command)
		done <- result{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		return "", fmt.Errorf("command %q aborted: %w", command, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return string(r.output), fmt.Errorf("command %q failed: %w", command, r.err)
		}
		return string(r.output), nil
	}
}

// Shell binds the given streams to a shell on the remote host and blocks
// until it exits or the context is cancelled. The streams are attached
// as plain pipes; no terminal is allocated.
func (s *session) Shell(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()

	sess.Stdin = in
	sess.Stdout = out
	sess.Stderr = errOut

	if err := sess.Shell(); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Close shuts the SSH client down and then the underlying tunnel stream,
// if any.
func (s *session) Close() error {
	err := s.client.Close()
	if s.stream != nil {
		if streamErr := s.stream.Close(); err == nil {
			err = streamErr
		}
	}
	return err
}
