// Package tunnel starts an IAP tunnel subprocess and exposes its standard
// input/output as a net.Conn, so the SSH handshake can run over the tunnel
// in place of a direct TCP connection.
//
// The subprocess runs `gcloud compute start-iap-tunnel <instance> 22
// --listen-on-stdin`, scoped by an impersonated service account when the
// policy asks for one. Its lifetime is bound to the connection attempt:
// closing the conn terminates the process.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/go-logr/logr"

	"github.com/tverly/gcessh/internal/config"
)

const defaultCommand = "gcloud"

// Starter spawns tunnel subprocesses for the orchestrator.
type Starter struct {
	// Command is the executable to spawn; defaults to "gcloud".
	Command string
	// Log receives one line per spawned tunnel.
	Log logr.Logger
}

// NewStarter returns a Starter using the default gcloud binary.
func NewStarter(log logr.Logger) *Starter {
	return &Starter{Command: defaultCommand, Log: log}
}

// Start spawns the tunnel process for the target instance and returns its
// stdio as a net.Conn. The caller owns the conn and must close it.
func (s *Starter) Start(ctx context.Context, target config.Target, policy config.Policy) (net.Conn, error) {
	command := s.Command
	if command == "" {
		command = defaultCommand
	}
	args := commandArgs(target, policy)

	s.Log.Info("Starting IAP tunnel process", "instance", target.Instance, "zone", target.Zone)

	// The process must outlive ctx: it is torn down by Close, not by the
	// dial context expiring mid-session.
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open tunnel stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open tunnel stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start tunnel process %s: %w", command, err)
	}

	return &procConn{cmd: cmd, stdin: stdin, stdout: stdout, instance: target.Instance}, nil
}

// commandArgs builds the start-iap-tunnel invocation for the target.
func commandArgs(target config.Target, policy config.Policy) []string {
	args := []string{
		"compute",
		"start-iap-tunnel",
		target.Instance,
		"22",
		"--listen-on-stdin",
		fmt.Sprintf("--project=%s", target.ProjectID),
		fmt.Sprintf("--zone=%s", target.Zone),
		"--verbosity=warning",
	}
	if policy.ImpersonateServiceAccount != "" {
		args = append(args, fmt.Sprintf("--impersonate-service-account=%s", policy.ImpersonateServiceAccount))
	}
	return args
}

// procConn adapts a subprocess's stdio to net.Conn.
type procConn struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	instance string
}

func (c *procConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *procConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close tears the tunnel down: stdin is closed so a well-behaved process
// exits on its own, then the process is killed and reaped.
func (c *procConn) Close() error {
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	err := c.cmd.Wait()
	if err != nil && err.Error() != "signal: killed" {
		return fmt.Errorf("tunnel process exited: %w", err)
	}
	return nil
}

func (c *procConn) LocalAddr() net.Addr  { return tunnelAddr{name: "stdio"} }
func (c *procConn) RemoteAddr() net.Addr { return tunnelAddr{name: c.instance} }

// Deadlines are not supported on subprocess pipes; the SSH layer bounds
// the handshake with its own timeout.
func (c *procConn) SetDeadline(time.Time) error      { return nil }
func (c *procConn) SetReadDeadline(time.Time) error  { return nil }
func (c *procConn) SetWriteDeadline(time.Time) error { return nil }

type tunnelAddr struct {
	name string
}

func (a tunnelAddr) Network() string { return "iap-tunnel" }
func (a tunnelAddr) String() string  { return a.name }
