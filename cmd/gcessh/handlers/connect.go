package handlers

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/tverly/gcessh/internal/config"
	"github.com/tverly/gcessh/internal/connect"
	"github.com/tverly/gcessh/internal/platform/gcp"
	sshclient "github.com/tverly/gcessh/internal/platform/ssh"
	"github.com/tverly/gcessh/internal/platform/tunnel"
)

// sessionBroker matches connect.Orchestrator's session operation.
type sessionBroker interface {
	ObtainSession(ctx context.Context, target config.Target, policy config.Policy) (connect.Session, error)
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// newSessionBroker wires the GCP client, SSH dialer, tunnel starter
	// and credential scope into an orchestrator.
	newSessionBroker = func(ctx context.Context, conn config.Connection, log logr.Logger) (sessionBroker, error) {
		client, err := gcp.NewRealClient(ctx, gcp.WithProjectID(conn.Target.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCP client: %w", err)
		}

		opts := []connect.Option{
			connect.WithLogger(log),
			connect.WithAuthorizationScope(gcp.NewCredentialScope()),
		}
		if conn.Policy.UseTunnel {
			opts = append(opts, connect.WithTunnelStarter(tunnel.NewStarter(log)))
		}
		return connect.New(client, client, sshclient.NewDialer(), opts...), nil
	}

	// Standard streams, replaceable in tests.
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Connect establishes a session to the instance and binds the local
// standard streams to a remote shell until it exits.
func Connect(ctx context.Context, configPath, instance string, o Overrides) error {
	conn, err := resolveConnection(configPath, instance, o)
	if err != nil {
		return err
	}

	log, flush, err := newLogger(o.Verbose)
	if err != nil {
		return err
	}
	defer flush()

	broker, err := newSessionBroker(ctx, conn, log)
	if err != nil {
		return err
	}

	session, err := broker.ObtainSession(ctx, conn.Target, conn.Policy)
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Shell(ctx, stdin, stdout, stderr)
}

// Run establishes a session, executes one command bounded by the policy's
// command timeout, and prints its combined output.
func Run(ctx context.Context, configPath, instance, command string, o Overrides) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("no command given")
	}

	conn, err := resolveConnection(configPath, instance, o)
	if err != nil {
		return err
	}

	log, flush, err := newLogger(o.Verbose)
	if err != nil {
		return err
	}
	defer flush()

	broker, err := newSessionBroker(ctx, conn, log)
	if err != nil {
		return err
	}

	session, err := broker.ObtainSession(ctx, conn.Target, conn.Policy)
	if err != nil {
		return err
	}
	defer session.Close()

	if timeout := conn.Policy.CommandTimeoutSeconds; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	output, err := session.Run(ctx, command)
	if output != "" {
		fmt.Fprint(stdout, output)
	}
	return err
}
