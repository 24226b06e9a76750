package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tverly/gcessh/internal/config"
)

var tunnelTarget = config.Target{Instance: "vm1", Zone: "us-central1-a", ProjectID: "p1"}

func TestCommandArgs(t *testing.T) {
	args := commandArgs(tunnelTarget, config.Policy{})

	assert.Equal(t, []string{
		"compute",
		"start-iap-tunnel",
		"vm1",
		"22",
		"--listen-on-stdin",
		"--project=p1",
		"--zone=us-central1-a",
		"--verbosity=warning",
	}, args)
}

func TestCommandArgs_Impersonation(t *testing.T) {
	args := commandArgs(tunnelTarget, config.Policy{
		ImpersonateServiceAccount: "robot@p1.iam.gserviceaccount.com",
	})

	assert.Contains(t, args, "--impersonate-service-account=robot@p1.iam.gserviceaccount.com")
}

// echoScript builds a stand-in for gcloud that ignores its arguments and
// bridges stdin to stdout, like a healthy tunnel does.
func echoScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-gcloud")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec cat\n"), 0o700))
	return path
}

func TestStart_RoundTrip(t *testing.T) {
	starter := &Starter{Command: echoScript(t), Log: logr.Discard()}

	conn, err := starter.Start(context.Background(), tunnelTarget, config.Policy{})
	require.NoError(t, err)

	payload := []byte("SSH-2.0-probe\r\n")
	_, err = conn.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	require.NoError(t, conn.Close())
}

func TestStart_MissingBinary(t *testing.T) {
	starter := &Starter{Command: filepath.Join(t.TempDir(), "nope"), Log: logr.Discard()}

	_, err := starter.Start(context.Background(), tunnelTarget, config.Policy{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start tunnel process")
}

func TestConnAddrs(t *testing.T) {
	starter := &Starter{Command: echoScript(t), Log: logr.Discard()}

	conn, err := starter.Start(context.Background(), tunnelTarget, config.Policy{})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "iap-tunnel", conn.RemoteAddr().Network())
	assert.Equal(t, "vm1", conn.RemoteAddr().String())
	assert.Equal(t, "stdio", conn.LocalAddr().String())
	assert.NoError(t, conn.SetDeadline(time.Time{}))
	assert.NoError(t, conn.SetReadDeadline(time.Time{}))
	assert.NoError(t, conn.SetWriteDeadline(time.Time{}))
}
