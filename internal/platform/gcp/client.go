// Package gcp wraps the Compute Engine and OS Login APIs behind the narrow
// collaborator surface the connection orchestrator needs: describing
// instances, reading and writing instance metadata, and registering SSH
// keys with OS Login.
package gcp

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/oslogin/v1"

	"github.com/tverly/gcessh/internal/config"
)

// RealClient implements the orchestrator's InstanceDirectory and
// IdentityRegistry collaborators against the live GCP APIs.
type RealClient struct {
	compute *compute.Service
	oslogin *oslogin.Service

	apiOptions []option.ClientOption
	projectID  string
}

// ClientOption configures a RealClient.
type ClientOption func(*RealClient)

// WithProjectID sets a fixed fallback project instead of resolving it
// from application default credentials.
func WithProjectID(id string) ClientOption {
	return func(c *RealClient) {
		c.projectID = id
	}
}

// WithAPIOptions passes extra options to the underlying API clients
// (useful for testing against a fake endpoint).
func WithAPIOptions(opts ...option.ClientOption) ClientOption {
	return func(c *RealClient) {
		c.apiOptions = append(c.apiOptions, opts...)
	}
}

// NewRealClient creates API clients for Compute Engine and OS Login.
func NewRealClient(ctx context.Context, opts ...ClientOption) (*RealClient, error) {
	c := &RealClient{}
	for _, opt := range opts {
		opt(c)
	}

	computeSvc, err := compute.NewService(ctx, c.apiOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}
	osloginSvc, err := oslogin.NewService(ctx, c.apiOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oslogin client: %w", err)
	}

	c.compute = computeSvc
	c.oslogin = osloginSvc
	return c, nil
}

// ResolveProjectID returns the configured project, falling back to the
// project of the application default credentials.
func (c *RealClient) ResolveProjectID(ctx context.Context) (string, error) {
	if c.projectID != "" {
		return c.projectID, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, compute.CloudPlatformScope)
	if err != nil {
		return "", fmt.Errorf("failed to load default credentials: %w", err)
	}
	if creds.ProjectID == "" {
		return "", fmt.Errorf("default credentials carry no project id; set one explicitly")
	}
	c.projectID = creds.ProjectID
	return c.projectID, nil
}

func (c *RealClient) getInstance(ctx context.Context, target config.Target) (*compute.Instance, error) {
	inst, err := c.compute.Instances.Get(target.ProjectID, target.Zone, target.Instance).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", target.Instance, err)
	}
	return inst, nil
}
