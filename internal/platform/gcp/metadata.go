package gcp

import (
	"context"
	"fmt"

	"google.golang.org/api/compute/v1"

	"github.com/tverly/gcessh/internal/config"
)

// ReadMetadata returns the instance's current metadata, including the
// fingerprint the subsequent write must present. The returned value is
// never nil.
func (c *RealClient) ReadMetadata(ctx context.Context, target config.Target) (*compute.Metadata, error) {
	inst, err := c.getInstance(ctx, target)
	if err != nil {
		return nil, err
	}
	if inst.Metadata == nil {
		return &compute.Metadata{}, nil
	}
	return inst.Metadata, nil
}

// WriteMetadata replaces the instance's metadata and waits for the zone
// operation to finish. The API rejects the write with HTTP 412 when the
// metadata fingerprint no longer matches server state; callers classify
// that with IsPreconditionFailed.
func (c *RealClient) WriteMetadata(ctx context.Context, target config.Target, metadata *compute.Metadata) error {
	op, err := c.compute.Instances.SetMetadata(target.ProjectID, target.Zone, target.Instance, metadata).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to set metadata on instance %s: %w", target.Instance, err)
	}
	return c.waitZoneOperation(ctx, target, op.Name)
}

// waitZoneOperation blocks until the named zone operation completes.
func (c *RealClient) waitZoneOperation(ctx context.Context, target config.Target, name string) error {
	for {
		op, err := c.compute.ZoneOperations.Wait(target.ProjectID, target.Zone, name).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to wait for operation %s: %w", name, err)
		}
		if op.Status == "DONE" {
			if op.Error != nil && len(op.Error.Errors) > 0 {
				first := op.Error.Errors[0]
				return fmt.Errorf("operation %s failed: %s: %s", name, first.Code, first.Message)
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled while waiting for operation %s: %w", name, err)
		}
	}
}
