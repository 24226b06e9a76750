package gcp

import (
	"context"
	"fmt"

	"github.com/tverly/gcessh/internal/config"
)

// ResolveAddress returns the instance's internal or external IP address.
// It returns an error wrapping ErrNoAddress when the instance has no
// address of the requested kind.
func (c *RealClient) ResolveAddress(ctx context.Context, target config.Target, internal bool) (string, error) {
	inst, err := c.getInstance(ctx, target)
	if err != nil {
		return "", err
	}

	if internal {
		for _, nic := range inst.NetworkInterfaces {
			if nic.NetworkIP != "" {
				return nic.NetworkIP, nil
			}
		}
		return "", fmt.Errorf("instance %s has no internal address: %w", target.Instance, ErrNoAddress)
	}

	for _, nic := range inst.NetworkInterfaces {
		for _, ac := range nic.AccessConfigs {
			if ac.NatIP != "" {
				return ac.NatIP, nil
			}
		}
	}
	return "", fmt.Errorf("instance %s has no external address: %w", target.Instance, ErrNoAddress)
}
