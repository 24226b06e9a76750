package connect

import (
	"context"
	"errors"

	"github.com/tverly/gcessh/internal/config"
	"github.com/tverly/gcessh/internal/platform/gcp"
)

// AddressResolver determines the single reachable address for a target.
type AddressResolver struct {
	directory InstanceDirectory
}

// NewAddressResolver builds a resolver over the given directory.
func NewAddressResolver(directory InstanceDirectory) *AddressResolver {
	return &AddressResolver{directory: directory}
}

// Resolve returns the hostname override unchanged when set, without any
// directory lookup. Otherwise it asks the directory for the instance's
// address, selecting the internal one whenever the policy requests it or
// a tunnel is in play: a tunnel terminates locally, so the remote side is
// reached via its internal address.
func (r *AddressResolver) Resolve(ctx context.Context, target config.Target, policy config.Policy) (string, error) {
	if target.Hostname != "" {
		return target.Hostname, nil
	}

	internal := policy.UseInternalAddress || policy.UseTunnel
	addr, err := r.directory.ResolveAddress(ctx, target, internal)
	if err != nil {
		if errors.Is(err, gcp.ErrNoAddress) {
			return "", &ConfigurationError{Reason: "instance is not reachable with the requested address kind", Err: err}
		}
		if gcp.IsNotFound(err) {
			return "", &ConfigurationError{Reason: "instance does not exist", Err: err}
		}
		return "", err
	}
	return addr, nil
}
