package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/compute/metadata"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/oslogin/v1"
)

// CurrentPrincipalEmail determines the email of the calling principal.
// Service-account credentials carry it in their JSON; on GCE it comes
// from the metadata server.
func (c *RealClient) CurrentPrincipalEmail(ctx context.Context) (string, error) {
	creds, err := google.FindDefaultCredentials(ctx, oslogin.CloudPlatformScope)
	if err != nil {
		return "", fmt.Errorf("failed to load default credentials: %w", err)
	}

	if len(creds.JSON) > 0 {
		var sa struct {
			ClientEmail string `json:"client_email"`
		}
		if err := json.Unmarshal(creds.JSON, &sa); err == nil && sa.ClientEmail != "" {
			return sa.ClientEmail, nil
		}
	}

	if metadata.OnGCE() {
		email, err := metadata.EmailWithContext(ctx, "default")
		if err != nil {
			return "", fmt.Errorf("failed to read service account email from metadata server: %w", err)
		}
		return email, nil
	}

	return "", fmt.Errorf("cannot determine principal email from default credentials")
}

// RegisterKey imports the public key into the user's OS Login profile
// with the given expiration and returns the POSIX username the registry
// assigned. When the profile carries several POSIX accounts the first
// entry wins.
func (c *RealClient) RegisterKey(ctx context.Context, user, publicKey string, expiryUsec int64, project string) (string, error) {
	key := &oslogin.SshPublicKey{
		Key:                publicKey,
		ExpirationTimeUsec: expiryUsec,
	}

	resp, err := c.oslogin.Users.ImportSshPublicKey("users/"+user, key).ProjectId(project).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to import ssh public key for %s: %w", user, err)
	}

	profile := resp.LoginProfile
	if profile == nil || len(profile.PosixAccounts) == 0 {
		return "", fmt.Errorf("oslogin profile for %s has no posix accounts", user)
	}
	return profile.PosixAccounts[0].Username, nil
}
