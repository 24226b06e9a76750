package commands

import (
	"github.com/spf13/cobra"

	"github.com/tverly/gcessh/cmd/gcessh/handlers"
)

// connectionFlags holds the target and policy flags shared by the connect
// and run commands. Flags the user did not set must not shadow values from
// the connection file, so conversion to overrides consults Changed().
type connectionFlags struct {
	configPath string

	zone        string
	project     string
	hostname    string
	user        string
	impersonate string

	internalIP bool
	tunnel     bool
	osLogin    bool

	expireSeconds int
	maxRetries    int
	cmdTimeout    int
}

func (f *connectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to connection file (YAML)")

	cmd.Flags().StringVar(&f.zone, "zone", "", "Zone of the instance")
	cmd.Flags().StringVar(&f.project, "project", "", "Project of the instance (default: ambient project)")
	cmd.Flags().StringVar(&f.hostname, "hostname", "", "Connect to this address instead of resolving one")
	cmd.Flags().StringVar(&f.user, "user", "", "Login user to publish the key for")
	cmd.Flags().StringVar(&f.impersonate, "impersonate-service-account", "", "Service account for the tunnel to impersonate")

	cmd.Flags().BoolVar(&f.internalIP, "internal-ip", false, "Connect to the internal address")
	cmd.Flags().BoolVar(&f.tunnel, "tunnel", false, "Connect through an IAP tunnel")
	cmd.Flags().BoolVar(&f.osLogin, "oslogin", false, "Publish the key via OS Login instead of instance metadata")

	cmd.Flags().IntVar(&f.expireSeconds, "expire-seconds", 0, "Lifetime of the published key in seconds")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Additional connection cycles after the first one")
	cmd.Flags().IntVar(&f.cmdTimeout, "cmd-timeout", 0, "Remote command timeout in seconds")
}

// overrides converts the flags the user actually set into handler
// overrides, leaving the rest to the connection file and defaults.
func (f *connectionFlags) overrides(cmd *cobra.Command) handlers.Overrides {
	o := handlers.Overrides{}

	set := cmd.Flags().Changed
	if set("zone") {
		o.Zone = &f.zone
	}
	if set("project") {
		o.ProjectID = &f.project
	}
	if set("hostname") {
		o.Hostname = &f.hostname
	}
	if set("user") {
		o.User = &f.user
	}
	if set("impersonate-service-account") {
		o.ImpersonateServiceAccount = &f.impersonate
	}
	if set("internal-ip") {
		o.UseInternalAddress = &f.internalIP
	}
	if set("tunnel") {
		o.UseTunnel = &f.tunnel
	}
	if set("oslogin") {
		o.UseLoginRegistry = &f.osLogin
	}
	if set("expire-seconds") {
		o.KeyExpirySeconds = &f.expireSeconds
	}
	if set("max-retries") {
		o.MaxRetries = &f.maxRetries
	}
	if set("cmd-timeout") {
		o.CommandTimeoutSeconds = &f.cmdTimeout
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	o.Verbose = verbose

	return o
}
