package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// HostAddOptions holds options for the host add command.
type HostAddOptions struct {
	Name         string
	Address      string
	User         string
	PasswordEnv  string // Variable holding the password; written as ${VAR}
	IdentityFile string
	Interactive  bool
}

var hostAddOpts HostAddOptions

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage monitored hosts",
}

var hostAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a host to the config",
	Long: `Append a host to the config file, keeping existing comments and layout.

The password is stored as a ${VAR} reference; put the value in the
environment or the .env file next to the config.

Examples:
  fleetpage host add --name GPUServer2 --address 192.168.0.2 --user machineUser2
  fleetpage host add --name lab --address lab-alias --identity-file ~/.ssh/id_ed25519`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := hostAddOpts
		opts.Interactive = (opts.Name == "" || opts.Address == "") && term.IsTerminal(int(os.Stdin.Fd()))
		return hostAdd(cmd.OutOrStdout(), opts)
	},
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured hosts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostList(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.AddCommand(hostAddCmd)
	hostCmd.AddCommand(hostListCmd)

	f := hostAddCmd.Flags()
	f.StringVar(&hostAddOpts.Name, "name", "", "host name (used in the page file name)")
	f.StringVar(&hostAddOpts.Address, "address", "", "IP, hostname, host:port or SSH config alias")
	f.StringVar(&hostAddOpts.User, "user", "", "SSH user")
	f.StringVar(&hostAddOpts.PasswordEnv, "password-env", "", "environment variable holding the SSH password (default: <NAME>_PASSWORD)")
	f.StringVar(&hostAddOpts.IdentityFile, "identity-file", "", "private key to use instead of a password")
}

func hostAdd(out io.Writer, opts HostAddOptions) error {
	path, err := config.Find(cfgFile)
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New(errors.ErrConfig,
			"No config file found",
			"Run 'fleetpage init' first, or pass --config")
	}

	if opts.Interactive {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Host name").Placeholder("GPUServer2").Value(&opts.Name),
				huh.NewInput().Title("Address").Placeholder("192.168.0.2").Value(&opts.Address),
				huh.NewInput().Title("SSH user").Value(&opts.User),
				huh.NewInput().Title("Identity file (optional)").Placeholder("~/.ssh/id_ed25519").Value(&opts.IdentityFile),
			),
		)
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Pass --name and --address instead.")
		}
	}

	host := config.Host{
		Name:         strings.TrimSpace(opts.Name),
		Address:      strings.TrimSpace(opts.Address),
		User:         opts.User,
		IdentityFile: opts.IdentityFile,
	}
	if opts.IdentityFile == "" || opts.PasswordEnv != "" {
		envVar := opts.PasswordEnv
		if envVar == "" {
			envVar = secretVar(host.Name)
		}
		host.Password = "${" + envVar + "}"
	}

	if err := config.ValidateHost(host); err != nil {
		return err
	}

	if err := config.AddHost(path, host); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't add host '%s'", host.Name),
			"Pick a different name, or edit the config by hand.")
	}

	fmt.Fprintf(out, "%s Added %s to %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), host.Name, ui.InfoStyle().Render(path))
	if refs := config.References(host.Password); len(refs) > 0 {
		fmt.Fprintf(out, "  Set %s in the environment or %s\n", refs[0], config.DotEnvFile)
	}
	return nil
}

func hostList(out io.Writer) error {
	cfg, _, err := config.LoadFrom(cfgFile)
	if err != nil {
		return err
	}
	if len(cfg.Hosts) == 0 {
		fmt.Fprintln(out, "No hosts configured")
		return nil
	}

	width := 0
	for _, h := range cfg.Hosts {
		if len(h.Name) > width {
			width = len(h.Name)
		}
	}
	for _, h := range cfg.Hosts {
		user := h.User
		if user != "" {
			user += "@"
		}
		fmt.Fprintf(out, "%-*s  %s\n", width, h.Name, ui.MutedStyle().Render(user+h.Address))
	}
	return nil
}
