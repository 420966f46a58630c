package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// InitOptions holds options for the init command.
type InitOptions struct {
	Path           string // Where to write the config
	Overwrite      bool   // Overwrite existing config without asking
	NonInteractive bool   // Skip prompts, use flags and defaults

	HostName    string
	HostAddress string
	HostUser    string
	ShareDir    string // Publish to a local directory instead of SMB
	ShareAddr   string
	ShareName   string
	ShareUser   string
	KnownUsers  string // Comma-separated allow-list
}

var initOpts InitOptions

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a fleetpage.yaml config",
	Long: `Create a fleetpage.yaml config file in the current directory.

Runs an interactive wizard when stdin is a terminal. Passwords are never
written to the file; the config references them as ${VAR} and fleetpage
reads them from the environment or a .env file next to the config.

Examples:
  fleetpage init
  fleetpage init --non-interactive --host-name GPUServer1 --host-address 192.168.0.1 --share-dir /var/www/html`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := initOpts
		if cfgFile != "" {
			opts.Path = cfgFile
		}
		if !opts.NonInteractive && !term.IsTerminal(int(os.Stdin.Fd())) {
			opts.NonInteractive = true
		}
		return Init(cmd.OutOrStdout(), opts)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	f := initCmd.Flags()
	f.BoolVar(&initOpts.Overwrite, "force", false, "overwrite an existing config")
	f.BoolVar(&initOpts.NonInteractive, "non-interactive", false, "don't prompt; use flags and defaults")
	f.StringVar(&initOpts.HostName, "host-name", "", "name of the first host")
	f.StringVar(&initOpts.HostAddress, "host-address", "", "address of the first host")
	f.StringVar(&initOpts.HostUser, "host-user", "", "SSH user for the first host")
	f.StringVar(&initOpts.ShareDir, "share-dir", "", "publish into this local directory instead of SMB")
	f.StringVar(&initOpts.ShareAddr, "share-address", "", "SMB server address")
	f.StringVar(&initOpts.ShareName, "share-name", "", "SMB share name")
	f.StringVar(&initOpts.ShareUser, "share-user", "", "SMB user")
	f.StringVar(&initOpts.KnownUsers, "users", "", "comma-separated usernames to report as heaviest user")
}

// Init writes a new config file built from opts and, unless
// NonInteractive, answers collected with huh.
func Init(out io.Writer, opts InitOptions) error {
	path := opts.Path
	if path == "" {
		path = filepath.Join(".", config.ConfigFileName)
	}

	if _, err := os.Stat(path); err == nil && !opts.Overwrite {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Config file already exists: %s", path),
				"Use --force to overwrite")
		}

		var overwrite bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Config file '%s' already exists. Overwrite?", path)).
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Try running with --force to overwrite")
		}
		if !overwrite {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if !opts.NonInteractive {
		if err := promptInit(&opts); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Check terminal compatibility or use --non-interactive")
		}
	}

	cfg := buildInitConfig(opts)
	if err := config.Write(path, cfg); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't write %s", path),
			"Check that the directory is writable.")
	}

	fmt.Fprintf(out, "%s Created %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), ui.InfoStyle().Render(path))
	var refs []string
	for _, h := range cfg.Hosts {
		refs = append(refs, config.References(h.Password)...)
	}
	refs = append(refs, config.References(cfg.Share.Password)...)
	if len(refs) > 0 {
		fmt.Fprintf(out, "\nSet these in the environment or in %s next to the config:\n",
			filepath.Join(filepath.Dir(path), config.DotEnvFile))
		for _, r := range refs {
			fmt.Fprintf(out, "  %s=...\n", r)
		}
	}
	fmt.Fprintf(out, "\nNext: %s\n", ui.BoldStyle().Render("fleetpage check --connect"))
	return nil
}

// promptInit fills empty fields of opts interactively.
func promptInit(opts *InitOptions) error {
	useDir := opts.ShareDir != ""
	required := func(what string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", what)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host name").
				Description("Shown on the page and used in <name>-status.html").
				Placeholder("GPUServer1").
				Value(&opts.HostName).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("host name is required")
					}
					if strings.ContainsAny(s, " \t\n/\\") {
						return fmt.Errorf("host name cannot contain whitespace or slashes")
					}
					return nil
				}),
			huh.NewInput().
				Title("Host address").
				Description("IP, hostname, host:port or SSH config alias").
				Placeholder("192.168.0.1").
				Value(&opts.HostAddress).
				Validate(required("address")),
			huh.NewInput().
				Title("SSH user").
				Placeholder("machineUser1").
				Value(&opts.HostUser),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Publish to a local directory instead of an SMB share?").
				Value(&useDir),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Directory").
				Placeholder("/var/www/html").
				Value(&opts.ShareDir).
				Validate(required("directory")),
		).WithHideFunc(func() bool { return !useDir }),
		huh.NewGroup(
			huh.NewInput().
				Title("SMB server address").
				Placeholder("192.168.0.10").
				Value(&opts.ShareAddr).
				Validate(required("address")),
			huh.NewInput().
				Title("Share name").
				Placeholder("www").
				Value(&opts.ShareName).
				Validate(required("share name")),
			huh.NewInput().
				Title("SMB user").
				Placeholder("smb_username").
				Value(&opts.ShareUser),
		).WithHideFunc(func() bool { return useDir }),
		huh.NewGroup(
			huh.NewInput().
				Title("Known users").
				Description("Comma-separated usernames to report as heaviest user").
				Placeholder("machineUser1, machineUser2").
				Value(&opts.KnownUsers),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if !useDir {
		opts.ShareDir = ""
	}
	return nil
}

// buildInitConfig turns answers into a config, falling back to example
// values so the file validates and can be edited by hand.
func buildInitConfig(opts InitOptions) *config.Config {
	cfg := config.DefaultConfig()

	name := orDefault(opts.HostName, "GPUServer1")
	cfg.Hosts = []config.Host{{
		Name:     name,
		Address:  orDefault(opts.HostAddress, "192.168.0.1"),
		User:     opts.HostUser,
		Password: "${" + secretVar(name) + "}",
	}}

	if opts.ShareDir != "" {
		cfg.Share.Kind = config.ShareKindDir
		cfg.Share.Path = opts.ShareDir
	} else {
		cfg.Share.Kind = config.ShareKindSMB
		cfg.Share.Address = orDefault(opts.ShareAddr, "192.168.0.10")
		cfg.Share.Name = orDefault(opts.ShareName, "www")
		cfg.Share.User = opts.ShareUser
		cfg.Share.Password = "${SMB_PASSWORD}"
	}

	for _, u := range strings.Split(opts.KnownUsers, ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.Users.Known = append(cfg.Users.Known, u)
		}
	}
	return cfg
}

var nonIdent = regexp.MustCompile(`[^A-Z0-9_]+`)

// secretVar derives the environment variable holding a host's password.
func secretVar(hostName string) string {
	v := nonIdent.ReplaceAllString(strings.ToUpper(hostName), "_")
	if v == "" || (v[0] >= '0' && v[0] <= '9') {
		v = "HOST_" + v
	}
	return v + "_PASSWORD"
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
