package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/fetch"
	"github.com/rileyhilliard/fleetpage/internal/logger"
	"github.com/rileyhilliard/fleetpage/internal/ui"
	"github.com/rileyhilliard/fleetpage/pkg/sshutil"
	"github.com/spf13/cobra"
)

var checkConnect bool

// newDialer is swappable in tests.
var newDialer = fetch.DialerFromConfig

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and optionally test connections",
	Long: `Load and validate the config file, then list hosts and the share.

With --connect, also opens an SSH connection to every host and a session
on the share, reporting what works.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkCommand(cmd.Context(), cmd.OutOrStdout(), checkConnect)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkConnect, "connect", false, "test SSH and share connectivity")
}

func checkCommand(ctx context.Context, out io.Writer, connect bool) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Config OK: %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), ui.InfoStyle().Render(path))
	fmt.Fprintf(out, "  share: %s\n", describeShare(cfg.Share))
	fmt.Fprintf(out, "  interval: %s, concurrency: %d\n", cfg.Interval, cfg.Concurrency)
	if len(cfg.Users.Known) == 0 {
		fmt.Fprintf(out, "  %s\n", ui.WarningStyle().Render(ui.SymbolWarning+" users.known is empty; every page will show 'unknown'"))
	}

	if !connect {
		for _, h := range cfg.Hosts {
			fmt.Fprintf(out, "  %s %s %s\n", ui.SymbolPending, h.Name, ui.MutedStyle().Render(h.Address))
		}
		return nil
	}

	sshutil.WarningHandler = sshWarnings(logger.NewEnvLogger("[ssh]"))
	defer sshutil.CloseAgent()

	failed := 0
	dialer := newDialer(cfg)
	for _, h := range cfg.Hosts {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Connect)
		client, err := dialer.Dial(dialCtx, fetch.Target(h))
		cancel()
		if err != nil {
			failed++
			fmt.Fprintf(out, "  %s %s %s\n", ui.ErrorStyle().Render(ui.SymbolFail), h.Name, ui.ErrorStyle().Render(headline(err)))
			continue
		}
		client.Close()
		fmt.Fprintf(out, "  %s %s %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), h.Name, ui.MutedStyle().Render(client.GetAddress()))
	}

	connector, err := newConnector(cfg)
	if err != nil {
		return err
	}
	shareCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Publish)
	defer cancel()
	share, err := connector.Connect(shareCtx)
	if err != nil {
		failed++
		fmt.Fprintf(out, "  %s share %s\n", ui.ErrorStyle().Render(ui.SymbolFail), ui.ErrorStyle().Render(headline(err)))
	} else {
		if err := share.Close(); err != nil {
			fmt.Fprintf(out, "  %s share close: %s\n", ui.WarningStyle().Render(ui.SymbolWarning), headline(err))
		}
		fmt.Fprintf(out, "  %s share\n", ui.SuccessStyle().Render(ui.SymbolSuccess))
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func describeShare(s config.ShareConfig) string {
	if s.Kind == config.ShareKindDir {
		return fmt.Sprintf("dir %s (*.%s)", s.Path, s.Extension)
	}
	return fmt.Sprintf("smb //%s:%d/%s as %s (*.%s)", s.Address, s.Port, s.Name, s.User, s.Extension)
}

// headline returns the first line of an error without the failure symbol.
func headline(err error) string {
	msg := strings.TrimPrefix(err.Error(), ui.SymbolFail+" ")
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
