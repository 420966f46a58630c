package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/fetch"
	"github.com/rileyhilliard/fleetpage/internal/logger"
	"github.com/rileyhilliard/fleetpage/internal/publish"
	"github.com/rileyhilliard/fleetpage/internal/scheduler"
	"github.com/rileyhilliard/fleetpage/internal/ui"
	"github.com/rileyhilliard/fleetpage/pkg/sshutil"
	"github.com/spf13/cobra"
)

// Swappable in tests.
var (
	newFetcher = func(cfg *config.Config, log logger.Logger) scheduler.Fetcher {
		return fetch.NewFromConfig(cfg, log)
	}
	newConnector = func(cfg *config.Config) (publish.Connector, error) {
		return publish.NewConnector(cfg.Share)
	}
)

var (
	runQuiet  bool
	onceQuiet bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll every host on the configured interval",
	Long: `Poll every configured host forever. Each cycle connects to the share,
fetches and renders every host, publishes <host>-status.<ext> and sleeps
for the configured interval.

Host failures are logged and never stop the loop. Ctrl-C finishes the
hosts already in progress, skips the rest, closes the share and exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPoll(ctx, cmd.OutOrStdout(), runQuiet)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle and exit",
	Long: `Run one poll cycle over every host and exit.

Exits non-zero when any host failed to publish, so cron jobs notice.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runOnce(ctx, cmd.OutOrStdout(), onceQuiet)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "don't print a summary after each cycle")
	onceCmd.Flags().BoolVarP(&onceQuiet, "quiet", "q", false, "don't print the cycle summary")
}

// buildScheduler wires the scheduler from config.
func buildScheduler(cfg *config.Config, out io.Writer, quiet bool, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	connector, err := newConnector(cfg)
	if err != nil {
		return nil, err
	}

	sshutil.WarningHandler = sshWarnings(logger.NewEnvLogger("[ssh]"))
	fetcher := newFetcher(cfg, logger.NewEnvLogger("[fetch]"))
	opts = append([]scheduler.Option{
		scheduler.WithLogger(logger.NewEnvLogger("[scheduler]")),
		scheduler.WithOnCycle(func(r scheduler.CycleReport) {
			if !quiet {
				fmt.Fprint(out, ui.RenderCycleSummary(cycleSummary(r)))
			}
		}),
	}, opts...)

	return scheduler.New(cfg, fetcher, connector, opts...), nil
}

// sshWarnings adapts a Logger to sshutil.WarningHandler.
func sshWarnings(log logger.Logger) func(string) {
	return func(message string) { log.Warn("%s", message) }
}

func runPoll(ctx context.Context, out io.Writer, quiet bool) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	defer sshutil.CloseAgent()
	logger.NewEnvLogger("[fleetpage]").Debug("using config %s", path)

	s, err := buildScheduler(cfg, out, quiet)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

func runOnce(ctx context.Context, out io.Writer, quiet bool) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer sshutil.CloseAgent()

	s, err := buildScheduler(cfg, out, quiet)
	if err != nil {
		return err
	}

	report := s.RunCycle(ctx)
	if report.Failed() > 0 {
		return errors.NewExitError(1)
	}
	return nil
}

// cycleSummary converts a scheduler report into the terminal view model.
func cycleSummary(r scheduler.CycleReport) ui.CycleSummary {
	summary := ui.CycleSummary{Number: r.Number, Duration: r.Duration()}
	if r.ShareErr != nil {
		summary.ShareErr = r.ShareErr.Error()
	}

	for _, h := range r.Hosts {
		line := ui.HostLine{Host: h.Host, File: h.File, Duration: h.Duration}
		switch {
		case h.Stage == scheduler.StageSkipped:
			line.Status = ui.HostSkipped
		case !h.OK():
			line.Status = ui.HostFailed
			if h.Err != nil {
				line.Detail = h.Err.Error()
			}
		case len(h.Missing) > 0:
			line.Status = ui.HostPartial
			line.Detail = strings.Join(h.Missing, ", ")
		default:
			line.Status = ui.HostPublished
		}
		summary.Hosts = append(summary.Hosts, line)
	}
	return summary
}
