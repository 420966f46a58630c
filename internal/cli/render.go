package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/logger"
	"github.com/rileyhilliard/fleetpage/internal/render"
	"github.com/rileyhilliard/fleetpage/internal/topuser"
	"github.com/rileyhilliard/fleetpage/pkg/sshutil"
	"github.com/spf13/cobra"
)

var renderFormat string

var renderCmd = &cobra.Command{
	Use:   "render <host>",
	Short: "Fetch one host and print its page",
	Long: `Fetch metrics from a single host and print the rendered page to stdout
without touching the share. Useful for checking commands and layout.

Examples:
  fleetpage render GPUServer1
  fleetpage render GPUServer1 --format text`,
	Args: cobra.ExactArgs(1),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		cfg, _, err := config.LoadFrom(cfgFile)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return cfg.HostNames(), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return renderHost(ctx, cmd.OutOrStdout(), args[0], renderFormat)
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "", "output format: html or text (default: from share.extension)")
}

func renderHost(ctx context.Context, out io.Writer, name, format string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	host, ok := cfg.HostByName(name)
	if !ok {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("No host named '%s'", name),
			fmt.Sprintf("Configured hosts: %v", cfg.HostNames()))
	}

	var encode render.Encoder
	switch format {
	case "":
		encode = render.EncoderFor(cfg.Share.Extension)
	case "html":
		encode = render.EncodeHTML
	case "text", "txt":
		encode = render.EncodeText
	default:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown format '%s'", format),
			"Use --format html or --format text.")
	}

	sshutil.WarningHandler = sshWarnings(logger.NewEnvLogger("[ssh]"))
	defer sshutil.CloseAgent()

	hostCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Host)
	defer cancel()

	bundle, err := newFetcher(cfg, logger.NewEnvLogger("[fetch]")).Fetch(hostCtx, host)
	if err != nil {
		return err
	}

	extractor := topuser.Extractor{Known: cfg.Users.Known, DisplayNames: cfg.Users.DisplayNames}
	page := render.Render(host.Name, bundle, extractor.Extract(bundle.Get(config.MetricTopListing)), cfg.Interval)

	_, err = out.Write(encode(page))
	return err
}
