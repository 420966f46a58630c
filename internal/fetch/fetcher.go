// Package fetch runs the configured metric commands on a remote host and
// captures their output.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/logger"
	"github.com/rileyhilliard/fleetpage/pkg/sshutil"
)

// Fetcher collects a Bundle from one host per call over a fresh SSH session.
type Fetcher struct {
	commands       config.CommandsConfig
	dialer         sshutil.Dialer
	commandTimeout time.Duration
	log            logger.Logger
	now            func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger used for partial-failure warnings.
func WithLogger(l logger.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithCommandTimeout bounds each remote command.
func WithCommandTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.commandTimeout = d }
}

// WithClock overrides the time source used for Bundle.FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher that runs commands through dialer.
func New(commands config.CommandsConfig, dialer sshutil.Dialer, opts ...Option) *Fetcher {
	f := &Fetcher{
		commands:       commands,
		dialer:         dialer,
		commandTimeout: 30 * time.Second,
		log:            logger.Noop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DialerFromConfig returns an SSH dialer using cfg's connect timeout and
// host key settings.
func DialerFromConfig(cfg *config.Config) sshutil.Dialer {
	return sshutil.OptionsDialer{Options: sshutil.Options{
		Timeout:               cfg.Timeouts.Connect,
		StrictHostKeyChecking: cfg.SSH.StrictHostKeyChecking,
		KnownHostsPath:        cfg.SSH.KnownHosts,
	}}
}

// NewFromConfig wires a Fetcher with an SSH dialer built from cfg.
func NewFromConfig(cfg *config.Config, log logger.Logger) *Fetcher {
	return New(cfg.Commands, DialerFromConfig(cfg),
		WithLogger(log),
		WithCommandTimeout(cfg.Timeouts.Command))
}

// Target converts a configured host into an SSH dial target.
func Target(host config.Host) sshutil.Target {
	return sshutil.Target{
		Name:         host.Name,
		Address:      host.Address,
		User:         host.User,
		Password:     host.Password,
		IdentityFile: host.IdentityFile,
	}
}

// Fetch connects to host, runs every metric command in order and closes the
// connection before returning.
//
// A partial result comes back with a nil error and the failed metrics listed
// in Bundle.Missing. If every command fails, Fetch returns a COMMAND_FAILED
// error and no bundle.
func (f *Fetcher) Fetch(ctx context.Context, host config.Host) (*Bundle, error) {
	client, err := f.dialer.Dial(ctx, Target(host))
	if err != nil {
		if errors.IsCode(err, errors.ErrHostUnreachable) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrHostUnreachable,
			fmt.Sprintf("Can't connect to '%s'", host.Name),
			"Check the host's address and credentials in fleetpage.yaml.")
	}
	defer client.Close()

	bundle := &Bundle{
		Host:      host.Name,
		FetchedAt: f.now(),
		Metrics:   make(map[string]string, len(config.Metrics)),
	}

	var lastErr error
	for _, metric := range config.Metrics {
		if ctx.Err() != nil {
			bundle.Missing = append(bundle.Missing, metric)
			lastErr = ctx.Err()
			continue
		}

		out, err := f.run(ctx, client, metric)
		if err != nil {
			f.log.Debug("%s: %s failed: %v", host.Name, metric, err)
			bundle.Missing = append(bundle.Missing, metric)
			lastErr = err
			continue
		}
		bundle.Metrics[metric] = out
	}

	if len(bundle.Metrics) == 0 {
		return nil, errors.WrapWithCode(lastErr, errors.ErrCommandFailed,
			fmt.Sprintf("Every metric command failed on '%s'", host.Name),
			"Make sure nvidia-smi, dstat and hostnamectl are installed, or override them under 'commands'.")
	}

	if len(bundle.Missing) > 0 {
		f.log.Warn("%s: missing %s", host.Name, strings.Join(bundle.Missing, ", "))
	}

	return bundle, nil
}

// run executes one metric command under the per-command timeout.
func (f *Fetcher) run(ctx context.Context, client sshutil.SSHClient, metric string) (string, error) {
	cmd := f.commands.ByMetric(metric)

	cmdCtx, cancel := context.WithTimeout(ctx, f.commandTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := client.ExecContext(cmdCtx, cmd)
	if err != nil {
		return "", err
	}

	// Some tools (dstat on older kernels) exit non-zero after printing
	// useful output, so only an empty stdout counts as failure.
	if exitCode != 0 && len(stdout) == 0 {
		return "", errors.New(errors.ErrCommandFailed,
			fmt.Sprintf("'%s' exited %d: %s", cmd, exitCode, strings.TrimSpace(string(stderr))),
			"Run the command by hand on the host to see what's wrong.")
	}

	return string(stdout), nil
}
