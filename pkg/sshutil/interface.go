package sshutil

import "context"

// SSHClient defines the interface for remote command execution.
// Both the real Client and the mock in sshutil/testing satisfy it.
type SSHClient interface {
	// ExecContext runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error)

	// Close closes the SSH connection. Safe to call more than once.
	Close() error

	// GetHost returns the host name used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}

var _ SSHClient = (*Client)(nil)

// Dialer opens SSH connections to targets.
type Dialer interface {
	Dial(ctx context.Context, target Target) (SSHClient, error)
}

// OptionsDialer dials with a fixed set of Options.
type OptionsDialer struct {
	Options Options
}

// Dial connects to target using d.Options.
func (d OptionsDialer) Dial(ctx context.Context, target Target) (SSHClient, error) {
	client, err := Dial(ctx, target, d.Options)
	if err != nil {
		return nil, err
	}
	return client, nil
}
