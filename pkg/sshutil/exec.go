package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"

	"github.com/rileyhilliard/fleetpage/internal/errors"
	"golang.org/x/crypto/ssh"
)

// ExecContext runs a command on the remote host and returns the output.
// Exit code is -1 if the command couldn't be executed at all. A non-zero
// exit code with nil error means the command ran but failed.
//
// When ctx is done before the command finishes the session is closed and
// ctx.Err() is wrapped in the returned error.
func (c *Client) ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrCommandFailed,
			fmt.Sprintf("Failed to open an SSH session on '%s'", c.Host),
			"Connection may have been closed. It will be retried next cycle.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, nil, -1, errors.WrapWithCode(ctx.Err(), errors.ErrCommandFailed,
			fmt.Sprintf("Command on '%s' didn't finish in time: %s", c.Host, cmd),
			"Raise timeouts.command or check whether the command hangs on that host.")
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
		}
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrCommandFailed,
			fmt.Sprintf("Failed to execute command on '%s': %s", c.Host, cmd),
			"Check if the command exists on the remote host.")
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
}
