// Package testing provides in-memory SSH fakes for code that runs remote commands.
package testing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/rileyhilliard/fleetpage/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error

	// Block makes the command hang until the context is done.
	Block bool
}

// MockClient simulates an SSH connection for testing.
// Commands are answered from registered responses; unknown commands exit 127.
type MockClient struct {
	mu         sync.Mutex
	host       string
	address    string
	closed     bool
	closeCount int
	commands   map[string]CommandResponse // exact command -> response
	patterns   []patternResponse
	executed   []string
}

type patternResponse struct {
	re   *regexp.Regexp
	resp CommandResponse
}

var _ sshutil.SSHClient = (*MockClient)(nil)

// NewMockClient creates a new mock SSH client with no registered commands.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:     host,
		address:  host + ":22",
		commands: make(map[string]CommandResponse),
	}
}

// ExecContext answers cmd from the registered responses.
func (m *MockClient) ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	select {
	case <-ctx.Done():
		return nil, nil, -1, ctx.Err()
	default:
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, -1, errors.New("connection closed")
	}
	m.executed = append(m.executed, cmd)
	resp, ok := m.lookup(cmd)
	m.mu.Unlock()

	if !ok {
		return nil, []byte(fmt.Sprintf("sh: %s: not found\n", cmd)), 127, nil
	}
	if resp.Block {
		<-ctx.Done()
		return nil, nil, -1, ctx.Err()
	}
	return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
}

// lookup checks exact matches first, then patterns in registration order.
func (m *MockClient) lookup(cmd string) (CommandResponse, bool) {
	if resp, ok := m.commands[cmd]; ok {
		return resp, true
	}
	for _, p := range m.patterns {
		if p.re.MatchString(cmd) {
			return p.resp, true
		}
	}
	return CommandResponse{}, false
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCount++
	return nil
}

// reopen clears the closed flag so a redial gets a usable connection.
// CloseCount keeps accumulating.
func (m *MockClient) reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// SetCommandResponse registers a canned response for an exact command.
func (m *MockClient) SetCommandResponse(cmd string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd] = resp
}

// SetCommandOutput is shorthand for a successful command printing stdout.
func (m *MockClient) SetCommandOutput(cmd, stdout string) {
	m.SetCommandResponse(cmd, CommandResponse{Stdout: []byte(stdout)})
}

// SetPatternResponse registers a response for commands matching the regex pattern.
func (m *MockClient) SetPatternResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, patternResponse{re: regexp.MustCompile(pattern), resp: resp})
}

// CloseCount reports how many times Close was called.
func (m *MockClient) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Executed returns the commands run so far, in order.
func (m *MockClient) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.executed))
	copy(out, m.executed)
	return out
}
