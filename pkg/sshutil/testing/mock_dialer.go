package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/rileyhilliard/fleetpage/pkg/sshutil"
)

// MockDialer hands out MockClients by target name.
type MockDialer struct {
	mu      sync.Mutex
	clients map[string]*MockClient
	errs    map[string]error
	dials   map[string]int
}

var _ sshutil.Dialer = (*MockDialer)(nil)

// NewMockDialer creates a dialer with no registered hosts.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		clients: make(map[string]*MockClient),
		errs:    make(map[string]error),
		dials:   make(map[string]int),
	}
}

// AddClient registers the client returned for target name.
func (d *MockDialer) AddClient(name string, client *MockClient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[name] = client
}

// FailDial makes dials to name return err.
func (d *MockDialer) FailDial(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[name] = err
}

// Dial returns the registered client for target.Name, reopened if a
// previous caller closed it.
func (d *MockDialer) Dial(ctx context.Context, target sshutil.Target) (sshutil.SSHClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[target.Name]++

	if err, ok := d.errs[target.Name]; ok {
		return nil, err
	}
	client, ok := d.clients[target.Name]
	if !ok {
		return nil, fmt.Errorf("no mock client for host %q", target.Name)
	}
	client.reopen()
	return client, nil
}

// DialCount reports how many times name was dialed.
func (d *MockDialer) DialCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[name]
}
