package publish

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
)

// Share is a destination session that lives for one cycle.
type Share interface {
	// Store creates or overwrites name with the contents of r.
	Store(ctx context.Context, name string, r io.Reader) error

	// Close ends the session.
	Close() error
}

// Connector opens a Share at the start of a cycle.
type Connector interface {
	Connect(ctx context.Context) (Share, error)
}

// NewConnector builds the connector for the configured share kind.
func NewConnector(cfg config.ShareConfig) (Connector, error) {
	switch cfg.Kind {
	case config.ShareKindSMB:
		return &SMBConnector{
			Address:     cfg.Address,
			Port:        cfg.Port,
			User:        cfg.User,
			Password:    cfg.Password,
			Domain:      cfg.Domain,
			Workstation: cfg.ClientName,
			ServerName:  cfg.ServerName,
			ShareName:   cfg.Name,
		}, nil
	case config.ShareKindDir:
		return &DirConnector{Path: cfg.Path}, nil
	}
	return nil, errors.New(errors.ErrConfig,
		fmt.Sprintf("Unknown share kind '%s'", cfg.Kind),
		fmt.Sprintf("Use '%s' or '%s'.", config.ShareKindSMB, config.ShareKindDir))
}

// serialShare guards a Share so only one Store runs at a time.
type serialShare struct {
	mu    sync.Mutex
	inner Share
}

// Serialize wraps share so concurrent callers take turns. SMB sessions
// can't multiplex writes from several goroutines.
func Serialize(share Share) Share {
	if s, ok := share.(*serialShare); ok {
		return s
	}
	return &serialShare{inner: share}
}

func (s *serialShare) Store(ctx context.Context, name string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Store(ctx, name, r)
}

func (s *serialShare) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}
