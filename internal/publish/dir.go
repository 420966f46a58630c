package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
)

// DirConnector publishes into a local directory, typically a web server's
// document root.
type DirConnector struct {
	Path string
}

// Connect makes sure the directory exists.
func (c *DirConnector) Connect(ctx context.Context) (Share, error) {
	dir := config.ExpandTilde(c.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrShareConnect,
			fmt.Sprintf("Can't create publish directory %s", dir),
			"Check share.path and its permissions.")
	}
	return &dirShare{dir: dir}, nil
}

type dirShare struct {
	dir string
}

// Store writes to a temp file in the target directory and renames it over
// name, so readers never see a half-written page.
func (s *dirShare) Store(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (s *dirShare) Close() error {
	return nil
}
