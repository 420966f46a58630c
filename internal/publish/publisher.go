// Package publish writes rendered pages to the shared destination.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/logger"
	"github.com/rileyhilliard/fleetpage/internal/render"
)

// FileName is the published file name for a host.
func FileName(host, ext string) string {
	return host + "-status." + ext
}

// Publisher stages encoded pages locally and transfers them to a Share.
type Publisher struct {
	ext        string
	encode     render.Encoder
	stagingDir string
	timeout    time.Duration
	log        logger.Logger
}

// NewPublisher creates a Publisher for the configured share settings.
// An empty staging dir means <os temp dir>/fleetpage.
func NewPublisher(share config.ShareConfig, timeout time.Duration, log logger.Logger) *Publisher {
	staging := share.StagingDir
	if staging == "" {
		staging = filepath.Join(os.TempDir(), "fleetpage")
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Publisher{
		ext:        share.Extension,
		encode:     render.EncoderFor(share.Extension),
		stagingDir: config.ExpandTilde(staging),
		timeout:    timeout,
		log:        log,
	}
}

// FileName returns the name page would be published under.
func (p *Publisher) FileName(page render.Page) string {
	return FileName(page.Host, p.ext)
}

// Publish encodes page, stages it and stores it on share. It returns the
// published file name. The staged copy is removed whether or not the
// transfer succeeds.
func (p *Publisher) Publish(ctx context.Context, share Share, page render.Page) (string, error) {
	name := p.FileName(page)

	staged, err := p.stage(name, p.encode(page))
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrPublish,
			fmt.Sprintf("Couldn't stage %s", name),
			fmt.Sprintf("Check that %s is writable, or set share.staging_dir.", p.stagingDir))
	}
	defer os.Remove(staged)

	f, err := os.Open(staged)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrPublish,
			fmt.Sprintf("Couldn't reopen staged %s", name),
			"Something removed the staging file mid-publish.")
	}
	defer f.Close()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := share.Store(ctx, name, f); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrPublish,
			fmt.Sprintf("Couldn't publish %s", name),
			"The share may have dropped the connection. It reconnects next cycle.")
	}

	p.log.Debug("published %s", name)
	return name, nil
}

// stage writes data into the staging directory and returns the file path.
func (p *Publisher) stage(name string, data []byte) (string, error) {
	if err := os.MkdirAll(p.stagingDir, 0700); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(p.stagingDir, name+".*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
