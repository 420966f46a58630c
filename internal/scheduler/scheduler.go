// Package scheduler drives fetch, render and publish across the fleet on a
// fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/fetch"
	"github.com/rileyhilliard/fleetpage/internal/logger"
	"github.com/rileyhilliard/fleetpage/internal/publish"
	"github.com/rileyhilliard/fleetpage/internal/render"
	"github.com/rileyhilliard/fleetpage/internal/topuser"
)

// Fetcher collects metrics from one host.
type Fetcher interface {
	Fetch(ctx context.Context, host config.Host) (*fetch.Bundle, error)
}

// Scheduler runs poll cycles until its context is cancelled.
type Scheduler struct {
	hosts          []config.Host
	interval       time.Duration
	concurrency    int
	hostTimeout    time.Duration
	connectTimeout time.Duration

	fetcher   Fetcher
	extractor topuser.Extractor
	publisher *publish.Publisher
	connector publish.Connector

	clock   Clock
	log     logger.Logger
	onCycle func(CycleReport)
	onState func(State)

	state  atomic.Int32
	cycles int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithOnCycle registers a callback that receives every cycle report.
func WithOnCycle(fn func(CycleReport)) Option {
	return func(s *Scheduler) { s.onCycle = fn }
}

// WithOnState registers a callback for state transitions.
func WithOnState(fn func(State)) Option {
	return func(s *Scheduler) { s.onState = fn }
}

// New builds a Scheduler for cfg. The config must already be validated.
func New(cfg *config.Config, fetcher Fetcher, connector publish.Connector, opts ...Option) *Scheduler {
	s := &Scheduler{
		hosts:          cfg.Hosts,
		interval:       cfg.Interval,
		concurrency:    cfg.Concurrency,
		hostTimeout:    cfg.Timeouts.Host,
		connectTimeout: cfg.Timeouts.Publish,
		fetcher:        fetcher,
		extractor:      topuser.Extractor{Known: cfg.Users.Known, DisplayNames: cfg.Users.DisplayNames},
		connector:      connector,
		clock:          RealClock(),
		log:            logger.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	s.publisher = publish.NewPublisher(cfg.Share, cfg.Timeouts.Publish, s.log)
	return s
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("state: %s", st)
	if s.onState != nil {
		s.onState(st)
	}
}

// Run repeats cycles separated by the configured interval until ctx is
// cancelled. Host and share failures are logged and never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("Polling %d host(s) every %s", len(s.hosts), s.interval)
	for {
		s.RunCycle(ctx)
		if ctx.Err() != nil {
			break
		}

		s.setState(Sleeping)
		select {
		case <-ctx.Done():
		case <-s.clock.After(s.interval):
		}
		if ctx.Err() != nil {
			break
		}
	}
	s.setState(Idle)
	s.log.Info("Stopped after %d update(s)", s.cycles)
	return nil
}

// RunCycle performs one pass: open the share, process every host, close
// the share. Once ctx is cancelled, hosts already running finish and the
// rest are skipped.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	s.cycles++
	report := CycleReport{Number: s.cycles, Started: s.clock.Now()}
	s.log.Info("Update #%d", report.Number)

	s.setState(ConnectingShare)
	share, err := s.connect(ctx)
	if err != nil {
		s.log.Error("Update #%d: %v", report.Number, err)
		report.ShareErr = err
		report.Hosts = s.skipAll(err)
		return s.finish(report)
	}
	share = publish.Serialize(share)

	s.setState(ProcessingHosts)
	report.Hosts = s.processHosts(ctx, share)

	s.setState(Disconnecting)
	if err := share.Close(); err != nil {
		report.CloseErr = errors.WrapWithCode(err, errors.ErrShareDisconnect,
			"Closing the share didn't go cleanly",
			"Pages were published; the next cycle reconnects.")
		s.log.Warn("Update #%d: %v", report.Number, report.CloseErr)
	}

	return s.finish(report)
}

func (s *Scheduler) finish(report CycleReport) CycleReport {
	report.Finished = s.clock.Now()
	s.log.Info("Update #%d: published %d/%d host(s) in %s",
		report.Number, report.Published(), len(report.Hosts), report.Duration().Round(time.Millisecond))
	if s.onCycle != nil {
		s.onCycle(report)
	}
	return report
}

func (s *Scheduler) connect(ctx context.Context) (publish.Share, error) {
	connCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	share, err := s.connector.Connect(connCtx)
	if err != nil {
		if errors.IsCode(err, errors.ErrShareConnect) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrShareConnect,
			"Couldn't open the share",
			"Check the 'share' section in fleetpage.yaml.")
	}
	return share, nil
}

func (s *Scheduler) skipAll(err error) []HostResult {
	results := make([]HostResult, len(s.hosts))
	for i, h := range s.hosts {
		results[i] = HostResult{Host: h.Name, Stage: StageSkipped, Err: err}
	}
	return results
}

// processHosts fans hosts out to the worker pool in config order and
// returns results in the same order.
func (s *Scheduler) processHosts(ctx context.Context, share publish.Share) []HostResult {
	results := make([]HostResult, len(s.hosts))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < s.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					results[i] = HostResult{Host: s.hosts[i].Name, Stage: StageSkipped, Err: err}
					continue
				}
				results[i] = s.processHost(ctx, share, s.hosts[i])
			}
		}()
	}

dispatch:
	for i := range s.hosts {
		select {
		case <-ctx.Done():
			for j := i; j < len(s.hosts); j++ {
				results[j] = HostResult{Host: s.hosts[j].Name, Stage: StageSkipped, Err: ctx.Err()}
			}
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	for _, r := range results {
		if r.Stage == StageSkipped {
			s.log.Debug("%s: skipped (%v)", r.Host, r.Err)
		}
	}
	return results
}

// processHost fetches, renders and publishes one host. Its work runs
// detached from ctx cancellation so a started host finishes, bounded by the
// host timeout.
func (s *Scheduler) processHost(ctx context.Context, share publish.Share, host config.Host) (result HostResult) {
	start := s.clock.Now()
	result = HostResult{Host: host.Name, Stage: StageFetch}

	hostCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.hostTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic while processing %s: %v", host.Name, r)
			s.log.Error("%s: %v", host.Name, result.Err)
		}
		result.Duration = s.clock.Now().Sub(start)
	}()

	bundle, err := s.fetcher.Fetch(hostCtx, host)
	if err != nil {
		result.Err = err
		s.log.Error("%s: %v", host.Name, err)
		return result
	}
	result.Missing = bundle.Missing

	result.TopUser = s.extractor.Extract(bundle.Get(config.MetricTopListing))
	page := render.Render(host.Name, bundle, result.TopUser, s.interval)

	result.Stage = StagePublish
	name, err := s.publisher.Publish(hostCtx, share, page)
	if err != nil {
		result.Err = err
		s.log.Error("%s: %v", host.Name, err)
		return result
	}

	result.Stage = StagePublished
	result.File = name
	s.log.Info("%s: published %s", host.Name, name)
	return result
}
