package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/fetch"
	"github.com/rileyhilliard/fleetpage/internal/logger"
	"github.com/rileyhilliard/fleetpage/internal/publish/publishtest"
	sshtest "github.com/rileyhilliard/fleetpage/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock fires After immediately and records every requested wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fetcherFunc adapts a function to the Fetcher interface.
type fetcherFunc func(ctx context.Context, host config.Host) (*fetch.Bundle, error)

func (f fetcherFunc) Fetch(ctx context.Context, host config.Host) (*fetch.Bundle, error) {
	return f(ctx, host)
}

func testConfig(t *testing.T, names ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Share.StagingDir = t.TempDir()
	cfg.Users.Known = []string{"alice", "bob"}
	cfg.Users.DisplayNames = map[string]string{"alice": "Alice A."}
	for _, name := range names {
		cfg.Hosts = append(cfg.Hosts, config.Host{Name: name, Address: name + ".lan", User: "ops", Password: "pw"})
	}
	return cfg
}

func mockHost(dialer *sshtest.MockDialer, name, uptime string) *sshtest.MockClient {
	cmds := config.DefaultConfig().Commands
	client := sshtest.NewMockClient(name)
	client.SetCommandOutput(cmds.GPUStatus, "GPU 0: A100\n")
	client.SetCommandOutput(cmds.OSVersion, "Operating System: Ubuntu 22.04\n")
	client.SetCommandOutput(cmds.CPUHardware, "AMD EPYC 7742\n")
	client.SetCommandOutput(cmds.ResourceStats, "usr sys idl\n")
	client.SetCommandOutput(cmds.Uptime, uptime+"\n")
	client.SetCommandOutput(cmds.TopListing, "1 alice\n2 alice\n3 bob\n")
	dialer.AddClient(name, client)
	return client
}

func newTestScheduler(cfg *config.Config, dialer *sshtest.MockDialer, connector *publishtest.Connector, opts ...Option) *Scheduler {
	fetcher := fetch.New(cfg.Commands, dialer, fetch.WithCommandTimeout(time.Second))
	opts = append([]Option{WithClock(newFakeClock())}, opts...)
	return New(cfg, fetcher, connector, opts...)
}

func TestRunCycle_OnePagePerHost(t *testing.T) {
	cfg := testConfig(t, "A", "B", "C")
	dialer := sshtest.NewMockDialer()
	var clients []*sshtest.MockClient
	for _, name := range []string{"A", "B", "C"} {
		clients = append(clients, mockHost(dialer, name, "up 1 day"))
	}
	connector := publishtest.NewConnector()
	s := newTestScheduler(cfg, dialer, connector)

	report := s.RunCycle(context.Background())

	assert.Equal(t, 1, report.Number)
	assert.Equal(t, 3, report.Published())
	assert.Equal(t, 0, report.Failed())
	assert.NoError(t, report.ShareErr)

	files := connector.Share.Files()
	assert.Len(t, files, 3)
	for _, name := range []string{"A-status.html", "B-status.html", "C-status.html"} {
		assert.Contains(t, files, name)
	}
	assert.Len(t, connector.Share.Stores(), 3)

	a, ok := report.Host("A")
	require.True(t, ok)
	assert.Equal(t, "Alice A.", a.TopUser)
	assert.Equal(t, "A-status.html", a.File)
	assert.Contains(t, string(files["A-status.html"]), "Current heaviest user: Alice A.")
	assert.Contains(t, string(files["A-status.html"]), "---30 seconds update interval---")

	for _, c := range clients {
		assert.Equal(t, 1, c.CloseCount())
	}
	assert.Equal(t, 1, connector.Share.CloseCount())
	assert.Equal(t, 1, connector.ConnectCount())
}

func TestRunCycle_IsolatesHostFailures(t *testing.T) {
	cfg := testConfig(t, "A", "B", "C")
	dialer := sshtest.NewMockDialer()
	mockHost(dialer, "A", "up 1 day")
	mockHost(dialer, "C", "up 3 days")
	dialer.FailDial("B", errors.New(errors.ErrHostUnreachable, "Can't reach 'B'", "ping it"))
	connector := publishtest.NewConnector()
	log := logger.NewBufferLogger()
	s := newTestScheduler(cfg, dialer, connector, WithLogger(log))

	report := s.RunCycle(context.Background())

	assert.Equal(t, 2, report.Published())
	b, _ := report.Host("B")
	assert.Equal(t, StageFetch, b.Stage)
	assert.True(t, errors.IsCode(b.Err, errors.ErrHostUnreachable))

	files := connector.Share.Files()
	assert.Contains(t, files, "A-status.html")
	assert.Contains(t, files, "C-status.html")
	assert.NotContains(t, files, "B-status.html")
	assert.True(t, log.HasLevel("error"))
}

func TestRunCycle_PublishFailureIsolated(t *testing.T) {
	cfg := testConfig(t, "A", "B")
	dialer := sshtest.NewMockDialer()
	mockHost(dialer, "A", "up")
	mockHost(dialer, "B", "up")
	connector := publishtest.NewConnector()
	connector.Share.FailStore("A-status.html", stderrors.New("STATUS_DISK_FULL"))
	s := newTestScheduler(cfg, dialer, connector)

	report := s.RunCycle(context.Background())

	a, _ := report.Host("A")
	assert.Equal(t, StagePublish, a.Stage)
	assert.True(t, errors.IsCode(a.Err, errors.ErrPublish))
	b, _ := report.Host("B")
	assert.True(t, b.OK())
}

func TestRunCycle_ShareConnectFailureSkipsHosts(t *testing.T) {
	cfg := testConfig(t, "A", "B")
	dialer := sshtest.NewMockDialer()
	mockHost(dialer, "A", "up")
	mockHost(dialer, "B", "up")
	connector := publishtest.NewConnector()
	connector.Err = stderrors.New("connection refused")
	s := newTestScheduler(cfg, dialer, connector)

	report := s.RunCycle(context.Background())

	require.Error(t, report.ShareErr)
	assert.True(t, errors.IsCode(report.ShareErr, errors.ErrShareConnect))
	require.Len(t, report.Hosts, 2)
	for _, h := range report.Hosts {
		assert.Equal(t, StageSkipped, h.Stage)
	}
	assert.Equal(t, 0, dialer.DialCount("A"), "no host work without a share")
	assert.Equal(t, 0, report.Published())
}

func TestRunCycle_CloseFailureLogged(t *testing.T) {
	cfg := testConfig(t, "A")
	dialer := sshtest.NewMockDialer()
	mockHost(dialer, "A", "up")
	connector := publishtest.NewConnector()
	connector.Share.FailClose(stderrors.New("logoff failed"))
	log := logger.NewBufferLogger()
	s := newTestScheduler(cfg, dialer, connector, WithLogger(log))

	report := s.RunCycle(context.Background())

	assert.Equal(t, 1, report.Published())
	assert.True(t, errors.IsCode(report.CloseErr, errors.ErrShareDisconnect))
	assert.True(t, log.HasLevel("warn"))
}

func TestRunCycle_Idempotent(t *testing.T) {
	cfg := testConfig(t, "A", "B")
	dialer := sshtest.NewMockDialer()
	mockHost(dialer, "A", "up 1 day")
	mockHost(dialer, "B", "up 2 days")
	connector := publishtest.NewConnector()
	s := newTestScheduler(cfg, dialer, connector)

	s.RunCycle(context.Background())
	first := connector.Share.Files()
	report := s.RunCycle(context.Background())
	second := connector.Share.Files()

	assert.Equal(t, 2, report.Number)
	assert.Equal(t, first, second)
	assert.Len(t, connector.Share.Stores(), 4)
}

func TestRunCycle_Concurrency(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E", "F"}
	cfg := testConfig(t, names...)
	cfg.Concurrency = 3
	dialer := sshtest.NewMockDialer()
	for _, name := range names {
		mockHost(dialer, name, "up")
	}
	connector := publishtest.NewConnector()
	s := newTestScheduler(cfg, dialer, connector)

	report := s.RunCycle(context.Background())

	assert.Equal(t, len(names), report.Published())
	for i, h := range report.Hosts {
		assert.Equal(t, names[i], h.Host, "results keep config order")
	}
	assert.Equal(t, 1, connector.Share.MaxConcurrentStores())
}

func TestRunCycle_CancelFinishesCurrentHost(t *testing.T) {
	cfg := testConfig(t, "A", "B", "C")
	connector := publishtest.NewConnector()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fetched []string
	fetcher := fetcherFunc(func(fctx context.Context, host config.Host) (*fetch.Bundle, error) {
		fetched = append(fetched, host.Name)
		cancel()
		// The host's own context survives the stop signal.
		if err := fctx.Err(); err != nil {
			return nil, err
		}
		return &fetch.Bundle{Host: host.Name, Metrics: map[string]string{config.MetricUptime: "up"}}, nil
	})
	s := New(cfg, fetcher, connector, WithClock(newFakeClock()))

	report := s.RunCycle(ctx)

	assert.Equal(t, []string{"A"}, fetched)
	a, _ := report.Host("A")
	assert.True(t, a.OK())
	for _, name := range []string{"B", "C"} {
		h, _ := report.Host(name)
		assert.Equal(t, StageSkipped, h.Stage, name)
		assert.ErrorIs(t, h.Err, context.Canceled)
	}
	assert.Equal(t, 1, connector.Share.CloseCount(), "share closed on shutdown")
}

func TestRunCycle_HostTimeout(t *testing.T) {
	cfg := testConfig(t, "A")
	cfg.Timeouts.Host = 20 * time.Millisecond
	connector := publishtest.NewConnector()
	fetcher := fetcherFunc(func(ctx context.Context, host config.Host) (*fetch.Bundle, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := New(cfg, fetcher, connector, WithClock(newFakeClock()))

	report := s.RunCycle(context.Background())

	a, _ := report.Host("A")
	assert.Equal(t, StageFetch, a.Stage)
	assert.ErrorIs(t, a.Err, context.DeadlineExceeded)
}

func TestRunCycle_RecoversFromPanic(t *testing.T) {
	cfg := testConfig(t, "A", "B")
	connector := publishtest.NewConnector()
	fetcher := fetcherFunc(func(ctx context.Context, host config.Host) (*fetch.Bundle, error) {
		if host.Name == "A" {
			panic("boom")
		}
		return &fetch.Bundle{Host: host.Name, Metrics: map[string]string{}}, nil
	})
	s := New(cfg, fetcher, connector, WithClock(newFakeClock()))

	report := s.RunCycle(context.Background())

	a, _ := report.Host("A")
	assert.ErrorContains(t, a.Err, "boom")
	b, _ := report.Host("B")
	assert.True(t, b.OK())
}

func TestRun_LoopsUntilCancelled(t *testing.T) {
	cfg := testConfig(t, "A")
	dialer := sshtest.NewMockDialer()
	mockHost(dialer, "A", "up")
	connector := publishtest.NewConnector()
	clock := newFakeClock()
	log := logger.NewBufferLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reports []CycleReport
	var states []State
	fetcher := fetch.New(cfg.Commands, dialer)
	s := New(cfg, fetcher, connector,
		WithClock(clock),
		WithLogger(log),
		WithOnState(func(st State) { states = append(states, st) }),
		WithOnCycle(func(r CycleReport) {
			reports = append(reports, r)
			if r.Number == 3 {
				cancel()
			}
		}))

	require.NoError(t, s.Run(ctx))

	require.Len(t, reports, 3)
	assert.Equal(t, []time.Duration{cfg.Interval, cfg.Interval}, clock.Sleeps())
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, []State{ConnectingShare, ProcessingHosts, Disconnecting, Sleeping}, states[:4])

	var updates []string
	for _, m := range log.Messages() {
		if m.Level == "info" && len(m.Message) > 8 && m.Message[:8] == "Update #" {
			updates = append(updates, m.Message)
		}
	}
	assert.Contains(t, updates, "Update #1")
	assert.Contains(t, updates, "Update #3")
}

func TestRun_SurvivesShareOutage(t *testing.T) {
	cfg := testConfig(t, "A")
	dialer := sshtest.NewMockDialer()
	mockHost(dialer, "A", "up")
	connector := publishtest.NewConnector()
	connector.Err = stderrors.New("down")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var published []int
	s := newTestScheduler(cfg, dialer, connector, WithOnCycle(func(r CycleReport) {
		published = append(published, r.Published())
		if r.Number == 1 {
			connector.Err = nil
		}
		if r.Number == 2 {
			cancel()
		}
	}))

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []int{0, 1}, published)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "connecting-share", ConnectingShare.String())
	assert.Equal(t, "processing-hosts", ProcessingHosts.String())
	assert.Equal(t, "disconnecting", Disconnecting.String())
	assert.Equal(t, "sleeping", Sleeping.String())
	assert.Equal(t, "unknown", State(42).String())
}
