package cli

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/rileyhilliard/fleetpage/internal/fetch"
	"github.com/rileyhilliard/fleetpage/internal/logger"
	"github.com/rileyhilliard/fleetpage/internal/scheduler"
	"github.com/rileyhilliard/fleetpage/internal/ui"
	"github.com/rileyhilliard/fleetpage/pkg/sshutil"
	sshtest "github.com/rileyhilliard/fleetpage/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupFleet writes a dir-share config for hosts A and B and points the
// CLI at it. Returns the publish directory.
func setupFleet(t *testing.T) string {
	t.Helper()
	ui.DisableColors()

	dir := t.TempDir()
	www := filepath.Join(dir, "www")
	content := `version: 1
interval: 30s
share:
  kind: dir
  path: ` + www + `
  staging_dir: ` + filepath.Join(dir, "staging") + `
users:
  known: [alice, bob]
  display_names:
    alice: Alice A.
hosts:
  - name: A
    address: 10.0.0.1
    user: ops
    password: pw
  - name: B
    address: 10.0.0.2
    user: ops
    password: pw
`
	path := filepath.Join(dir, config.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	oldCfg := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = oldCfg })
	return www
}

func mockFleet(t *testing.T, failing ...string) *sshtest.MockDialer {
	t.Helper()
	dialer := sshtest.NewMockDialer()
	cmds := config.DefaultConfig().Commands
	for _, name := range []string{"A", "B"} {
		client := sshtest.NewMockClient(name)
		client.SetCommandOutput(cmds.GPUStatus, "GPU 0: A100\n")
		client.SetCommandOutput(cmds.OSVersion, "Operating System: Ubuntu 22.04\n")
		client.SetCommandOutput(cmds.CPUHardware, "AMD EPYC 7742\n")
		client.SetCommandOutput(cmds.ResourceStats, "usr sys idl\n")
		client.SetCommandOutput(cmds.Uptime, "up 1 day\n")
		client.SetCommandOutput(cmds.TopListing, "1 alice\n2 <b>\n")
		dialer.AddClient(name, client)
	}
	for _, name := range failing {
		dialer.FailDial(name, errors.New(errors.ErrHostUnreachable, "Can't reach '"+name+"'", "ping it"))
	}

	oldFetcher := newFetcher
	newFetcher = func(cfg *config.Config, log logger.Logger) scheduler.Fetcher {
		return fetch.New(cfg.Commands, dialer)
	}
	oldDialer := newDialer
	newDialer = func(cfg *config.Config) sshutil.Dialer { return dialer }
	t.Cleanup(func() {
		newFetcher = oldFetcher
		newDialer = oldDialer
	})
	return dialer
}

func TestRunOnce_PublishesEveryHost(t *testing.T) {
	www := setupFleet(t)
	mockFleet(t)

	var out bytes.Buffer
	require.NoError(t, runOnce(context.Background(), &out, false))

	for _, name := range []string{"A-status.html", "B-status.html"} {
		data, err := os.ReadFile(filepath.Join(www, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(data), "<pre>Current heaviest user: Alice A.</pre>")
	}
	assert.Contains(t, out.String(), "Update #1")
	assert.Contains(t, out.String(), "2/2 published")
}

func TestRunOnce_HostFailureExitsNonZero(t *testing.T) {
	www := setupFleet(t)
	mockFleet(t, "B")

	var out bytes.Buffer
	err := runOnce(context.Background(), &out, true)
	require.Error(t, err)
	code, ok := errors.GetExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 1, code)

	assert.FileExists(t, filepath.Join(www, "A-status.html"))
	assert.NoFileExists(t, filepath.Join(www, "B-status.html"))
	assert.Empty(t, out.String(), "quiet suppresses the summary")
}

func TestRunPoll_StopsOnCancel(t *testing.T) {
	www := setupFleet(t)
	mockFleet(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runPoll(ctx, &bytes.Buffer{}, true) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(www, "B-status.html"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runPoll did not stop after cancel")
	}
}

func TestBuildScheduler_RoutesSSHWarningsToLogger(t *testing.T) {
	setupFleet(t)
	mockFleet(t)
	t.Cleanup(func() { sshutil.WarningHandler = nil })

	cfg, _, err := loadConfig()
	require.NoError(t, err)
	_, err = buildScheduler(cfg, &bytes.Buffer{}, true)
	require.NoError(t, err)
	assert.NotNil(t, sshutil.WarningHandler)

	buf := logger.NewBufferLogger()
	sshWarnings(buf)("Match directives ignored")
	msgs := buf.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "warn", msgs[0].Level)
	assert.Equal(t, "Match directives ignored", msgs[0].Message)
}

func TestRenderHost(t *testing.T) {
	setupFleet(t)
	mockFleet(t)

	var out bytes.Buffer
	require.NoError(t, renderHost(context.Background(), &out, "A", ""))
	assert.True(t, strings.HasPrefix(out.String(), "<pre><strong><big>A</big></strong></pre>\n"))
	assert.Contains(t, out.String(), "<pre><strong>---30 seconds update interval---</strong></pre>")

	out.Reset()
	require.NoError(t, renderHost(context.Background(), &out, "A", "text"))
	assert.True(t, strings.HasPrefix(out.String(), "A\nOperating System"))
}

func TestRenderHost_Errors(t *testing.T) {
	setupFleet(t)
	mockFleet(t, "B")

	err := renderHost(context.Background(), &bytes.Buffer{}, "nope", "")
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	err = renderHost(context.Background(), &bytes.Buffer{}, "A", "pdf")
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	err = renderHost(context.Background(), &bytes.Buffer{}, "B", "")
	assert.True(t, errors.IsCode(err, errors.ErrHostUnreachable))
}

func TestCheckCommand(t *testing.T) {
	setupFleet(t)
	mockFleet(t, "B")

	var out bytes.Buffer
	require.NoError(t, checkCommand(context.Background(), &out, false))
	assert.Contains(t, out.String(), "Config OK")
	assert.Contains(t, out.String(), "○ A")

	out.Reset()
	err := checkCommand(context.Background(), &out, true)
	assert.EqualError(t, err, "1 check(s) failed")
	assert.Contains(t, out.String(), "✓ A")
	assert.Contains(t, out.String(), "✗ B Can't reach 'B'")
	assert.Contains(t, out.String(), "✓ share")
}

func TestCheckCommand_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0600))
	oldCfg := cfgFile
	cfgFile = path
	defer func() { cfgFile = oldCfg }()

	err := checkCommand(context.Background(), &bytes.Buffer{}, false)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestInit_NonInteractive(t *testing.T) {
	ui.DisableColors()
	path := filepath.Join(t.TempDir(), config.ConfigFileName)

	var out bytes.Buffer
	err := Init(&out, InitOptions{
		Path:           path,
		NonInteractive: true,
		HostName:       "GPUServer1",
		HostAddress:    "192.168.0.1",
		HostUser:       "machineUser1",
		ShareDir:       "/var/www/html",
		KnownUsers:     "machineUser1, machineUser2",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "GPUSERVER1_PASSWORD=...")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	assert.Equal(t, config.ShareKindDir, cfg.Share.Kind)
	assert.Equal(t, []string{"machineUser1", "machineUser2"}, cfg.Users.Known)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "password: ${GPUSERVER1_PASSWORD}")

	err = Init(&out, InitOptions{Path: path, NonInteractive: true})
	assert.True(t, errors.IsCode(err, errors.ErrConfig), "existing file without --force")

	require.NoError(t, Init(&out, InitOptions{Path: path, NonInteractive: true, Overwrite: true}))
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.ShareKindSMB, cfg.Share.Kind)
	assert.NoError(t, config.Validate(cfg))
}

func TestHostAddAndList(t *testing.T) {
	setupFleet(t)

	var out bytes.Buffer
	require.NoError(t, hostAdd(&out, HostAddOptions{Name: "GPU-3", Address: "10.0.0.3", User: "ops"}))
	assert.Contains(t, out.String(), "GPU_3_PASSWORD")

	err := hostAdd(&out, HostAddOptions{Name: "A", Address: "10.0.0.9"})
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	err = hostAdd(&out, HostAddOptions{Name: "bad name", Address: "10.0.0.9"})
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	require.NoError(t, hostAdd(&out, HostAddOptions{Name: "keyed", Address: "10.0.0.4", IdentityFile: "~/.ssh/id_ed25519"}))

	out.Reset()
	require.NoError(t, hostList(&out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[2], "GPU-3"))
	assert.Contains(t, lines[2], "ops@10.0.0.3")

	cfg, _, err := config.LoadFrom(cfgFile)
	require.NoError(t, err)
	keyed, ok := cfg.HostByName("keyed")
	require.True(t, ok)
	assert.Empty(t, keyed.Password)
}

func TestSecretVar(t *testing.T) {
	assert.Equal(t, "GPUSERVER1_PASSWORD", secretVar("GPUServer1"))
	assert.Equal(t, "GPU_3_PASSWORD", secretVar("gpu-3"))
	assert.Equal(t, "HOST_1BOX_PASSWORD", secretVar("1box"))
}

func TestCycleSummary(t *testing.T) {
	report := scheduler.CycleReport{
		Number:   4,
		Started:  time.Unix(0, 0),
		Finished: time.Unix(2, 0),
		Hosts: []scheduler.HostResult{
			{Host: "A", Stage: scheduler.StagePublished, File: "A-status.html"},
			{Host: "B", Stage: scheduler.StagePublished, File: "B-status.html", Missing: []string{"gpu_status", "uptime"}},
			{Host: "C", Stage: scheduler.StageFetch, Err: stderrors.New("refused")},
			{Host: "D", Stage: scheduler.StageSkipped, Err: context.Canceled},
		},
	}

	s := cycleSummary(report)
	assert.Equal(t, 4, s.Number)
	assert.Equal(t, 2*time.Second, s.Duration)
	require.Len(t, s.Hosts, 4)
	assert.Equal(t, ui.HostPublished, s.Hosts[0].Status)
	assert.Equal(t, ui.HostPartial, s.Hosts[1].Status)
	assert.Equal(t, "gpu_status, uptime", s.Hosts[1].Detail)
	assert.Equal(t, ui.HostFailed, s.Hosts[2].Status)
	assert.Equal(t, "refused", s.Hosts[2].Detail)
	assert.Equal(t, ui.HostSkipped, s.Hosts[3].Status)
}

func TestVersionCommand(t *testing.T) {
	originalVersion, originalCommit, originalDate := version, commit, date
	defer SetVersionInfo(originalVersion, originalCommit, originalDate)

	SetVersionInfo("1.2.3", "abc1234", "2026-01-08T12:00:00Z")
	assert.Equal(t, "1.2.3", GetVersion())

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	printVersion(versionCmd, false)
	assert.Contains(t, buf.String(), "fleetpage v1.2.3")
	assert.Contains(t, buf.String(), "commit: abc1234")

	buf.Reset()
	printVersion(versionCmd, true)
	assert.Equal(t, "1.2.3\n", buf.String())
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
	assert.Equal(t, "v1.0.0", formatVersion("1.0.0"))
	assert.Equal(t, "v1.0.0", formatVersion("v1.0.0"))
}

func TestRootCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "once", "render", "check", "init", "host", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("no-color"))
}
