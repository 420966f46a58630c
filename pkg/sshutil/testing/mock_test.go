package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rileyhilliard/fleetpage/pkg/sshutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_ExactAndPattern(t *testing.T) {
	client := NewMockClient("gpu1")
	client.SetCommandOutput("uptime -p", "up 3 days\n")
	client.SetPatternResponse(`^nvidia-smi`, CommandResponse{Stdout: []byte("GPU 0\n")})

	stdout, _, code, err := client.ExecContext(context.Background(), "uptime -p")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "up 3 days\n", string(stdout))

	stdout, _, _, err = client.ExecContext(context.Background(), "nvidia-smi --query")
	require.NoError(t, err)
	assert.Equal(t, "GPU 0\n", string(stdout))

	_, stderr, code, err := client.ExecContext(context.Background(), "dstat")
	require.NoError(t, err)
	assert.Equal(t, 127, code)
	assert.Contains(t, string(stderr), "not found")

	assert.Equal(t, []string{"uptime -p", "nvidia-smi --query", "dstat"}, client.Executed())
}

func TestMockClient_ErrorResponse(t *testing.T) {
	client := NewMockClient("gpu1")
	boom := errors.New("boom")
	client.SetCommandResponse("top", CommandResponse{Error: boom, ExitCode: -1})

	_, _, code, err := client.ExecContext(context.Background(), "top")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, -1, code)
}

func TestMockClient_BlockHonorsContext(t *testing.T) {
	client := NewMockClient("gpu1")
	client.SetCommandResponse("sleep", CommandResponse{Block: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, code, err := client.ExecContext(ctx, "sleep")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, code)
}

func TestMockClient_Close(t *testing.T) {
	client := NewMockClient("gpu1")
	assert.False(t, client.IsClosed())
	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())
	assert.Equal(t, 1, client.CloseCount())

	_, _, _, err := client.ExecContext(context.Background(), "uptime")
	assert.Error(t, err)
}

func TestMockDialer(t *testing.T) {
	dialer := NewMockDialer()
	client := NewMockClient("gpu1")
	dialer.AddClient("gpu1", client)
	dialer.FailDial("gpu2", errors.New("unreachable"))

	got, err := dialer.Dial(context.Background(), sshutil.Target{Name: "gpu1"})
	require.NoError(t, err)
	assert.Same(t, client, got)

	_, err = dialer.Dial(context.Background(), sshutil.Target{Name: "gpu2"})
	assert.EqualError(t, err, "unreachable")

	_, err = dialer.Dial(context.Background(), sshutil.Target{Name: "gpu3"})
	assert.Error(t, err)

	assert.Equal(t, 1, dialer.DialCount("gpu1"))
	assert.Equal(t, 1, dialer.DialCount("gpu2"))
}

func TestMockDialer_RedialReopens(t *testing.T) {
	dialer := NewMockDialer()
	client := NewMockClient("gpu1")
	client.SetCommandOutput("uptime", "up\n")
	dialer.AddClient("gpu1", client)

	got, err := dialer.Dial(context.Background(), sshutil.Target{Name: "gpu1"})
	require.NoError(t, err)
	require.NoError(t, got.Close())

	_, _, _, err = client.ExecContext(context.Background(), "uptime")
	assert.Error(t, err, "closed client refuses commands")

	got, err = dialer.Dial(context.Background(), sshutil.Target{Name: "gpu1"})
	require.NoError(t, err)
	stdout, _, _, err := got.ExecContext(context.Background(), "uptime")
	require.NoError(t, err)
	assert.Equal(t, "up\n", string(stdout))
	assert.Equal(t, 1, client.CloseCount())
}
