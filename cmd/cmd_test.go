package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xuanhao44/net-lab-2023/internal/config"
	"github.com/xuanhao44/net-lab-2023/internal/daemon"
)

// MockRunner implements Runner
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRunner) Run(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockSignaler implements daemon.Signaler
type MockSignaler struct {
	mock.Mock
}

func (m *MockSignaler) Signal(pid int, sig syscall.Signal) error {
	args := m.Called(pid, sig)
	return args.Error(0)
}

const validConfig = `
xnet:
  interface:
    mac: "02:00:00:00:00:01"
    ip: "192.168.163.103"
  driver:
    type: memory
  echo:
    enabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xnet.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunDaemon_Success(t *testing.T) {
	r := new(MockRunner)
	r.On("Start", mock.Anything).Return(nil)
	r.On("Run", mock.Anything).Return(nil)

	var buf bytes.Buffer
	err := runDaemon(context.Background(), r, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ xnet started")
	assert.Contains(t, buf.String(), "✓ xnet stopped")
	r.AssertExpectations(t)
}

func TestRunDaemon_StartFails(t *testing.T) {
	r := new(MockRunner)
	r.On("Start", mock.Anything).Return(errors.New("permission denied"))

	var buf bytes.Buffer
	err := runDaemon(context.Background(), r, &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	r.AssertNotCalled(t, "Run", mock.Anything)
}

func TestRunDaemon_RunFails(t *testing.T) {
	r := new(MockRunner)
	r.On("Start", mock.Anything).Return(nil)
	r.On("Run", mock.Anything).Return(errors.New("driver closed"))

	var buf bytes.Buffer
	err := runDaemon(context.Background(), r, &buf)

	assert.EqualError(t, err, "driver closed")
	assert.NotContains(t, buf.String(), "stopped")
}

func TestServeCommand(t *testing.T) {
	r := new(MockRunner)
	r.On("Start", mock.Anything).Return(nil)
	r.On("Run", mock.Anything).Return(nil)

	var got *config.Config
	orig := newRunner
	newRunner = func(cfg *config.Config) Runner {
		got = cfg
		return r
	}
	t.Cleanup(func() { newRunner = orig })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"serve", "-c", writeConfig(t, validConfig)})
	require.NoError(t, Execute())

	require.NotNil(t, got)
	assert.Equal(t, "memory", got.Driver.Type)
	r.AssertExpectations(t)
}

func TestApplyReplay(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	applyReplay(cfg, "in.pcap", "out.pcap", "both.pcap")

	assert.Equal(t, "pcap", cfg.Driver.Type)
	assert.Equal(t, "in.pcap", cfg.Driver.Options["in"])
	assert.Equal(t, "out.pcap", cfg.Driver.Options["out"])
	assert.Empty(t, cfg.Control.PIDFile)
	assert.True(t, cfg.Capture.Enabled)
	assert.Equal(t, "both.pcap", cfg.Capture.Path)
}

func TestRunStop_Success(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "xnet.pid")
	require.NoError(t, daemon.WritePIDFile(pidFile))

	sig := new(MockSignaler)
	sig.On("Signal", os.Getpid(), syscall.SIGTERM).
		Run(func(mock.Arguments) { _ = os.Remove(pidFile) }).
		Return(nil)

	var buf bytes.Buffer
	err := runStop(pidFile, sig, time.Second, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "stopped")
	sig.AssertExpectations(t)
}

func TestRunStop_NotRunning(t *testing.T) {
	sig := new(MockSignaler)

	var buf bytes.Buffer
	err := runStop(filepath.Join(t.TempDir(), "absent.pid"), sig, time.Second, &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
	sig.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything)
}

func TestRunStop_SignalFails(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "xnet.pid")
	require.NoError(t, daemon.WritePIDFile(pidFile))

	sig := new(MockSignaler)
	sig.On("Signal", mock.Anything, syscall.SIGTERM).Return(errors.New("no such process"))

	var buf bytes.Buffer
	err := runStop(pidFile, sig, time.Second, &buf)
	assert.Error(t, err)
}

func TestRunStop_NoPIDFileConfigured(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, runStop("", new(MockSignaler), time.Second, &buf))
}

func TestRunValidate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runValidate(writeConfig(t, validConfig), &buf))
	assert.Contains(t, buf.String(), "VALID: 192.168.163.103/02:00:00:00:00:01 mtu 1500, driver memory, http port 80, echo port 7")
}

func TestRunValidate_Invalid(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, runValidate(writeConfig(t, `
xnet:
  interface:
    mac: "02:00:00:00:00:01"
    ip: "not-an-ip"
`), &buf))

	err := runValidate(writeConfig(t, `
xnet:
  interface:
    mac: "02:00:00:00:00:01"
    ip: "192.168.163.103"
  driver:
    type: carrier-pigeon
`), &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver type")
}

func TestRunConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runConfig(writeConfig(t, validConfig), &buf))
	out := buf.String()
	assert.Contains(t, out, "xnet:")
	assert.Contains(t, out, "02:00:00:00:00:01")
	assert.Contains(t, out, "timeout: 300s")
}
