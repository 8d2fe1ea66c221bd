package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/netinventory/internal/config"
	"github.com/anstrom/netinventory/internal/errors"
	"github.com/anstrom/netinventory/internal/inventory"
	"github.com/anstrom/netinventory/internal/logging"
	"github.com/anstrom/netinventory/internal/probe"
	"github.com/anstrom/netinventory/internal/probe/mocks"
	"github.com/anstrom/netinventory/internal/status"
)

// staticEngine reports a fixed set of hosts and characterizes them with
// canned facts.
type staticEngine struct {
	hosts []inventory.HostFacts
}

func (e staticEngine) Discover(context.Context, []string) ([]inventory.HostFacts, error) {
	return e.hosts, nil
}

func (e staticEngine) Characterize(_ context.Context, h inventory.HostFacts, _ inventory.Profile) inventory.HostFacts {
	h.OpenPorts = []int{22, 80}
	h.OSGuess = "Linux 5.15"
	return h
}

var twoHosts = []inventory.HostFacts{
	{Address: "10.0.0.1", Reachable: true, MACAddress: "AA:BB:CC:00:00:01"},
	{Address: "10.0.0.2", Reachable: true},
}

// useEngine swaps the engine factory for the duration of the test.
func useEngine(t *testing.T, engine probe.Engine) {
	t.Helper()
	orig := newEngine
	newEngine = func(*config.Config, *logging.Logger) probe.Engine { return engine }
	t.Cleanup(func() { newEngine = orig })
}

// execute runs the CLI with fresh global state and returns the exit code
// and combined output.
func execute(t *testing.T, ctx context.Context, args ...string) (int, string) {
	t.Helper()

	viper.Reset()
	cfgFile, envFile, verbose, outputJSON, configForce = "", "", false, false, false
	t.Setenv("NETINVENTORY_LOGGING_OUTPUT", "stderr")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		viper.Reset()
	})

	code := Run(ctx, args)
	return code, out.String()
}

func readStatus(t *testing.T, dir string) status.ScanStatus {
	t.Helper()
	st, err := status.NewFileStore(dir, "", "").ReadStatus()
	require.NoError(t, err)
	return st
}

func TestScanCommand(t *testing.T) {
	useEngine(t, staticEngine{hosts: twoHosts})

	t.Run("quick", func(t *testing.T) {
		dir := t.TempDir()
		code, out := execute(t, context.Background(), "scan", "10.0.0.0/30", "quick", dir)
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "completed")
		assert.Contains(t, out, "Hosts:    2")

		st := readStatus(t, dir)
		assert.Equal(t, status.StateCompleted, st.State)
		assert.Equal(t, 100, st.Progress)
		assert.Equal(t, "quick", st.ScanType)

		hosts, err := status.NewFileStore(dir, "", "").ReadResults()
		require.NoError(t, err)
		require.Len(t, hosts, 2)
		assert.Equal(t, inventory.DeviceUnknown, hosts[0].DeviceType)
		assert.Empty(t, hosts[0].OpenPorts)
	})

	t.Run("full", func(t *testing.T) {
		dir := t.TempDir()
		code, out := execute(t, context.Background(), "scan", "10.0.0.1, 10.0.0.2", "full", dir)
		require.Equal(t, 0, code, out)

		hosts, err := status.NewFileStore(dir, "", "").ReadResults()
		require.NoError(t, err)
		require.Len(t, hosts, 2)
		assert.Equal(t, "10.0.0.1", hosts[0].Address)
		assert.Equal(t, []int{22, 80}, hosts[0].OpenPorts)
		assert.NotEqual(t, inventory.DeviceType(""), hosts[0].DeviceType)
	})

	t.Run("unimplemented profile completes empty", func(t *testing.T) {
		dir := t.TempDir()
		code, out := execute(t, context.Background(), "scan", "10.0.0.1", "vulnerability", dir)
		require.Equal(t, 0, code, out)

		st := readStatus(t, dir)
		assert.Equal(t, status.StateCompleted, st.State)
		assert.Equal(t, "Vulnerability scan not implemented yet", st.Message)
	})

	t.Run("interrupted context cancels", func(t *testing.T) {
		dir := t.TempDir()
		ctx, cancelFn := context.WithCancel(context.Background())
		cancelFn()

		code, out := execute(t, ctx, "scan", "10.0.0.1", "full", dir)
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "No results were written.")
		assert.Equal(t, status.StateCancelled, readStatus(t, dir).State)
		assert.NoFileExists(t, filepath.Join(dir, status.DefaultResultsFile))
	})

	t.Run("context does not carry over to the next run", func(t *testing.T) {
		ctx, cancelFn := context.WithCancel(context.Background())
		cancelFn()
		first := t.TempDir()
		code, out := execute(t, ctx, "scan", "10.0.0.1", "quick", first)
		require.Equal(t, 0, code, out)
		assert.Equal(t, status.StateCancelled, readStatus(t, first).State)

		second := t.TempDir()
		code, out = execute(t, context.Background(), "scan", "10.0.0.1", "quick", second)
		require.Equal(t, 0, code, out)
		assert.Equal(t, status.StateCompleted, readStatus(t, second).State)
		assert.FileExists(t, filepath.Join(second, status.DefaultResultsFile))
	})
}

func TestScanCommandInputErrors(t *testing.T) {
	useEngine(t, staticEngine{hosts: twoHosts})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"invalid target", []string{"scan", "10.0.0.300", "quick"}, "10.0.0.300"},
		{"hostname target", []string{"scan", "router.lan", "quick"}, "router.lan"},
		{"unknown profile", []string{"scan", "10.0.0.1", "stealth"}, "stealth"},
		{"missing arguments", []string{"scan", "10.0.0.1"}, "accepts 3 arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			args := tt.args
			if len(args) == 3 {
				args = append(args, dir)
			}

			code, out := execute(t, context.Background(), args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, out, tt.want)
			assert.NoDirExists(t, dir)
		})
	}
}

func TestScanCommandFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	engine.EXPECT().
		Discover(gomock.Any(), []string{"10.0.0.0/24"}).
		Return(nil, errors.ErrProbeUnavailable(os.ErrNotExist))
	useEngine(t, engine)

	dir := t.TempDir()
	code, out := execute(t, context.Background(), "scan", "10.0.0.0/24", "full", dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "failed")

	st := readStatus(t, dir)
	assert.Equal(t, status.StateFailed, st.State)
	assert.True(t, strings.HasPrefix(st.Message, "Scan failed: "), st.Message)
	assert.NoFileExists(t, filepath.Join(dir, status.DefaultResultsFile))
}

func TestScanCommandConfig(t *testing.T) {
	useEngine(t, staticEngine{hosts: twoHosts})

	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	cfg.Output.StatusFile = "state.json"
	cfg.Output.ResultsFile = "inventory.json"
	cfg.Metrics.Enabled = true
	require.NoError(t, cfg.Save(cfgPath))

	code, out := execute(t, context.Background(), "--config", cfgPath, "scan", "10.0.0.0/30", "port", dir)
	require.Equal(t, 0, code, out)

	assert.FileExists(t, filepath.Join(dir, "state.json"))
	assert.FileExists(t, filepath.Join(dir, "inventory.json"))
	assert.NoFileExists(t, filepath.Join(dir, status.DefaultStatusFile))

	metricsFile, err := os.ReadFile(filepath.Join(dir, "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metricsFile), "netinventory_scan_total")
}

func TestCancelCommand(t *testing.T) {
	t.Run("creates marker", func(t *testing.T) {
		dir := t.TempDir()
		code, out := execute(t, context.Background(), "cancel", dir)
		require.Equal(t, 0, code, out)
		assert.FileExists(t, filepath.Join(dir, "cancel"))
		assert.Contains(t, out, "Cancellation requested")
	})

	t.Run("missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nope")
		code, out := execute(t, context.Background(), "cancel", dir)
		assert.Equal(t, 1, code)
		assert.Contains(t, out, "does not exist")
	})
}

func TestStatusAndResultsCommands(t *testing.T) {
	useEngine(t, staticEngine{hosts: twoHosts})

	dir := t.TempDir()
	code, out := execute(t, context.Background(), "scan", "10.0.0.0/30", "full", dir)
	require.Equal(t, 0, code, out)

	t.Run("status table", func(t *testing.T) {
		code, out := execute(t, context.Background(), "status", dir)
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "completed")
		assert.Contains(t, out, "10.0.0.0/30")
		assert.Contains(t, out, status.MsgCompleted)
	})

	t.Run("status json", func(t *testing.T) {
		code, out := execute(t, context.Background(), "status", dir, "--json")
		require.Equal(t, 0, code, out)

		var st status.ScanStatus
		require.NoError(t, json.Unmarshal([]byte(out), &st))
		assert.Equal(t, status.StateCompleted, st.State)
		require.NotNil(t, st.HostCount)
		assert.Equal(t, 2, *st.HostCount)
	})

	t.Run("results table", func(t *testing.T) {
		code, out := execute(t, context.Background(), "results", dir)
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "10.0.0.1")
		assert.Contains(t, out, "AA:BB:CC:00:00:01")
		assert.Contains(t, out, "22,80")
		assert.Contains(t, out, inventory.StatusOnline)
	})

	t.Run("results json", func(t *testing.T) {
		code, out := execute(t, context.Background(), "results", dir, "--json")
		require.Equal(t, 0, code, out)

		var hosts []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &hosts))
		require.Len(t, hosts, 2)
		assert.Equal(t, "10.0.0.1", hosts[0]["ipAddress"])
	})

	t.Run("missing artifacts", func(t *testing.T) {
		empty := t.TempDir()
		code, _ := execute(t, context.Background(), "status", empty)
		assert.Equal(t, 1, code)
		code, _ = execute(t, context.Background(), "results", empty)
		assert.Equal(t, 1, code)
	})
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netinventory.yaml")

	code, out := execute(t, context.Background(), "config", "init", path)
	require.Equal(t, 0, code, out)
	assert.FileExists(t, path)

	code, out = execute(t, context.Background(), "config", "init", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "already exists")

	code, out = execute(t, context.Background(), "config", "init", path, "--force")
	assert.Equal(t, 0, code, out)

	code, out = execute(t, context.Background(), "config", "validate", path)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "is valid")

	require.NoError(t, os.WriteFile(path, []byte("scanning:\n  worker_pool_size: 0\n"), 0o600))
	code, out = execute(t, context.Background(), "config", "validate", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "scanning.worker_pool_size")
}

func TestConfigShowAppliesEnvironment(t *testing.T) {
	t.Setenv("NETINVENTORY_SCANNING_WORKER_POOL_SIZE", "3")
	t.Setenv("NETINVENTORY_OUTPUT_CANCEL_FILE", "stop")

	code, out := execute(t, context.Background(), "config", "show")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "worker_pool_size: 3")
	assert.Contains(t, out, "cancel_file: stop")
}

func TestEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.env")
	require.NoError(t, os.WriteFile(path, []byte("NETINVENTORY_SCANNING_WORKER_POOL_SIZE=7\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("NETINVENTORY_SCANNING_WORKER_POOL_SIZE") })

	code, out := execute(t, context.Background(), "--env-file", path, "config", "show")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "worker_pool_size: 7")
}

func TestSetVersion(t *testing.T) {
	origVersion, origCommit, origBuild := version, commit, buildTime
	t.Cleanup(func() { SetVersion(origVersion, origCommit, origBuild) })

	SetVersion("1.2.3", "abc123", "2026-01-01")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2026-01-01)", rootCmd.Version)
}
