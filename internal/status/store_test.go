package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netinventory/internal/errors"
	"github.com/anstrom/netinventory/internal/inventory"
)

func TestFileStoreStatusRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	store := NewFileStore(dir, "", "")
	require.NoError(t, store.EnsureDir())

	r := NewReporter(store, "abc", inventory.ProfilePortOnly, []string{"192.168.1.10"}, WithClock(fixedClock()))
	require.NoError(t, r.Start())
	require.NoError(t, r.Progress(30, "Discovered 1 hosts"))

	got, err := store.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
	assert.Equal(t, 30, got.Progress)
	assert.Equal(t, "port", got.ScanType)
	assert.Equal(t, []string{"192.168.1.10"}, got.Targets)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
	assert.Equal(t, DefaultStatusFile, entries[0].Name())
}

func TestFileStoreStatusJSONShape(t *testing.T) {
	store := NewFileStore(t.TempDir(), "", "")
	r := NewReporter(store, "abc", inventory.ProfileQuick, []string{"10.0.0.1"}, WithClock(fixedClock()))
	require.NoError(t, r.Start())

	data, err := os.ReadFile(store.StatusPath())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"scan_id", "state", "progress", "message", "scan_type", "targets", "start_time", "end_time", "host_count"} {
		assert.Contains(t, doc, key)
	}
	assert.Nil(t, doc["end_time"])
	assert.Nil(t, doc["host_count"])
	assert.Equal(t, "running", doc["state"])
}

func TestFileStoreResults(t *testing.T) {
	t.Run("nil results become empty array", func(t *testing.T) {
		store := NewFileStore(t.TempDir(), "", "")
		require.NoError(t, store.WriteResults(nil))

		data, err := os.ReadFile(store.ResultsPath())
		require.NoError(t, err)
		assert.JSONEq(t, "[]", string(data))
	})

	t.Run("hosts round trip", func(t *testing.T) {
		store := NewFileStore(t.TempDir(), "status.json", "inventory.json")
		hosts := []inventory.HostFacts{
			{Address: "10.0.0.1", Reachable: true, OpenPorts: []int{22}, DeviceType: inventory.DeviceServer},
			inventory.FailedHost("10.0.0.2", assert.AnError),
		}
		require.NoError(t, store.WriteResults(hosts))
		assert.Equal(t, "inventory.json", filepath.Base(store.ResultsPath()))

		got, err := store.ReadResults()
		require.NoError(t, err)
		assert.Equal(t, hosts, got)
	})
}

func TestFileStoreRemoveResults(t *testing.T) {
	store := NewFileStore(t.TempDir(), "", "")

	t.Run("missing file is fine", func(t *testing.T) {
		assert.NoError(t, store.RemoveResults())
	})

	t.Run("existing file is removed", func(t *testing.T) {
		require.NoError(t, store.WriteResults([]inventory.HostFacts{{Address: "10.0.0.1"}}))
		require.NoError(t, store.RemoveResults())
		assert.NoFileExists(t, store.ResultsPath())
	})
}

func TestFileStoreReadErrors(t *testing.T) {
	store := NewFileStore(t.TempDir(), "", "")

	_, err := store.ReadStatus()
	assert.True(t, errors.IsCode(err, errors.CodeFileNotFound))

	require.NoError(t, os.WriteFile(store.ResultsPath(), []byte("{not json"), 0o644))
	_, err = store.ReadResults()
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestFileStoreWriteFailure(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	store := NewFileStore(filepath.Join(blocker, "out"), "", "")
	err := store.WriteStatus(ScanStatus{State: StateRunning})
	assert.True(t, errors.IsCode(err, errors.CodeStatusPersist))

	err = store.WriteResults(nil)
	assert.True(t, errors.IsCode(err, errors.CodeResultPersist))

	assert.True(t, errors.IsCode(store.EnsureDir(), errors.CodeDirectoryCreate))
}
