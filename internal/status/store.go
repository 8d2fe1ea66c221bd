package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anstrom/netinventory/internal/errors"
	"github.com/anstrom/netinventory/internal/inventory"
)

// Default artifact names under the output directory.
const (
	DefaultStatusFile  = "status.json"
	DefaultResultsFile = "results.json"
)

const (
	artifactDirPerm  = 0o755
	artifactFilePerm = 0o644
)

// Store persists the status and result artifacts of one scan.
type Store interface {
	WriteStatus(s ScanStatus) error
	WriteResults(hosts []inventory.HostFacts) error
	// RemoveResults deletes a result artifact left by an earlier scan.
	RemoveResults() error
}

// FileStore keeps both artifacts as JSON documents in an output directory.
// Every write goes to a temporary file in the same directory which is then
// renamed over the target, so readers never see a partial document.
type FileStore struct {
	dir         string
	statusFile  string
	resultsFile string
}

// NewFileStore creates a store rooted at dir. Empty file names select the
// defaults.
func NewFileStore(dir, statusFile, resultsFile string) *FileStore {
	if statusFile == "" {
		statusFile = DefaultStatusFile
	}
	if resultsFile == "" {
		resultsFile = DefaultResultsFile
	}
	return &FileStore{dir: dir, statusFile: statusFile, resultsFile: resultsFile}
}

// Dir returns the output directory.
func (s *FileStore) Dir() string { return s.dir }

// StatusPath returns the full path of the status artifact.
func (s *FileStore) StatusPath() string { return filepath.Join(s.dir, s.statusFile) }

// ResultsPath returns the full path of the result artifact.
func (s *FileStore) ResultsPath() string { return filepath.Join(s.dir, s.resultsFile) }

// EnsureDir creates the output directory if it does not exist.
func (s *FileStore) EnsureDir() error {
	if err := os.MkdirAll(s.dir, artifactDirPerm); err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeDirectoryCreate,
			"Failed to create output directory", s.dir, err)
	}
	return nil
}

// WriteStatus implements Store.
func (s *FileStore) WriteStatus(st ScanStatus) error {
	if err := s.writeJSON(s.StatusPath(), st); err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeStatusPersist,
			"Failed to write status file", s.StatusPath(), err)
	}
	return nil
}

// WriteResults implements Store. A nil slice is written as an empty array.
func (s *FileStore) WriteResults(hosts []inventory.HostFacts) error {
	if hosts == nil {
		hosts = []inventory.HostFacts{}
	}
	if err := s.writeJSON(s.ResultsPath(), hosts); err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeResultPersist,
			"Failed to write results file", s.ResultsPath(), err)
	}
	return nil
}

// RemoveResults implements Store. A missing file is not an error.
func (s *FileStore) RemoveResults() error {
	if err := os.Remove(s.ResultsPath()); err != nil && !os.IsNotExist(err) {
		return errors.WrapScanErrorWithTarget(errors.CodeResultPersist,
			"Failed to remove stale results file", s.ResultsPath(), err)
	}
	return nil
}

// ReadStatus loads the status artifact.
func (s *FileStore) ReadStatus() (ScanStatus, error) {
	var st ScanStatus
	if err := readJSON(s.StatusPath(), &st); err != nil {
		return ScanStatus{}, err
	}
	return st, nil
}

// ReadResults loads the result artifact.
func (s *FileStore) ReadResults() ([]inventory.HostFacts, error) {
	var hosts []inventory.HostFacts
	if err := readJSON(s.ResultsPath(), &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(s.dir, artifactDirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, artifactFilePerm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WrapScanErrorWithTarget(errors.CodeFileNotFound, "Artifact not found", path, err)
		}
		return errors.WrapScanErrorWithTarget(errors.CodeFilePermission, "Failed to read artifact", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeValidation, "Malformed artifact", path, err)
	}
	return nil
}
