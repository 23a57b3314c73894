// Package cases owns the case lifecycle: creating case directories,
// accepting input files, queueing analysis, and running the processing
// pipeline.
package cases

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/openmedphys/ctqa/internal/artifacts"
	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/storage"
)

var (
	// ErrUnknownDevice means no device document with that id is loaded.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrCaseNotFound means the case id does not exist.
	ErrCaseNotFound = errors.New("case not found")
	// ErrNoInputFiles means analysis was requested on a case with no
	// uploaded slices.
	ErrNoInputFiles = errors.New("case has no input files")
	// ErrNotUploading means the case already left the upload stage.
	ErrNotUploading = errors.New("case is not accepting uploads")
)

// JobTypeCaseAnalysis is the queue job type for case processing.
const JobTypeCaseAnalysis = "case_analysis"

// Store is the slice of the storage layer the manager needs.
type Store interface {
	CreateCase(c storage.Case) error
	GetCase(id string) (storage.Case, error)
	IncrementFileCount(id string) error
	UpdateCaseStatus(id string, to storage.CaseStatus) error
	EnqueueJob(j storage.Job) error
}

// Manager handles case creation and uploads on behalf of the API.
type Manager struct {
	store    Store
	devices  map[string]*config.Device
	casesDir string
	log      *slog.Logger

	// clock is swapped in tests to pin case ids.
	clock func() time.Time
}

// NewManager returns a manager writing cases under casesDir.
func NewManager(store Store, devices map[string]*config.Device, casesDir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:    store,
		devices:  devices,
		casesDir: casesDir,
		log:      log,
		clock:    time.Now,
	}
}

// Device returns a loaded device document by id.
func (m *Manager) Device(id string) (*config.Device, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d, nil
}

// Devices returns all loaded device documents keyed by id.
func (m *Manager) Devices() map[string]*config.Device {
	return m.devices
}

// CreateCase allocates a timestamped case directory for a device and
// records the case in the uploading state. Creating two cases within the
// same second fails loudly rather than silently sharing a directory.
func (m *Manager) CreateCase(deviceID string) (storage.Case, error) {
	if _, err := m.Device(deviceID); err != nil {
		return storage.Case{}, err
	}

	now := m.clock()
	id := now.Format("20060102_150405")
	caseDir := filepath.Join(m.casesDir, deviceID, id)

	if err := os.MkdirAll(filepath.Dir(caseDir), 0o755); err != nil {
		return storage.Case{}, fmt.Errorf("creating device cases directory: %w", err)
	}
	if err := os.Mkdir(caseDir, 0o755); err != nil {
		return storage.Case{}, fmt.Errorf("creating case directory: %w", err)
	}

	store := artifacts.NewStore(caseDir)
	inputsDir, err := store.EnsureDir(artifacts.Inputs)
	if err != nil {
		return storage.Case{}, err
	}

	c := storage.Case{
		ID:        id,
		DeviceID:  deviceID,
		Status:    storage.StatusUploading,
		CreatedAt: now.UTC(),
		CaseDir:   caseDir,
		InputsDir: inputsDir,
	}
	if err := m.store.CreateCase(c); err != nil {
		return storage.Case{}, fmt.Errorf("recording case: %w", err)
	}

	m.log.Info("case created", "case_id", id, "device", deviceID)
	return c, nil
}

// AddFile stores one uploaded slice file in the case's inputs directory.
// Only the base name of the client-supplied filename is used.
func (m *Manager) AddFile(caseID, filename string, r io.Reader) error {
	c, err := m.getCase(caseID)
	if err != nil {
		return err
	}
	if c.Status != storage.StatusUploading {
		return fmt.Errorf("%w: case %s is %s", ErrNotUploading, caseID, c.Status)
	}

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return fmt.Errorf("invalid filename %q", filename)
	}

	dst, err := os.Create(filepath.Join(c.InputsDir, name))
	if err != nil {
		return fmt.Errorf("creating input file: %w", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("writing input file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("closing input file: %w", err)
	}

	return m.store.IncrementFileCount(caseID)
}

// StartAnalysis moves a case to queued and enqueues its processing job.
// A case with no uploaded files is rejected before any state changes.
func (m *Manager) StartAnalysis(caseID string) error {
	c, err := m.getCase(caseID)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(c.InputsDir)
	if err != nil {
		return fmt.Errorf("reading inputs directory: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s", ErrNoInputFiles, caseID)
	}

	if err := m.store.UpdateCaseStatus(caseID, storage.StatusQueued); err != nil {
		return err
	}

	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeCaseAnalysis,
		PayloadJSON: fmt.Sprintf(`{"case_id":%q}`, caseID),
		MaxAttempts: 1,
	}
	if err := m.store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing analysis job: %w", err)
	}

	m.log.Info("analysis queued", "case_id", caseID, "files", len(entries))
	return nil
}

func (m *Manager) getCase(id string) (storage.Case, error) {
	c, err := m.store.GetCase(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Case{}, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
	}
	if err != nil {
		return storage.Case{}, err
	}
	return c, nil
}
