package cases

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/storage"
)

type mockStore struct {
	cases map[string]storage.Case
	jobs  []storage.Job

	failCreate error
}

func newMockStore() *mockStore {
	return &mockStore{cases: make(map[string]storage.Case)}
}

func (m *mockStore) CreateCase(c storage.Case) error {
	if m.failCreate != nil {
		return m.failCreate
	}
	m.cases[c.ID] = c
	return nil
}

func (m *mockStore) GetCase(id string) (storage.Case, error) {
	c, ok := m.cases[id]
	if !ok {
		return storage.Case{}, storage.ErrNotFound
	}
	return c, nil
}

func (m *mockStore) IncrementFileCount(id string) error {
	c, ok := m.cases[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.FileCount++
	m.cases[id] = c
	return nil
}

func (m *mockStore) UpdateCaseStatus(id string, to storage.CaseStatus) error {
	c, ok := m.cases[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = to
	m.cases[id] = c
	return nil
}

func (m *mockStore) EnqueueJob(j storage.Job) error {
	m.jobs = append(m.jobs, j)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(t *testing.T) (*Manager, *mockStore) {
	t.Helper()
	store := newMockStore()
	devices := map[string]*config.Device{
		"ct01": {ID: "ct01"},
	}
	m := NewManager(store, devices, t.TempDir(), discard())
	m.clock = func() time.Time {
		return time.Date(2026, 8, 26, 7, 30, 0, 0, time.UTC)
	}
	return m, store
}

func TestCreateCase(t *testing.T) {
	m, store := testManager(t)

	c, err := m.CreateCase("ct01")
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if c.ID != "20260826_073000" {
		t.Errorf("case id = %q", c.ID)
	}
	if c.Status != storage.StatusUploading {
		t.Errorf("status = %s", c.Status)
	}

	info, err := os.Stat(c.InputsDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("inputs dir not created: %v", err)
	}
	if filepath.Base(c.InputsDir) != "0.inputs" {
		t.Errorf("inputs dir = %q", c.InputsDir)
	}
	if _, ok := store.cases[c.ID]; !ok {
		t.Error("case not recorded")
	}
}

func TestCreateCaseUnknownDevice(t *testing.T) {
	m, _ := testManager(t)
	if _, err := m.CreateCase("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("err = %v, want ErrUnknownDevice", err)
	}
}

func TestCreateCaseDirCollision(t *testing.T) {
	m, _ := testManager(t)
	if _, err := m.CreateCase("ct01"); err != nil {
		t.Fatal(err)
	}
	// Fixed clock: the second case lands on the same id.
	if _, err := m.CreateCase("ct01"); err == nil {
		t.Fatal("want an error when the case directory already exists")
	}
}

func TestAddFile(t *testing.T) {
	m, store := testManager(t)
	c, err := m.CreateCase("ct01")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.AddFile(c.ID, "../../evil/CT.1.dcm", strings.NewReader("data")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	// Path components in the client filename are stripped.
	data, err := os.ReadFile(filepath.Join(c.InputsDir, "CT.1.dcm"))
	if err != nil || string(data) != "data" {
		t.Fatalf("input file not written in inputs dir: %v", err)
	}
	if store.cases[c.ID].FileCount != 1 {
		t.Errorf("file count = %d", store.cases[c.ID].FileCount)
	}
}

func TestAddFileCaseNotFound(t *testing.T) {
	m, _ := testManager(t)
	err := m.AddFile("missing", "a.dcm", strings.NewReader(""))
	if !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("err = %v, want ErrCaseNotFound", err)
	}
}

func TestAddFileAfterQueued(t *testing.T) {
	m, store := testManager(t)
	c, err := m.CreateCase("ct01")
	if err != nil {
		t.Fatal(err)
	}
	store.UpdateCaseStatus(c.ID, storage.StatusQueued)

	err = m.AddFile(c.ID, "a.dcm", strings.NewReader(""))
	if !errors.Is(err, ErrNotUploading) {
		t.Fatalf("err = %v, want ErrNotUploading", err)
	}
}

func TestStartAnalysis(t *testing.T) {
	m, store := testManager(t)
	c, err := m.CreateCase("ct01")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddFile(c.ID, "CT.1.dcm", strings.NewReader("data")); err != nil {
		t.Fatal(err)
	}

	if err := m.StartAnalysis(c.ID); err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}

	if store.cases[c.ID].Status != storage.StatusQueued {
		t.Errorf("status = %s, want queued", store.cases[c.ID].Status)
	}
	if len(store.jobs) != 1 {
		t.Fatalf("jobs enqueued = %d, want 1", len(store.jobs))
	}
	j := store.jobs[0]
	if j.Type != JobTypeCaseAnalysis {
		t.Errorf("job type = %q", j.Type)
	}
	if j.MaxAttempts != 1 {
		t.Errorf("max attempts = %d, want 1 (pipeline runs are not retried)", j.MaxAttempts)
	}
	if !strings.Contains(j.PayloadJSON, c.ID) {
		t.Errorf("payload = %s", j.PayloadJSON)
	}
}

func TestStartAnalysisNoFiles(t *testing.T) {
	m, store := testManager(t)
	c, err := m.CreateCase("ct01")
	if err != nil {
		t.Fatal(err)
	}

	err = m.StartAnalysis(c.ID)
	if !errors.Is(err, ErrNoInputFiles) {
		t.Fatalf("err = %v, want ErrNoInputFiles", err)
	}
	// The rejection happens before any state change.
	if store.cases[c.ID].Status != storage.StatusUploading {
		t.Errorf("status = %s, want uploading", store.cases[c.ID].Status)
	}
	if len(store.jobs) != 0 {
		t.Errorf("jobs enqueued = %d, want 0", len(store.jobs))
	}
}
