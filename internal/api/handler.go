// Package api exposes the HTTP surface of the service: case creation and
// uploads, analysis triggering, job and device queries, and artifact
// downloads. All /api routes require bearer authentication; /health and
// /metrics are open.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openmedphys/ctqa/internal/cases"
	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/storage"
	"github.com/openmedphys/ctqa/internal/telemetry"
)

// maxUploadSize bounds a single slice file upload.
const maxUploadSize = 64 << 20 // 64MB

// CaseManager is the slice of the case manager the API drives.
type CaseManager interface {
	CreateCase(deviceID string) (storage.Case, error)
	AddFile(caseID, filename string, r io.Reader) error
	StartAnalysis(caseID string) error
	Device(id string) (*config.Device, error)
	Devices() map[string]*config.Device
}

// CaseReader reads case records for the job endpoints.
type CaseReader interface {
	GetCase(id string) (storage.Case, error)
	ListCases(deviceID string, limit int) ([]storage.Case, error)
}

// Handler holds the API dependencies.
type Handler struct {
	mgr     CaseManager
	store   CaseReader
	metrics *telemetry.Metrics
	log     *slog.Logger
}

// NewHandler builds the routed HTTP handler. metrics may be nil.
func NewHandler(mgr CaseManager, store CaseReader, token string, metrics *telemetry.Metrics, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{mgr: mgr, store: store, metrics: metrics, log: log}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Group(func(pr chi.Router) {
		pr.Use(BearerAuth(token))

		pr.Post("/api/devices/{device}/cases", h.handleCreateCase)
		pr.Post("/api/devices/{device}/cases/{case}/files", h.handleUploadFile)
		pr.Post("/api/devices/{device}/cases/{case}/analyze", h.handleAnalyze)

		pr.Get("/api/devices", h.handleListDevices)
		pr.Get("/api/devices/{device}", h.handleGetDevice)

		pr.Get("/api/cases/{case}", h.handleGetCase)
		pr.Get("/api/cases/{case}/log", h.handleCaseLog)

		pr.Get("/api/jobs", h.handleListJobs)
		pr.Get("/api/jobs/{id}", h.handleGetJob)
		pr.Get("/api/jobs/{id}/result", h.handleJobResult)
		pr.Get("/api/jobs/{id}/report", h.handleJobReport)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// jobRecord is the wire form of a case's processing state. The job id is
// the case id: one case maps to exactly one analysis run.
type jobRecord struct {
	JobID     string    `json:"job_id"`
	CaseID    string    `json:"case_id"`
	DeviceID  string    `json:"device_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error"`
	CaseDir   string    `json:"case_dir"`
	InputsDir string    `json:"inputs_dir"`
	ResultDir string    `json:"result_dir"`
	FileCount int       `json:"file_count"`
}

func toJobRecord(c storage.Case) jobRecord {
	return jobRecord{
		JobID:     c.ID,
		CaseID:    c.ID,
		DeviceID:  c.DeviceID,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Error:     c.Error,
		CaseDir:   c.CaseDir,
		InputsDir: c.InputsDir,
		ResultDir: c.ResultDir,
		FileCount: c.FileCount,
	}
}

func (h *Handler) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")

	c, err := h.mgr.CreateCase(device)
	if err != nil {
		h.caseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobRecord(c))
}

func (h *Handler) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "case")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "missing multipart field %q: %v", "file", err)
		return
	}
	defer file.Close()

	if err := h.mgr.AddFile(caseID, header.Filename, file); err != nil {
		h.caseError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.UploadedFiles.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "filename": filepath.Base(header.Filename)})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "case")

	if err := h.mgr.StartAnalysis(caseID); err != nil {
		h.caseError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": caseID, "status": string(storage.StatusQueued)})
}

// deviceRecord is the wire form of a device document.
type deviceRecord struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Operator   string            `json:"operator"`
	Masks      map[string]int    `json:"masks"`
	Tolerances config.Tolerances `json:"tolerances"`
}

func toDeviceRecord(d *config.Device) deviceRecord {
	return deviceRecord{
		ID:         d.ID,
		Name:       d.Name,
		Operator:   d.Operator,
		Masks:      d.Masks,
		Tolerances: d.Tolerances,
	}
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.mgr.Devices()
	out := make([]deviceRecord, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceRecord(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.mgr.Device(chi.URLParam(r, "device"))
	if err != nil {
		h.caseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceRecord(d))
}

func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.getCase(w, chi.URLParam(r, "case"))
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, toJobRecord(c))
}

func (h *Handler) handleCaseLog(w http.ResponseWriter, r *http.Request) {
	c, err := h.getCase(w, chi.URLParam(r, "case"))
	if err != nil {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, filepath.Join(c.CaseDir, "worker.log"))
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", s)
			return
		}
		limit = n
	}

	list, err := h.store.ListCases(r.URL.Query().Get("device"), limit)
	if err != nil {
		h.internalError(w, err)
		return
	}
	out := make([]jobRecord, len(list))
	for i, c := range list {
		out[i] = toJobRecord(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	c, err := h.getCase(w, chi.URLParam(r, "id"))
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, toJobRecord(c))
}

func (h *Handler) handleJobResult(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, "analysis_results.json", "application/json")
}

func (h *Handler) handleJobReport(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, "report.html", "text/html; charset=utf-8")
}

// serveArtifact serves a file from a completed case's result directory.
func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, name, contentType string) {
	c, err := h.getCase(w, chi.URLParam(r, "id"))
	if err != nil {
		return
	}
	if c.ResultDir == "" {
		httpError(w, http.StatusNotFound, "not_found_error", "case %s has no results (status %s)", c.ID, c.Status)
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, filepath.Join(c.ResultDir, name))
}

// getCase loads a case and writes the error response itself on failure.
func (h *Handler) getCase(w http.ResponseWriter, id string) (storage.Case, error) {
	c, err := h.store.GetCase(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found_error", "case %s not found", id)
		return storage.Case{}, err
	}
	if err != nil {
		h.internalError(w, err)
		return storage.Case{}, err
	}
	return c, nil
}

// caseError maps manager errors to HTTP responses.
func (h *Handler) caseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cases.ErrUnknownDevice), errors.Is(err, cases.ErrCaseNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, cases.ErrNoInputFiles):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, cases.ErrNotUploading), errors.Is(err, storage.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.log.Error("request failed", "error", err)
	httpError(w, http.StatusInternalServerError, "api_error", "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
