package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a case status update would move
// backwards or skip a stage.
var ErrInvalidTransition = errors.New("invalid status transition")

// CaseStatus is the lifecycle stage of a case. Transitions are monotonic:
// a case only moves forward, and the terminal states are never left.
type CaseStatus string

const (
	StatusUploading  CaseStatus = "uploading"
	StatusQueued     CaseStatus = "queued"
	StatusProcessing CaseStatus = "processing"
	StatusCompleted  CaseStatus = "completed"
	StatusFailed     CaseStatus = "failed"
)

// statusRank orders the forward path. Failed sits outside the ranking and
// is reachable from any non-terminal state.
var statusRank = map[CaseStatus]int{
	StatusUploading:  0,
	StatusQueued:     1,
	StatusProcessing: 2,
	StatusCompleted:  3,
}

// Terminal reports whether no further transitions are allowed.
func (s CaseStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition enforces the lifecycle: one step forward along the normal
// path, or a jump to failed from any non-terminal state.
func canTransition(from, to CaseStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: case is already %s", ErrInvalidTransition, from)
	}
	if to == StatusFailed {
		return nil
	}
	fr, ok := statusRank[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	tr, ok := statusRank[to]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if tr != fr+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Case is the durable record of one analysis case.
type Case struct {
	ID        string
	DeviceID  string
	Status    CaseStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	// Error holds the failure message for failed cases.
	Error string

	CaseDir   string
	InputsDir string
	ResultDir string
	FileCount int
}

// Job is one unit of queued background work.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
