// Package artifacts owns the on-disk layout of a case directory. Pipeline
// stages address their outputs through the Store; the numbered directory
// names are a serialization detail of this package, not control flow.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stage is one step of the case pipeline.
type Stage int

const (
	Inputs Stage = iota
	Registration
	Segmentation
	Analysis
)

// Dir returns the stage's directory name inside a case directory. The
// numeric prefixes keep a case directory listing in processing order for
// operators browsing it by hand.
func (s Stage) Dir() string {
	switch s {
	case Inputs:
		return "0.inputs"
	case Registration:
		return "1.reg"
	case Segmentation:
		return "2.seg"
	case Analysis:
		return "3.analysis"
	}
	return fmt.Sprintf("stage-%d", int(s))
}

func (s Stage) String() string {
	switch s {
	case Inputs:
		return "inputs"
	case Registration:
		return "registration"
	case Segmentation:
		return "segmentation"
	case Analysis:
		return "analysis"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Store addresses artifacts inside one case directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at caseDir.
func NewStore(caseDir string) *Store {
	return &Store{root: caseDir}
}

// Root returns the case directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the stage directory path without creating it.
func (s *Store) Dir(st Stage) string {
	return filepath.Join(s.root, st.Dir())
}

// EnsureDir creates the stage directory if needed and returns its path.
func (s *Store) EnsureDir(st Stage) (string, error) {
	dir := s.Dir(st)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s directory: %w", st, err)
	}
	return dir, nil
}

// Path returns the path of a named artifact within a stage.
func (s *Store) Path(st Stage, name string) string {
	return filepath.Join(s.Dir(st), name)
}

// RootPath returns the path of a named artifact at the case-directory
// root (the ingested volume and the worker log live there).
func (s *Store) RootPath(name string) string {
	return filepath.Join(s.root, name)
}
