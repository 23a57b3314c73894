package artifacts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStageDirs(t *testing.T) {
	want := map[Stage]string{
		Inputs:       "0.inputs",
		Registration: "1.reg",
		Segmentation: "2.seg",
		Analysis:     "3.analysis",
	}
	for st, dir := range want {
		if st.Dir() != dir {
			t.Errorf("%v.Dir() = %q, want %q", st, st.Dir(), dir)
		}
	}
}

func TestStorePaths(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	if got := s.Path(Analysis, "report.html"); got != filepath.Join(root, "3.analysis", "report.html") {
		t.Errorf("Path = %q", got)
	}
	if got := s.RootPath("worker.log"); got != filepath.Join(root, "worker.log") {
		t.Errorf("RootPath = %q", got)
	}

	dir, err := s.EnsureDir(Segmentation)
	if err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("stage directory not created: %v", err)
	}
}
