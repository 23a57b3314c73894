package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CTQA_API_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without CTQA_API_TOKEN should fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CTQA_API_TOKEN", "secret")
	t.Setenv("CTQA_SERVER_PORT", "9090")
	t.Setenv("CTQA_STORAGE_CASES_DIR", "/srv/ctqa/cases")
	t.Setenv("CTQA_WORKER_POLL_INTERVAL_MS", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.APIToken != "secret" {
		t.Errorf("APIToken = %q", cfg.Server.APIToken)
	}
	if cfg.Storage.CasesDir != "/srv/ctqa/cases" {
		t.Errorf("CasesDir = %q", cfg.Storage.CasesDir)
	}
	if cfg.Worker.PollIntervalMs != 250 {
		t.Errorf("PollIntervalMs = %d", cfg.Worker.PollIntervalMs)
	}
}

func TestEnvOverrideBadInt(t *testing.T) {
	t.Setenv("CTQA_API_TOKEN", "secret")
	t.Setenv("CTQA_SERVER_PORT", "not-a-port")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080 on parse failure", cfg.Server.Port)
	}
}

const deviceDoc = `
id: ct01
name: "CT Scanner 1"
baseline_dir: /var/ctqa/baseline/ct01
template: /var/ctqa/templates/report.html
operator: "Morning QA"
masks:
  HU: 4
  UF: 5
  HC: 15
  LC: 3
  geo: 4
  DT: 2
tolerances:
  HU: 5.0
  geo: 1.0
  DT: 1.0
  UF: 5.0
  LC: 2.0
  uniformity: 0.02
  rmtf: 0.1
  rmtf50: 0.5
replace:
  - {from: "PFCC", to: "Physics"}
`

func writeDeviceDoc(t *testing.T, name, doc string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDevice(t *testing.T) {
	path := writeDeviceDoc(t, "ct01.yaml", deviceDoc)
	d, err := LoadDevice(path)
	if err != nil {
		t.Fatalf("LoadDevice: %v", err)
	}
	if d.ID != "ct01" || d.Name != "CT Scanner 1" {
		t.Errorf("identity fields: %+v", d)
	}
	if got := d.Masks["HC"]; got != 15 {
		t.Errorf("HC mask count = %d, want 15", got)
	}
	if d.Tolerances.Uniformity != 0.02 {
		t.Errorf("uniformity tolerance = %v", d.Tolerances.Uniformity)
	}
	if len(d.Replace) != 1 || d.Replace[0].From != "PFCC" {
		t.Errorf("replace pairs: %+v", d.Replace)
	}
}

func TestLoadDeviceMissingMaskCount(t *testing.T) {
	doc := `
id: ct02
baseline_dir: /b
template: /t.html
masks:
  HU: 4
`
	path := writeDeviceDoc(t, "ct02.yaml", doc)
	if _, err := LoadDevice(path); err == nil {
		t.Fatal("expected validation error for missing mask counts")
	}
}

func TestLoadDevices(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ct01.yaml"), []byte(deviceDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	devices, err := LoadDevices(dir)
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	if len(devices) != 1 || devices["ct01"] == nil {
		t.Fatalf("devices = %v", devices)
	}
}
