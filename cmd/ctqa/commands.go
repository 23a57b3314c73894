package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmedphys/ctqa/internal/cases"
	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/registration"
	"github.com/openmedphys/ctqa/internal/storage"
)

// jobDoc mirrors the server's job record.
type jobDoc struct {
	JobID     string `json:"job_id"`
	CaseID    string `json:"case_id"`
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	CaseDir   string `json:"case_dir"`
	InputsDir string `json:"inputs_dir"`
	ResultDir string `json:"result_dir"`
	FileCount int    `json:"file_count"`
}

func fetchJob(client *apiClient, id string) (jobDoc, error) {
	resp, err := client.get("/api/jobs/" + id)
	if err != nil {
		return jobDoc{}, err
	}
	var doc jobDoc
	if err := decodeJSON(resp, &doc); err != nil {
		return jobDoc{}, err
	}
	return doc, nil
}

// --- process (one-shot, no server) ---

var processCmd = &cobra.Command{
	Use:   "process <input-dir>",
	Short: "Run the full pipeline on a directory of slice files without the server",
	Long: `Process runs ingest, registration, mask transfer, analysis, and
reporting for one scan directly in this process. The case and its
artifacts are recorded exactly as if the server had processed it.

Example:
  ctqa process --device ct01 /data/scans/morning-qa`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, _ := cmd.Flags().GetString("device")
		if deviceID == "" {
			return fmt.Errorf("--device is required")
		}
		return runProcess(deviceID, args[0])
	},
}

func init() {
	processCmd.Flags().String("device", "", "device id to process against")
}

func runProcess(deviceID, inputDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	devices, err := config.LoadDevices(cfg.Storage.DevicesDir)
	if err != nil {
		return fmt.Errorf("loading device documents: %w", err)
	}

	mgr := cases.NewManager(store, devices, cfg.Storage.CasesDir, slog.Default())

	printStep("Creating case for device %s", deviceID)
	c, err := mgr.CreateCase(deviceID)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return fmt.Errorf("reading input directory: %w", err)
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(inputDir, e.Name()))
		if err != nil {
			return fmt.Errorf("opening %s: %w", e.Name(), err)
		}
		err = mgr.AddFile(c.ID, e.Name(), f)
		f.Close()
		if err != nil {
			return err
		}
		count++
	}
	if count == 0 {
		return fmt.Errorf("no input files in %s", inputDir)
	}
	printStatus("Case", "%s", c.ID)
	printStatus("Files", "%d", count)

	if err := store.UpdateCaseStatus(c.ID, storage.StatusQueued); err != nil {
		return err
	}
	if err := store.MarkCaseProcessing(c.ID); err != nil {
		return err
	}
	c, err = store.GetCase(c.ID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := registration.NewEngine()
	pipe := cases.NewPipeline(devices, engine, engine, nil)

	printStep("Processing case %s", c.ID)
	resultDir, err := pipe.Process(ctx, c)
	if err != nil {
		if failErr := store.FailCase(c.ID, err.Error()); failErr != nil {
			printWarning("recording failure: %v", failErr)
		}
		printError("Case %s failed: %v", c.ID, err)
		return err
	}
	if err := store.CompleteCase(c.ID, resultDir); err != nil {
		return err
	}

	printSuccess("Case %s completed", c.ID)
	printStatus("Results", "%s", resultDir)
	printStatus("Report", "%s", filepath.Join(resultDir, "report.html"))

	if data, err := os.ReadFile(filepath.Join(resultDir, "analysis_results.json")); err == nil {
		var doc struct {
			OverallPassed bool `json:"overall_passed"`
		}
		if json.Unmarshal(data, &doc) == nil {
			printOutcome(doc.OverallPassed)
		}
	}
	return nil
}

// --- case (API client) ---

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Manage cases on a running server",
}

var caseCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new case for a device",
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, _ := cmd.Flags().GetString("device")
		if deviceID == "" {
			return fmt.Errorf("--device is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post("/api/devices/"+deviceID+"/cases", nil)
		if err != nil {
			return err
		}
		var doc jobDoc
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printSuccess("Created case %s", doc.CaseID)
		return printJSON(doc)
	},
}

var caseUploadCmd = &cobra.Command{
	Use:   "upload <case-id> <file>...",
	Short: "Upload slice files to a case",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caseID, files := args[0], args[1:]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		doc, err := fetchJob(client, caseID)
		if err != nil {
			return err
		}

		for _, file := range files {
			resp, err := client.postFile(
				fmt.Sprintf("/api/devices/%s/cases/%s/files", doc.DeviceID, caseID), file)
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
		}
		printSuccess("Uploaded %d files to case %s", len(files), caseID)
		return nil
	},
}

var caseAnalyzeCmd = &cobra.Command{
	Use:   "analyze <case-id>",
	Short: "Queue a case for analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caseID := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		doc, err := fetchJob(client, caseID)
		if err != nil {
			return err
		}

		resp, err := client.post(
			fmt.Sprintf("/api/devices/%s/cases/%s/analyze", doc.DeviceID, caseID), nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Analysis queued for case %s", caseID)
		return nil
	},
}

var caseStatusCmd = &cobra.Command{
	Use:   "status <case-id>",
	Short: "Show a case's processing state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		doc, err := fetchJob(client, args[0])
		if err != nil {
			return err
		}

		printStatus("Case", "%s", doc.CaseID)
		printStatus("Device", "%s", doc.DeviceID)
		printStatus("Status", "%s", doc.Status)
		printStatus("Files", "%d", doc.FileCount)
		if doc.Error != "" {
			printError("%s", doc.Error)
		}
		if doc.ResultDir != "" {
			printStatus("Results", "%s", doc.ResultDir)
		}
		return printJSON(doc)
	},
}

func init() {
	caseCreateCmd.Flags().String("device", "", "device id the case belongs to")
	caseCmd.AddCommand(caseCreateCmd)
	caseCmd.AddCommand(caseUploadCmd)
	caseCmd.AddCommand(caseAnalyzeCmd)
	caseCmd.AddCommand(caseStatusCmd)
}

// --- devices ---

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices known to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get("/api/devices")
		if err != nil {
			return err
		}

		var doc struct {
			Devices []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"devices"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		for _, d := range doc.Devices {
			printStatus(d.ID, "%s", d.Name)
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ctqa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if resp != nil && resp.StatusCode == 200 {
		api, err := newAPIClient()
		if err == nil {
			if jobsResp, err := api.get("/api/jobs?limit=100"); err == nil {
				var doc struct {
					Jobs []jobDoc `json:"jobs"`
				}
				if decodeJSON(jobsResp, &doc) == nil {
					printStatus("Cases", "%s", countLabel(len(doc.Jobs), 100))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Cases dir", "%s", cfg.Storage.CasesDir)
	printStatus("Devices dir", "%s", cfg.Storage.DevicesDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
