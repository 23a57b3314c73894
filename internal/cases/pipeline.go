package cases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmedphys/ctqa/internal/analysis"
	"github.com/openmedphys/ctqa/internal/artifacts"
	"github.com/openmedphys/ctqa/internal/baseline"
	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/dicomio"
	"github.com/openmedphys/ctqa/internal/geometry"
	"github.com/openmedphys/ctqa/internal/phantom"
	"github.com/openmedphys/ctqa/internal/registration"
	"github.com/openmedphys/ctqa/internal/report"
	"github.com/openmedphys/ctqa/internal/storage"
	"github.com/openmedphys/ctqa/internal/telemetry"
	"github.com/openmedphys/ctqa/internal/transfer"
)

// IngestFunc reads a directory of slice files into a volume. Swapped in
// tests so the pipeline can run without DICOM fixtures.
type IngestFunc func(log *slog.Logger, inputDir string) (*geometry.Volume, error)

// Pipeline runs the full processing chain for one case: ingest,
// registration, mask transfer, analysis, report.
type Pipeline struct {
	devices   map[string]*config.Device
	aligner   registration.Aligner
	resampler registration.Resampler
	params    registration.Params
	metrics   *telemetry.Metrics
	ingest    IngestFunc
}

// NewPipeline wires a pipeline from its engines. metrics may be nil.
func NewPipeline(devices map[string]*config.Device, aligner registration.Aligner, resampler registration.Resampler, metrics *telemetry.Metrics) *Pipeline {
	return &Pipeline{
		devices:   devices,
		aligner:   aligner,
		resampler: resampler,
		params:    registration.DefaultParams(),
		metrics:   metrics,
		ingest: func(log *slog.Logger, inputDir string) (*geometry.Volume, error) {
			return dicomio.NewIngestor(log).Ingest(inputDir)
		},
	}
}

// Process runs the pipeline for a claimed case and returns the directory
// holding the analysis results. Every step logs to the case's worker.log;
// on failure the full error is written there before it propagates.
func (p *Pipeline) Process(ctx context.Context, c storage.Case) (resultDir string, err error) {
	store := artifacts.NewStore(c.CaseDir)

	log, closeLog, err := OpenLog(store.RootPath("worker.log"))
	if err != nil {
		return "", err
	}
	defer closeLog()
	defer func() {
		if err != nil {
			log.Error("case processing failed", "case_id", c.ID, "error", err.Error())
		}
	}()

	log.Info("processing case", "case_id", c.ID, "device", c.DeviceID, "files", c.FileCount)

	dev, ok := p.devices[c.DeviceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDevice, c.DeviceID)
	}

	bl, err := baseline.Load(dev.BaselineDir, dev)
	if err != nil {
		return "", err
	}

	vol, err := p.runIngest(log, c, store)
	if err != nil {
		return "", err
	}

	reg, err := p.runRegistration(ctx, log, store, vol, bl)
	if err != nil {
		return "", err
	}

	masks, err := p.runTransfer(log, store, vol, bl, reg.Transform)
	if err != nil {
		return "", err
	}

	return p.runAnalysis(log, c, store, dev, vol, bl, masks)
}

func (p *Pipeline) stageTimer(stage artifacts.Stage) func() {
	if p.metrics == nil {
		return func() {}
	}
	return p.metrics.TimeStage(stage.String())
}

func (p *Pipeline) runIngest(log *slog.Logger, c storage.Case, store *artifacts.Store) (*geometry.Volume, error) {
	defer p.stageTimer(artifacts.Inputs)()

	vol, err := p.ingest(log, c.InputsDir)
	if err != nil {
		return nil, fmt.Errorf("ingesting slices: %w", err)
	}
	if err := geometry.WriteVolume(store.RootPath("CT"), vol); err != nil {
		return nil, err
	}
	log.Info("volume ingested", "size", vol.Geom.Size, "spacing", vol.Geom.Spacing)
	return vol, nil
}

func (p *Pipeline) runRegistration(ctx context.Context, log *slog.Logger, store *artifacts.Store, vol *geometry.Volume, bl *baseline.Set) (*registration.Result, error) {
	defer p.stageTimer(artifacts.Registration)()

	dir, err := store.EnsureDir(artifacts.Registration)
	if err != nil {
		return nil, err
	}

	res, err := p.aligner.Align(ctx, vol, bl.Volume, nil, bl.RegMask, p.params)
	if err != nil {
		return nil, fmt.Errorf("registering baseline: %w", err)
	}
	log.Info("registration converged",
		"final_metric", res.FinalMetric,
		"translation", res.Transform.Translation,
		"angles", res.Transform.Angles)

	trace, err := os.Create(filepath.Join(dir, "optimization.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating optimization trace: %w", err)
	}
	if err := registration.WriteTrace(trace, res.Trace); err != nil {
		trace.Close()
		return nil, err
	}
	if err := trace.Close(); err != nil {
		return nil, err
	}

	doc := struct {
		Transform   geometry.RigidTransform `json:"transform"`
		FinalMetric float64                 `json:"final_metric"`
	}{res.Transform, res.FinalMetric}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding transform: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "transform.json"), data, 0o644); err != nil {
		return nil, err
	}

	if res.Aligned != nil {
		if err := geometry.WriteVolume(filepath.Join(dir, "baseline_aligned"), res.Aligned); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (p *Pipeline) runTransfer(log *slog.Logger, store *artifacts.Store, vol *geometry.Volume, bl *baseline.Set, t geometry.RigidTransform) (map[phantom.Key][]*geometry.Mask, error) {
	defer p.stageTimer(artifacts.Segmentation)()

	dir, err := store.EnsureDir(artifacts.Segmentation)
	if err != nil {
		return nil, err
	}

	eng := transfer.NewEngine(p.resampler)
	masks := make(map[phantom.Key][]*geometry.Mask, len(phantom.All))
	for _, k := range phantom.All {
		res, err := eng.Transfer(bl.Masks[k], t, vol.Geom)
		if err != nil {
			return nil, fmt.Errorf("transferring region %s: %w", k, err)
		}
		if err := geometry.WriteVolume(filepath.Join(dir, k.String()+".composite"), res.Composite); err != nil {
			return nil, err
		}
		if err := geometry.WriteVolume(filepath.Join(dir, k.String()+".transferred"), res.Transferred); err != nil {
			return nil, err
		}
		for i, m := range res.Masks {
			if err := geometry.WriteMask(filepath.Join(dir, fmt.Sprintf("%s.%d", k, i+1)), m); err != nil {
				return nil, err
			}
		}
		masks[k] = res.Masks
		log.Info("region transferred", "region", k.String(), "masks", len(res.Masks))
	}
	return masks, nil
}

func (p *Pipeline) runAnalysis(log *slog.Logger, c storage.Case, store *artifacts.Store, dev *config.Device, vol *geometry.Volume, bl *baseline.Set, masks map[phantom.Key][]*geometry.Mask) (string, error) {
	defer p.stageTimer(artifacts.Analysis)()

	dir, err := store.EnsureDir(artifacts.Analysis)
	if err != nil {
		return "", err
	}

	in := analysis.Inputs{
		Device: dev,
		Meta: analysis.Metadata{
			Device:    dev.ID,
			CaseID:    c.ID,
			StudyDate: c.CreatedAt.Format("2006-01-02"),
			StudyTime: c.CreatedAt.Format("15:04:05"),
			Operator:  dev.Operator,
		},
		Volume:   vol,
		Masks:    masks,
		Labels:   bl.Labels,
		Baseline: bl.Values,
	}

	res, err := analysis.NewEngine(log).Run(in, dir)
	if err != nil {
		return "", fmt.Errorf("analyzing case: %w", err)
	}

	if err := report.WriteJSON(filepath.Join(dir, "analysis_results.json"), res); err != nil {
		return "", err
	}
	if err := report.WriteHTML(dev.Template, filepath.Join(dir, "report.html"), res, dev, c.CreatedAt); err != nil {
		return "", err
	}

	log.Info("case analyzed", "case_id", c.ID, "overall_passed", res.OverallPassed)
	return dir, nil
}
