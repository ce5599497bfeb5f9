package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jobscope/lakehouse/pkg/appsync"
	"github.com/jobscope/lakehouse/pkg/common/kafka"
	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/jobscope/lakehouse/pkg/ingestion"
	"github.com/jobscope/lakehouse/pkg/normalizer"
	"github.com/jobscope/lakehouse/pkg/observability/metrics"
	"github.com/jobscope/lakehouse/pkg/serving"
)

type Stage string

const (
	StageIngest    Stage = "ingest"
	StageNormalize Stage = "normalize"
	StageProject   Stage = "project"
	StageSync      Stage = "sync"
)

var order = []Stage{StageIngest, StageNormalize, StageProject, StageSync}

// ErrSyncUnavailable is returned when sync is requested without an
// application store.
var ErrSyncUnavailable = errors.New("sync is not configured")

// ParseStages validates stage names. An empty list means every stage.
func ParseStages(names []string) ([]Stage, error) {
	stages := make([]Stage, 0, len(names))
	for _, name := range names {
		stage := Stage(strings.ToLower(strings.TrimSpace(name)))
		if !stage.valid() {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func (s Stage) valid() bool {
	for _, known := range order {
		if s == known {
			return true
		}
	}
	return false
}

type Ingester interface {
	Ingest(ctx context.Context, req ingestion.IngestRequest) (ingestion.IngestResult, error)
}

type Normalizer interface {
	Run(ctx context.Context, opts normalizer.RunOptions) (normalizer.RunResult, error)
}

type Projector interface {
	Run(ctx context.Context) (serving.ProjectionResult, error)
}

type Syncer interface {
	Run(ctx context.Context, report appsync.ReportFunc) (appsync.Progress, error)
}

// EventPublisher is satisfied by kafka.Producer.
type EventPublisher interface {
	PublishStageEvent(ctx context.Context, eventType string, event kafka.StageEvent) error
}

type Config struct {
	Ingester   Ingester
	Normalizer Normalizer
	Projector  Projector
	// Syncer is nil when no application store is configured.
	Syncer Syncer
	Events EventPublisher
	// AutoSync runs sync after every successful gold rebuild.
	AutoSync bool
}

type Driver struct {
	cfg Config
}

func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// Request carries the per-run inputs.
type Request struct {
	Ingest ingestion.IngestRequest
	Full   bool
	// OnProgress receives the report after every stage and every sync batch.
	OnProgress func(ctx context.Context, report Report)
}

type StageReport struct {
	Stage      Stage           `json:"stage"`
	State      models.RunState `json:"state"`
	Result     interface{}     `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

type Report struct {
	RunID  string          `json:"run_id"`
	State  models.RunState `json:"state"`
	Stages []StageReport   `json:"stages"`
}

// Plan returns the stages a run executes, in pipeline order, with sync added
// after project when auto-sync is on.
func (d *Driver) Plan(stages ...Stage) []Stage {
	want := make(map[Stage]bool, len(order))
	if len(stages) == 0 {
		for _, s := range order[:3] {
			want[s] = true
		}
	}
	for _, s := range stages {
		want[s] = true
	}
	if want[StageProject] && d.cfg.AutoSync && d.cfg.Syncer != nil {
		want[StageSync] = true
	}

	plan := make([]Stage, 0, len(order))
	for _, s := range order {
		if want[s] {
			plan = append(plan, s)
		}
	}
	return plan
}

// Run executes the planned stages strictly in order and stops at the first
// stage error. Row and batch level failures are counted by the stages and do
// not stop the run.
func (d *Driver) Run(ctx context.Context, req Request, stages ...Stage) (Report, error) {
	report := Report{RunID: uuid.New().String(), State: models.StateRunning}
	notify := func() {
		if req.OnProgress != nil {
			snapshot := report
			snapshot.Stages = append([]StageReport(nil), report.Stages...)
			req.OnProgress(context.WithoutCancel(ctx), snapshot)
		}
	}

	plan := d.Plan(stages...)
	for _, s := range plan {
		report.Stages = append(report.Stages, StageReport{Stage: s, State: models.StateQueued})
	}
	notify()

	for i, stage := range plan {
		if err := ctx.Err(); err != nil {
			report.State = models.StateFailed
			notify()
			return report, fmt.Errorf("pipeline cancelled before %s: %w", stage, err)
		}

		log := logger.Stage(string(stage), report.RunID)
		log.Info("Stage started")
		report.Stages[i].State = models.StateRunning
		notify()

		start := time.Now()
		result, err := d.runStage(ctx, stage, req, func(p appsync.Progress) {
			report.Stages[i].Result = p
			notify()
		})
		elapsed := time.Since(start)
		metrics.ObserveStage(string(stage), elapsed.Seconds(), err)

		report.Stages[i].Result = result
		report.Stages[i].DurationMS = elapsed.Milliseconds()
		if err != nil {
			report.Stages[i].State = models.StateFailed
			report.Stages[i].Error = err.Error()
			report.State = models.StateFailed
			log.WithError(err).Error("Stage failed")
			d.publish(ctx, kafka.EventStageFailed, report.RunID, report.Stages[i])
			notify()
			return report, fmt.Errorf("%s: %w", stage, err)
		}

		report.Stages[i].State = models.StateCompleted
		log.WithField("duration_ms", elapsed.Milliseconds()).Info("Stage completed")
		d.publish(ctx, kafka.EventStageCompleted, report.RunID, report.Stages[i])
		notify()
	}

	report.State = models.StateCompleted
	notify()
	return report, nil
}

func (d *Driver) runStage(ctx context.Context, stage Stage, req Request, onSync func(appsync.Progress)) (interface{}, error) {
	switch stage {
	case StageIngest:
		return d.cfg.Ingester.Ingest(ctx, req.Ingest)
	case StageNormalize:
		return d.cfg.Normalizer.Run(ctx, normalizer.RunOptions{Full: req.Full})
	case StageProject:
		return d.cfg.Projector.Run(ctx)
	case StageSync:
		if d.cfg.Syncer == nil {
			return nil, ErrSyncUnavailable
		}
		return d.cfg.Syncer.Run(ctx, func(_ context.Context, p appsync.Progress) { onSync(p) })
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// publish is best effort; a broker outage never fails a run.
func (d *Driver) publish(ctx context.Context, eventType, runID string, sr StageReport) {
	if d.cfg.Events == nil {
		return
	}
	event := kafka.StageEvent{
		RunID:      runID,
		Stage:      string(sr.Stage),
		State:      sr.State,
		DurationMS: sr.DurationMS,
		Error:      sr.Error,
		Result:     sr.Result,
	}
	if err := d.cfg.Events.PublishStageEvent(context.WithoutCancel(ctx), eventType, event); err != nil {
		logger.Stage(string(sr.Stage), runID).WithError(err).Warn("Stage event not published")
	}
}
