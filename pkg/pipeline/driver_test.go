package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jobscope/lakehouse/pkg/appsync"
	"github.com/jobscope/lakehouse/pkg/common/kafka"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/jobscope/lakehouse/pkg/ingestion"
	"github.com/jobscope/lakehouse/pkg/normalizer"
	"github.com/jobscope/lakehouse/pkg/objectstore"
	"github.com/jobscope/lakehouse/pkg/serving"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type calls struct {
	mu    sync.Mutex
	order []Stage
}

func (c *calls) add(s Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, s)
}

type fakeIngester struct {
	c   *calls
	mu  sync.Mutex
	req ingestion.IngestRequest
	err error
}

func (f *fakeIngester) Ingest(ctx context.Context, req ingestion.IngestRequest) (ingestion.IngestResult, error) {
	f.c.add(StageIngest)
	f.mu.Lock()
	f.req = req
	f.mu.Unlock()
	return ingestion.IngestResult{FilesSeen: 1, Envelopes: 2}, f.err
}

func (f *fakeIngester) lastRequest() ingestion.IngestRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.req
}

type fakeNormalizer struct {
	c    *calls
	full bool
	err  error
}

func (f *fakeNormalizer) Run(ctx context.Context, opts normalizer.RunOptions) (normalizer.RunResult, error) {
	f.c.add(StageNormalize)
	f.full = opts.Full
	return normalizer.RunResult{Inserted: 2}, f.err
}

type fakeProjector struct {
	c   *calls
	err error
}

func (f *fakeProjector) Run(ctx context.Context) (serving.ProjectionResult, error) {
	f.c.add(StageProject)
	return serving.ProjectionResult{Rows: 2}, f.err
}

type fakeSyncer struct {
	c *calls
}

func (f *fakeSyncer) Run(ctx context.Context, report appsync.ReportFunc) (appsync.Progress, error) {
	f.c.add(StageSync)
	p := appsync.Progress{State: models.StateRunning, Total: 2}
	for i := 0; i < 2; i++ {
		p.Processed++
		report(ctx, p)
	}
	p.State = models.StateCompleted
	return p, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
	runIDs  map[string]bool
	results map[string]interface{}
	err     error
}

func (f *fakePublisher) PublishStageEvent(ctx context.Context, eventType string, event kafka.StageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("%s:%s", eventType, event.Stage))
	if f.runIDs == nil {
		f.runIDs = map[string]bool{}
		f.results = map[string]interface{}{}
	}
	f.runIDs[event.RunID] = true
	f.results[event.Stage] = event.Result
	return f.err
}

func newFakeDriver(autoSync bool) (*Driver, *calls, *fakeNormalizer, *fakePublisher) {
	c := &calls{}
	norm := &fakeNormalizer{c: c}
	pub := &fakePublisher{}
	d := NewDriver(Config{
		Ingester:   &fakeIngester{c: c},
		Normalizer: norm,
		Projector:  &fakeProjector{c: c},
		Syncer:     &fakeSyncer{c: c},
		Events:     pub,
		AutoSync:   autoSync,
	})
	return d, c, norm, pub
}

func TestRunExecutesStagesInOrderWithAutoSync(t *testing.T) {
	d, c, norm, pub := newFakeDriver(true)

	var snapshots []Report
	report, err := d.Run(context.Background(), Request{
		Full:       true,
		OnProgress: func(ctx context.Context, r Report) { snapshots = append(snapshots, r) },
	})
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, report.State)
	require.Equal(t, []Stage{StageIngest, StageNormalize, StageProject, StageSync}, c.order)
	require.True(t, norm.full)
	require.Len(t, report.Stages, 4)
	for _, s := range report.Stages {
		require.Equal(t, models.StateCompleted, s.State)
	}
	require.Equal(t, []string{
		"stage.completed:ingest",
		"stage.completed:normalize",
		"stage.completed:project",
		"stage.completed:sync",
	}, pub.events)
	require.Equal(t, map[string]bool{report.RunID: true}, pub.runIDs)
	require.Equal(t, normalizer.RunResult{Inserted: 2}, pub.results["normalize"])

	var sawSyncBatch bool
	for _, snap := range snapshots {
		if p, ok := snap.Stages[3].Result.(appsync.Progress); ok && snap.Stages[3].State == models.StateRunning && p.Processed == 1 {
			sawSyncBatch = true
		}
	}
	require.True(t, sawSyncBatch)
}

func TestRunStopsAtFirstStageError(t *testing.T) {
	d, c, norm, pub := newFakeDriver(true)
	norm.err = errors.New("invariant violated")

	report, err := d.Run(context.Background(), Request{})
	require.ErrorContains(t, err, "normalize: invariant violated")
	require.Equal(t, models.StateFailed, report.State)
	require.Equal(t, []Stage{StageIngest, StageNormalize}, c.order)
	require.Equal(t, models.StateFailed, report.Stages[1].State)
	require.Equal(t, models.StateQueued, report.Stages[2].State)
	require.Equal(t, "stage.failed:normalize", pub.events[len(pub.events)-1])
}

func TestRunSortsRequestedStages(t *testing.T) {
	d, c, _, _ := newFakeDriver(false)

	_, err := d.Run(context.Background(), Request{}, StageProject, StageNormalize)
	require.NoError(t, err)
	require.Equal(t, []Stage{StageNormalize, StageProject}, c.order)
}

func TestRunSyncWithoutStore(t *testing.T) {
	d := NewDriver(Config{AutoSync: true})
	require.Equal(t, []Stage{StageIngest, StageNormalize, StageProject}, d.Plan())

	_, err := d.Run(context.Background(), Request{}, StageSync)
	require.ErrorIs(t, err, ErrSyncUnavailable)
}

func TestRunIgnoresPublisherErrors(t *testing.T) {
	d, _, _, pub := newFakeDriver(false)
	pub.err = errors.New("broker down")

	report, err := d.Run(context.Background(), Request{}, StageIngest)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, report.State)
}

func TestRunHonoursCancellation(t *testing.T) {
	d, c, _, _ := newFakeDriver(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := d.Run(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, models.StateFailed, report.State)
	require.Empty(t, c.order)
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages([]string{"Ingest", " sync "})
	require.NoError(t, err)
	require.Equal(t, []Stage{StageIngest, StageSync}, stages)

	_, err = ParseStages([]string{"bronze"})
	require.Error(t, err)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	objects := objectstore.NewMemory()

	raw := ingestion.NewRepository(db)
	versions := normalizer.NewRepository(db)
	gold := serving.NewRepository(db)
	require.NoError(t, versions.AutoMigrate())
	require.NoError(t, gold.AutoMigrate())

	app := appsync.NewSQLStore(db, "jobs")
	require.NoError(t, app.EnsureTable(ctx))

	d := NewDriver(Config{
		Ingester:   ingestion.NewService(objects, raw),
		Normalizer: normalizer.NewService(normalizer.NewTransformer(), raw, versions, normalizer.PolicyAlways),
		Projector:  serving.NewProjector(versions, gold),
		Syncer:     appsync.NewSyncer(gold, app, appsync.NewMapper(), appsync.Options{BatchSize: 1}),
		AutoSync:   true,
	})

	objects.Put("2024-03-01/jobs.json", []byte(`[{"id":"J1","title":"Engineer","companyName":"Acme"},{"id":"J2","title":"Analyst"}]`))
	_, err := d.Run(ctx, Request{Ingest: ingestion.IngestRequest{Prefix: "2024-03-01/"}})
	require.NoError(t, err)

	objects.Put("2024-03-02/jobs.json", []byte(`{"id":"J1","title":"Senior Engineer","companyName":"Acme"}`))
	report, err := d.Run(ctx, Request{Ingest: ingestion.IngestRequest{Prefix: "2024-03-02/"}})
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, report.State)

	history, err := versions.History(ctx, "J1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	rows, err := gold.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var j1 appsync.ExternalRecord
	require.NoError(t, db.Table("jobs").Where("id = ?", "J1").First(&j1).Error)
	require.Equal(t, "Senior Engineer", *j1.Title)
	require.Equal(t, appsync.StatusActive, j1.Status)
}
