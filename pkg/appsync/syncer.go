package appsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/jobscope/lakehouse/pkg/observability/metrics"
	"github.com/jobscope/lakehouse/pkg/serving"
	"golang.org/x/sync/errgroup"
)

// ErrSyncFailed is returned when every batch of a run failed.
var ErrSyncFailed = errors.New("sync failed")

// ServingSource yields the rows to publish.
type ServingSource interface {
	List(ctx context.Context) ([]serving.ServingRecord, error)
}

type Options struct {
	BatchSize   int
	Workers     int
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return o
}

type Syncer struct {
	source ServingSource
	store  Store
	mapper *Mapper
	opts   Options
	now    func() time.Time
}

func NewSyncer(source ServingSource, store Store, mapper *Mapper, opts Options) *Syncer {
	return &Syncer{
		source: source,
		store:  store,
		mapper: mapper,
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
}

// Run pushes every serving row the application has not deactivated. Batches
// go through a fixed worker pool and are never retried; a cancelled ctx stops
// new batches from being submitted while in-flight ones finish.
func (s *Syncer) Run(ctx context.Context, report ReportFunc) (Progress, error) {
	log := logger.WithField("stage", "sync")
	if report == nil {
		report = func(context.Context, Progress) {}
	}
	reportCtx := context.WithoutCancel(ctx)

	progress := Progress{State: models.StateRunning, StartedAt: s.now().UTC()}
	report(reportCtx, progress)

	abort := func(err error) (Progress, error) {
		progress.fail(err, s.now().UTC())
		report(reportCtx, progress)
		log.WithError(err).Error("Sync aborted")
		return progress, err
	}

	rows, err := s.source.List(ctx)
	if err != nil {
		return abort(fmt.Errorf("read serving table: %w", err))
	}

	protected, err := s.fetchProtected(ctx)
	if err != nil {
		return abort(err)
	}

	candidates := make([]ExternalRecord, 0, len(rows))
	for _, row := range rows {
		if _, skip := protected[row.JobID]; skip {
			progress.RowsSkipped++
			continue
		}
		candidates = append(candidates, s.mapper.Map(row))
	}
	batches := chunk(candidates, s.opts.BatchSize)

	progress.RowsTotal = len(rows)
	progress.Total = len(batches)
	metrics.ObserveSyncSkipped(progress.RowsSkipped)
	report(reportCtx, progress)

	log.WithFields(map[string]interface{}{
		"rows":      len(rows),
		"protected": len(protected),
		"skipped":   progress.RowsSkipped,
		"batches":   len(batches),
		"workers":   s.opts.Workers,
	}).Info("Starting sync")

	dispatchErr := s.dispatch(ctx, batches, func(out batchOutcome) {
		progress.apply(out)
		metrics.ObserveSyncBatch(out.rows, out.err != nil)
		if out.err != nil {
			log.WithError(out.err).WithField("rows", out.rows).Warn("Sync batch failed")
		}
		report(reportCtx, progress)
	})
	if dispatchErr != nil {
		return abort(fmt.Errorf("sync cancelled after %d of %d batches: %w", progress.Processed, progress.Total, dispatchErr))
	}

	progress.finish(s.now().UTC())
	report(reportCtx, progress)

	log.WithFields(map[string]interface{}{
		"state":       progress.State,
		"processed":   progress.Processed,
		"failed":      progress.Failed,
		"rows_synced": progress.RowsSynced,
	}).Info("Sync finished")

	if progress.State == models.StateFailed {
		return progress, fmt.Errorf("%w: %d of %d batches failed, last error: %s", ErrSyncFailed, progress.Failed, progress.Total, progress.LastError)
	}
	return progress, nil
}

func (s *Syncer) fetchProtected(ctx context.Context) (map[string]struct{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	protected, err := s.store.ProtectedIDs(callCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch protected ids: %w", err)
	}
	return protected, nil
}

// dispatch feeds batches to the worker pool and hands every outcome to
// onOutcome from the calling goroutine, so progress has a single writer.
func (s *Syncer) dispatch(ctx context.Context, batches [][]ExternalRecord, onOutcome func(batchOutcome)) error {
	if len(batches) == 0 {
		return nil
	}

	jobs := make(chan []ExternalRecord)
	results := make(chan batchOutcome, s.opts.Workers)
	callParent := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			for batch := range jobs {
				results <- s.upsert(callParent, batch)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case jobs <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var waitErr error
	done := make(chan struct{})
	go func() {
		waitErr = g.Wait()
		close(results)
		close(done)
	}()

	for out := range results {
		onOutcome(out)
	}
	<-done
	return waitErr
}

func (s *Syncer) upsert(ctx context.Context, batch []ExternalRecord) batchOutcome {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return batchOutcome{rows: len(batch), err: s.store.Upsert(callCtx, batch)}
}

func chunk(records []ExternalRecord, size int) [][]ExternalRecord {
	if len(records) == 0 {
		return nil
	}
	batches := make([][]ExternalRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
