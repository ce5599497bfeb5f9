package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"gorm.io/datatypes"
)

// Work is the body of a tracked task. It reports progress through the tracker.
type Work func(ctx context.Context, tracker *Tracker) error

type Service struct {
	repo      *Repository
	cache     *Cache
	workerSem chan struct{}
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewService runs at most maxWorkers tasks at a time. Stages own their tables
// for the duration of a run, so the default of one serializes runs.
func NewService(repo *Repository, cache *Cache, maxWorkers int) *Service {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:      repo,
		cache:     cache,
		workerSem: make(chan struct{}, maxWorkers),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Submit records a queued task and starts work in the background.
func (s *Service) Submit(ctx context.Context, kind, trigger string, work Work) (Task, error) {
	now := time.Now().UTC()
	task := &TaskModel{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.StateQueued,
		Trigger:   trigger,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return Task{}, err
	}
	s.putCache(ctx, task)

	s.wg.Add(1)
	go s.run(*task, work)
	return toDomain(task), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	if cached, ok, err := s.cache.Get(ctx, id); err != nil {
		logger.Log.WithError(err).WithField("task_id", id).Warn("Task cache read failed")
	} else if ok {
		return cached, nil
	}
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	return toDomain(task), nil
}

func (s *Service) List(ctx context.Context, kind string, limit int) ([]Task, error) {
	rows, err := s.repo.List(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Task, 0, len(rows))
	for i := range rows {
		results = append(results, toDomain(&rows[i]))
	}
	return results, nil
}

// Close cancels running tasks and waits for them to record their outcome.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) run(task TaskModel, work Work) {
	defer s.wg.Done()
	bg := context.Background()

	select {
	case s.workerSem <- struct{}{}:
	case <-s.baseCtx.Done():
		s.finish(bg, &task, s.baseCtx.Err())
		return
	}
	defer func() { <-s.workerSem }()

	task.Status = models.StateRunning
	started := time.Now().UTC()
	task.StartedAt = &started
	if err := s.repo.UpdateStatus(bg, task.ID, models.StateRunning, ""); err != nil {
		logger.Log.WithError(err).WithField("task_id", task.ID).Error("failed to mark task running")
	}
	s.putCache(bg, &task)

	tracker := &Tracker{svc: s, task: &task}
	err := work(s.baseCtx, tracker)
	s.finish(bg, &task, err)
}

func (s *Service) finish(ctx context.Context, task *TaskModel, err error) {
	status, message := models.StateCompleted, ""
	if err != nil {
		status, message = models.StateFailed, err.Error()
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"task_id": task.ID,
			"kind":    task.Kind,
		}).Error("task failed")
	}

	if uerr := s.repo.UpdateStatus(ctx, task.ID, status, message); uerr != nil {
		logger.Log.WithError(uerr).WithField("task_id", task.ID).Error("failed to record task outcome")
	}
	now := time.Now().UTC()
	task.Status = status
	task.ErrorMessage = message
	task.UpdatedAt = now
	task.CompletedAt = &now
	s.putCache(ctx, task)
}

func (s *Service) putCache(ctx context.Context, task *TaskModel) {
	if err := s.cache.Put(ctx, toDomain(task)); err != nil {
		logger.Log.WithError(err).WithField("task_id", task.ID).Warn("Task cache write failed")
	}
}

// Tracker lets a running task publish progress snapshots.
type Tracker struct {
	svc  *Service
	mu   sync.Mutex
	task *TaskModel
}

func (t *Tracker) TaskID() uuid.UUID {
	return t.task.ID
}

// Update stores progress (any JSON-encodable value) in postgres and the cache.
func (t *Tracker) Update(ctx context.Context, progress interface{}) {
	payload, err := json.Marshal(progress)
	if err != nil {
		logger.Log.WithError(err).WithField("task_id", t.task.ID).Warn("Unencodable task progress")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.task.Progress = datatypes.JSON(payload)
	t.task.UpdatedAt = time.Now().UTC()
	if err := t.svc.repo.UpdateProgress(ctx, t.task.ID, t.task.Progress); err != nil {
		logger.Log.WithError(err).WithField("task_id", t.task.ID).Warn("failed to persist task progress")
	}
	t.svc.putCache(ctx, t.task)
}
