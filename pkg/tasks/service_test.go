package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	svc := NewService(repo, NewCache(nil, 0), 1)
	t.Cleanup(svc.Close)
	return svc
}

func waitTerminal(t *testing.T, svc *Service, id uuid.UUID) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = svc.Get(context.Background(), id)
		return err == nil && task.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func TestSubmitRecordsProgressAndCompletion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	task, err := svc.Submit(ctx, KindSync, "api", func(ctx context.Context, tr *Tracker) error {
		tr.Update(ctx, map[string]int{"processed_count": 1, "total_count": 2})
		tr.Update(ctx, map[string]int{"processed_count": 2, "total_count": 2})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, models.StateQueued, task.Status)

	done := waitTerminal(t, svc, task.ID)
	require.Equal(t, models.StateCompleted, done.Status)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	require.JSONEq(t, `{"processed_count":2,"total_count":2}`, string(done.Progress))
}

func TestSubmitRecordsFailure(t *testing.T) {
	svc := newTestService(t)

	task, err := svc.Submit(context.Background(), KindPipeline, "schedule", func(ctx context.Context, tr *Tracker) error {
		return errors.New("normalize: read raw log: connection refused")
	})
	require.NoError(t, err)

	done := waitTerminal(t, svc, task.ID)
	require.Equal(t, models.StateFailed, done.Status)
	require.Contains(t, done.Error, "connection refused")
}

func TestTasksRunOneAtATime(t *testing.T) {
	svc := newTestService(t)
	release := make(chan struct{})

	first, err := svc.Submit(context.Background(), KindPipeline, "api", func(ctx context.Context, tr *Tracker) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), KindPipeline, "api", func(ctx context.Context, tr *Tracker) error {
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := svc.Get(context.Background(), first.ID)
		return err == nil && task.Status == models.StateRunning
	}, time.Second, 5*time.Millisecond)

	queued, err := svc.Get(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateQueued, queued.Status)

	close(release)
	require.Equal(t, models.StateCompleted, waitTerminal(t, svc, second.ID).Status)
}

func TestCloseCancelsRunningWork(t *testing.T) {
	svc := newTestService(t)
	task, err := svc.Submit(context.Background(), KindSync, "api", func(ctx context.Context, tr *Tracker) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	svc.Close()
	got, err := svc.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, got.Status)
}

func TestHandlerGetAndList(t *testing.T) {
	svc := newTestService(t)
	task, err := svc.Submit(context.Background(), KindSync, "api", func(ctx context.Context, tr *Tracker) error { return nil })
	require.NoError(t, err)
	waitTerminal(t, svc, task.ID)

	router := mux.NewRouter()
	NewHandler(svc).Register(router.PathPrefix("/api/v1").Subrouter())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+task.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Task Task `json:"task"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, task.ID, got.Task.ID)
	require.Equal(t, models.StateCompleted, got.Task.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?kind=sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []Task `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Items, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
