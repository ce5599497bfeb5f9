package appsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestRESTStoreProtectedIDsPages(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/rest/v1/jobs", r.URL.Path)
		require.Equal(t, "neq.active", r.URL.Query().Get("status"))
		require.Equal(t, "id", r.URL.Query().Get("select"))
		require.Equal(t, "secret", r.Header.Get("apikey"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		size := protectedPageSize
		if offset > 0 {
			size = 3
		}
		rows := make([]map[string]string, 0, size)
		for i := 0; i < size; i++ {
			rows = append(rows, map[string]string{"id": fmt.Sprintf("P%d", offset+i)})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	store := NewRESTStore(RESTConfig{BaseURL: srv.URL + "/", ServiceKey: "secret", Table: "jobs"})
	ids, err := store.ProtectedIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, protectedPageSize+3)
	require.Equal(t, 2, calls)
	require.Contains(t, ids, "P1002")
}

func TestRESTStoreUpsert(t *testing.T) {
	var got []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "id", r.URL.Query().Get("on_conflict"))
		require.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	title := "Engineer"
	store := NewRESTStore(RESTConfig{BaseURL: srv.URL})
	err := store.Upsert(context.Background(), []ExternalRecord{{ID: "J1", Title: &title, Status: StatusActive}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "J1", got[0]["id"])
	require.Equal(t, "active", got[0]["status"])
	require.Nil(t, got[0]["salary_min"])
}

func TestRESTStoreSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	store := NewRESTStore(RESTConfig{BaseURL: srv.URL})
	err := store.Upsert(context.Background(), []ExternalRecord{{ID: "J1", Status: StatusActive}})
	require.ErrorContains(t, err, "permission denied")

	_, err = store.ProtectedIDs(context.Background())
	require.ErrorContains(t, err, "403")
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

func TestSQLStoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewSQLStore(db, "jobs")
	require.NoError(t, store.EnsureTable(ctx))

	old := "Old title"
	require.NoError(t, db.Table("jobs").Create(&ExternalRecord{ID: "A", Title: &old, Status: StatusArchived, UpdatedAt: time.Now()}).Error)
	require.NoError(t, db.Table("jobs").Create(&ExternalRecord{ID: "B", Title: &old, Status: StatusActive, UpdatedAt: time.Now()}).Error)

	rows := servingRows("A", "B", "C")
	fresh := "New title"
	for i := range rows {
		rows[i].Title = &fresh
	}

	p, err := NewSyncer(rowsSource{rows: rows}, store, NewMapper(), Options{BatchSize: 1, Workers: 2}).Run(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, p.State)
	require.Equal(t, 1, p.RowsSkipped)
	require.Equal(t, 2, p.Total)

	var a, b, c ExternalRecord
	require.NoError(t, db.Table("jobs").Where("id = ?", "A").First(&a).Error)
	require.NoError(t, db.Table("jobs").Where("id = ?", "B").First(&b).Error)
	require.NoError(t, db.Table("jobs").Where("id = ?", "C").First(&c).Error)
	require.Equal(t, StatusArchived, a.Status)
	require.Equal(t, "Old title", *a.Title)
	require.Equal(t, "New title", *b.Title)
	require.Equal(t, StatusActive, c.Status)
}

func TestSQLStoreUpsertKeepsDeactivatedRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewSQLStore(db, "jobs")
	require.NoError(t, store.EnsureTable(ctx))

	require.NoError(t, db.Table("jobs").Create(&ExternalRecord{ID: "A", Status: StatusDeleted, UpdatedAt: time.Now()}).Error)

	// A row deactivated after the protected set was read is still not resurrected.
	require.NoError(t, store.Upsert(ctx, []ExternalRecord{{ID: "A", Status: StatusActive, UpdatedAt: time.Now()}}))

	var a ExternalRecord
	require.NoError(t, db.Table("jobs").Where("id = ?", "A").First(&a).Error)
	require.Equal(t, StatusDeleted, a.Status)

	ids, err := store.ProtectedIDs(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, "A")
}
