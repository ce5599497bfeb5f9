package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jobscope/lakehouse/pkg/objectstore"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

func newTestService(t *testing.T, store objectstore.Store) (*Service, *Repository) {
	repo := NewRepository(openTestDB(t))
	svc := NewService(store, repo)
	svc.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestIngestAppendsEveryDocument(t *testing.T) {
	store := objectstore.NewMemory()
	store.Put("2024-03-08/batch-a.json", []byte(`[{"id":"J1","title":"Data Engineer"},{"id":"J2"}]`))
	store.Put("2024-03-08/batch-b.json", []byte(`{"id":"J3"}`))
	store.Put("2024-03-08/readme.txt", []byte(`ignored`))

	svc, repo := newTestService(t, store)
	ctx := context.Background()

	result, err := svc.Ingest(ctx, IngestRequest{Prefix: "2024-03-08/"})
	require.NoError(t, err)
	require.Equal(t, 2, result.FilesSeen)
	require.Equal(t, 2, result.FilesIngested)
	require.Equal(t, 3, result.Envelopes)

	envelopes, err := repo.ListAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, envelopes, 3)
	for i, env := range envelopes {
		require.Equal(t, "2024-03-08", env.IngestionDate)
		if i > 0 {
			require.Greater(t, env.Seq, envelopes[i-1].Seq)
		}
	}
	require.Equal(t, "2024-03-08/batch-a.json", envelopes[0].SourceFile)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(envelopes[0].Payload, &doc))
	require.Equal(t, "J1", doc["id"])
}

func TestIngestSkipsUndecodableFile(t *testing.T) {
	store := objectstore.NewMemory()
	store.Put("raw/bad.json", []byte(`{"id":`))
	store.Put("raw/good.json", []byte(`[{"id":"J1"}, 42, "noise"]`))

	svc, repo := newTestService(t, store)
	ctx := context.Background()

	result, err := svc.Ingest(ctx, IngestRequest{Prefix: "raw/"})
	require.NoError(t, err)
	require.Equal(t, 1, result.FilesFailed)
	require.Equal(t, 1, result.FilesIngested)
	require.Equal(t, 2, result.DocumentsSkipped)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "raw/bad.json", result.Failures[0].Key)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	envelopes, err := repo.ListAfter(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "2024-03-09", envelopes[0].IngestionDate)
}

func TestIngestSingleFileIsAppendOnly(t *testing.T) {
	store := objectstore.NewMemory()
	store.Put("2024-03-08/batch.json", []byte(`[{"id":"J1"}]`))

	svc, repo := newTestService(t, store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Ingest(ctx, IngestRequest{SourceFile: "2024-03-08/batch.json"})
		require.NoError(t, err)
	}

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	envelopes, err := repo.ListAfter(ctx, 1)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
}

func TestIngestMissingSourceFileIsCounted(t *testing.T) {
	svc, repo := newTestService(t, objectstore.NewMemory())

	result, err := svc.Ingest(context.Background(), IngestRequest{SourceFile: "nope.json"})
	require.NoError(t, err)
	require.Equal(t, 1, result.FilesFailed)
	exists, err := repo.HasTable(context.Background())
	require.NoError(t, err)
	require.True(t, exists)
}

func TestIngestEmptyPrefixIsNoop(t *testing.T) {
	svc, repo := newTestService(t, objectstore.NewMemory())

	result, err := svc.Ingest(context.Background(), IngestRequest{Prefix: "missing/"})
	require.NoError(t, err)
	require.Zero(t, result.FilesSeen)
	exists, err := repo.HasTable(context.Background())
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDecodeDocumentsCanonicalizesKeys(t *testing.T) {
	docs, skipped, err := DecodeDocuments("k", []byte(`{"b":1,"a":{"d":2,"c":12345678901234567890}}`))
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Len(t, docs, 1)
	require.JSONEq(t, `{"a":{"c":12345678901234567890,"d":2},"b":1}`, string(docs[0]))
	require.Equal(t, `{"a":{"c":12345678901234567890,"d":2},"b":1}`, string(docs[0]))
}

func TestDecodeDocumentsRejectsScalars(t *testing.T) {
	for _, body := range []string{``, `"text"`, `12`, `{"a":1} {"b":2}`} {
		_, _, err := DecodeDocuments("k", []byte(body))
		require.Error(t, err, body)
		require.True(t, IsSourceError(err), body)
	}
}

func TestIngestionDate(t *testing.T) {
	fallback := time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC)
	require.Equal(t, "2024-05-06", IngestionDate("2024-05-06/jobs.json", fallback))
	require.Equal(t, "2024-01-02", IngestionDate("jobs.json", fallback))
	require.Equal(t, "2024-01-02", IngestionDate("2024-13-40/jobs.json", fallback))
}

func TestHasTableReportsConnectionErrors(t *testing.T) {
	_, repo := newTestService(t, objectstore.NewMemory())
	sqlDB, err := repo.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	exists, err := repo.HasTable(context.Background())
	require.Error(t, err)
	require.False(t, exists)
	require.Error(t, repo.EnsureTable(context.Background()))
}
