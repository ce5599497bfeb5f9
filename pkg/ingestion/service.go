package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/objectstore"
	"github.com/jobscope/lakehouse/pkg/observability/metrics"
	"gorm.io/datatypes"
)

type Service struct {
	store objectstore.Store
	repo  *Repository
	now   func() time.Time
}

func NewService(store objectstore.Store, repo *Repository) *Service {
	return &Service{
		store: store,
		repo:  repo,
		now:   time.Now,
	}
}

// Ingest appends every document under req to the raw log. Files are the unit
// of atomicity: a file is either fully written or skipped.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	capturedAt := s.now().UTC()
	result := IngestResult{CapturedAt: capturedAt}
	log := logger.WithField("stage", "ingest")

	keys, err := s.resolveKeys(ctx, req)
	if err != nil {
		return result, err
	}
	result.FilesSeen = len(keys)
	if len(keys) == 0 {
		log.Info("No JSON files found to ingest")
		return result, nil
	}

	if err := s.repo.EnsureTable(ctx); err != nil {
		return result, fmt.Errorf("ensure raw log table: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		envelopes, skipped, err := s.readFile(ctx, key, capturedAt)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			log.WithError(err).WithField("file", key).Warn("Skipping raw file")
			result.FilesFailed++
			result.Failures = append(result.Failures, FileFailure{Key: key, Error: err.Error()})
			continue
		}
		result.DocumentsSkipped += skipped

		if err := s.repo.AppendFile(ctx, envelopes); err != nil {
			return result, fmt.Errorf("append %s: %w", key, err)
		}
		result.FilesIngested++
		result.Envelopes += len(envelopes)

		log.WithFields(map[string]interface{}{
			"file":      key,
			"documents": len(envelopes),
			"skipped":   skipped,
		}).Debug("Raw file appended")
	}

	metrics.ObserveIngestion(result.FilesIngested, result.FilesFailed, result.Envelopes)
	log.WithFields(map[string]interface{}{
		"files":     result.FilesIngested,
		"failed":    result.FilesFailed,
		"envelopes": result.Envelopes,
	}).Info("Bronze ingestion finished")

	return result, nil
}

func (s *Service) resolveKeys(ctx context.Context, req IngestRequest) ([]string, error) {
	if req.SourceFile != "" {
		return []string{req.SourceFile}, nil
	}
	listed, err := s.store.List(ctx, req.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list raw documents: %w", err)
	}
	keys := make([]string, 0, len(listed))
	for _, key := range listed {
		if isJSONKey(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *Service) readFile(ctx context.Context, key string, capturedAt time.Time) ([]RawEnvelope, int, error) {
	body, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, 0, NewSourceError(key, err)
	}
	docs, skipped, err := DecodeDocuments(key, body)
	if err != nil {
		return nil, 0, err
	}

	partition := IngestionDate(key, capturedAt)
	envelopes := make([]RawEnvelope, 0, len(docs))
	for _, doc := range docs {
		envelopes = append(envelopes, RawEnvelope{
			Payload:       datatypes.JSON(doc),
			CapturedAt:    capturedAt,
			SourceFile:    key,
			IngestionDate: partition,
		})
	}
	return envelopes, skipped, nil
}
