package pipeline

import (
	"context"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/jobscope/lakehouse/pkg/ingestion"
)

// EventBatchLanded is published by the scraper after it uploads a batch.
const EventBatchLanded = "batch.landed"

// HandleTrigger starts a full run for a landed batch. It has the
// kafka.EventHandler signature; other event types are acknowledged and ignored.
func (l *Launcher) HandleTrigger(ctx context.Context, event models.Event) error {
	if event.Type != EventBatchLanded {
		return nil
	}
	req := Request{}
	if prefix, ok := event.Data["prefix"].(string); ok {
		req.Ingest.Prefix = prefix
	}
	if key, ok := event.Data["source_file"].(string); ok {
		req.Ingest = ingestion.IngestRequest{SourceFile: key}
	}

	task, err := l.Submit(ctx, "kafka", req)
	if err != nil {
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"task_id":  task.ID,
		"prefix":   req.Ingest.Prefix,
	}).Info("Pipeline run triggered by landed batch")
	return nil
}

// Schedule submits a full run every interval until ctx is done.
func (l *Launcher) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Submit(ctx, "schedule", Request{}); err != nil {
				logger.Log.WithError(err).Error("Scheduled pipeline run not submitted")
			}
		}
	}
}
