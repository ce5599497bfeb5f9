package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jobscope/lakehouse/pkg/common/config"
	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

const (
	EventStageCompleted = "stage.completed"
	EventStageFailed    = "stage.failed"

	stageEventSource = "lakehouse-pipeline"
)

// StageEvent is the outcome of one pipeline stage within a run.
type StageEvent struct {
	RunID      string
	Stage      string
	State      models.RunState
	DurationMS int64
	Error      string
	// Result is the stage's own result struct; it is flattened to JSON.
	Result interface{}
}

// Producer publishes stage events on the stage-events topic.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg *config.Config) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.StageEventsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

// NewStageEventMessage builds the envelope and the wire message for one stage
// outcome. Messages are keyed by run id so a run's events stay ordered on one
// partition.
func NewStageEventMessage(eventType string, se StageEvent, at time.Time) (models.Event, kafka.Message, error) {
	data := map[string]interface{}{
		"run_id":      se.RunID,
		"stage":       se.Stage,
		"state":       string(se.State),
		"duration_ms": se.DurationMS,
	}
	if se.Error != "" {
		data["error"] = se.Error
	}
	if se.Result != nil {
		payload, err := json.Marshal(se.Result)
		if err != nil {
			return models.Event{}, kafka.Message{}, fmt.Errorf("encode %s result: %w", se.Stage, err)
		}
		var result map[string]interface{}
		if json.Unmarshal(payload, &result) == nil && result != nil {
			data["result"] = result
		}
	}

	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    stageEventSource,
		Data:      data,
		Timestamp: at.UTC(),
		Metadata:  map[string]string{"run_id": se.RunID, "stage": se.Stage},
	}
	value, err := json.Marshal(event)
	if err != nil {
		return models.Event{}, kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return event, kafka.Message{
		Key:   []byte(se.RunID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "stage", Value: []byte(se.Stage)},
		},
	}, nil
}

func (p *Producer) PublishStageEvent(ctx context.Context, eventType string, se StageEvent) error {
	event, message, err := NewStageEventMessage(eventType, se, time.Now())
	if err != nil {
		return err
	}

	log := logger.Stage(se.Stage, se.RunID).WithField("event_id", event.ID)
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		log.WithError(err).WithField("event_type", eventType).Error("Failed to publish stage event")
		return err
	}
	log.WithFields(map[string]interface{}{
		"event_type": eventType,
		"topic":      p.writer.Topic,
	}).Debug("Stage event published")
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
