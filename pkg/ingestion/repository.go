package ingestion

import (
	"context"
	"fmt"

	"github.com/jobscope/lakehouse/pkg/common/database"
	"gorm.io/gorm"
)

const appendBatchSize = 500

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RawEnvelope{})
}

// EnsureTable creates the log table on first use.
func (r *Repository) EnsureTable(ctx context.Context) error {
	exists, err := r.HasTable(ctx)
	if err != nil || exists {
		return err
	}
	return r.AutoMigrate()
}

// AppendFile writes all envelopes of one source file in a single transaction.
func (r *Repository) AppendFile(ctx context.Context, envelopes []RawEnvelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&envelopes, appendBatchSize).Error; err != nil {
			return fmt.Errorf("append %d envelopes: %w", len(envelopes), err)
		}
		return nil
	})
}

// ListAfter returns envelopes with seq > afterSeq in arrival order.
func (r *Repository) ListAfter(ctx context.Context, afterSeq int64) ([]RawEnvelope, error) {
	var envelopes []RawEnvelope
	err := r.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq asc").
		Find(&envelopes).Error
	return envelopes, err
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&RawEnvelope{}).Count(&count).Error
	return count, err
}

func (r *Repository) HasTable(ctx context.Context) (bool, error) {
	return database.TableExists(ctx, r.db, RawEnvelope{}.TableName())
}
