package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/database"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	checkpointStage = "silver"
	writeBatchSize  = 500
)

// JobVersion is one row of the versioned (SCD Type 2) job table.
type JobVersion struct {
	ID uint64 `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	models.JobFields
	models.Lineage
	ValidFrom   time.Time  `gorm:"column:valid_from;not null" json:"valid_from"`
	ValidTo     *time.Time `gorm:"column:valid_to" json:"valid_to"`
	IsCurrent   bool       `gorm:"column:is_current;not null;index" json:"is_current"`
	ContentHash string     `gorm:"column:content_hash" json:"content_hash"`
}

func (JobVersion) TableName() string {
	return "job_versions"
}

func (v JobVersion) fingerprint() string {
	if v.ContentHash != "" {
		return v.ContentHash
	}
	return v.JobFields.Fingerprint()
}

// Checkpoint is the highest raw seq a stage has consumed.
type Checkpoint struct {
	Stage     string    `gorm:"primaryKey;column:stage"`
	LastSeq   int64     `gorm:"column:last_seq;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Checkpoint) TableName() string {
	return "pipeline_checkpoints"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&JobVersion{}, &Checkpoint{})
}

// EnsureTables migrates on first use. A failed existence check is returned
// rather than read as a missing table.
func (r *Repository) EnsureTables(ctx context.Context) error {
	for _, table := range []string{JobVersion{}.TableName(), Checkpoint{}.TableName()} {
		exists, err := database.TableExists(ctx, r.db, table)
		if err != nil {
			return err
		}
		if !exists {
			if err := r.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate versioned table: %w", err)
			}
			return nil
		}
	}
	return nil
}

// LoadAll reads the complete versioned table. The table must already exist;
// any read failure is returned so a caller never rewrites history it could
// not load.
func (r *Repository) LoadAll(ctx context.Context) ([]JobVersion, error) {
	var versions []JobVersion
	if err := r.db.WithContext(ctx).Order("job_id asc, valid_from asc").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("load versioned table: %w", err)
	}
	return versions, nil
}

func (r *Repository) ListCurrent(ctx context.Context) ([]JobVersion, error) {
	var versions []JobVersion
	err := r.db.WithContext(ctx).
		Where("is_current = ?", true).
		Order("job_id asc").
		Find(&versions).Error
	return versions, err
}

func (r *Repository) History(ctx context.Context, jobID string) ([]JobVersion, error) {
	var versions []JobVersion
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("valid_from asc").
		Find(&versions).Error
	return versions, err
}

func (r *Repository) LoadCheckpoint(ctx context.Context) (int64, error) {
	var cp Checkpoint
	err := r.db.WithContext(ctx).Where("stage = ?", checkpointStage).Limit(1).Find(&cp).Error
	return cp.LastSeq, err
}

func (r *Repository) SaveCheckpoint(ctx context.Context, lastSeq int64) error {
	if err := r.EnsureTables(ctx); err != nil {
		return err
	}
	return saveCheckpoint(r.db.WithContext(ctx), lastSeq)
}

// ReplaceAll swaps the versioned table for versions and advances the
// checkpoint, all in one transaction.
func (r *Repository) ReplaceAll(ctx context.Context, versions []JobVersion, lastSeq int64) error {
	if err := r.EnsureTables(ctx); err != nil {
		return err
	}

	rows := make([]JobVersion, len(versions))
	copy(rows, versions)
	for i := range rows {
		rows[i].ID = 0
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&JobVersion{}).Error; err != nil {
			return fmt.Errorf("clear versioned table: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, writeBatchSize).Error; err != nil {
				return fmt.Errorf("write versioned table: %w", err)
			}
		}
		return saveCheckpoint(tx, lastSeq)
	})
}

func saveCheckpoint(db *gorm.DB, lastSeq int64) error {
	cp := Checkpoint{Stage: checkpointStage, LastSeq: lastSeq, UpdatedAt: time.Now().UTC()}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seq", "updated_at"}),
	}).Create(&cp).Error
}
