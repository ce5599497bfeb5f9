package serving

import (
	"context"
	"fmt"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/models"
	"gorm.io/gorm"
)

const writeBatchSize = 500

// ServingRecord is the denormalized gold row, one per job id.
type ServingRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	models.JobFields
	models.Lineage
	ValidFrom time.Time `gorm:"column:valid_from;not null" json:"valid_from"`
}

// TableName overrides gorm naming.
func (ServingRecord) TableName() string {
	return "job_serving"
}

type CompanyCount struct {
	Company  string `json:"company"`
	Postings int    `json:"postings"`
}

// Repository owns the serving table.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ServingRecord{})
}

// ReplaceAll swaps the whole serving table in one transaction.
func (r *Repository) ReplaceAll(ctx context.Context, records []ServingRecord) error {
	if err := r.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate serving table: %w", err)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ServingRecord{}).Error; err != nil {
			return fmt.Errorf("clear serving table: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&records, writeBatchSize).Error; err != nil {
			return fmt.Errorf("write serving table: %w", err)
		}
		return nil
	})
}

// List returns every serving row ordered by job id.
func (r *Repository) List(ctx context.Context) ([]ServingRecord, error) {
	var records []ServingRecord
	err := r.db.WithContext(ctx).Order("job_id asc").Find(&records).Error
	return records, err
}
