package appsync

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore writes straight into the application's database.
type SQLStore struct {
	db    *gorm.DB
	table string
}

func NewSQLStore(db *gorm.DB, table string) *SQLStore {
	if table == "" {
		table = ExternalRecord{}.TableName()
	}
	return &SQLStore{db: db, table: table}
}

// EnsureTable creates the jobs table when the application has not.
func (s *SQLStore) EnsureTable(ctx context.Context) error {
	return s.db.WithContext(ctx).Table(s.table).AutoMigrate(&ExternalRecord{})
}

func (s *SQLStore) ProtectedIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("status <> ?", StatusActive).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("fetch protected ids: %w", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// Upsert only overwrites rows that are still active, so a row deactivated
// after ProtectedIDs was read keeps its status.
func (s *SQLStore) Upsert(ctx context.Context, records []ExternalRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Table(s.table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: s.table, Name: "status"}, Value: StatusActive},
			}},
		}).
		Create(&records).Error
	if err != nil {
		return fmt.Errorf("upsert %d records: %w", len(records), err)
	}
	return nil
}
