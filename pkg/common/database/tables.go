package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// TableExists reports whether table is present. Unlike Migrator().HasTable it
// returns the query error, so an unreachable database is never mistaken for a
// missing table.
func TableExists(ctx context.Context, db *gorm.DB, table string) (bool, error) {
	var query string
	switch db.Dialector.Name() {
	case "sqlite":
		query = "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	default:
		query = "SELECT count(*) FROM information_schema.tables WHERE table_schema = CURRENT_SCHEMA() AND table_name = ? AND table_type = 'BASE TABLE'"
	}

	var count int64
	if err := db.WithContext(ctx).Raw(query, table).Scan(&count).Error; err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return count > 0, nil
}
