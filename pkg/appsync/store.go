package appsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/jobscope/lakehouse/pkg/common/config"
	"github.com/jobscope/lakehouse/pkg/common/database"
)

// Store is the application datastore the syncer writes to.
type Store interface {
	// ProtectedIDs returns ids whose status is not active.
	ProtectedIDs(ctx context.Context) (map[string]struct{}, error)
	// Upsert inserts or updates records keyed by id.
	Upsert(ctx context.Context, records []ExternalRecord) error
}

const (
	StoreModeREST = "rest"
	StoreModeSQL  = "sql"
)

// NewStore builds the store selected by SYNC_STORE_MODE.
func NewStore(cfg *config.Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SyncStoreMode)) {
	case StoreModeREST, "":
		if cfg.AppRESTURL == "" {
			return nil, fmt.Errorf("APP_REST_URL is required for the %s sync store", StoreModeREST)
		}
		return NewRESTStore(RESTConfig{
			BaseURL:    cfg.AppRESTURL,
			ServiceKey: cfg.AppServiceKey,
			Table:      cfg.SyncTable,
			Timeout:    cfg.SyncCallTimeout,
		}), nil
	case StoreModeSQL:
		if cfg.AppDatabaseDSN == "" {
			return nil, fmt.Errorf("APP_DATABASE_DSN is required for the %s sync store", StoreModeSQL)
		}
		db, err := database.Open(cfg.AppDatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("connect app database: %w", err)
		}
		return NewSQLStore(db, cfg.SyncTable), nil
	default:
		return nil, fmt.Errorf("unsupported sync store mode %q", cfg.SyncStoreMode)
	}
}
