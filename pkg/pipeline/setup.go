package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jobscope/lakehouse/pkg/appsync"
	"github.com/jobscope/lakehouse/pkg/common/config"
	"github.com/jobscope/lakehouse/pkg/common/database"
	"github.com/jobscope/lakehouse/pkg/common/httpclient"
	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/ingestion"
	"github.com/jobscope/lakehouse/pkg/normalizer"
	"github.com/jobscope/lakehouse/pkg/objectstore"
	"github.com/jobscope/lakehouse/pkg/serving"
	"gorm.io/gorm"
)

// Components is everything a binary needs to run stages against the catalog.
type Components struct {
	DB       *gorm.DB
	Raw      *ingestion.Repository
	Versions *normalizer.Repository
	Gold     *serving.Repository
	Driver   *Driver
}

// OpenCatalog connects to the lakehouse database, retrying while postgres
// comes up.
func OpenCatalog(ctx context.Context, cfg *config.Config, attempts int) (*gorm.DB, error) {
	dsn := database.DSN(cfg)
	var db *gorm.DB
	err := httpclient.Retry(ctx, attempts, 500*time.Millisecond, func() error {
		conn, err := database.Open(dsn)
		if err != nil {
			logger.Log.WithError(err).Warn("PostgreSQL not reachable yet")
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return httpclient.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			logger.Log.WithError(err).Warn("PostgreSQL not reachable yet")
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Log.Info("Connected to PostgreSQL")
	return db, nil
}

// Setup builds the stage services. A missing application store disables sync
// instead of failing, so the bronze to gold stages still run.
func Setup(ctx context.Context, cfg *config.Config, db *gorm.DB, events EventPublisher) (*Components, error) {
	policy, err := normalizer.ParsePolicy(cfg.VersionPolicy)
	if err != nil {
		return nil, err
	}

	objects, err := objectstore.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	c := &Components{
		DB:       db,
		Raw:      ingestion.NewRepository(db),
		Versions: normalizer.NewRepository(db),
		Gold:     serving.NewRepository(db),
	}
	if err := c.Versions.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate versioned table: %w", err)
	}
	if err := c.Gold.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate serving table: %w", err)
	}

	var syncer Syncer
	store, err := appsync.NewStore(cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("Application store not configured, sync disabled")
	} else {
		syncer = appsync.NewSyncer(c.Gold, store, appsync.NewMapper(), appsync.Options{
			BatchSize:   cfg.SyncBatchSize,
			Workers:     cfg.SyncWorkers,
			CallTimeout: cfg.SyncCallTimeout,
		})
	}

	driverCfg := Config{
		Ingester:   ingestion.NewService(objects, c.Raw),
		Normalizer: normalizer.NewService(normalizer.NewTransformer(), c.Raw, c.Versions, policy),
		Projector:  serving.NewProjector(c.Versions, c.Gold),
		Syncer:     syncer,
		Events:     events,
		AutoSync:   cfg.SyncEnabled,
	}
	c.Driver = NewDriver(driverCfg)

	logger.Log.WithFields(map[string]interface{}{
		"version_policy": policy,
		"sync_enabled":   cfg.SyncEnabled && syncer != nil,
		"sync_store":     cfg.SyncStoreMode,
		"raw_bucket":     cfg.RawBucket,
	}).Info("Pipeline configured")
	return c, nil
}
