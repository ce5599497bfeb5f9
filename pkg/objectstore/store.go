package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jobscope/lakehouse/pkg/common/config"
)

var ErrNotFound = errors.New("object not found")

// Store is a read view of one bucket of scraped documents.
type Store interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

const (
	ModeS3  = "s3"
	ModeGCS = "gcs"
)

// New builds the raw-document store selected by OBJECT_STORE_MODE.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ObjectStoreMode)) {
	case ModeS3, "minio", "":
		return NewS3Store(ctx, S3Config{
			Bucket:       cfg.RawBucket,
			Region:       cfg.ObjectRegion,
			Endpoint:     cfg.ObjectEndpoint,
			AccessKey:    cfg.ObjectAccessKey,
			SecretKey:    cfg.ObjectSecretKey,
			UsePathStyle: cfg.ObjectUsePathStyle,
		})
	case ModeGCS:
		return NewGCSStore(ctx, cfg.RawBucket)
	default:
		return nil, fmt.Errorf("unsupported object store mode %q", cfg.ObjectStoreMode)
	}
}

// Memory is an in-process Store, used by tests and local dry runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), body...), nil
}
