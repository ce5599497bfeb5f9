package appsync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jobscope/lakehouse/pkg/common/httpclient"
)

const protectedPageSize = 1000

type RESTConfig struct {
	BaseURL    string
	ServiceKey string
	Table      string
	Timeout    time.Duration
}

// RESTStore talks to a PostgREST endpoint (Supabase style) for the jobs table.
type RESTStore struct {
	client *resty.Client
	table  string
}

func NewRESTStore(cfg RESTConfig) *RESTStore {
	table := cfg.Table
	if table == "" {
		table = ExternalRecord{}.TableName()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.NewWithClient(httpclient.New(timeout)).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/rest/v1").
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.ServiceKey != "" {
		client.SetHeader("apikey", cfg.ServiceKey).SetAuthToken(cfg.ServiceKey)
	}

	return &RESTStore{client: client, table: table}
}

type idRow struct {
	ID string `json:"id"`
}

// ProtectedIDs pages through every row whose status is not active.
func (s *RESTStore) ProtectedIDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	for offset := 0; ; offset += protectedPageSize {
		var page []idRow
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"select": "id",
				"status": "neq." + StatusActive,
				"order":  "id.asc",
				"limit":  strconv.Itoa(protectedPageSize),
				"offset": strconv.Itoa(offset),
			}).
			SetResult(&page).
			Get("/" + s.table)
		if err != nil {
			return nil, fmt.Errorf("fetch protected ids: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("fetch protected ids: %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
		}

		for _, row := range page {
			ids[row.ID] = struct{}{}
		}
		if len(page) < protectedPageSize {
			return ids, nil
		}
	}
}

func (s *RESTStore) Upsert(ctx context.Context, records []ExternalRecord) error {
	if len(records) == 0 {
		return nil
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetQueryParam("on_conflict", "id").
		SetBody(records).
		Post("/" + s.table)
	if err != nil {
		return fmt.Errorf("upsert %d records: %w", len(records), err)
	}
	if resp.IsError() {
		return fmt.Errorf("upsert %d records: %s: %s", len(records), resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}
