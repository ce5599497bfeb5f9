package serving

import (
	"context"
	"fmt"
	"sort"

	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/normalizer"
	"github.com/jobscope/lakehouse/pkg/observability/metrics"
)

const topCompanies = 5

// CurrentSource yields the current slice of the versioned table.
type CurrentSource interface {
	ListCurrent(ctx context.Context) ([]normalizer.JobVersion, error)
}

type ProjectionResult struct {
	Rows            int            `json:"rows"`
	UniqueCompanies int            `json:"unique_companies"`
	TopCompanies    []CompanyCount `json:"top_companies"`
}

type Projector struct {
	source CurrentSource
	repo   *Repository
}

func NewProjector(source CurrentSource, repo *Repository) *Projector {
	return &Projector{source: source, repo: repo}
}

// Run rebuilds the serving table from the current versions. A failed read
// leaves the existing serving table as it was.
func (p *Projector) Run(ctx context.Context) (ProjectionResult, error) {
	var result ProjectionResult

	current, err := p.source.ListCurrent(ctx)
	if err != nil {
		return result, fmt.Errorf("read current versions: %w", err)
	}

	records := Project(current)
	if err := p.repo.ReplaceAll(ctx, records); err != nil {
		return result, err
	}

	result = Summarize(records)
	metrics.ObserveProjection(result.Rows)
	logger.WithField("stage", "project").WithFields(map[string]interface{}{
		"rows":             result.Rows,
		"unique_companies": result.UniqueCompanies,
		"top_companies":    result.TopCompanies,
	}).Info("Gold table rebuilt")

	return result, nil
}

// Project maps current versions to serving rows. Closed versions are ignored.
func Project(versions []normalizer.JobVersion) []ServingRecord {
	records := make([]ServingRecord, 0, len(versions))
	for _, v := range versions {
		if !v.IsCurrent {
			continue
		}
		records = append(records, ServingRecord{
			JobFields: v.JobFields,
			Lineage:   v.Lineage,
			ValidFrom: v.ValidFrom,
		})
	}
	return records
}

func Summarize(records []ServingRecord) ProjectionResult {
	counts := make(map[string]int)
	for _, r := range records {
		if r.CompanyName == nil || *r.CompanyName == "" {
			continue
		}
		counts[*r.CompanyName]++
	}

	top := make([]CompanyCount, 0, len(counts))
	for company, n := range counts {
		top = append(top, CompanyCount{Company: company, Postings: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Postings != top[j].Postings {
			return top[i].Postings > top[j].Postings
		}
		return top[i].Company < top[j].Company
	})
	if len(top) > topCompanies {
		top = top[:topCompanies]
	}

	return ProjectionResult{
		Rows:            len(records),
		UniqueCompanies: len(counts),
		TopCompanies:    top,
	}
}
