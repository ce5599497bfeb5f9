package appsync

import (
	"context"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/models"
)

// Progress is the live view of one sync run. Batch counters drive the final
// state; row counters are informational.
type Progress struct {
	State      models.RunState `json:"state"`
	Total      int             `json:"total_count"`
	Processed  int             `json:"processed_count"`
	Failed     int             `json:"failed_count"`
	LastError  string          `json:"last_error,omitempty"`
	RowsTotal  int             `json:"rows_total"`
	RowsSynced int             `json:"rows_synced"`
	// RowsSkipped counts rows withheld because the application deactivated them.
	RowsSkipped int        `json:"rows_skipped"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ReportFunc receives a snapshot after every state change.
type ReportFunc func(ctx context.Context, p Progress)

type batchOutcome struct {
	rows int
	err  error
}

func (p *Progress) apply(out batchOutcome) {
	p.Processed++
	if out.err != nil {
		p.Failed++
		p.LastError = out.err.Error()
		return
	}
	p.RowsSynced += out.rows
}

// finish settles the final state: a run fails only when no batch succeeded.
func (p *Progress) finish(now time.Time) {
	if p.Total > 0 && p.Failed >= p.Total {
		p.State = models.StateFailed
	} else {
		p.State = models.StateCompleted
	}
	p.FinishedAt = &now
}

func (p *Progress) fail(err error, now time.Time) {
	p.State = models.StateFailed
	p.LastError = err.Error()
	p.FinishedAt = &now
}
