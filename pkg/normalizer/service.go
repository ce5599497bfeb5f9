package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/ingestion"
	"github.com/jobscope/lakehouse/pkg/observability/metrics"
)

// RawSource is the read side of the bronze log.
type RawSource interface {
	HasTable(ctx context.Context) (bool, error)
	ListAfter(ctx context.Context, afterSeq int64) ([]ingestion.RawEnvelope, error)
}

type RunOptions struct {
	// Full reprocesses the whole raw log instead of resuming after the checkpoint.
	Full bool
}

type RunResult struct {
	Envelopes     int   `json:"envelopes"`
	Rejected      int   `json:"rejected"`
	Duplicates    int   `json:"duplicates"`
	Inserted      int   `json:"inserted"`
	Closed        int   `json:"closed"`
	Unchanged     int   `json:"unchanged"`
	PassedThrough int   `json:"passed_through"`
	Current       int   `json:"current"`
	Historical    int   `json:"historical"`
	LastSeq       int64 `json:"last_seq"`
	Noop          bool  `json:"noop"`
}

type Service struct {
	transformer *Transformer
	raw         RawSource
	repo        *Repository
	policy      Policy
	now         func() time.Time
}

func NewService(transformer *Transformer, raw RawSource, repo *Repository, policy Policy) *Service {
	return &Service{
		transformer: transformer,
		raw:         raw,
		repo:        repo,
		policy:      policy,
		now:         time.Now,
	}
}

func (s *Service) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	log := logger.WithField("stage", "normalize")
	var result RunResult

	exists, err := s.raw.HasTable(ctx)
	if err != nil {
		return result, fmt.Errorf("check raw log: %w", err)
	}
	if !exists {
		log.Info("Raw log does not exist yet, nothing to normalize")
		result.Noop = true
		return result, nil
	}
	if err := s.repo.EnsureTables(ctx); err != nil {
		return result, err
	}

	var after int64
	if !opts.Full {
		seq, err := s.repo.LoadCheckpoint(ctx)
		if err != nil {
			return result, fmt.Errorf("load checkpoint: %w", err)
		}
		after = seq
	}
	result.LastSeq = after

	envelopes, err := s.raw.ListAfter(ctx, after)
	if err != nil {
		return result, fmt.Errorf("read raw log: %w", err)
	}
	result.Envelopes = len(envelopes)
	if len(envelopes) == 0 {
		log.WithField("after_seq", after).Info("No new raw envelopes")
		result.Noop = true
		return result, nil
	}
	result.LastSeq = envelopes[len(envelopes)-1].Seq

	incoming := make([]JobRecord, 0, len(envelopes))
	for _, env := range envelopes {
		rec, err := s.transformer.Parse(env)
		if err != nil {
			log.WithError(err).WithField("raw_seq", env.Seq).Warn("Skipping unparseable raw document")
			result.Rejected++
			continue
		}
		incoming = append(incoming, rec)
	}

	if len(incoming) == 0 {
		if err := s.repo.SaveCheckpoint(ctx, result.LastSeq); err != nil {
			return result, fmt.Errorf("save checkpoint: %w", err)
		}
		metrics.ObserveRejected(result.Rejected)
		result.Noop = true
		return result, nil
	}

	existing, err := s.repo.LoadAll(ctx)
	if err != nil {
		return result, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	merged := Reconcile(existing, incoming, now, s.policy)
	if err := CheckInvariants(merged.Versions); err != nil {
		return result, err
	}

	if err := s.repo.ReplaceAll(ctx, merged.Versions, result.LastSeq); err != nil {
		return result, err
	}

	result.Duplicates = merged.Duplicates
	result.Inserted = merged.Inserted
	result.Closed = merged.Closed
	result.Unchanged = merged.Unchanged
	result.PassedThrough = merged.PassedThrough
	for _, v := range merged.Versions {
		if v.IsCurrent {
			result.Current++
		} else {
			result.Historical++
		}
	}

	metrics.ObserveNormalization(result.Inserted, result.Closed, result.Rejected, result.Current)
	log.WithFields(map[string]interface{}{
		"envelopes":  result.Envelopes,
		"rejected":   result.Rejected,
		"inserted":   result.Inserted,
		"closed":     result.Closed,
		"unchanged":  result.Unchanged,
		"current":    result.Current,
		"historical": result.Historical,
		"policy":     s.policy,
	}).Info("Silver table rewritten")

	return result, nil
}
