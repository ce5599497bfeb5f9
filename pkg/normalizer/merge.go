package normalizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Policy string

const (
	// PolicyAlways versions every incoming record, matching the historical
	// behavior of the silver job.
	PolicyAlways Policy = "always"
	// PolicyOnChange only versions records whose business fields changed.
	PolicyOnChange Policy = "on_change"
)

func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyAlways:
		return PolicyAlways, nil
	case PolicyOnChange:
		return PolicyOnChange, nil
	default:
		return "", fmt.Errorf("unknown version policy %q", value)
	}
}

type MergeResult struct {
	Versions      []JobVersion
	Inserted      int
	Closed        int
	Unchanged     int
	PassedThrough int
	Duplicates    int
}

// Reconcile merges one batch of incoming records into the full versioned
// table and returns the table that should replace it. existing is not
// modified.
func Reconcile(existing []JobVersion, incoming []JobRecord, now time.Time, policy Policy) MergeResult {
	deduped := latestByID(incoming)
	result := MergeResult{Duplicates: len(incoming) - len(deduped)}

	versions := make([]JobVersion, len(existing), len(existing)+len(deduped))
	copy(versions, existing)

	current := make(map[string]int, len(existing))
	for i := range versions {
		if versions[i].IsCurrent {
			current[versions[i].JobID] = i
		}
	}

	for _, rec := range deduped {
		hash := rec.Fingerprint()

		if idx, ok := current[rec.JobID]; ok {
			if policy == PolicyOnChange && versions[idx].fingerprint() == hash {
				result.Unchanged++
				continue
			}
			closedAt := now
			versions[idx].ValidTo = &closedAt
			versions[idx].IsCurrent = false
			result.Closed++
		}

		versions = append(versions, newVersion(rec, hash, now))
		result.Inserted++
	}

	result.PassedThrough = len(existing) - result.Closed
	result.Versions = versions
	return result
}

// latestByID keeps one record per id, the one with the highest arrival seq.
// Output order follows each id's first appearance.
func latestByID(incoming []JobRecord) []JobRecord {
	index := make(map[string]int, len(incoming))
	out := make([]JobRecord, 0, len(incoming))
	for _, rec := range incoming {
		pos, seen := index[rec.JobID]
		if !seen {
			index[rec.JobID] = len(out)
			out = append(out, rec)
			continue
		}
		if rec.RawSeq >= out[pos].RawSeq {
			out[pos] = rec
		}
	}
	return out
}

func newVersion(rec JobRecord, hash string, now time.Time) JobVersion {
	return JobVersion{
		JobFields:   rec.JobFields,
		Lineage:     rec.Lineage,
		ValidFrom:   now,
		IsCurrent:   true,
		ContentHash: hash,
	}
}

// CheckInvariants verifies that every id has at most one current version and
// that its versions form a timeline with no gaps or overlaps.
func CheckInvariants(versions []JobVersion) error {
	byID := make(map[string][]JobVersion)
	for _, v := range versions {
		byID[v.JobID] = append(byID[v.JobID], v)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		history := byID[id]
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].ValidFrom.Before(history[j].ValidFrom)
		})

		currents := 0
		for i, v := range history {
			if v.IsCurrent {
				currents++
				if v.ValidTo != nil {
					errs = append(errs, fmt.Errorf("%s: current version from %s has valid_to set", id, v.ValidFrom.Format(time.RFC3339Nano)))
				}
				if i != len(history)-1 {
					errs = append(errs, fmt.Errorf("%s: current version from %s is not the latest", id, v.ValidFrom.Format(time.RFC3339Nano)))
				}
				continue
			}
			if v.ValidTo == nil {
				errs = append(errs, fmt.Errorf("%s: closed version from %s has no valid_to", id, v.ValidFrom.Format(time.RFC3339Nano)))
				continue
			}
			if i+1 < len(history) && !v.ValidTo.Equal(history[i+1].ValidFrom) {
				errs = append(errs, fmt.Errorf("%s: gap or overlap between %s and %s", id,
					v.ValidTo.Format(time.RFC3339Nano), history[i+1].ValidFrom.Format(time.RFC3339Nano)))
			}
		}
		if currents > 1 {
			errs = append(errs, fmt.Errorf("%s: %d current versions", id, currents))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &InvariantError{err: errors.Join(errs...)}
}

type InvariantError struct {
	err error
}

func (e *InvariantError) Error() string {
	return "versioned table invariant violated: " + e.err.Error()
}

func (e *InvariantError) Unwrap() error {
	return e.err
}
