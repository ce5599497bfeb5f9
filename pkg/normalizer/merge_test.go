package normalizer

import (
	"testing"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	day3 = time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)
)

func record(id, title string, seq int64) JobRecord {
	t := title
	return JobRecord{
		JobFields: models.JobFields{JobID: id, Title: &t},
		Lineage:   models.Lineage{RawSeq: seq},
	}
}

func currentOf(t *testing.T, versions []JobVersion, id string) JobVersion {
	t.Helper()
	var found []JobVersion
	for _, v := range versions {
		if v.JobID == id && v.IsCurrent {
			found = append(found, v)
		}
	}
	require.Len(t, found, 1, "current versions of %s", id)
	return found[0]
}

func TestReconcileFirstRunInsertsEverything(t *testing.T) {
	res := Reconcile(nil, []JobRecord{record("J1", "Engineer", 1), record("J2", "Analyst", 2)}, day1, PolicyAlways)

	require.Equal(t, 2, res.Inserted)
	require.Zero(t, res.Closed)
	require.Zero(t, res.PassedThrough)
	require.Len(t, res.Versions, 2)
	for _, v := range res.Versions {
		require.True(t, v.IsCurrent)
		require.Nil(t, v.ValidTo)
		require.True(t, v.ValidFrom.Equal(day1))
		require.NotEmpty(t, v.ContentHash)
	}
	require.NoError(t, CheckInvariants(res.Versions))
}

func TestReconcileClosesAndReopensChangedRecord(t *testing.T) {
	first := Reconcile(nil, []JobRecord{record("J1", "Engineer", 1)}, day1, PolicyAlways)
	second := Reconcile(first.Versions, []JobRecord{record("J1", "Senior Engineer", 2)}, day2, PolicyAlways)

	require.Len(t, second.Versions, 2)
	require.Equal(t, 1, second.Closed)
	require.Equal(t, 1, second.Inserted)

	old := second.Versions[0]
	require.False(t, old.IsCurrent)
	require.NotNil(t, old.ValidTo)
	require.True(t, old.ValidTo.Equal(day2))
	require.Equal(t, "Engineer", *old.Title)

	cur := currentOf(t, second.Versions, "J1")
	require.Equal(t, "Senior Engineer", *cur.Title)
	require.True(t, cur.ValidFrom.Equal(day2))
	require.NoError(t, CheckInvariants(second.Versions))

	// The input table is left untouched.
	require.True(t, first.Versions[0].IsCurrent)
	require.Nil(t, first.Versions[0].ValidTo)
}

func TestReconcileKeepsAbsentAndHistoricalRows(t *testing.T) {
	v1 := Reconcile(nil, []JobRecord{record("J1", "a", 1), record("J2", "b", 2)}, day1, PolicyAlways)
	v2 := Reconcile(v1.Versions, []JobRecord{record("J1", "a2", 3)}, day2, PolicyAlways)
	v3 := Reconcile(v2.Versions, []JobRecord{record("J2", "b2", 4)}, day3, PolicyAlways)

	require.Equal(t, 3, v3.PassedThrough)
	require.Len(t, v3.Versions, 5)
	require.Equal(t, "a2", *currentOf(t, v3.Versions, "J1").Title)
	require.Equal(t, "b2", *currentOf(t, v3.Versions, "J2").Title)
	require.NoError(t, CheckInvariants(v3.Versions))
}

func TestReconcileDuplicateIDsLastArrivalWins(t *testing.T) {
	incoming := []JobRecord{
		record("J1", "late", 9),
		record("J1", "early", 3),
		record("J1", "middle", 5),
	}
	res := Reconcile(nil, incoming, day1, PolicyAlways)

	require.Equal(t, 2, res.Duplicates)
	require.Len(t, res.Versions, 1)
	require.Equal(t, "late", *res.Versions[0].Title)
	require.EqualValues(t, 9, res.Versions[0].RawSeq)
}

func TestReconcileEmptyBatchIsNoop(t *testing.T) {
	first := Reconcile(nil, []JobRecord{record("J1", "a", 1)}, day1, PolicyAlways)
	res := Reconcile(first.Versions, nil, day2, PolicyAlways)

	require.Equal(t, first.Versions, res.Versions)
	require.Zero(t, res.Inserted)
	require.Zero(t, res.Closed)
}

func TestReconcilePolicyOnIdenticalInput(t *testing.T) {
	batch := []JobRecord{record("J1", "Engineer", 1)}

	t.Run("always versions every pass", func(t *testing.T) {
		first := Reconcile(nil, batch, day1, PolicyAlways)
		second := Reconcile(first.Versions, batch, day2, PolicyAlways)
		require.Equal(t, 1, second.Closed)
		require.Len(t, second.Versions, 2)
		require.NoError(t, CheckInvariants(second.Versions))
	})

	t.Run("on_change suppresses churn", func(t *testing.T) {
		first := Reconcile(nil, batch, day1, PolicyOnChange)
		second := Reconcile(first.Versions, batch, day2, PolicyOnChange)
		require.Zero(t, second.Closed)
		require.Zero(t, second.Inserted)
		require.Equal(t, 1, second.Unchanged)
		require.Equal(t, first.Versions, second.Versions)

		third := Reconcile(second.Versions, []JobRecord{record("J1", "Staff Engineer", 2)}, day3, PolicyOnChange)
		require.Equal(t, 1, third.Closed)
		require.Len(t, third.Versions, 2)
	})
}

func TestCheckInvariantsReportsViolations(t *testing.T) {
	closed := day2
	twoCurrent := []JobVersion{
		{JobFields: models.JobFields{JobID: "J1"}, ValidFrom: day1, IsCurrent: true},
		{JobFields: models.JobFields{JobID: "J1"}, ValidFrom: day2, IsCurrent: true},
	}
	err := CheckInvariants(twoCurrent)
	require.Error(t, err)
	var inv *InvariantError
	require.ErrorAs(t, err, &inv)

	gap := []JobVersion{
		{JobFields: models.JobFields{JobID: "J1"}, ValidFrom: day1, ValidTo: &closed},
		{JobFields: models.JobFields{JobID: "J1"}, ValidFrom: day3, IsCurrent: true},
	}
	require.ErrorContains(t, CheckInvariants(gap), "gap or overlap")
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyAlways, p)

	p, err = ParsePolicy("ON_CHANGE")
	require.NoError(t, err)
	require.Equal(t, PolicyOnChange, p)

	_, err = ParsePolicy("sometimes")
	require.Error(t, err)
}
