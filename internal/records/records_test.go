package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecordStore(t *testing.T) *RecordStore {
	t.Helper()
	return NewRecordStore(openTestStore(t))
}

func sampleRecord(outcome Outcome, finished time.Time) ScanRecord {
	return ScanRecord{
		Bucket:     "uploads",
		Key:        "docs/report.pdf",
		SizeBytes:  2048,
		Digest:     "abc123",
		Outcome:    outcome,
		StartedAt:  finished.Add(-2 * time.Second),
		FinishedAt: finished,
	}
}

func TestSaveAndList(t *testing.T) {
	rs := newTestRecordStore(t)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, rs.Save(sampleRecord(OutcomeClean, base)))
	require.NoError(t, rs.Save(sampleRecord(OutcomeInfected, base.Add(time.Minute))))

	recs, err := rs.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, OutcomeClean, recs[0].Outcome)
	assert.Equal(t, OutcomeInfected, recs[1].Outcome)
	assert.NotEmpty(t, recs[0].ID)
	assert.Equal(t, "abc123", recs[0].Digest)
}

func TestListOrderedByFinishTime(t *testing.T) {
	rs := newTestRecordStore(t)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	// Saved out of order; listing follows finish time.
	require.NoError(t, rs.Save(sampleRecord(OutcomeClean, base.Add(time.Hour))))
	require.NoError(t, rs.Save(sampleRecord(OutcomeClean, base)))

	recs, err := rs.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].FinishedAt.Before(recs[1].FinishedAt))
}

func TestListEmpty(t *testing.T) {
	rs := newTestRecordStore(t)

	recs, err := rs.List()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStats(t *testing.T) {
	rs := newTestRecordStore(t)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, rs.Save(sampleRecord(OutcomeClean, base)))
	require.NoError(t, rs.Save(sampleRecord(OutcomeClean, base.Add(time.Minute))))
	require.NoError(t, rs.Save(sampleRecord(OutcomeInfected, base.Add(2*time.Minute))))
	require.NoError(t, rs.Save(sampleRecord(OutcomeSkippedMissing, base.Add(3*time.Minute))))

	stats, err := rs.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Clean)
	assert.Equal(t, 1, stats.Infected)
	assert.Equal(t, 1, stats.Skipped)
	assert.True(t, stats.LastScan.Equal(base.Add(3*time.Minute)))
}

func TestStatsEmpty(t *testing.T) {
	rs := newTestRecordStore(t)

	stats, err := rs.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestPruneOlderThan(t *testing.T) {
	rs := newTestRecordStore(t)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, rs.Save(sampleRecord(OutcomeClean, base.AddDate(0, 0, -40))))
	require.NoError(t, rs.Save(sampleRecord(OutcomeClean, base.AddDate(0, 0, -10))))
	require.NoError(t, rs.Save(sampleRecord(OutcomeInfected, base)))

	require.NoError(t, rs.PruneOlderThan(base.AddDate(0, 0, -30)))

	recs, err := rs.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.False(t, rec.FinishedAt.Before(base.AddDate(0, 0, -30)))
	}
}
