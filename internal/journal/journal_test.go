package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/storage"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func entry(callID, svc string, outcome Outcome, at time.Time) Entry {
	return Entry{
		CallID:      callID,
		Service:     svc,
		Method:      "hire",
		Verb:        "POST",
		URI:         "/services/" + svc + "/hire",
		Outcome:     outcome,
		Status:      200,
		StartedAt:   at.Add(-15 * time.Millisecond),
		CompletedAt: at,
		Duration:    15 * time.Millisecond,
	}
}

func TestInsertAndList(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)
	now := time.Now()

	require.NoError(t, j.Insert(ctx, entry("c1", "employee", OutcomeCompleted, now.Add(-2*time.Second))))
	failed := entry("c2", "payroll", OutcomeFailed, now.Add(-time.Second))
	failed.Status = 500
	failed.Error = "payroll.total: boom"
	require.NoError(t, j.Insert(ctx, failed))
	require.NoError(t, j.Insert(ctx, entry("c3", "employee", OutcomeTimedOut, now)))

	all, err := j.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c3", "c2", "c1"}, []string{all[0].CallID, all[1].CallID, all[2].CallID})
	assert.Equal(t, "payroll.total: boom", all[1].Error)
	assert.Equal(t, 15*time.Millisecond, all[1].Duration)
	assert.NotEmpty(t, all[0].ID)

	byService, err := j.List(ctx, ListFilter{Service: "employee"})
	require.NoError(t, err)
	assert.Len(t, byService, 2)

	byOutcome, err := j.List(ctx, ListFilter{Outcome: OutcomeFailed})
	require.NoError(t, err)
	require.Len(t, byOutcome, 1)
	assert.Equal(t, 500, byOutcome[0].Status)

	limited, err := j.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestInsertRequiresCallID(t *testing.T) {
	j := openJournal(t)
	assert.Error(t, j.Insert(context.Background(), Entry{}))
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)
	now := time.Now()

	require.NoError(t, j.Insert(ctx, entry("old", "employee", OutcomeCompleted, now.Add(-48*time.Hour))))
	require.NoError(t, j.Insert(ctx, entry("new", "employee", OutcomeCompleted, now)))

	n, err := j.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := j.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].CallID)

	n, err = j.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriterFlushesOnClose(t *testing.T) {
	j := openJournal(t)
	w := NewWriter(j, 16)

	for _, id := range []string{"a", "b", "c"} {
		w.Record(entry(id, "employee", OutcomeCompleted, time.Now()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))

	got, err := j.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	w.Record(entry("late", "employee", OutcomeCompleted, time.Now()))
	assert.Equal(t, int64(1), w.Dropped())
}
