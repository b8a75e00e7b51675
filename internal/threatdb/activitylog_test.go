package threatdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kversteeg/starshield/internal/model"
	"github.com/kversteeg/starshield/internal/store"
	"github.com/kversteeg/starshield/internal/testutil"
)

func newTestLog(t *testing.T) (*ActivityLog, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	l, err := NewActivityLog(st, &testutil.DummyLogger{})
	require.NoError(t, err)
	return l, st
}

func TestActivityLogPrependsNewestFirst(t *testing.T) {
	l, _ := newTestLog(t)

	_, err := l.Append(model.LogEntry{ScanType: model.ScanTypeFullScan, Result: model.ResultClean, Details: "first"})
	require.NoError(t, err)
	_, err = l.Append(model.LogEntry{ScanType: model.ScanTypeFullScan, Result: model.ResultClean, Details: "second"})
	require.NoError(t, err)

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Details)
	assert.Equal(t, "first", entries[1].Details)
	assert.Greater(t, entries[0].ID, entries[1].ID)
}

func TestActivityLogDedupsHeadWithinSameMinute(t *testing.T) {
	l, _ := newTestLog(t)

	base := time.Date(2026, 3, 14, 10, 30, 5, 0, time.UTC)
	entry := model.LogEntry{
		Timestamp: base,
		ScanType:  model.ScanTypeRealtime,
		Result:    model.ResultThreatsFound,
		Details:   "Real-time protection blocked 1 threat(s)",
	}

	first, err := l.Append(entry)
	require.NoError(t, err)

	// Same content, 40 seconds later but inside the same minute bucket.
	dup := entry
	dup.Timestamp = base.Add(40 * time.Second)
	id, err := l.Append(dup)
	require.NoError(t, err)
	assert.Equal(t, first, id, "duplicate returns the head's id")
	assert.Len(t, l.Entries(), 1)

	// Crossing the minute boundary breaks the dedup.
	next := entry
	next.Timestamp = base.Add(time.Minute)
	id, err = l.Append(next)
	require.NoError(t, err)
	assert.NotEqual(t, first, id)
	assert.Len(t, l.Entries(), 2)
}

func TestActivityLogOnlyHeadIsDeduped(t *testing.T) {
	l, _ := newTestLog(t)

	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	a := model.LogEntry{Timestamp: ts, ScanType: model.ScanTypeFullScan, Result: model.ResultClean, Details: "a"}
	b := model.LogEntry{Timestamp: ts, ScanType: model.ScanTypeFullScan, Result: model.ResultClean, Details: "b"}

	_, err := l.Append(a)
	require.NoError(t, err)
	_, err = l.Append(b)
	require.NoError(t, err)

	// a matches an older entry but not the head, so it is appended again.
	_, err = l.Append(a)
	require.NoError(t, err)
	assert.Len(t, l.Entries(), 3)
}

func TestActivityLogClear(t *testing.T) {
	l, st := newTestLog(t)

	_, err := l.Append(model.LogEntry{ScanType: model.ScanTypeFullScan, Result: model.ResultClean, Details: "x"})
	require.NoError(t, err)
	require.NoError(t, l.Clear())
	assert.Empty(t, l.Entries())

	persisted, err := st.LoadActivityLog()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestActivityLogSequenceSurvivesRestore(t *testing.T) {
	l, st := newTestLog(t)

	id1, err := l.Append(model.LogEntry{ScanType: model.ScanTypeFullScan, Result: model.ResultClean, Details: "x"})
	require.NoError(t, err)

	restored, err := NewActivityLog(st, &testutil.DummyLogger{})
	require.NoError(t, err)

	id2, err := restored.Append(model.LogEntry{ScanType: model.ScanTypeFullScan, Result: model.ResultClean, Details: "y"})
	require.NoError(t, err)
	assert.Greater(t, id2, id1, "ids keep increasing across restarts")
}
