package threatdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kversteeg/starshield/internal/model"
	"github.com/kversteeg/starshield/internal/store"
	"github.com/kversteeg/starshield/internal/testutil"
)

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	r, err := NewRegistry(st, &testutil.DummyLogger{})
	require.NoError(t, err)
	return r, st
}

func TestRegistryIngestNewDetections(t *testing.T) {
	r, _ := newTestRegistry(t)

	merged, err := r.Ingest([]model.Detection{
		{Label: "Trojan.Generic", Path: "/tmp/a.exe"},
		{Label: "Adware.Foo", Path: "/tmp/b.dll"},
	}, model.SourceFullScan)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	active := r.ActiveThreats()
	require.Len(t, active, 2)
	assert.Equal(t, "a.exe", active[0].FileName)
	assert.Equal(t, "/tmp/a.exe", active[0].FilePath)
	assert.Equal(t, model.StatusActive, active[0].Status)
	assert.Equal(t, model.SourceFullScan, active[0].Source)
	assert.False(t, active[0].DetectedAt.IsZero())
	assert.NotEmpty(t, active[0].ID)
	assert.NotEqual(t, active[0].ID, active[1].ID)
}

func TestRegistryRecommendedActionBySource(t *testing.T) {
	r, _ := newTestRegistry(t)

	scan, err := r.Ingest([]model.Detection{{Label: "X", Path: "/tmp/scan.bin"}}, model.SourceFullScan)
	require.NoError(t, err)
	rt, err := r.Ingest([]model.Detection{{Label: "X", Path: "/tmp/rt.bin"}}, model.SourceRealtime)
	require.NoError(t, err)

	assert.Equal(t, model.ActionDelete, scan[0].RecommendedAction)
	assert.Equal(t, model.ActionQuarantine, rt[0].RecommendedAction)
}

func TestRegistryIngestSamePathOverwritesKeepingID(t *testing.T) {
	r, _ := newTestRegistry(t)

	first, err := r.Ingest([]model.Detection{{Label: "Old.Label", Path: "/tmp/x.exe"}}, model.SourceFullScan)
	require.NoError(t, err)

	second, err := r.Ingest([]model.Detection{{Label: "New.Label", Path: "/tmp/x.exe"}}, model.SourceRealtime)
	require.NoError(t, err)

	active := r.ActiveThreats()
	require.Len(t, active, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "New.Label", active[0].DetectionLabel)
	assert.Equal(t, model.SourceRealtime, active[0].Source)
}

func TestRegistryNormalizesPathsBeforeMerging(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Ingest([]model.Detection{{Label: "A", Path: "/tmp/dir/../x.exe"}}, model.SourceFullScan)
	require.NoError(t, err)
	_, err = r.Ingest([]model.Detection{{Label: "B", Path: "/tmp/x.exe"}}, model.SourceFullScan)
	require.NoError(t, err)

	active := r.ActiveThreats()
	require.Len(t, active, 1)
	assert.Equal(t, "/tmp/x.exe", active[0].FilePath)
	assert.Equal(t, "B", active[0].DetectionLabel)
}

func TestRegistryIngestIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)

	dets := []model.Detection{{Label: "T", Path: "/tmp/a"}, {Label: "T", Path: "/tmp/b"}}
	for i := 0; i < 3; i++ {
		_, err := r.Ingest(dets, model.SourceFullScan)
		require.NoError(t, err)
	}
	assert.Len(t, r.ActiveThreats(), 2)
}

func TestRegistryRemoveFiresOnEmptyOnce(t *testing.T) {
	r, _ := newTestRegistry(t)

	merged, err := r.Ingest([]model.Detection{
		{Label: "A", Path: "/tmp/a"},
		{Label: "B", Path: "/tmp/b"},
	}, model.SourceFullScan)
	require.NoError(t, err)

	fired := 0
	r.SetOnEmpty(func() { fired++ })

	require.NoError(t, r.Remove([]string{merged[0].ID}))
	assert.Equal(t, 0, fired, "set not yet drained")

	require.NoError(t, r.Remove([]string{merged[1].ID}))
	assert.Equal(t, 1, fired)

	// Removing unknown ids is a no-op and must not re-fire.
	require.NoError(t, r.Remove([]string{"nope"}))
	assert.Equal(t, 1, fired)
}

func TestRegistryRemoveUnknownIDIsNoop(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Ingest([]model.Detection{{Label: "A", Path: "/tmp/a"}}, model.SourceFullScan)
	require.NoError(t, err)

	require.NoError(t, r.Remove([]string{"does-not-exist"}))
	assert.Len(t, r.ActiveThreats(), 1)
}

func TestRegistryGet(t *testing.T) {
	r, _ := newTestRegistry(t)

	merged, err := r.Ingest([]model.Detection{{Label: "A", Path: "/tmp/a"}}, model.SourceFullScan)
	require.NoError(t, err)

	got, err := r.Get(merged[0].ID)
	require.NoError(t, err)
	assert.Equal(t, merged[0], got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrThreatNotFound)
}

func TestRegistryPersistsAndRestoresActiveOnly(t *testing.T) {
	st := store.NewMemoryStore()

	quarantined := model.Threat{ID: "q1", FilePath: "/tmp/q", FileName: "q", Status: model.StatusQuarantined}
	require.NoError(t, st.SaveThreats([]model.Threat{quarantined}))

	r, err := NewRegistry(st, &testutil.DummyLogger{})
	require.NoError(t, err)
	assert.Empty(t, r.ActiveThreats(), "non-active records are not restored")

	_, err = r.Ingest([]model.Detection{{Label: "A", Path: "/tmp/a"}}, model.SourceRealtime)
	require.NoError(t, err)

	// A second registry over the same store sees the merged set.
	r2, err := NewRegistry(st, &testutil.DummyLogger{})
	require.NoError(t, err)
	active := r2.ActiveThreats()
	require.Len(t, active, 1)
	assert.Equal(t, "/tmp/a", active[0].FilePath)
}
