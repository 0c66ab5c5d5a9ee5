package taskstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/recon/pkg/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateUpdateGet(t *testing.T) {
	s := newStore(t)
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Create(Record{
		RunID: "r1", Engine: "auto", Status: StatusRunning,
		Source: "a.csv", Target: "b.csv", Rules: "rules.yaml", StartedAt: started,
	}))

	got, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "rules.yaml", got.Rules)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Nil(t, got.Summary)
	assert.True(t, got.FinishedAt.IsZero())

	summary := &types.Summary{PrimaryKey: []string{"id"}, Common: 4, Mismatched: 1, MismatchRatio: 0.25}
	require.NoError(t, s.Update(Record{
		RunID: "r1", Engine: "pushdown", Status: StatusCompleted, Summary: summary,
		ReportPath: "out/a_vs_b.json", FinishedAt: started.Add(2 * time.Second), TimeTaken: 2,
	}))

	got, err = s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "pushdown", got.Engine)
	require.NotNil(t, got.Summary)
	assert.Equal(t, *summary, *got.Summary)
	assert.Equal(t, "out/a_vs_b.json", got.ReportPath)
	assert.InDelta(t, 2.0, got.TimeTaken, 1e-9)
}

func TestGetAndUpdateUnknown(t *testing.T) {
	s := newStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Update(Record{RunID: "nope", Status: StatusFailed}), ErrNotFound)
	_, err = s.Get(" ")
	assert.Error(t, err)
}

func TestCreateValidation(t *testing.T) {
	s := newStore(t)
	tests := []struct {
		name string
		rec  Record
	}{
		{"no id", Record{Engine: "vectorized", Status: StatusPending, Source: "a", Target: "b"}},
		{"no engine", Record{RunID: "x", Status: StatusPending, Source: "a", Target: "b"}},
		{"no status", Record{RunID: "x", Engine: "vectorized", Source: "a", Target: "b"}},
		{"no target", Record{RunID: "x", Engine: "vectorized", Status: StatusPending, Source: "a"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, s.Create(tc.rec))
		})
	}
}

func TestCreatePendingThenStart(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(Record{RunID: "r", Engine: "auto", Status: StatusPending, Source: "a", Target: "b"}))
	started := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(Record{RunID: "r", Engine: "auto", Status: StatusRunning, Source: "a", Target: "b", StartedAt: started}))

	got, err := s.Get("r")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.True(t, started.Equal(got.StartedAt))
}

func TestListNewestFirst(t *testing.T) {
	s := newStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.Create(Record{
			RunID: id, Engine: "vectorized", Status: StatusCompleted,
			Source: "a", Target: "b", StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].RunID, all[1].RunID, all[2].RunID})

	two, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestRecorder(t *testing.T) {
	var nilRec *Recorder
	assert.NoError(t, nilRec.Create(Record{}))
	assert.NoError(t, nilRec.Close())

	rec, err := NewRecorder(nil, filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	assert.NoError(t, rec.Update(Record{RunID: "r"}), "update before create is ignored")
	require.NoError(t, rec.Create(Record{RunID: "r", Engine: "vectorized", Status: StatusRunning, Source: "a", Target: "b"}))
	assert.True(t, rec.Created())
	require.NoError(t, rec.Update(Record{RunID: "r", Status: StatusFailed, Error: "boom"}))
	got, err := rec.store.Get("r")
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, "vectorized", got.Engine)
	require.NoError(t, rec.Close())
	assert.False(t, rec.HasStore())
}
