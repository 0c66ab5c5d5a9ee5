package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/recon/internal/pushdown"
	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/report"
	"github.com/pgedge/recon/pkg/taskstore"
)

const assetRules = `
fields:
  - field: 编号
    primary: true
  - field: 名称
  - field: 原值
    type: numeric
    tolerance: 0.01
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newTask(t *testing.T) (*ReconcileTask, string) {
	t.Helper()
	dir := t.TempDir()
	task := NewReconcileTask()
	task.Source = writeFile(t, dir, "platform.csv", "编号,名称,原值\nA1,水泵,100\nA2,电机,200.004\nA3,阀门,50\n")
	task.Target = writeFile(t, dir, "erp.csv", "编号,名称,原值\nA2,电机,200\nA3,阀门组,50\nA4,管道,10\n")
	task.RulesPath = writeFile(t, dir, "rules.yaml", assetRules)
	task.Output = filepath.Join(dir, "out")
	task.HistoryPath = filepath.Join(dir, "history.db")
	task.SkipDBUpdate = false
	task.QuietMode = true
	task.Engine = config.EngineVectorized
	return task, dir
}

func TestReconcileTaskEndToEnd(t *testing.T) {
	task, _ := newTask(t)
	require.NoError(t, task.Validate())
	require.NoError(t, task.RunChecks(true))
	require.NoError(t, task.ExecuteTask())

	res := task.Result
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Summary.Common)
	assert.Equal(t, 1, res.Summary.Missing)
	assert.Equal(t, 1, res.Summary.Extra)
	require.Len(t, res.Diffs, 1)
	assert.Equal(t, "A3", res.Diffs[0].Key)
	assert.Equal(t, []string{"名称"}, res.Diffs[0].FieldNames())
	assert.Equal(t, taskstore.StatusCompleted, task.TaskStatus)

	doc, err := report.Read(task.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, task.TaskID, doc.Meta.RunID)
	assert.False(t, doc.Match)
	require.Len(t, doc.Missing, 1)
	assert.Equal(t, "A1", doc.Missing[0].Key)

	store, err := taskstore.New(task.HistoryPath)
	require.NoError(t, err)
	defer store.Close()
	rec, err := store.Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusCompleted, rec.Status)
	assert.Equal(t, "vectorized", rec.Engine)
	assert.Equal(t, task.ReportPath, rec.ReportPath)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, 1, rec.Summary.Mismatched)
}

func TestReconcileTaskRecordsFailure(t *testing.T) {
	task, dir := newTask(t)
	task.Target = writeFile(t, dir, "dup.csv", "编号,名称,原值\nA2,电机,200\nA2,电机,200\n")
	require.NoError(t, task.RunChecks(false))

	err := task.ExecuteTask()
	var dup *recon.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, taskstore.StatusFailed, task.TaskStatus)

	store, err := taskstore.New(task.HistoryPath)
	require.NoError(t, err)
	defer store.Close()
	rec, err := store.Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "duplicate")
}

func TestRunChecksMissingColumns(t *testing.T) {
	task, dir := newTask(t)
	task.Target = writeFile(t, dir, "narrow.csv", "编号,名称\nA2,电机\n")
	err := task.RunChecks(false)
	var cfgErr *recon.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "原值")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReconcileTask)
		want   string
	}{
		{"ok", func(*ReconcileTask) {}, ""},
		{"no target", func(r *ReconcileTask) { r.Target = "" }, "source and target"},
		{"no rules", func(r *ReconcileTask) { r.RulesPath = " " }, "rule file"},
		{"bad engine", func(r *ReconcileTask) { r.Engine = "spark" }, "engine must be one of"},
		{"bad header", func(r *ReconcileTask) { r.SourceOptions.HeaderRows = 3 }, "header rows"},
		{"negative skip", func(r *ReconcileTask) { r.TargetOptions.SkipRows = -1 }, "skip rows"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			task, _ := newTask(t)
			tc.mutate(task)
			err := task.Validate()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestSelectEngine(t *testing.T) {
	tests := []struct {
		engine   string
		src, tgt int
		store    bool
		want     string
		wantErr  bool
	}{
		{config.EngineVectorized, 10, 10, true, "vectorized", false},
		{config.EnginePushdown, 10, 10, true, "pushdown", false},
		{config.EnginePushdown, 10, 10, false, "", true},
		{config.EngineAuto, 10, 2000, true, "pushdown", false},
		{config.EngineAuto, 10, 2000, false, "vectorized", false},
		{config.EngineAuto, 10, 1000, true, "vectorized", false},
	}
	for _, tc := range tests {
		got, err := SelectEngine(tc.engine, tc.src, tc.tgt, 1000, tc.store)
		if tc.wantErr {
			var cfgErr *recon.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %d/%d", tc.engine, tc.src, tc.tgt)
	}
}

func TestPushdownStoreFailure(t *testing.T) {
	task, _ := newTask(t)
	task.Engine = config.EnginePushdown
	task.Postgres = config.PostgresConfig{Host: "db", DBName: "recon"}
	task.OpenStore = func(context.Context, config.PostgresConfig) (pushdown.Store, error) {
		return nil, errors.New("connection refused")
	}
	require.NoError(t, task.RunChecks(false))
	err := task.ExecuteTask()
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, taskstore.StatusFailed, task.TaskStatus)
}

func TestCloneForSchedule(t *testing.T) {
	task, _ := newTask(t)
	require.NoError(t, task.RunChecks(false))
	require.NoError(t, task.ExecuteTask())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clone := task.CloneForSchedule(ctx)
	assert.Empty(t, clone.TaskID)
	assert.Nil(t, clone.Result)
	assert.Nil(t, clone.rules)
	assert.Equal(t, task.Source, clone.Source)
	assert.Equal(t, task.HistoryPath, clone.HistoryPath)
	assert.Equal(t, ctx, clone.context())

	require.NoError(t, clone.ExecuteTask())
	assert.NotEqual(t, task.TaskID, clone.TaskID)
}
