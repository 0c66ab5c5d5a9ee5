// ///////////////////////////////////////////////////////////////////////////
//
// # recon - Dataset Reconciliation Engine
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgedge/recon/internal/compare"
	"github.com/pgedge/recon/internal/ingest"
	"github.com/pgedge/recon/internal/pushdown"
	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/report"
	"github.com/pgedge/recon/pkg/taskstore"
	"github.com/pgedge/recon/pkg/types"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const TaskTypeReconcile = "RECONCILE"

// ReconcileTask runs one reconciliation of Source against Target under the
// rule file at RulesPath, records it in the run history and writes the
// report.
type ReconcileTask struct {
	types.Task

	Source    string
	Target    string
	RulesPath string

	SourceOptions ingest.Options
	TargetOptions ingest.Options

	Engine           string
	BatchSize        int
	DuplicateSample  int
	MaxDetailRecords int
	AutoPushdownRows int
	InsertBatchSize  int

	Output       string
	QuietMode    bool
	SkipDBUpdate bool
	HistoryPath  string
	TaskStore    *taskstore.Store
	Postgres     config.PostgresConfig

	// OpenStore connects the relational store used by the pushdown engine.
	// It defaults to pushdown.Open.
	OpenStore func(ctx context.Context, cfg config.PostgresConfig) (pushdown.Store, error)

	Result     *types.Result
	ReportPath string

	ctx    context.Context
	rules  *rules.Model
	source *types.Dataset
	target *types.Dataset
}

// NewReconcileTask returns a task carrying the configured defaults.
func NewReconcileTask() *ReconcileTask {
	cfg := config.Get()
	return &ReconcileTask{
		Task: types.Task{
			TaskType:   TaskTypeReconcile,
			TaskStatus: taskstore.StatusPending,
		},
		SourceOptions:    ingest.Options{HeaderRows: 1},
		TargetOptions:    ingest.Options{HeaderRows: 1},
		Engine:           cfg.Reconcile.Engine,
		BatchSize:        cfg.Reconcile.BatchSize,
		DuplicateSample:  cfg.Reconcile.DuplicateSample,
		MaxDetailRecords: cfg.Reconcile.MaxDetailRecords,
		AutoPushdownRows: cfg.Reconcile.AutoPushdownRows,
		InsertBatchSize:  cfg.Reconcile.InsertBatchSize,
		Output:           cfg.Report.OutputDir,
		SkipDBUpdate:     !cfg.History.Enabled,
		HistoryPath:      cfg.History.Path,
		Postgres:         cfg.Postgres,
	}
}

// CloneForSchedule copies the task's settings into a fresh task bound to
// ctx. Loaded data and results are not carried over.
func (t *ReconcileTask) CloneForSchedule(ctx context.Context) *ReconcileTask {
	clone := &ReconcileTask{
		Task: types.Task{
			TaskType:   TaskTypeReconcile,
			TaskStatus: taskstore.StatusPending,
		},
		Source:           t.Source,
		Target:           t.Target,
		RulesPath:        t.RulesPath,
		SourceOptions:    t.SourceOptions,
		TargetOptions:    t.TargetOptions,
		Engine:           t.Engine,
		BatchSize:        t.BatchSize,
		DuplicateSample:  t.DuplicateSample,
		MaxDetailRecords: t.MaxDetailRecords,
		AutoPushdownRows: t.AutoPushdownRows,
		InsertBatchSize:  t.InsertBatchSize,
		Output:           t.Output,
		QuietMode:        t.QuietMode,
		SkipDBUpdate:     t.SkipDBUpdate,
		HistoryPath:      t.HistoryPath,
		TaskStore:        t.TaskStore,
		Postgres:         t.Postgres,
		OpenStore:        t.OpenStore,
	}
	clone.SetContext(ctx)
	return clone
}

func (t *ReconcileTask) SetContext(ctx context.Context) {
	t.ctx = ctx
}

func (t *ReconcileTask) context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

func (t *ReconcileTask) Validate() error {
	if strings.TrimSpace(t.Source) == "" || strings.TrimSpace(t.Target) == "" {
		return fmt.Errorf("source and target are required arguments")
	}
	if strings.TrimSpace(t.RulesPath) == "" {
		return fmt.Errorf("a rule file is required")
	}

	t.Engine = strings.ToLower(strings.TrimSpace(t.Engine))
	if t.Engine == "" {
		t.Engine = config.EngineVectorized
	}
	switch t.Engine {
	case config.EngineVectorized, config.EnginePushdown, config.EngineAuto:
	default:
		return fmt.Errorf("engine must be one of %s, %s, %s; got %q",
			config.EngineVectorized, config.EnginePushdown, config.EngineAuto, t.Engine)
	}

	if t.BatchSize < 0 {
		return fmt.Errorf("batch size must be positive, got %d", t.BatchSize)
	}
	for side, opts := range map[string]ingest.Options{"source": t.SourceOptions, "target": t.TargetOptions} {
		if opts.SkipRows < 0 {
			return fmt.Errorf("%s skip rows must not be negative", side)
		}
		if opts.HeaderRows != 0 && opts.HeaderRows != 1 && opts.HeaderRows != 2 {
			return fmt.Errorf("%s header rows must be 1 or 2, got %d", side, opts.HeaderRows)
		}
	}
	return nil
}

// RunChecks loads the rule file and both datasets and checks that every
// required column is present.
func (t *ReconcileTask) RunChecks(skipValidation bool) error {
	if !skipValidation {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	model, err := rules.Load(t.RulesPath)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	logger.Debug("Loaded %d field rules from %s", len(model.Fields()), t.RulesPath)

	src, tgt, err := ingest.LoadPair(t.context(), t.Source, t.Target, t.SourceOptions, t.TargetOptions, t.Postgres)
	if err != nil {
		return err
	}
	logger.Info("Loaded %d source rows from %s and %d target rows from %s",
		src.Len(), t.Source, tgt.Len(), t.Target)

	if err := model.CheckColumns(src, tgt); err != nil {
		return err
	}

	t.rules, t.source, t.target = model, src, tgt
	return nil
}

// SelectEngine resolves the configured engine for the given dataset sizes.
func SelectEngine(engine string, sourceRows, targetRows, threshold int, hasStore bool) (string, error) {
	switch engine {
	case config.EnginePushdown:
		if !hasStore {
			return "", recon.Configf("the pushdown engine needs postgres connection settings")
		}
		return pushdown.EnginePushdown, nil
	case config.EngineAuto:
		if hasStore && threshold > 0 && max(sourceRows, targetRows) > threshold {
			return pushdown.EnginePushdown, nil
		}
		return compare.EngineVectorized, nil
	default:
		return compare.EngineVectorized, nil
	}
}

func (t *ReconcileTask) hasStore() bool {
	return strings.TrimSpace(t.Postgres.Host) != "" && strings.TrimSpace(t.Postgres.DBName) != ""
}

func (t *ReconcileTask) strategy(ctx context.Context, engine string) (compare.Strategy, func(), error) {
	if engine != pushdown.EnginePushdown {
		return compare.Vectorized{}, func() {}, nil
	}
	open := t.OpenStore
	if open == nil {
		open = pushdown.Open
	}
	store, err := open(ctx, t.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open relational store: %w", err)
	}
	return pushdown.Pushdown{
		Store:           store,
		Schema:          t.Postgres.StagingSchema,
		InsertBatchSize: t.InsertBatchSize,
	}, store.Close, nil
}

func (t *ReconcileTask) ExecuteTask() (err error) {
	startTime := time.Now()
	ctx := t.context()

	if strings.TrimSpace(t.TaskID) == "" {
		t.TaskID = uuid.NewString()
	}
	t.Task.TaskType = TaskTypeReconcile
	t.Task.StartedAt = startTime
	t.Task.TaskStatus = taskstore.StatusRunning

	recorder := t.startRecord(startTime)
	var engine string
	defer func() {
		finishedAt := time.Now()
		t.Task.FinishedAt = finishedAt
		t.Task.TimeTaken = finishedAt.Sub(startTime).Seconds()
		t.Task.TaskStatus = taskstore.StatusFailed
		if err == nil {
			t.Task.TaskStatus = taskstore.StatusCompleted
		}
		t.finishRecord(recorder, engine, err)
	}()

	if t.rules == nil {
		if err := t.RunChecks(true); err != nil {
			return err
		}
	}

	engine, err = SelectEngine(t.Engine, t.source.Len(), t.target.Len(), t.AutoPushdownRows, t.hasStore())
	if err != nil {
		return err
	}
	if t.Engine == config.EngineAuto {
		logger.Info("Engine auto-selected: %s", engine)
	}

	strategy, closeStore, err := t.strategy(ctx, engine)
	if err != nil {
		return err
	}
	defer closeStore()

	in := compare.Input{
		Rules:           t.rules,
		Source:          t.source,
		Target:          t.target,
		BatchSize:       t.BatchSize,
		DuplicateSample: t.DuplicateSample,
	}
	res, err := t.consume(compare.Start(ctx, strategy, in))
	if err != nil {
		var dup *recon.DuplicateKeyError
		if errors.As(err, &dup) {
			logger.Error("%d duplicate %s rows, e.g. %s", dup.Rows, dup.Side, strings.Join(dup.Sample, ", "))
		}
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	t.Result = res

	report.LogOutcome(res, t.MaxDetailRecords)

	doc := report.Build(report.Meta{
		RunID:      t.TaskID,
		Source:     t.Source,
		Target:     t.Target,
		Rules:      t.RulesPath,
		StartedAt:  startTime,
		FinishedAt: time.Now(),
		TimeTaken:  time.Since(startTime).Round(time.Millisecond).String(),
	}, res, t.source, t.target)
	path, err := report.Write(doc, t.Output)
	if err != nil {
		return err
	}
	t.ReportPath = path
	logger.Info("Report written to %s", path)
	return nil
}

// consume drains the engine's message stream, forwarding log lines to the
// logger and progress to a bar on stderr.
func (t *ReconcileTask) consume(msgs <-chan recon.Message) (*types.Result, error) {
	var (
		p   *mpb.Progress
		bar *mpb.Bar
	)
	if !t.QuietMode {
		p = mpb.New(mpb.WithOutput(os.Stderr))
		bar = p.AddBar(100,
			mpb.PrependDecorators(
				decor.Name("Reconciling: ", decor.WC{W: 14}),
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)
	}

	res, err := compare.Wait(msgs, func(m recon.Message) {
		switch m.Kind {
		case recon.KindLog:
			if t.QuietMode && (m.Level == recon.LevelInfo || m.Level == recon.LevelDebug) {
				return
			}
			logger.Print(m.Level, m.Text)
		case recon.KindProgress:
			if bar != nil {
				bar.SetCurrent(int64(m.Percent))
			}
		}
	})

	if bar != nil {
		if err == nil {
			bar.SetCurrent(100)
		} else {
			bar.Abort(false)
		}
		p.Wait()
	}
	return res, err
}

func (t *ReconcileTask) startRecord(startTime time.Time) *taskstore.Recorder {
	if t.SkipDBUpdate {
		return nil
	}
	rec, err := taskstore.NewRecorder(t.TaskStore, t.HistoryPath)
	if err != nil {
		logger.Warn("recon: unable to initialise run history (%v)", err)
		return nil
	}
	err = rec.Create(taskstore.Record{
		RunID:     t.TaskID,
		Engine:    t.Engine,
		Status:    taskstore.StatusRunning,
		Source:    t.Source,
		Target:    t.Target,
		Rules:     t.RulesPath,
		StartedAt: startTime,
	})
	if err != nil {
		logger.Warn("recon: unable to write initial run status (%v)", err)
	}
	return rec
}

func (t *ReconcileTask) finishRecord(rec *taskstore.Recorder, engine string, runErr error) {
	if rec == nil {
		return
	}
	defer func() {
		if err := rec.Close(); err != nil {
			logger.Warn("recon: failed to close run history (%v)", err)
		}
	}()
	if !rec.Created() {
		return
	}

	update := taskstore.Record{
		RunID:      t.TaskID,
		Engine:     engine,
		Status:     t.Task.TaskStatus,
		ReportPath: t.ReportPath,
		FinishedAt: t.Task.FinishedAt,
		TimeTaken:  t.Task.TimeTaken,
	}
	if t.Result != nil {
		summary := t.Result.Summary
		update.Summary = &summary
	}
	if runErr != nil {
		update.Error = runErr.Error()
	}
	if err := rec.Update(update); err != nil {
		logger.Warn("recon: unable to update run status (%v)", err)
	}
}
