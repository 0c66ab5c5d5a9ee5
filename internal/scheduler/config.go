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

package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/pkg/config"
)

type scheduleSpec struct {
	frequency time.Duration
	cron      string
}

// BuildJobsFromConfig returns one job per enabled schedule_config entry.
func BuildJobsFromConfig(cfg *config.Config) ([]Job, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scheduler: configuration is not initialised")
	}

	jobDefs := make(map[string]config.JobDef, len(cfg.ScheduleJobs))
	for _, def := range cfg.ScheduleJobs {
		jobDefs[def.Name] = def
	}

	var jobs []Job
	for _, sched := range cfg.ScheduleConfig {
		if !sched.Enabled {
			continue
		}
		def, ok := jobDefs[sched.JobName]
		if !ok {
			return nil, fmt.Errorf("scheduler: job definition %q not found", sched.JobName)
		}
		spec, err := specFromConfig(sched)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", def.Name, err)
		}
		job, err := buildReconcileJob(def, spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", def.Name, err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func specFromConfig(def config.SchedDef) (scheduleSpec, error) {
	var spec scheduleSpec

	if strings.TrimSpace(def.CrontabSchedule) != "" {
		spec.cron = strings.TrimSpace(def.CrontabSchedule)
	}
	if strings.TrimSpace(def.RunFrequency) != "" {
		freq, err := ParseFrequency(def.RunFrequency)
		if err != nil {
			return scheduleSpec{}, err
		}
		spec.frequency = freq
	}

	if spec.cron == "" && spec.frequency == 0 {
		return scheduleSpec{}, fmt.Errorf("either run_frequency or crontab_schedule must be set")
	}
	if spec.cron != "" && spec.frequency > 0 {
		return scheduleSpec{}, fmt.Errorf("cannot set both run_frequency and crontab_schedule")
	}

	return spec, nil
}

// BaseTask builds the reconciliation a job definition describes.
func BaseTask(def config.JobDef) (*core.ReconcileTask, error) {
	if strings.TrimSpace(def.Source) == "" || strings.TrimSpace(def.Target) == "" {
		return nil, fmt.Errorf("source and target are required for reconcile jobs")
	}
	if strings.TrimSpace(def.Rules) == "" {
		return nil, fmt.Errorf("rules is required for reconcile jobs")
	}

	base := core.NewReconcileTask()
	base.Source = def.Source
	base.Target = def.Target
	base.RulesPath = def.Rules

	if engine := stringArg(def.Args, "engine"); engine != "" {
		base.Engine = engine
	}
	if v := intArg(def.Args, "batch_size", 0); v > 0 {
		base.BatchSize = v
	}
	skip := intArg(def.Args, "skip_rows", 0)
	base.SourceOptions.SkipRows = intArg(def.Args, "source_skip_rows", skip)
	base.TargetOptions.SkipRows = intArg(def.Args, "target_skip_rows", skip)
	headers := intArg(def.Args, "header_rows", 1)
	base.SourceOptions.HeaderRows = intArg(def.Args, "source_header_rows", headers)
	base.TargetOptions.HeaderRows = intArg(def.Args, "target_header_rows", headers)
	encoding := stringArg(def.Args, "encoding")
	base.SourceOptions.Encoding = encoding
	base.TargetOptions.Encoding = encoding
	if out := stringArg(def.Args, "output"); out != "" {
		base.Output = out
	}
	base.QuietMode = boolArg(def.Args, "quiet", true)
	base.SkipDBUpdate = boolArg(def.Args, "skip_db_update", base.SkipDBUpdate)
	if path := stringArg(def.Args, "history_path"); path != "" {
		base.HistoryPath = path
	}

	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

func buildReconcileJob(def config.JobDef, spec scheduleSpec) (Job, error) {
	base, err := BaseTask(def)
	if err != nil {
		return Job{}, err
	}
	return Job{
		Name:       jobName(def, base),
		Frequency:  spec.frequency,
		Cron:       spec.cron,
		RunOnStart: true,
		Task:       ReconcileTask(base),
	}, nil
}

// ReconcileTask runs a fresh copy of base on every tick.
func ReconcileTask(base *core.ReconcileTask) func(context.Context) error {
	return func(ctx context.Context) error {
		runTask := base.CloneForSchedule(ctx)
		runTask.TaskID = RunID(ctx)
		if err := runTask.RunChecks(false); err != nil {
			return fmt.Errorf("checks failed: %w", err)
		}
		if err := runTask.ExecuteTask(); err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
		return nil
	}
}

func jobName(def config.JobDef, base *core.ReconcileTask) string {
	if strings.TrimSpace(def.Name) != "" {
		return def.Name
	}
	return fmt.Sprintf("reconcile:%s:%s", base.Source, base.Target)
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	if args == nil {
		return defaultVal
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			parsed, err := strconv.ParseBool(v)
			if err == nil {
				return parsed
			}
		case int:
			return v != 0
		}
	}
	return defaultVal
}

func intArg(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return defaultVal
}
