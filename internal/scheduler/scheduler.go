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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/pgedge/recon/pkg/logger"
)

// Job is a scheduled reconciliation. Exactly one of Frequency or Cron
// must be set. A run that is still going when the next tick fires is not
// started twice.
type Job struct {
	Name       string
	Frequency  time.Duration
	Cron       string
	RunOnStart bool
	Task       func(context.Context) error
}

type runIDKey struct{}

// WithRunID tags ctx with the id of one execution of a job.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the execution id set by WithRunID, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

type Manager struct {
	scheduler gocron.Scheduler
	jobs      []Job
	newID     func() string
}

func NewManager() (*Manager, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Manager{scheduler: sched, newID: uuid.NewString}, nil
}

func (m *Manager) AddJob(job Job) {
	m.jobs = append(m.jobs, job)
}

func (m *Manager) definition(job Job) (gocron.JobDefinition, error) {
	switch {
	case job.Cron != "":
		return gocron.CronJob(job.Cron, false), nil
	case job.Frequency > 0:
		return gocron.DurationJob(job.Frequency), nil
	default:
		return nil, fmt.Errorf("scheduler: job %q requires either frequency or cron", job.Name)
	}
}

// execute runs one reconciliation of job under a fresh run id. Failures
// are logged and do not stop the schedule.
func (m *Manager) execute(ctx context.Context, job Job, trigger string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	id := m.newID()
	log := logger.For("job", job.Name, "run", id)
	log.Info("reconciliation started", "trigger", trigger)
	start := time.Now()
	if err := job.Task(WithRunID(ctx, id)); err != nil {
		log.Error("reconciliation failed", "err", err)
		return err
	}
	log.Info("reconciliation finished", "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func (m *Manager) Run(ctx context.Context) error {
	if len(m.jobs) == 0 {
		logger.Info("scheduler: no jobs registered; exiting")
		return nil
	}

	for _, job := range m.jobs {
		if job.Task == nil {
			return fmt.Errorf("scheduler: job %q has no task", job.Name)
		}
		def, err := m.definition(job)
		if err != nil {
			return err
		}
		if job.RunOnStart {
			_ = m.execute(ctx, job, "start")
		}

		gJob, err := m.scheduler.NewJob(def,
			gocron.NewTask(func(job Job) { _ = m.execute(ctx, job, "schedule") }, job),
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("scheduler: schedule job %q: %w", job.Name, err)
		}
		logger.For("job", job.Name).Info("scheduled", "id", gJob.ID(), "every", describe(job))
	}

	m.scheduler.Start()
	<-ctx.Done()
	logger.Info("scheduler: shutting down")
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}

func describe(job Job) string {
	if job.Cron != "" {
		return "cron " + job.Cron
	}
	return job.Frequency.String()
}

func RunJobs(ctx context.Context, jobs []Job) error {
	manager, err := NewManager()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		manager.AddJob(job)
	}
	return manager.Run(ctx)
}

func RunSingleJob(ctx context.Context, job Job) error {
	return RunJobs(ctx, []Job{job})
}

func ParseFrequency(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("frequency string cannot be empty")
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse frequency %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("frequency must be positive: %s", raw)
	}
	return d, nil
}
