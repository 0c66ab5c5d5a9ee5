package scheduler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/recon/pkg/logger"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"5m", 5 * time.Minute, false},
		{" 1h30m ", 90 * time.Minute, false},
		{"", 0, true},
		{"soon", 0, true},
		{"-1m", 0, true},
		{"0s", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseFrequency(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}
}

func TestRunRejectsBadJobs(t *testing.T) {
	ctx := context.Background()
	err := RunSingleJob(ctx, Job{Name: "no-task", Frequency: time.Minute})
	assert.ErrorContains(t, err, "has no task")

	err = RunSingleJob(ctx, Job{Name: "no-timing", Task: func(context.Context) error { return nil }})
	assert.ErrorContains(t, err, "requires either frequency or cron")
}

func TestRunOnStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- RunSingleJob(ctx, Job{
			Name:       "nightly",
			Frequency:  time.Hour,
			RunOnStart: true,
			Task: func(context.Context) error {
				runs.Add(1)
				return nil
			},
		})
	}()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler did not shut down")
	}
}

func TestNoJobs(t *testing.T) {
	assert.NoError(t, RunJobs(context.Background(), nil))
}


func TestExecuteTagsEachRun(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	ids := []string{"run-1", "run-2"}
	m := &Manager{newID: func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}}
	var seen []string
	job := Job{Name: "nightly", Task: func(ctx context.Context) error {
		seen = append(seen, RunID(ctx))
		return nil
	}}
	require.NoError(t, m.execute(context.Background(), job, "start"))
	assert.Equal(t, []string{"run-1"}, seen)
	out := buf.String()
	assert.Contains(t, out, "job=nightly")
	assert.Contains(t, out, "run=run-1")
	assert.Contains(t, out, "trigger=start")

	sentinel := errors.New("source file locked")
	job.Task = func(context.Context) error { return sentinel }
	assert.ErrorIs(t, m.execute(context.Background(), job, "schedule"), sentinel)
	assert.Contains(t, buf.String(), "run=run-2")
	assert.Contains(t, buf.String(), "reconciliation failed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.execute(ctx, job, "schedule"), context.Canceled)
	assert.Empty(t, RunID(context.Background()))
}
