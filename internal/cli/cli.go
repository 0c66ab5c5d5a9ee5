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

package cli

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/internal/ingest"
	"github.com/pgedge/recon/internal/keys"
	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/internal/scheduler"
	"github.com/pgedge/recon/internal/server"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/report"
	"github.com/pgedge/recon/pkg/taskstore"
	"github.com/urfave/cli/v2"
)

//go:embed default_config.yaml
var defaultConfigYAML string

func setLogLevel(ctx *cli.Context) error {
	if ctx.Bool("debug") || (config.Cfg != nil && config.Cfg.DebugMode) {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	return nil
}

func SetupCLI() *cli.App {
	debugFlag := &cli.BoolFlag{
		Name:    "debug",
		Aliases: []string{"v"},
		Usage:   "Enable debug logging",
		Value:   false,
	}

	runFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     "rules",
			Aliases:  []string{"r"},
			Usage:    "Path to the rule file",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "skip-rows",
			Usage: "Rows to skip before the header in both CSV inputs",
		},
		&cli.IntFlag{
			Name:  "source-skip-rows",
			Usage: "Rows to skip before the header in the source CSV (overrides --skip-rows)",
			Value: -1,
		},
		&cli.IntFlag{
			Name:  "target-skip-rows",
			Usage: "Rows to skip before the header in the target CSV (overrides --skip-rows)",
			Value: -1,
		},
		&cli.IntFlag{
			Name:  "header-rows",
			Usage: "Header rows in both CSV inputs (1 or 2)",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "source-header-rows",
			Usage: "Header rows in the source CSV (overrides --header-rows)",
		},
		&cli.IntFlag{
			Name:  "target-header-rows",
			Usage: "Header rows in the target CSV (overrides --header-rows)",
		},
		&cli.StringFlag{
			Name:    "encoding",
			Aliases: []string{"e"},
			Usage:   "CSV text encoding: utf-8, gbk or gb18030",
			Value:   "utf-8",
		},
		&cli.StringFlag{
			Name:  "engine",
			Usage: "Comparison engine: vectorized, pushdown or auto (default from config)",
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Aliases: []string{"b"},
			Usage:   "Common keys compared per batch (default from config)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Directory for the JSON and HTML reports (default from config)",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress progress and informational output",
		},
		&cli.BoolFlag{
			Name:  "skip-history",
			Usage: "Do not record the run in the history database",
		},
		&cli.BoolFlag{
			Name:    "schedule",
			Aliases: []string{"S"},
			Usage:   "Rerun the reconciliation periodically",
		},
		&cli.StringFlag{
			Name:  "every",
			Usage: "Interval between scheduled runs, e.g. 1h or 30m",
			Value: "1h",
		},
		debugFlag,
	}

	configInitFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "Where to write the config file",
			Value:   "recon.yaml",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Overwrite the file if it already exists",
		},
		&cli.BoolFlag{
			Name:  "stdout",
			Usage: "Print the config to stdout instead of writing a file",
		},
	}

	app := &cli.App{
		Name:  "recon",
		Usage: "Reconcile two tabular datasets under a field rule file",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Manage recon configuration files",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Create a default recon.yaml file",
						Flags:  configInitFlags,
						Action: ConfigInitCLI,
					},
				},
			},
			{
				Name:  "rules",
				Usage: "Inspect rule files",
				Subcommands: []*cli.Command{
					{
						Name:      "validate",
						Usage:     "Parse a rule file and print the comparison plan",
						ArgsUsage: "<rules.yaml>",
						Action:    RulesValidateCLI,
					},
				},
			},
			{
				Name:      "run",
				Usage:     "Reconcile a source dataset against a target dataset",
				ArgsUsage: "<source> <target>",
				Description: "Each dataset is a CSV file or pg:schema.table. Writes " +
					"<source>_vs_<target>_recon-<timestamp>.json and a matching HTML page.",
				Flags:  runFlags,
				Before: setLogLevel,
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 2 {
						return fmt.Errorf("run needs exactly two arguments (usage: <source> <target>)")
					}
					return RunCLI(ctx)
				},
			},
			{
				Name:  "history",
				Usage: "Show previous reconciliation runs",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List recent runs",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:    "limit",
								Aliases: []string{"n"},
								Usage:   "Number of runs to show (0 for all)",
								Value:   20,
							},
						},
						Action: HistoryListCLI,
					},
					{
						Name:      "show",
						Usage:     "Show one run and its summary",
						ArgsUsage: "<run-id>",
						Action:    HistoryShowCLI,
					},
				},
			},
			{
				Name:  "start",
				Usage: "Start the scheduler for configured jobs and the HTTP API",
				Flags: []cli.Flag{
					debugFlag,
					&cli.StringFlag{
						Name:    "component",
						Aliases: []string{"C"},
						Usage:   "Component to start: scheduler, api, or all",
						Value:   "all",
					},
				},
				Before: setLogLevel,
				Action: StartSchedulerCLI,
			},
		},
	}

	return app
}

func initTemplateFile(ctx *cli.Context, content string, defaultPath string, label string, perm os.FileMode) error {
	outputPath := ctx.String("path")
	if outputPath == "" {
		outputPath = defaultPath
	}

	if ctx.Bool("stdout") || outputPath == "-" {
		fmt.Fprintln(ctx.App.Writer, content)
		return nil
	}

	if !ctx.Bool("force") {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("%s already exists at %s (use --force to overwrite)", label, outputPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to verify existing %s at %s: %w", label, outputPath, err)
		}
	}

	dir := filepath.Dir(outputPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputPath, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", label, outputPath, err)
	}

	fmt.Fprintf(ctx.App.Writer, "Wrote %s to %s\n", label, outputPath)
	return nil
}

func ConfigInitCLI(ctx *cli.Context) error {
	return initTemplateFile(ctx, defaultConfigYAML, "recon.yaml", "config file", 0o644)
}

func RulesValidateCLI(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("rules validate needs exactly one argument (usage: <rules.yaml>)")
	}
	model, err := rules.Load(ctx.Args().First())
	if err != nil {
		return err
	}
	return printPlan(ctx.App.Writer, model)
}

func printPlan(w io.Writer, model *rules.Model) error {
	fmt.Fprintf(w, "Primary key: %s\n", strings.Join(model.SourceKeyColumns(), " + "))

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Target", "Type", "Tolerance", "Override", "Notes")
	for _, r := range model.Fields() {
		target := r.TargetField
		if r.Derived() {
			target = "= " + r.Derivation
		}
		var notes []string
		if r.Primary {
			notes = append(notes, "primary")
		}
		if r.Absolute {
			notes = append(notes, "abs")
		}
		if r.Mapping != nil {
			notes = append(notes, fmt.Sprintf("mapped (%d values)", r.Mapping.Len()))
		}
		if r.Booleans != nil {
			notes = append(notes, "boolean synonyms")
		}
		if r.DerivationErr != nil {
			notes = append(notes, "will be skipped: "+r.DerivationErr.Error())
		}
		if err := table.Append([]string{
			r.Field, target, string(r.Type), r.Tolerance.String(), string(r.OverrideKind()), strings.Join(notes, ", "),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func optionsFor(ctx *cli.Context, side string) ingest.Options {
	opts := ingest.Options{
		SkipRows:   ctx.Int("skip-rows"),
		HeaderRows: ctx.Int("header-rows"),
		Encoding:   ctx.String("encoding"),
	}
	if v := ctx.Int(side + "-skip-rows"); v >= 0 {
		opts.SkipRows = v
	}
	if v := ctx.Int(side + "-header-rows"); v > 0 {
		opts.HeaderRows = v
	}
	return opts
}

// newRunTask builds the task for `recon run` from its flags, falling back
// to the loaded configuration.
func newRunTask(ctx *cli.Context) *core.ReconcileTask {
	task := core.NewReconcileTask()
	task.Source = ctx.Args().Get(0)
	task.Target = ctx.Args().Get(1)
	task.RulesPath = ctx.String("rules")
	task.SourceOptions = optionsFor(ctx, "source")
	task.TargetOptions = optionsFor(ctx, "target")
	if v := ctx.String("engine"); v != "" {
		task.Engine = v
	}
	if v := ctx.Int("batch-size"); v > 0 {
		task.BatchSize = v
	}
	if v := ctx.String("output"); v != "" {
		task.Output = v
	}
	task.QuietMode = ctx.Bool("quiet")
	if ctx.Bool("skip-history") {
		task.SkipDBUpdate = true
	}
	return task
}

func RunCLI(ctx *cli.Context) error {
	task := newRunTask(ctx)
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if !ctx.Bool("schedule") {
		task.SetContext(ctx.Context)
		if err := task.RunChecks(true); err != nil {
			return fmt.Errorf("checks failed: %w", err)
		}
		if err := task.ExecuteTask(); err != nil {
			return fmt.Errorf("error during reconciliation: %w", err)
		}
		return nil
	}

	freq, err := scheduler.ParseFrequency(ctx.String("every"))
	if err != nil {
		return err
	}

	job := scheduler.Job{
		Name:       fmt.Sprintf("reconcile:%s:%s", task.Source, task.Target),
		Frequency:  freq,
		RunOnStart: true,
		Task:       scheduler.ReconcileTask(task),
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return scheduler.RunSingleJob(runCtx, job)
}

func openHistory() (*taskstore.Store, error) {
	path := config.Get().History.Path
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no run history at %s: %w", path, err)
	}
	return taskstore.New(path)
}

func HistoryListCLI(ctx *cli.Context) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(ctx.Int("limit"))
	if err != nil {
		return err
	}
	return printHistory(ctx.App.Writer, records)
}

func printHistory(w io.Writer, records []taskstore.Record) error {
	table := tablewriter.NewWriter(w)
	table.Header("Run ID", "Started", "Engine", "Status", "Source", "Target", "Missing", "Extra", "Diffs")
	for _, rec := range records {
		missing, extra, diffs := "-", "-", "-"
		if s := rec.Summary; s != nil {
			missing, extra, diffs = strconv.Itoa(s.Missing), strconv.Itoa(s.Extra), strconv.Itoa(s.Mismatched)
		}
		started := ""
		if !rec.StartedAt.IsZero() {
			started = rec.StartedAt.Local().Format("2006-01-02 15:04:05")
		}
		if err := table.Append([]string{
			rec.RunID, started, rec.Engine, rec.Status, rec.Source, rec.Target, missing, extra, diffs,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func HistoryShowCLI(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("history show needs exactly one argument (usage: <run-id>)")
	}
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(ctx.Args().First())
	if err != nil {
		return err
	}
	return printRun(ctx.App.Writer, rec)
}

func printRun(w io.Writer, rec taskstore.Record) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	rows := [][]string{
		{"Run ID", rec.RunID},
		{"Status", rec.Status},
		{"Engine", rec.Engine},
		{"Source", rec.Source},
		{"Target", rec.Target},
		{"Rules", rec.Rules},
		{"Time taken", strconv.FormatFloat(rec.TimeTaken, 'f', 2, 64) + "s"},
		{"Report", rec.ReportPath},
	}
	if rec.Error != "" {
		rows = append(rows, []string{"Error", rec.Error})
	}
	if s := rec.Summary; s != nil {
		rows = append(rows,
			[]string{"Primary key", keys.Display(strings.Join(s.PrimaryKey, keys.Delimiter))},
			[]string{"Source rows", strconv.Itoa(s.TotalSource)},
			[]string{"Target rows", strconv.Itoa(s.TotalTarget)},
			[]string{"Common keys", strconv.Itoa(s.Common)},
			[]string{"Missing in target", strconv.Itoa(s.Missing)},
			[]string{"Extra in target", strconv.Itoa(s.Extra)},
			[]string{"Mismatched keys", strconv.Itoa(s.Mismatched)},
			[]string{"Mismatch ratio", strconv.FormatFloat(s.MismatchRatio*100, 'f', 2, 64) + "%"},
		)
		if len(s.SkippedFields) > 0 {
			rows = append(rows, []string{"Skipped fields", strings.Join(s.SkippedFields, ", ")})
		}
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if rec.ReportPath == "" {
		return nil
	}
	doc, err := report.Read(rec.ReportPath)
	if err != nil {
		logger.Warn("report not readable: %v", err)
		return nil
	}
	limit := min(len(doc.Diffs), 20)
	for _, d := range doc.Diffs[:limit] {
		fmt.Fprintf(w, "%s: %s\n", keys.Display(d.Key), strings.Join(d.FieldNames(), ", "))
	}
	if len(doc.Diffs) > limit {
		fmt.Fprintf(w, "...%d more\n", len(doc.Diffs)-limit)
	}
	return nil
}

func StartSchedulerCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return fmt.Errorf("configuration not loaded; run inside a directory with recon.yaml or set RECON_CONFIG")
	}

	component := strings.ToLower(strings.TrimSpace(ctx.String("component")))
	runScheduler, runAPI := false, false
	switch component {
	case "", "all":
		runScheduler, runAPI = true, true
	case "scheduler":
		runScheduler = true
	case "api":
		runAPI = true
	default:
		return fmt.Errorf("invalid component %q (expected scheduler, api, or all)", component)
	}

	jobs, err := scheduler.BuildJobsFromConfig(config.Cfg)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	type runner struct {
		name string
		run  func(context.Context) error
	}
	var runners []runner

	if runScheduler {
		if len(jobs) == 0 {
			logger.Info("scheduler: no enabled jobs found in configuration")
		} else {
			for _, job := range jobs {
				logger.Info("scheduler: registering job %s", job.Name)
			}
			runners = append(runners, runner{
				name: "scheduler",
				run: func(ctx context.Context) error {
					return scheduler.RunJobs(ctx, jobs)
				},
			})
		}
	}

	if runAPI {
		if config.Cfg.Server.ListenPort > 0 {
			apiServer, err := server.New(config.Cfg)
			if err != nil {
				return fmt.Errorf("api server init failed: %w", err)
			}
			runners = append(runners, runner{name: "api-server", run: apiServer.Run})
		} else if component == "api" {
			return fmt.Errorf("api server requested but server.listen_port is not set")
		} else {
			logger.Info("api server not started: server.listen_port is not set")
		}
	}

	if len(runners) == 0 {
		return nil
	}

	errCh := make(chan error, len(runners))
	for _, r := range runners {
		go func(r runner) {
			errCh <- r.run(runCtx)
		}(r)
	}

	for range runners {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			stop()
			return err
		}
	}
	return nil
}
