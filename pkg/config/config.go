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

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres  PostgresConfig  `yaml:"postgres"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	History   HistoryConfig   `yaml:"history"`
	Report    ReportConfig    `yaml:"report"`
	Server    ServerConfig    `yaml:"server"`

	ScheduleJobs   []JobDef   `yaml:"schedule_jobs"`
	ScheduleConfig []SchedDef `yaml:"schedule_config"`

	DebugMode bool `yaml:"debug_mode"`
}

type PostgresConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	DBName            string `yaml:"dbname"`
	SSLMode           string `yaml:"sslmode"`
	StagingSchema     string `yaml:"staging_schema"`
	StatementTimeout  int    `yaml:"statement_timeout"`  // ms
	ConnectionTimeout int    `yaml:"connection_timeout"` // s
	MaxConns          int32  `yaml:"max_conns"`
}

type ReconcileConfig struct {
	Engine           string `yaml:"engine"`
	BatchSize        int    `yaml:"batch_size"`
	AutoPushdownRows int    `yaml:"auto_pushdown_rows"`
	MaxDetailRecords int    `yaml:"max_detail_records"`
	DuplicateSample  int    `yaml:"duplicate_sample"`
	InsertBatchSize  int    `yaml:"insert_batch_size"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// ServerConfig enables the HTTP API. TLS is used when a certificate and
// key are set; ClientCAFile additionally requires verified client
// certificates.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
	ClientCAFile  string `yaml:"client_ca_file"`
}

// JobDef names a reconciliation that can be run on a schedule.
type JobDef struct {
	Name   string         `yaml:"name"`
	Source string         `yaml:"source"`
	Target string         `yaml:"target"`
	Rules  string         `yaml:"rules"`
	Args   map[string]any `yaml:"args,omitempty"`
}

type SchedDef struct {
	JobName         string `yaml:"job_name"`
	CrontabSchedule string `yaml:"crontab_schedule,omitempty"`
	RunFrequency    string `yaml:"run_frequency,omitempty"`
	Enabled         bool   `yaml:"enabled"`
}

const (
	EngineVectorized = "vectorized"
	EnginePushdown   = "pushdown"
	EngineAuto       = "auto"
)

// Cfg holds the loaded config for the whole app.
var Cfg *Config

// Defaults returns the configuration used when no file is found.
func Defaults() *Config {
	c := &Config{History: HistoryConfig{Enabled: true}}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "prefer"
	}
	if c.Postgres.StagingSchema == "" {
		c.Postgres.StagingSchema = "public"
	}
	if c.Postgres.ConnectionTimeout == 0 {
		c.Postgres.ConnectionTimeout = 10
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 4
	}
	if c.Reconcile.Engine == "" {
		c.Reconcile.Engine = EngineVectorized
	}
	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = 10000
	}
	if c.Reconcile.AutoPushdownRows <= 0 {
		c.Reconcile.AutoPushdownRows = 1000000
	}
	if c.Reconcile.MaxDetailRecords <= 0 {
		c.Reconcile.MaxDetailRecords = 10000
	}
	if c.Reconcile.DuplicateSample <= 0 {
		c.Reconcile.DuplicateSample = 5
	}
	if c.Reconcile.InsertBatchSize <= 0 {
		c.Reconcile.InsertBatchSize = 5000
	}
	if c.History.Path == "" {
		c.History.Path = "recon_history.db"
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "127.0.0.1"
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "."
	}
}

// Validate rejects settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Reconcile.Engine) {
	case EngineVectorized, EnginePushdown, EngineAuto:
	default:
		return fmt.Errorf("reconcile.engine must be one of %s, %s, %s; got %q",
			EngineVectorized, EnginePushdown, EngineAuto, c.Reconcile.Engine)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.ClientCAFile != "" && c.Server.TLSCertFile == "" {
		return fmt.Errorf("server.client_ca_file requires a server certificate")
	}
	names := make(map[string]bool, len(c.ScheduleJobs))
	for _, job := range c.ScheduleJobs {
		if strings.TrimSpace(job.Name) == "" {
			return fmt.Errorf("schedule_jobs: job name is required")
		}
		if names[job.Name] {
			return fmt.Errorf("schedule_jobs: duplicate job name %q", job.Name)
		}
		names[job.Name] = true
	}
	for _, sched := range c.ScheduleConfig {
		if !names[sched.JobName] {
			return fmt.Errorf("schedule_config: unknown job %q", sched.JobName)
		}
	}
	return nil
}

// HasStore reports whether enough connection settings are present to open
// a relational store.
func (c *Config) HasStore() bool {
	return strings.TrimSpace(c.Postgres.Host) != "" && strings.TrimSpace(c.Postgres.DBName) != ""
}

// Load reads and parses path into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Defaults()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	c.Reconcile.Engine = strings.ToLower(strings.TrimSpace(c.Reconcile.Engine))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Init loads the config and assigns it to the package variable.
func Init(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	Cfg = c
	return nil
}

// Get returns Cfg, falling back to defaults when nothing was loaded.
func Get() *Config {
	if Cfg == nil {
		Cfg = Defaults()
	}
	return Cfg
}
