package config

import "time"

// ReportConfig bounds every loop and resource used by one report generation run.
type ReportConfig struct {
	// PlannerMaxIterations caps planner turns before the outline is declared failed.
	PlannerMaxIterations int `yaml:"planner_max_iterations"`

	// ResearcherMaxIterations caps model turns per section.
	ResearcherMaxIterations int `yaml:"researcher_max_iterations"`

	// MaxSearches is the number of Search calls after which the researcher
	// is steered toward emitting its section.
	MaxSearches int `yaml:"max_searches"`

	// TranslationRetries is how many extra NL2SQL attempts a failed search gets.
	TranslationRetries int `yaml:"translation_retries"`

	// HeartbeatInterval is the fan-in poll interval; an idle interval emits a heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxConcurrentSections bounds researchers running at once for one report.
	MaxConcurrentSections int `yaml:"max_concurrent_sections"`

	// QueryTimeout is the hard wall-clock limit for one sandboxed query.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// SandboxRole is the database role sandboxed queries run as. It must
	// not hold privileges on application tables.
	SandboxRole string `yaml:"sandbox_role"`

	// SearchMaxRows truncates sandbox results fed back to researchers.
	SearchMaxRows int `yaml:"search_max_rows"`

	// SQLLimitCap is the LIMIT enforced on translated SQL.
	SQLLimitCap int `yaml:"sql_limit_cap"`

	// ChartMaxRows caps rows handed to the chart agent and rendered per chart.
	ChartMaxRows int `yaml:"chart_max_rows"`

	// DatasetCacheTTL is how long loaded datasets stay in memory.
	DatasetCacheTTL time.Duration `yaml:"dataset_cache_ttl"`

	// EventTTL is the maximum age of persisted telemetry events.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often expired events are removed.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultReportConfig returns the built-in report defaults.
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		PlannerMaxIterations:    5,
		ResearcherMaxIterations: 15,
		MaxSearches:             8,
		TranslationRetries:      3,
		HeartbeatInterval:       15 * time.Second,
		MaxConcurrentSections:   4,
		QueryTimeout:            30 * time.Second,
		SandboxRole:             "deepreport_sandbox",
		SearchMaxRows:           500,
		SQLLimitCap:             200,
		ChartMaxRows:            100,
		DatasetCacheTTL:         30 * time.Minute,
		EventTTL:                24 * time.Hour,
		CleanupInterval:         1 * time.Hour,
	}
}
