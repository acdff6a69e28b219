package config

// Config is the root configuration structure for scanpipe.
// Serialised to ~/.scanpipe/config.json.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    json:"server"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"  json:"pipeline"`
	Analyzers AnalyzersConfig `mapstructure:"analyzers" json:"analyzers"`
	Ingest    IngestConfig    `mapstructure:"ingest"    json:"ingest"`
	Enhance   EnhanceConfig   `mapstructure:"enhance"   json:"enhance"`
	AI        AIConfig        `mapstructure:"ai"        json:"ai"`
	Storage   StorageConfig   `mapstructure:"storage"   json:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"  json:"database"`
}

// ServerConfig controls the HTTP gateway.
type ServerConfig struct {
	// Host to bind; default 127.0.0.1.
	Host string `mapstructure:"host" json:"host"`
	// Port the gateway listens on (default: 6280).
	Port int `mapstructure:"port" json:"port"`
}

// PipelineConfig controls the scan job executor.
type PipelineConfig struct {
	// Workers is the number of jobs that may run concurrently.
	Workers int `mapstructure:"workers" json:"workers"`
	// QueueDepth bounds the number of queued-but-not-running jobs.
	QueueDepth int `mapstructure:"queue_depth" json:"queue_depth"`
	// ToolTimeoutSeconds is the default per-adapter timeout.
	ToolTimeoutSeconds int `mapstructure:"tool_timeout_seconds" json:"tool_timeout_seconds"`
	// RetentionHours is how long terminal jobs and their artifacts are kept.
	RetentionHours int `mapstructure:"retention_hours" json:"retention_hours"`
	// JanitorSchedule is the cron expression driving retention sweeps.
	JanitorSchedule string `mapstructure:"janitor_schedule" json:"janitor_schedule"`
}

// AnalyzersConfig controls which tool adapters run and how.
type AnalyzersConfig struct {
	// Default lists the adapters used when a request names none.
	Default []string `mapstructure:"default" json:"default"`
	// BinDir is where analyzer binaries are looked up before PATH.
	BinDir string `mapstructure:"bin_dir" json:"bin_dir"`
	// ProfilePath points at a YAML ruleset profile (optional).
	ProfilePath string `mapstructure:"profile_path" json:"profile_path"`
}

// IngestConfig controls source fetching.
type IngestConfig struct {
	// MaxRepoKB rejects git repositories whose reported size exceeds this.
	MaxRepoKB int64 `mapstructure:"max_repo_kb" json:"max_repo_kb"`
	// MaxArchiveBytes bounds the total uncompressed size of an uploaded archive.
	MaxArchiveBytes int64 `mapstructure:"max_archive_bytes" json:"max_archive_bytes"`
	// CloneTimeoutSeconds bounds a single clone or extract operation.
	CloneTimeoutSeconds int            `mapstructure:"clone_timeout_seconds" json:"clone_timeout_seconds"`
	GitHub              []GitHubConfig `mapstructure:"github" json:"github"`
	GitLab              []GitLabConfig `mapstructure:"gitlab" json:"gitlab"`
}

// GitHubConfig holds credentials for a single GitHub instance.
type GitHubConfig struct {
	Token string `mapstructure:"token" json:"token"`
	// Host allows enterprise GitHub (e.g. github.mycompany.com).
	Host string `mapstructure:"host"  json:"host"`
}

// GitLabConfig holds credentials for a single GitLab instance.
type GitLabConfig struct {
	Token string `mapstructure:"token" json:"token"`
	Host  string `mapstructure:"host"  json:"host"`
}

// EnhanceConfig controls the AI enhancement coordinator.
type EnhanceConfig struct {
	// Auto triggers enhancement as soon as a job completes.
	Auto bool `mapstructure:"auto" json:"auto"`
	// Workers bounds concurrent enhancement passes (separate from pipeline workers).
	Workers int `mapstructure:"workers" json:"workers"`
	// MinSeverity is the lowest severity that still qualifies a report
	// for enhancement; reports with nothing at or above it are skipped.
	MinSeverity string `mapstructure:"min_severity" json:"min_severity"`
	// TimeoutSeconds bounds one full enhancement pass.
	TimeoutSeconds int `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	// MaxIssues caps how many issues are sent to the provider.
	MaxIssues int `mapstructure:"max_issues" json:"max_issues"`
	// MaxIssuesPerFile caps issues taken from any single file.
	MaxIssuesPerFile int `mapstructure:"max_issues_per_file" json:"max_issues_per_file"`
	// MaxFileBytes caps the source excerpt attached per file.
	MaxFileBytes int `mapstructure:"max_file_bytes" json:"max_file_bytes"`
}

// AIConfig controls the AI provider used for enhancement.
type AIConfig struct {
	// Provider is "openai", "anthropic", "chain", or "" (disabled).
	Provider     string `mapstructure:"provider"          json:"provider"`
	OpenAIKey    string `mapstructure:"openai_api_key"    json:"openai_api_key"`
	AnthropicKey string `mapstructure:"anthropic_api_key" json:"anthropic_api_key"`
	Model        string `mapstructure:"model"             json:"model"`
	// BaseURL overrides the OpenAI endpoint (useful for Azure or proxies).
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// StorageConfig controls where workspaces and report artifacts live.
type StorageConfig struct {
	// BaseDir is the root under which reports/, jobs/ and work/ are created.
	BaseDir string `mapstructure:"base_dir" json:"base_dir"`
}

// DatabaseConfig controls the job index backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}
