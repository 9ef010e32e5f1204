// Package config provides the configuration schema, loader and provider
// registry for personaset.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SourceKind selects where the transcript is read from.
type SourceKind string

const (
	// SourceCSV reads a CSV file with a header row.
	SourceCSV SourceKind = "csv"

	// SourceJSONL reads one JSON object per line.
	SourceJSONL SourceKind = "jsonl"

	// SourceHuggingFace pages through the Hugging Face datasets-server rows API.
	SourceHuggingFace SourceKind = "huggingface"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceCSV, SourceJSONL, SourceHuggingFace:
		return true
	}
	return false
}

// CleanerKind selects the text cleaner implementation.
type CleanerKind string

const (
	// CleanerLLM cleans through a language model provider.
	CleanerLLM CleanerKind = "llm"

	// CleanerPattern strips regular expression matches.
	CleanerPattern CleanerKind = "pattern"

	// CleanerIdentity leaves text unchanged.
	CleanerIdentity CleanerKind = "identity"
)

// IsValid reports whether k is a recognised cleaner kind.
func (k CleanerKind) IsValid() bool {
	switch k {
	case CleanerLLM, CleanerPattern, CleanerIdentity:
		return true
	}
	return false
}

// Config is the root configuration structure for personaset.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	Persona   PersonaConfig   `yaml:"persona"`
	Source    SourceConfig    `yaml:"source"`
	Cleaner   CleanerConfig   `yaml:"cleaner"`
	Publish   PublishConfig   `yaml:"publish"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PersonaConfig names the character whose replies become assistant turns.
type PersonaConfig struct {
	// Speaker is the exact speaker label of the persona in the transcript.
	Speaker string `yaml:"speaker"`

	// SystemPrompt is the system turn of every record.
	SystemPrompt string `yaml:"system_prompt"`

	// Aliases maps alternative speaker labels to canonical ones before
	// pairing, e.g. "Rick (C-137)" to "Rick".
	Aliases map[string]string `yaml:"aliases"`
}

// SourceConfig describes the transcript input.
type SourceConfig struct {
	Kind SourceKind `yaml:"kind"`

	// Path is the input file for csv and jsonl sources.
	Path string `yaml:"path"`

	// Dataset is the Hugging Face dataset id, e.g. "owner/name".
	Dataset string `yaml:"dataset"`

	// Subset is the dataset config name. Default: "default".
	Subset string `yaml:"subset"`

	// Split is the dataset split. Default: "train".
	Split string `yaml:"split"`

	// BaseURL overrides the datasets-server endpoint.
	BaseURL string `yaml:"base_url"`

	// Token authenticates against Hugging Face for gated datasets.
	Token string `yaml:"token"`

	Columns ColumnsConfig `yaml:"columns"`
}

// ColumnsConfig maps source column names onto transcript fields.
type ColumnsConfig struct {
	Speaker string `yaml:"speaker"`
	Episode string `yaml:"episode"`
	Text    string `yaml:"text"`
}

// CleanerConfig configures the cleaning stage.
type CleanerConfig struct {
	// Kind selects the cleaner. Default: llm.
	Kind CleanerKind `yaml:"kind"`

	// Provider is the primary model backend for the llm cleaner.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary fails or its circuit is
	// open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Patterns are the regular expressions for the pattern cleaner.
	// Default: a single lower-case stage-direction prefix pattern.
	Patterns []string `yaml:"patterns"`

	// Instruction overrides the built-in cleaning instruction.
	Instruction string `yaml:"instruction"`

	// Concurrency bounds the number of cleaning calls in flight. Default: 8.
	Concurrency int `yaml:"concurrency"`

	// CallTimeout bounds a single cleaning call. Default: 60s.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Temperature is the sampling temperature for the llm cleaner.
	// Default: 0.1.
	Temperature *float64 `yaml:"temperature"`

	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig controls per-call retries of the cleaner.
type RetryConfig struct {
	// MaxAttempts includes the first try. Default: 3. Set to 1 to disable.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the first wait; it doubles per attempt. Default: 1s.
	Backoff time.Duration `yaml:"backoff"`
}

// CircuitBreakerConfig tunes the per-provider circuit breakers.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the common configuration block for a model backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// PublishConfig lists the dataset sinks. Every configured sink receives the
// cleaned dataset; unconfigured sinks are skipped.
type PublishConfig struct {
	JSONL    JSONLConfig    `yaml:"jsonl"`
	Hub      HubConfig      `yaml:"hub"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// JSONLConfig writes ShareGPT JSON lines to a local file.
type JSONLConfig struct {
	Path string `yaml:"path"`
}

// HubConfig commits the dataset file to a Hugging Face dataset repository.
type HubConfig struct {
	// Repo is the target dataset repository, "owner/name".
	Repo string `yaml:"repo"`

	// Token is a write token for Repo.
	Token string `yaml:"token"`

	// Private creates the repository as private when it does not exist yet.
	Private bool `yaml:"private"`

	// PathInRepo is the file path inside the repository.
	// Default: "data/train.jsonl".
	PathInRepo string `yaml:"path_in_repo"`

	// Branch is the target revision. Default: "main".
	Branch string `yaml:"branch"`

	// BaseURL overrides the Hub endpoint.
	BaseURL string `yaml:"base_url"`
}

// PostgresConfig stores records and cleaning failures in PostgreSQL.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`

	// Dataset names the dataset the records belong to. Default: the persona
	// speaker, lower-cased.
	Dataset string `yaml:"dataset"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	// MetricsAddr enables a Prometheus /metrics endpoint on this address
	// while the pipeline runs. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// ServiceName is reported in telemetry. Default: "personaset".
	ServiceName string `yaml:"service_name"`
}
