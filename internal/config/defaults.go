package config

import (
	"strings"
	"time"
)

// Defaults recovered from the Rick and Morty pipeline this tool grew out of.
const (
	DefaultSpeaker = "Rick"

	DefaultSystemPrompt = "You are an interdimensional genius scientist named Rick Sanchez.\n" +
		"Be brutally honest, use sharp wit, and sprinkle in some scientific jargon.\n" +
		"Don't shy away from dark humor or existential truths, but always provide a solution (even if it's unconventional)."

	DefaultHFDataset = "Prarabdha/Rick_and_Morty_Transcript"
	DefaultModel     = "gpt-4o-mini"
)

// ApplyDefaults fills zero-valued fields of cfg with their defaults. It is
// called by [LoadFromReader] before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}

	if cfg.Persona.Speaker == "" {
		cfg.Persona.Speaker = DefaultSpeaker
		if cfg.Persona.SystemPrompt == "" {
			cfg.Persona.SystemPrompt = DefaultSystemPrompt
		}
	}

	applySourceDefaults(&cfg.Source)
	applyCleanerDefaults(&cfg.Cleaner)

	if cfg.Publish.Hub.Repo != "" {
		if cfg.Publish.Hub.PathInRepo == "" {
			cfg.Publish.Hub.PathInRepo = "data/train.jsonl"
		}
		if cfg.Publish.Hub.Branch == "" {
			cfg.Publish.Hub.Branch = "main"
		}
	}
	if cfg.Publish.Postgres.DSN != "" && cfg.Publish.Postgres.Dataset == "" {
		cfg.Publish.Postgres.Dataset = strings.ToLower(cfg.Persona.Speaker)
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "personaset"
	}
}

func applySourceDefaults(s *SourceConfig) {
	if s.Kind == "" {
		s.Kind = SourceHuggingFace
	}
	if s.Kind == SourceHuggingFace {
		if s.Dataset == "" {
			s.Dataset = DefaultHFDataset
		}
		if s.Subset == "" {
			s.Subset = "default"
		}
		if s.Split == "" {
			s.Split = "train"
		}
		// The upstream dataset spells its text column "dialouge".
		if s.Dataset == DefaultHFDataset && s.Columns == (ColumnsConfig{}) {
			s.Columns = ColumnsConfig{Speaker: "speaker", Episode: "episode no.", Text: "dialouge"}
		}
	}
	if s.Columns.Speaker == "" {
		s.Columns.Speaker = "speaker"
	}
	if s.Columns.Episode == "" {
		s.Columns.Episode = "episode_id"
	}
	if s.Columns.Text == "" {
		s.Columns.Text = "text"
	}
}

func applyCleanerDefaults(c *CleanerConfig) {
	if c.Kind == "" {
		c.Kind = CleanerLLM
	}
	if c.Kind == CleanerLLM {
		if c.Provider.Name == "" {
			c.Provider.Name = "openai"
		}
		if c.Provider.Model == "" && c.Provider.Name == "openai" {
			c.Provider.Model = DefaultModel
		}
	}
	if c.Concurrency == 0 {
		c.Concurrency = 8
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.Temperature == nil {
		t := 0.1
		c.Temperature = &t
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = time.Second
	}
}
