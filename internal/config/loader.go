package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the LLM provider names that ship with personaset.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// envRef matches ${NAME} references. Bare $NAME is left alone so regular
// expressions in the config keep their anchors.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references from the environment, decodes the
// YAML in r, applies defaults and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var missing []string
	expanded := envRef.ReplaceAllStringFunc(string(raw), func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		slog.Warn("config: environment variables not set, substituted empty", "vars", missing)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Persona
	if strings.TrimSpace(cfg.Persona.Speaker) == "" {
		errs = append(errs, errors.New("persona.speaker is required"))
	}
	if strings.TrimSpace(cfg.Persona.SystemPrompt) == "" {
		errs = append(errs, errors.New("persona.system_prompt is required"))
	}
	for from, to := range cfg.Persona.Aliases {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			errs = append(errs, fmt.Errorf("persona.aliases: %q -> %q must not be empty", from, to))
		}
	}

	// Source
	src := cfg.Source
	switch {
	case !src.Kind.IsValid():
		errs = append(errs, fmt.Errorf("source.kind %q is invalid; valid values: csv, jsonl, huggingface", src.Kind))
	case src.Kind == SourceHuggingFace:
		if src.Dataset == "" {
			errs = append(errs, errors.New("source.dataset is required for huggingface sources"))
		}
	default:
		if src.Path == "" {
			errs = append(errs, fmt.Errorf("source.path is required for %s sources", src.Kind))
		}
	}
	if cols := src.Columns; cols.Speaker == cols.Episode || cols.Speaker == cols.Text || cols.Episode == cols.Text {
		errs = append(errs, fmt.Errorf("source.columns must name three distinct columns, got %+v", cols))
	}

	// Cleaner
	cl := cfg.Cleaner
	switch cl.Kind {
	case CleanerLLM:
		if cl.Provider.Name == "" {
			errs = append(errs, errors.New("cleaner.provider.name is required for the llm cleaner"))
		}
		validateProviderName(cl.Provider.Name)
		for i, fb := range cl.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("cleaner.fallbacks[%d].name is required", i))
			}
			validateProviderName(fb.Name)
		}
	case CleanerPattern:
		for i, p := range cl.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("cleaner.patterns[%d]: %w", i, err))
			}
		}
	case CleanerIdentity:
	default:
		errs = append(errs, fmt.Errorf("cleaner.kind %q is invalid; valid values: llm, pattern, identity", cl.Kind))
	}
	if cl.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("cleaner.concurrency %d must not be negative", cl.Concurrency))
	}
	if cl.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("cleaner.call_timeout %v must not be negative", cl.CallTimeout))
	}
	if t := cl.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("cleaner.temperature %.2f is out of range [0, 2]", *t))
	}
	if cl.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("cleaner.retry.max_attempts %d must not be negative", cl.Retry.MaxAttempts))
	}

	// Publish
	if hub := cfg.Publish.Hub; hub.Repo != "" {
		if owner, name, ok := strings.Cut(hub.Repo, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			errs = append(errs, fmt.Errorf("publish.hub.repo %q must have the form owner/name", hub.Repo))
		}
		if hub.Token == "" {
			errs = append(errs, errors.New("publish.hub.token is required when publish.hub.repo is set"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
