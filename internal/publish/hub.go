package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/personaset/internal/resilience"
	"github.com/MrWong99/personaset/pkg/dataset"
)

const defaultHubURL = "https://huggingface.co"

// HubConfig describes a Hugging Face dataset repository to commit to.
type HubConfig struct {
	// Repo is "owner/name".
	Repo string

	Token   string
	Private bool

	// PathInRepo is the file the dataset is written to, e.g. "data/train.jsonl".
	PathInRepo string

	// Branch defaults to "main".
	Branch string

	// BaseURL overrides https://huggingface.co.
	BaseURL string

	// Key is the JSONL column holding each conversation.
	Key string

	Retry  resilience.RetryConfig
	Client *http.Client
}

// HubSink commits the dataset as a single JSONL file to a Hugging Face
// dataset repository, creating the repository when it does not exist.
type HubSink struct {
	cfg HubConfig
}

var _ Sink = (*HubSink)(nil)

// NewHub validates cfg and returns a [HubSink].
func NewHub(cfg HubConfig) (*HubSink, error) {
	owner, name, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("publish: hub repo %q must be owner/name", cfg.Repo)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("publish: hub token is required")
	}
	if cfg.PathInRepo == "" {
		cfg.PathInRepo = "data/train.jsonl"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultHubURL
	}
	if cfg.Key == "" {
		cfg.Key = dataset.KeyConversations
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HubSink{cfg: cfg}, nil
}

// Name implements [Sink].
func (s *HubSink) Name() string { return "hub" }

// Publish implements [Sink].
func (s *HubSink) Publish(ctx context.Context, d dataset.Dataset) error {
	if err := s.ensureRepo(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := dataset.WriteJSONL(&buf, s.cfg.Key, d); err != nil {
		return fmt.Errorf("publish: hub: %w", err)
	}
	body, err := s.commitBody(buf.Bytes(), len(d))
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/datasets/%s/commit/%s", s.cfg.BaseURL, s.cfg.Repo, url.PathEscape(s.cfg.Branch))
	return resilience.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		_, err := s.do(ctx, http.MethodPost, endpoint, "application/x-ndjson", body)
		if err != nil {
			return fmt.Errorf("publish: hub commit: %w", err)
		}
		return nil
	})
}

// ensureRepo creates the dataset repository. An existing repository is not
// an error.
func (s *HubSink) ensureRepo(ctx context.Context) error {
	owner, name, _ := strings.Cut(s.cfg.Repo, "/")
	payload, err := json.Marshal(map[string]any{
		"type":         "dataset",
		"name":         name,
		"organization": owner,
		"private":      s.cfg.Private,
	})
	if err != nil {
		return fmt.Errorf("publish: hub: %w", err)
	}
	return resilience.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		status, err := s.do(ctx, http.MethodPost, s.cfg.BaseURL+"/api/repos/create", "application/json", payload)
		if err != nil && status != http.StatusConflict {
			return fmt.Errorf("publish: hub create repo: %w", err)
		}
		return nil
	})
}

// commitBody builds the NDJSON commit payload: a header line followed by
// one base64 file operation.
func (s *HubSink) commitBody(content []byte, records int) ([]byte, error) {
	type op struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ops := []op{
		{Key: "header", Value: map[string]string{
			"summary":     fmt.Sprintf("Upload %s (%d records)", s.cfg.PathInRepo, records),
			"description": "Written by personaset.",
		}},
		{Key: "file", Value: map[string]string{
			"path":     s.cfg.PathInRepo,
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString(content),
		}},
	}
	for _, o := range ops {
		if err := enc.Encode(o); err != nil {
			return nil, fmt.Errorf("publish: hub: encode commit: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// do sends one authenticated request and returns the status code. Non-2xx
// responses are errors; client errors other than 429 are permanent.
func (s *HubSink) do(ctx context.Context, method, endpoint, contentType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, resilience.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("%s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return resp.StatusCode, err
	}
	return resp.StatusCode, resilience.Permanent(err)
}
