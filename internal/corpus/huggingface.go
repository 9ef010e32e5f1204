package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/personaset/internal/resilience"
	"github.com/MrWong99/personaset/pkg/dataset"
)

const (
	defaultRowsBaseURL = "https://datasets-server.huggingface.co"

	// maxPageSize is the largest page the rows API serves.
	maxPageSize = 100
)

// HFOption is a functional option for [NewHuggingFace].
type HFOption func(*HFSource)

// WithRowsBaseURL overrides the datasets-server endpoint.
func WithRowsBaseURL(u string) HFOption {
	return func(s *HFSource) {
		s.baseURL = u
	}
}

// WithToken authenticates requests, required for gated datasets.
func WithToken(token string) HFOption {
	return func(s *HFSource) {
		s.token = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HFOption {
	return func(s *HFSource) {
		s.client = c
	}
}

// WithPageSize sets rows per request, capped at 100.
func WithPageSize(n int) HFOption {
	return func(s *HFSource) {
		s.pageSize = min(max(n, 1), maxPageSize)
	}
}

// WithRetry tunes retries of failed page requests.
func WithRetry(cfg resilience.RetryConfig) HFOption {
	return func(s *HFSource) {
		s.retry = cfg
	}
}

// HFSource pages through one split of a Hugging Face dataset.
type HFSource struct {
	client   *http.Client
	baseURL  string
	token    string
	dataset  string
	subset   string
	split    string
	pageSize int
	cols     Columns
	retry    resilience.RetryConfig
}

var _ Source = (*HFSource)(nil)

// NewHuggingFace returns a source for the given dataset id, config name
// (subset) and split.
func NewHuggingFace(datasetID, subset, split string, cols Columns, opts ...HFOption) *HFSource {
	s := &HFSource{
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURL:  defaultRowsBaseURL,
		dataset:  datasetID,
		subset:   subset,
		split:    split,
		pageSize: maxPageSize,
		cols:     cols,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements [Source].
func (s *HFSource) Name() string { return "huggingface:" + s.dataset + "/" + s.split }

// rowsPage is the subset of the rows API response that is used.
type rowsPage struct {
	Rows []struct {
		RowIdx int            `json:"row_idx"`
		Row    map[string]any `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// Read implements [Source]. Rows are returned in row_idx order.
func (s *HFSource) Read(ctx context.Context) ([]dataset.TranscriptLine, error) {
	var lines []dataset.TranscriptLine
	for offset := 0; ; {
		page, err := s.fetch(ctx, offset)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Rows {
			if r.RowIdx != offset {
				return nil, fmt.Errorf("corpus: huggingface: expected row %d, got %d", offset, r.RowIdx)
			}
			lines = append(lines, s.cols.lineFromRow(r.Row))
			offset++
		}
		slog.Debug("corpus: fetched rows page", "dataset", s.dataset, "rows", offset, "total", page.NumRowsTotal)
		if len(page.Rows) == 0 || offset >= page.NumRowsTotal {
			return lines, nil
		}
	}
}

// fetch requests one page, retrying rate limits and server errors.
func (s *HFSource) fetch(ctx context.Context, offset int) (*rowsPage, error) {
	q := url.Values{}
	q.Set("dataset", s.dataset)
	q.Set("config", s.subset)
	q.Set("split", s.split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(s.pageSize))
	endpoint := s.baseURL + "/rows?" + q.Encode()

	var page rowsPage
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return resilience.Permanent(err)
		}
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := fmt.Errorf("status %d: %s", resp.StatusCode, body)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return err
			}
			return resilience.Permanent(err)
		}

		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		page = rowsPage{}
		if err := dec.Decode(&page); err != nil {
			return resilience.Permanent(fmt.Errorf("decode: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("corpus: huggingface rows offset %d: %w", offset, err)
	}
	return &page, nil
}
