package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrWong99/personaset/pkg/dataset"
)

// maxLineBytes bounds a single JSONL line.
const maxLineBytes = 4 << 20

// CSVSource reads a CSV file whose first row is a header.
type CSVSource struct {
	path string
	cols Columns
}

var _ Source = (*CSVSource)(nil)

// NewCSV returns a [CSVSource] for path.
func NewCSV(path string, cols Columns) *CSVSource {
	return &CSVSource{path: path, cols: cols}
}

// Name implements [Source].
func (s *CSVSource) Name() string { return "csv:" + s.path }

// Read implements [Source].
func (s *CSVSource) Read(_ context.Context) ([]dataset.TranscriptLine, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %q: %w", s.path, err)
	}
	defer f.Close()
	return ReadCSV(f, s.cols)
}

// ReadCSV decodes CSV from r. The header row must contain every column named
// in cols; extra columns are ignored. Rows may have any number of fields.
func ReadCSV(r io.Reader, cols Columns) ([]dataset.TranscriptLine, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("corpus: read csv header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		// Strip a UTF-8 byte order mark from the first header cell.
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		pos[h] = i
	}
	idx := [3]int{}
	var missing []string
	for k, name := range [3]string{cols.Speaker, cols.Episode, cols.Text} {
		i, ok := pos[name]
		if !ok {
			missing = append(missing, name)
		}
		idx[k] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("corpus: csv header %v lacks columns %q", header, missing)
	}

	field := func(rec []string, i int) string {
		if i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var lines []dataset.TranscriptLine
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("corpus: read csv: %w", err)
		}
		lines = append(lines, dataset.TranscriptLine{
			Speaker:   field(rec, idx[0]),
			EpisodeID: field(rec, idx[1]),
			Text:      field(rec, idx[2]),
		})
	}
}

// JSONLSource reads a file holding one JSON object per line.
type JSONLSource struct {
	path string
	cols Columns
}

var _ Source = (*JSONLSource)(nil)

// NewJSONL returns a [JSONLSource] for path.
func NewJSONL(path string, cols Columns) *JSONLSource {
	return &JSONLSource{path: path, cols: cols}
}

// Name implements [Source].
func (s *JSONLSource) Name() string { return "jsonl:" + s.path }

// Read implements [Source].
func (s *JSONLSource) Read(_ context.Context) ([]dataset.TranscriptLine, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %q: %w", s.path, err)
	}
	defer f.Close()
	return ReadJSONL(f, s.cols)
}

// ReadJSONL decodes one JSON object per line of r. Blank lines are ignored.
// A line that is not a JSON object is an error naming its line number.
func ReadJSONL(r io.Reader, cols Columns) ([]dataset.TranscriptLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines []dataset.TranscriptLine
	for n := 1; sc.Scan(); n++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("corpus: jsonl line %d: %w", n, err)
		}
		lines = append(lines, cols.lineFromRow(row))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("corpus: read jsonl: %w", err)
	}
	return lines, nil
}
