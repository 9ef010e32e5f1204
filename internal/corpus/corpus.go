// Package corpus reads transcripts into [dataset.TranscriptLine] values.
//
// Three sources are supported: CSV files with a header row, JSON lines files
// and the Hugging Face datasets-server rows API. Each maps three configurable
// columns onto speaker, episode and text. Cells are converted to strings
// verbatim; missing or null cells become empty strings and are left for the
// pairing engine to report as malformed lines.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/MrWong99/personaset/pkg/dataset"
)

// Source yields a complete, ordered transcript.
type Source interface {
	// Read returns every line of the transcript in order.
	Read(ctx context.Context) ([]dataset.TranscriptLine, error)

	// Name describes the source for logs, e.g. "csv:transcripts.csv".
	Name() string
}

// Columns names the source columns holding each transcript field.
type Columns struct {
	Speaker string
	Episode string
	Text    string
}

// DefaultColumns matches the JSON field names of [dataset.TranscriptLine].
var DefaultColumns = Columns{Speaker: "speaker", Episode: "episode_id", Text: "text"}

// lineFromRow builds a transcript line from a decoded row.
func (c Columns) lineFromRow(row map[string]any) dataset.TranscriptLine {
	return dataset.TranscriptLine{
		Speaker:   cellString(row[c.Speaker]),
		EpisodeID: cellString(row[c.Episode]),
		Text:      cellString(row[c.Text]),
	}
}

// cellString renders a JSON cell as text. Whole numbers print without a
// fractional part so that episode 3 and episode "3" compare equal.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
