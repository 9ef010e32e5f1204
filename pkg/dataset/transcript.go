package dataset

import (
	"errors"
	"strings"
)

// Reasons a [TranscriptLine] is rejected by [TranscriptLine.Validate].
var (
	ErrMissingSpeaker = errors.New("missing speaker")
	ErrMissingEpisode = errors.New("missing episode id")
	ErrMissingText    = errors.New("missing text")
)

// TranscriptLine is one utterance of the raw transcript, in stream order.
type TranscriptLine struct {
	Speaker   string `json:"speaker"`
	EpisodeID string `json:"episode_id"`
	Text      string `json:"text"`
}

// Validate reports the first missing field of l. Fields consisting only of
// whitespace count as missing.
func (l TranscriptLine) Validate() error {
	switch {
	case strings.TrimSpace(l.Speaker) == "":
		return ErrMissingSpeaker
	case strings.TrimSpace(l.EpisodeID) == "":
		return ErrMissingEpisode
	case strings.TrimSpace(l.Text) == "":
		return ErrMissingText
	}
	return nil
}
