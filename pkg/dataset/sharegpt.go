package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Column keys under which a record is stored in a ShareGPT JSONL row.
const (
	// KeyConversations holds the cleaned generation.
	KeyConversations = "conversations"

	// KeyConversationsRaw holds the uncleaned pairs.
	KeyConversationsRaw = "conversations_raw"
)

// ShareGPT speaker labels. The assistant role is published as "gpt".
const (
	FromSystem = "system"
	FromHuman  = "human"
	FromGPT    = "gpt"
)

// ShareGPTMessage is a single {"from", "value"} entry of a ShareGPT
// conversation.
type ShareGPTMessage struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// fromLabel maps a role to its ShareGPT label.
func fromLabel(r Role) string {
	if r == RoleAssistant {
		return FromGPT
	}
	return string(r)
}

// ShareGPT returns the record as a three-message ShareGPT conversation.
func (r Record) ShareGPT() []ShareGPTMessage {
	msgs := make([]ShareGPTMessage, 0, len(r.turns))
	for _, t := range r.turns {
		msgs = append(msgs, ShareGPTMessage{From: fromLabel(t.Role), Value: t.Text})
	}
	return msgs
}

// RecordFromShareGPT validates msgs and converts them into a [Record]. It
// returns an error when the conversation is not exactly system, human, gpt.
func RecordFromShareGPT(msgs []ShareGPTMessage) (Record, error) {
	if len(msgs) != len(turnOrder) {
		return Record{}, fmt.Errorf("dataset: conversation has %d messages, want %d", len(msgs), len(turnOrder))
	}
	for i, want := range turnOrder {
		if got := msgs[i].From; got != fromLabel(want) {
			return Record{}, fmt.Errorf("dataset: message %d is from %q, want %q", i, got, fromLabel(want))
		}
	}
	return NewRecord(msgs[0].Value, msgs[1].Value, msgs[2].Value), nil
}

// MarshalJSON encodes r as its ShareGPT message list.
func (r Record) MarshalJSON() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r.ShareGPT())
}

// UnmarshalJSON decodes a ShareGPT message list, rejecting any shape other
// than system, human, gpt.
func (r *Record) UnmarshalJSON(data []byte) error {
	var msgs []ShareGPTMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("dataset: decode conversation: %w", err)
	}
	rec, err := RecordFromShareGPT(msgs)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// WriteJSONL writes one JSON object per record to w, storing each record
// under key (typically [KeyConversations]).
func WriteJSONL(w io.Writer, key string, d Dataset) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i, r := range d {
		if err := enc.Encode(map[string]Record{key: r}); err != nil {
			return fmt.Errorf("dataset: encode record %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("dataset: flush jsonl: %w", err)
	}
	return nil
}

// ReadJSONL reads records written by [WriteJSONL]. Every line must carry a
// well-formed conversation under key.
func ReadJSONL(r io.Reader, key string) (Dataset, error) {
	dec := json.NewDecoder(r)
	var out Dataset
	for line := 0; ; line++ {
		var row map[string]json.RawMessage
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("dataset: row %d: %w", line, err)
		}
		raw, ok := row[key]
		if !ok {
			return nil, fmt.Errorf("dataset: row %d: missing %q", line, key)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("dataset: row %d: %w", line, err)
		}
		out = append(out, rec)
	}
}
