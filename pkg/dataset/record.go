// Package dataset defines the conversational record types produced by the
// personaset pipeline and their on-disk encodings.
//
// A [Record] is always exactly three turns in the order system, human,
// assistant. The array backing a record is unexported so that the only way to
// obtain a well-formed record is through [NewRecord] (or by decoding one with
// validation). Records are values: [Record.WithDialogue] returns a new record
// and never mutates the receiver.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Role identifies the speaker slot of a [Turn] within a [Record].
type Role string

const (
	// RoleSystem carries the persona prompt.
	RoleSystem Role = "system"

	// RoleHuman carries the utterance of the non-persona speaker.
	RoleHuman Role = "human"

	// RoleAssistant carries the persona's reply.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is one of the three known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleHuman, RoleAssistant:
		return true
	}
	return false
}

// turnOrder is the fixed role sequence every record must follow.
var turnOrder = [3]Role{RoleSystem, RoleHuman, RoleAssistant}

// Turn is a single role-tagged message inside a [Record].
type Turn struct {
	Role Role
	Text string
}

// Record is one training example: a persona prompt followed by a single
// human/assistant exchange.
//
// The zero value is not a valid record; use [NewRecord].
type Record struct {
	turns [3]Turn
}

// Dataset is an ordered sequence of records. Order is significant and
// duplicates are permitted.
type Dataset []Record

// NewRecord builds a record from the three turn texts. Texts are stored as
// given; trimming is the caller's concern.
func NewRecord(system, human, assistant string) Record {
	return Record{turns: [3]Turn{
		{Role: RoleSystem, Text: system},
		{Role: RoleHuman, Text: human},
		{Role: RoleAssistant, Text: assistant},
	}}
}

// System returns the text of the system turn.
func (r Record) System() string { return r.turns[0].Text }

// Human returns the text of the human turn.
func (r Record) Human() string { return r.turns[1].Text }

// Assistant returns the text of the assistant turn.
func (r Record) Assistant() string { return r.turns[2].Text }

// Turns returns a copy of the record's turns in order.
func (r Record) Turns() [3]Turn { return r.turns }

// WithDialogue returns a copy of r whose human and assistant texts are
// replaced. The system turn is carried over unchanged.
func (r Record) WithDialogue(human, assistant string) Record {
	out := r
	out.turns[1].Text = human
	out.turns[2].Text = assistant
	return out
}

// Validate reports whether r holds exactly the system, human, assistant
// sequence.
func (r Record) Validate() error {
	for i, want := range turnOrder {
		if got := r.turns[i].Role; got != want {
			return fmt.Errorf("dataset: turn %d has role %q, want %q", i, got, want)
		}
	}
	return nil
}

// SchemaViolation is the panic value raised by [Record.MustBeWellFormed].
// It indicates a programming error, not bad input.
type SchemaViolation struct {
	Err error
}

// Error implements error.
func (v *SchemaViolation) Error() string {
	return "dataset: schema invariant violated: " + v.Err.Error()
}

// Unwrap returns the underlying validation error.
func (v *SchemaViolation) Unwrap() error { return v.Err }

// MustBeWellFormed panics with a *[SchemaViolation] if r is not a valid
// three-turn record.
func (r Record) MustBeWellFormed() {
	if err := r.Validate(); err != nil {
		panic(&SchemaViolation{Err: err})
	}
}

// Equal reports whether two records carry identical turns.
func (r Record) Equal(other Record) bool {
	return r.turns == other.turns
}

// Fingerprint returns the hex-encoded SHA-256 of the record's canonical
// ShareGPT JSON encoding. Two records with identical turns always produce the
// same fingerprint.
func (r Record) Fingerprint() string {
	b, err := json.Marshal(r.ShareGPT())
	if err != nil {
		// ShareGPT messages are plain strings; Marshal cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MustBeWellFormed asserts the shape of every record in d.
func (d Dataset) MustBeWellFormed() {
	for _, r := range d {
		r.MustBeWellFormed()
	}
}

// Equal reports whether d and other hold the same records in the same order.
func (d Dataset) Equal(other Dataset) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if !d[i].Equal(other[i]) {
			return false
		}
	}
	return true
}
