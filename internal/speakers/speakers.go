// Package speakers audits the speaker labels of a transcript against the
// persona name.
//
// Transcripts rarely label a character consistently: "Rick", "RICK",
// "Rick Sanchez" and "Rik" may all name the persona. Pairing compares labels
// exactly, so lines under a variant label are silently lost. The audit finds
// such variants and suggests an alias table for them.
//
// Each distinct label is classified in two stages:
//
//  1. Phonetic candidates: Double Metaphone codes of every label token are
//     compared with the codes of the persona tokens. On overlap the label is
//     accepted when its best Jaro-Winkler score reaches the phonetic
//     threshold (default 0.70).
//
//  2. Fuzzy fallback: labels without phonetic overlap are accepted when
//     their Jaro-Winkler score reaches the fuzzy threshold (default 0.85).
package speakers

import (
	"cmp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/personaset/pkg/dataset"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatchKind describes why a label was related to the persona.
type MatchKind string

const (
	// MatchExact is the persona label itself.
	MatchExact MatchKind = "exact"

	// MatchAlias is a label already mapped onto the persona.
	MatchAlias MatchKind = "alias"

	// MatchPhonetic is a label that sounds like the persona.
	MatchPhonetic MatchKind = "phonetic"

	// MatchFuzzy is a label spelled similarly to the persona.
	MatchFuzzy MatchKind = "fuzzy"

	// MatchNone is an unrelated speaker.
	MatchNone MatchKind = "none"
)

// Label is one distinct speaker label and how it relates to the persona.
type Label struct {
	Name  string
	Lines int
	Kind  MatchKind
	Score float64
}

// Candidate reports whether the label probably names the persona but is not
// yet resolved to it.
func (l Label) Candidate() bool {
	return l.Kind == MatchPhonetic || l.Kind == MatchFuzzy
}

// Report is the result of an audit.
type Report struct {
	Persona string

	// Labels holds every distinct label, most frequent first.
	Labels []Label
}

// Candidates returns the labels that likely name the persona but would not
// be paired, ordered by descending score.
func (r *Report) Candidates() []Label {
	var out []Label
	for _, l := range r.Labels {
		if l.Candidate() {
			out = append(out, l)
		}
	}
	slices.SortStableFunc(out, func(a, b Label) int { return cmp.Compare(b.Score, a.Score) })
	return out
}

// SuggestedAliases maps every candidate label onto the persona.
func (r *Report) SuggestedAliases() map[string]string {
	out := make(map[string]string)
	for _, l := range r.Candidates() {
		out[l.Name] = r.Persona
	}
	return out
}

// Option is a functional option for configuring an [Auditor].
type Option func(*Auditor)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically similar label. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(a *Auditor) {
		a.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a label without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(a *Auditor) {
		a.fuzzyThreshold = threshold
	}
}

// WithAliases marks labels that are already resolved to a canonical name.
func WithAliases(aliases map[string]string) Option {
	return func(a *Auditor) {
		for from, to := range aliases {
			a.aliases[from] = to
		}
	}
}

// Auditor classifies speaker labels. It is read-only after construction and
// safe for concurrent use.
type Auditor struct {
	persona           string
	personaTokens     []string
	personaCodes      map[string]struct{}
	aliases           map[string]string
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns an [Auditor] for the given persona label.
func New(persona string, opts ...Option) *Auditor {
	a := &Auditor{
		persona:           persona,
		aliases:           make(map[string]string),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(a)
	}
	a.personaTokens = strings.Fields(strings.ToLower(persona))
	a.personaCodes = codesForTokens(a.personaTokens)
	return a
}

// Audit counts the labels in lines and classifies each one. Blank labels are
// ignored.
func (a *Auditor) Audit(lines []dataset.TranscriptLine) *Report {
	counts := make(map[string]int)
	for _, l := range lines {
		if strings.TrimSpace(l.Speaker) == "" {
			continue
		}
		counts[l.Speaker]++
	}

	r := &Report{Persona: a.persona, Labels: make([]Label, 0, len(counts))}
	for name, n := range counts {
		kind, score := a.Classify(name)
		r.Labels = append(r.Labels, Label{Name: name, Lines: n, Kind: kind, Score: score})
	}
	slices.SortFunc(r.Labels, func(x, y Label) int {
		if c := cmp.Compare(y.Lines, x.Lines); c != 0 {
			return c
		}
		return strings.Compare(x.Name, y.Name)
	})
	return r
}

// Classify relates a single label to the persona.
func (a *Auditor) Classify(label string) (MatchKind, float64) {
	if label == a.persona {
		return MatchExact, 1
	}
	if to, ok := a.aliases[label]; ok {
		if to == a.persona {
			return MatchAlias, 1
		}
		return MatchNone, 0
	}

	lower := strings.ToLower(strings.TrimSpace(label))
	tokens := strings.Fields(lower)
	if len(tokens) == 0 || len(a.personaTokens) == 0 {
		return MatchNone, 0
	}
	score := bestJWScore(tokens, a.personaTokens, lower, strings.Join(a.personaTokens, " "))

	if codesOverlap(codesForTokens(tokens), a.personaCodes) {
		if score >= a.phoneticThreshold {
			return MatchPhonetic, score
		}
		return MatchNone, 0
	}
	if score >= a.fuzzyThreshold {
		return MatchFuzzy, score
	}
	return MatchNone, 0
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Tokens without consonants produce no code.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the strings with spaces removed, and every token pair.
func bestJWScore(labelTokens, personaTokens []string, labelFull, personaFull string) float64 {
	score := matchr.JaroWinkler(labelFull, personaFull, false)

	if len(labelTokens) > 1 || len(personaTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(labelTokens, ""), strings.Join(personaTokens, ""), false); s > score {
			score = s
		}
	}
	for _, lt := range labelTokens {
		for _, pt := range personaTokens {
			if s := matchr.JaroWinkler(lt, pt, false); s > score {
				score = s
			}
		}
	}
	return score
}
