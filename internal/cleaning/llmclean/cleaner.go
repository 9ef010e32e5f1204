// Package llmclean implements a [cleaning.TextCleaner] backed by a language
// model.
//
// The [Cleaner] sends the cleaning instruction as the system prompt and the
// utterance as the only user message, then post-processes the reply: code
// fences, an echoed "Output:" label and wrapping quotes are removed and the
// result is trimmed. A reply that is empty after post-processing is an error
// ([ErrEmptyCompletion]) rather than an empty turn, because a blank turn would
// silently corrupt the record.
//
// Model selection follows the one-provider-per-model pattern: construct the
// [llm.Provider] with the desired model rather than overriding per request.
package llmclean

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/personaset/internal/cleaning"
	"github.com/MrWong99/personaset/pkg/provider/llm"
)

const defaultTemperature = 0.1

// minOutputTokens is the floor for the derived completion budget so that very
// short inputs are never truncated mid-word.
const minOutputTokens = 64

// ErrEmptyCompletion is returned when the model replies with nothing usable.
var ErrEmptyCompletion = errors.New("llmclean: empty completion")

// Option is a functional option for configuring a [Cleaner].
type Option func(*Cleaner)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Cleaner) {
		c.temperature = temp
	}
}

// WithMaxTokens fixes the completion token cap. When unset the cap is derived
// from the input size: a cleaned line is never longer than the original.
func WithMaxTokens(n int) Option {
	return func(c *Cleaner) {
		c.maxTokens = n
	}
}

// Cleaner rewrites utterances through an [llm.Provider]. It is safe for
// concurrent use as long as the provider is.
type Cleaner struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

var _ cleaning.TextCleaner = (*Cleaner)(nil)

// New returns a [Cleaner] backed by provider.
func New(provider llm.Provider, opts ...Option) (*Cleaner, error) {
	if provider == nil {
		return nil, errors.New("llmclean: provider must not be nil")
	}
	c := &Cleaner{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxTokens < 0 {
		return nil, fmt.Errorf("llmclean: max tokens must not be negative, got %d", c.maxTokens)
	}
	return c, nil
}

// CleanText implements [cleaning.TextCleaner].
func (c *Cleaner) CleanText(ctx context.Context, instruction, text string) (string, error) {
	msgs := []llm.Message{{Role: "user", Content: strings.TrimSpace(text)}}

	maxTokens, err := c.budget(instruction, msgs)
	if err != nil {
		return "", err
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: instruction,
		Messages:     msgs,
		Temperature:  c.temperature,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llmclean: complete: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyCompletion
	}

	out := tidy(resp.Content, text)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

// budget returns the completion token cap for msgs, checking that the prompt
// fits the model's context window.
func (c *Cleaner) budget(instruction string, msgs []llm.Message) (int, error) {
	caps := c.llm.Capabilities()

	inTokens, err := c.llm.CountTokens(msgs)
	if err != nil {
		return 0, fmt.Errorf("llmclean: count tokens: %w", err)
	}
	if caps.ContextWindow > 0 {
		sysTokens, err := c.llm.CountTokens([]llm.Message{{Role: "system", Content: instruction}})
		if err != nil {
			return 0, fmt.Errorf("llmclean: count tokens: %w", err)
		}
		if sysTokens+inTokens >= caps.ContextWindow {
			return 0, fmt.Errorf("llmclean: prompt of %d tokens exceeds context window of %d", sysTokens+inTokens, caps.ContextWindow)
		}
	}

	if c.maxTokens > 0 {
		return c.maxTokens, nil
	}
	n := max(2*inTokens, minOutputTokens)
	if caps.MaxOutputTokens > 0 {
		n = min(n, caps.MaxOutputTokens)
	}
	return n, nil
}

// tidy strips the decoration models like to add around a one-line answer.
// An "Output:" label or wrapping quotes are only removed when the input
// itself did not carry them.
func tidy(s, input string) string {
	input = strings.TrimSpace(input)
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```text", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(input, "Output:") {
		if after, ok := strings.CutPrefix(s, "Output:"); ok {
			s = strings.TrimSpace(after)
		}
	}
	if !quoted(input) && quoted(s) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func quoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}
