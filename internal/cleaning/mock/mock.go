// Package mock provides a test double for the cleaning.TextCleaner interface.
//
// By default the Cleaner echoes its input. Set CleanFunc to transform or fail
// selected texts; every call is recorded for later assertions.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/personaset/internal/cleaning"
)

// Call records a single invocation of CleanText.
type Call struct {
	Instruction string
	Text        string
}

// Cleaner is a mock implementation of cleaning.TextCleaner.
type Cleaner struct {
	mu sync.Mutex

	// CleanFunc, if set, computes the result of each call.
	CleanFunc func(ctx context.Context, instruction, text string) (string, error)

	// Calls records every invocation of CleanText in arrival order.
	Calls []Call
}

// CleanText records the call and delegates to CleanFunc, or echoes text.
func (c *Cleaner) CleanText(ctx context.Context, instruction, text string) (string, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, Call{Instruction: instruction, Text: text})
	fn := c.CleanFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, instruction, text)
	}
	return text, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (c *Cleaner) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Texts returns the texts passed to CleanText, in arrival order. Thread-safe.
func (c *Cleaner) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Calls))
	for i, call := range c.Calls {
		out[i] = call.Text
	}
	return out
}

var _ cleaning.TextCleaner = (*Cleaner)(nil)
