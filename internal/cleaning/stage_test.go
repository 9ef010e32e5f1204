package cleaning_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/personaset/internal/cleaning"
	"github.com/MrWong99/personaset/internal/cleaning/mock"
	"github.com/MrWong99/personaset/internal/observe"
	"github.com/MrWong99/personaset/pkg/dataset"
)

const sys = "You are Rick."

func newStage(t *testing.T, cfg cleaning.Config) *cleaning.Stage {
	t.Helper()
	if cfg.Metrics == nil {
		m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
		if err != nil {
			t.Fatalf("NewMetrics: %v", err)
		}
		cfg.Metrics = m
	}
	s, err := cleaning.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func makeDataset(n int) dataset.Dataset {
	ds := make(dataset.Dataset, n)
	for i := range ds {
		ds[i] = dataset.NewRecord(sys, fmt.Sprintf("human %d", i), fmt.Sprintf("assistant %d", i))
	}
	return ds
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := cleaning.New(cleaning.Config{}); err == nil {
		t.Error("expected error for nil cleaner")
	}
	if _, err := cleaning.New(cleaning.Config{Cleaner: cleaning.Identity, Concurrency: -1}); err == nil {
		t.Error("expected error for negative concurrency")
	}
	s := newStage(t, cleaning.Config{Cleaner: cleaning.Identity})
	if s.Instruction() != cleaning.DefaultInstruction {
		t.Error("empty instruction should select DefaultInstruction")
	}
}

func TestClean_IdentityIsNoOp(t *testing.T) {
	t.Parallel()

	raw := makeDataset(25)
	s := newStage(t, cleaning.Config{Cleaner: cleaning.Identity, Concurrency: 4})

	out, err := s.Clean(context.Background(), raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	got, err := out.Dataset()
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	if !got.Equal(raw) {
		t.Error("identity cleaner changed the dataset")
	}
}

func TestClean_Empty(t *testing.T) {
	t.Parallel()

	c := &mock.Cleaner{}
	s := newStage(t, cleaning.Config{Cleaner: c})
	out, err := s.Clean(context.Background(), nil)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	got, err := out.Dataset()
	if err != nil || len(got) != 0 {
		t.Fatalf("Dataset() = %v, %v; want empty, nil", got, err)
	}
	if c.CallCount() != 0 {
		t.Errorf("cleaner called %d times, want 0", c.CallCount())
	}
}

func TestClean_RegexPrefixStrip(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`^[a-z ]+\.`)
	strip := cleaning.CleanerFunc(func(_ context.Context, _, text string) (string, error) {
		return strings.TrimSpace(re.ReplaceAllString(text, "")), nil
	})
	raw := dataset.Dataset{dataset.NewRecord(sys, "stumbles in. Rick!", "Morty, shut up.")}

	s := newStage(t, cleaning.Config{Cleaner: strip})
	out, err := s.Clean(context.Background(), raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	rec, err := out.Record(0)
	if err != nil {
		t.Fatalf("Record(0): %v", err)
	}
	if rec.Human() != "Rick!" {
		t.Errorf("Human = %q, want Rick!", rec.Human())
	}
	if rec.Assistant() != "Morty, shut up." {
		t.Errorf("Assistant = %q, want unchanged", rec.Assistant())
	}
	if rec.System() != sys {
		t.Errorf("System = %q, want %q", rec.System(), sys)
	}
}

func TestClean_SystemTurnNeverSent(t *testing.T) {
	t.Parallel()

	c := &mock.Cleaner{}
	s := newStage(t, cleaning.Config{Cleaner: c, Instruction: "strip"})
	if _, err := s.Clean(context.Background(), makeDataset(3)); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if c.CallCount() != 6 {
		t.Fatalf("calls = %d, want 6", c.CallCount())
	}
	for _, call := range c.Calls {
		if call.Text == sys {
			t.Error("system turn was sent to the cleaner")
		}
		if call.Instruction != "strip" {
			t.Errorf("instruction = %q, want strip", call.Instruction)
		}
	}
}

func TestClean_OrderPreservedUnderJitter(t *testing.T) {
	t.Parallel()

	raw := makeDataset(60)
	jitter := cleaning.CleanerFunc(func(ctx context.Context, _, text string) (string, error) {
		select {
		case <-time.After(time.Duration(rand.IntN(3)) * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return strings.ToUpper(text), nil
	})

	s := newStage(t, cleaning.Config{Cleaner: jitter, Concurrency: 16})
	out, err := s.Clean(context.Background(), raw)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	got, err := out.Dataset()
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	if len(got) != len(raw) {
		t.Fatalf("len = %d, want %d", len(got), len(raw))
	}
	for i, r := range got {
		if want := fmt.Sprintf("HUMAN %d", i); r.Human() != want {
			t.Errorf("got[%d].Human = %q, want %q", i, r.Human(), want)
		}
		if want := fmt.Sprintf("ASSISTANT %d", i); r.Assistant() != want {
			t.Errorf("got[%d].Assistant = %q, want %q", i, r.Assistant(), want)
		}
	}
}

func TestClean_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	const limit = 3
	var inFlight, peak atomic.Int32
	slow := cleaning.CleanerFunc(func(_ context.Context, _, text string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return text, nil
	})

	s := newStage(t, cleaning.Config{Cleaner: slow, Concurrency: limit})
	if _, err := s.Clean(context.Background(), makeDataset(20)); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("peak in-flight calls = %d, want <= %d", got, limit)
	}
}

func TestClean_PerRecordFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("model unavailable")
	c := &mock.Cleaner{CleanFunc: func(_ context.Context, _, text string) (string, error) {
		if text == "assistant 1" || text == "human 3" || text == "assistant 3" {
			return "", boom
		}
		return "clean " + text, nil
	}}
	s := newStage(t, cleaning.Config{Cleaner: c})

	out, err := s.Clean(context.Background(), makeDataset(5))
	if err != nil {
		t.Fatalf("Clean returned %v; cleaner failures must not abort the run", err)
	}
	if out.Len() != 5 {
		t.Fatalf("Len = %d, want 5", out.Len())
	}
	if out.OK() {
		t.Fatal("OK() = true, want false")
	}
	if got := out.FailedIndices(); !slices.Equal(got, []int{1, 3}) {
		t.Errorf("FailedIndices = %v, want [1 3]", got)
	}

	failures := out.Failures()
	if len(failures) != 3 {
		t.Fatalf("len(Failures) = %d, want 3", len(failures))
	}
	if f := failures[0]; f.Index != 1 || f.Turn != dataset.RoleAssistant {
		t.Errorf("Failures[0] = {%d %s}, want {1 assistant}", f.Index, f.Turn)
	}
	if f := failures[1]; f.Index != 3 || f.Turn != dataset.RoleHuman {
		t.Errorf("Failures[1] = {%d %s}, want {3 human}", f.Index, f.Turn)
	}

	if _, err := out.Record(1); !errors.Is(err, boom) {
		t.Errorf("Record(1) err = %v, want %v", err, boom)
	}
	rec, err := out.Record(2)
	if err != nil || rec.Human() != "clean human 2" {
		t.Errorf("Record(2) = %q, %v", rec.Human(), err)
	}

	_, err = out.Dataset()
	var inc *cleaning.IncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("Dataset() err = %v, want *IncompleteError", err)
	}
	if inc.Total != 5 || len(inc.Failures) != 3 {
		t.Errorf("IncompleteError = %+v", inc)
	}
	var ce *cleaning.CleaningError
	if !errors.As(err, &ce) || ce.Index != 1 {
		t.Errorf("errors.As CleaningError = %+v", ce)
	}
	if !strings.Contains(err.Error(), "2 of 5") {
		t.Errorf("error message = %q", err.Error())
	}

	partial, indices := out.Cleaned()
	if len(partial) != 3 || !slices.Equal(indices, []int{0, 2, 4}) {
		t.Errorf("Cleaned() = %d records at %v, want 3 at [0 2 4]", len(partial), indices)
	}
}

func TestRetry_OnlyFailedRecords(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	c := &mock.Cleaner{CleanFunc: func(_ context.Context, _, text string) (string, error) {
		if text == "human 2" && !healthy.Load() {
			return "", errors.New("rate limited")
		}
		return "clean " + text, nil
	}}
	s := newStage(t, cleaning.Config{Cleaner: c})

	first, err := s.Clean(context.Background(), makeDataset(4))
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if first.OK() {
		t.Fatal("first run should have a failure")
	}
	callsBefore := c.CallCount()

	healthy.Store(true)
	second, err := s.Retry(context.Background(), first)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got := c.CallCount() - callsBefore; got != 2 {
		t.Errorf("Retry made %d calls, want 2", got)
	}
	ds, err := second.Dataset()
	if err != nil {
		t.Fatalf("Dataset after retry: %v", err)
	}
	if ds[2].Human() != "clean human 2" {
		t.Errorf("ds[2].Human = %q", ds[2].Human())
	}
	if first.OK() {
		t.Error("Retry mutated the previous outcome")
	}
}

func TestClean_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	block := cleaning.CleanerFunc(func(ctx context.Context, _, _ string) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := newStage(t, cleaning.Config{Cleaner: block, Concurrency: 2})

	go func() {
		<-started
		cancel()
	}()

	out, err := s.Clean(ctx, makeDataset(50))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if out != nil {
		t.Error("outcome should be nil on cancellation")
	}
}

func TestClean_CallTimeoutIsPerRecordFailure(t *testing.T) {
	t.Parallel()

	c := &mock.Cleaner{CleanFunc: func(ctx context.Context, _, text string) (string, error) {
		if text == "human 0" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return text, nil
	}}
	s := newStage(t, cleaning.Config{Cleaner: c, CallTimeout: 10 * time.Millisecond})

	out, err := s.Clean(context.Background(), makeDataset(2))
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if got := out.FailedIndices(); !slices.Equal(got, []int{0}) {
		t.Fatalf("FailedIndices = %v, want [0]", got)
	}
	if _, err := out.Record(0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Record(0) err = %v, want DeadlineExceeded", err)
	}
}
