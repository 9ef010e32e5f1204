package cleancmder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	"github.com/MrWong99/personaset/internal/app"
	"github.com/MrWong99/personaset/internal/cleaning"
	"github.com/MrWong99/personaset/pkg/dataset"
)

const cleanLongDesc string = `Clean the human and assistant turns of a paired dataset.

Reads records written by "personaset pair" and sends every human and
assistant turn through the configured cleaner. System turns are never
changed. Output keeps the input order and length.

When a turn cannot be cleaned its whole record fails. By default the
command then writes nothing and exits with an error listing the failed
records. With --allow-partial the cleaned records are written and the
failures are reported; --failures saves them as JSON lines.

Examples:
  personaset clean --in raw.jsonl --out clean.jsonl
  personaset clean --in raw.jsonl --out clean.jsonl --allow-partial --failures failed.jsonl`

const cleanShortDesc string = "Clean paired records with the configured cleaner"

type cleanCommander struct {
	in           string
	inKey        string
	out          string
	failures     string
	retryPasses  int
	allowPartial bool
}

// failureRow is one line of the --failures file.
type failureRow struct {
	Index int    `json:"index"`
	Turn  string `json:"turn"`
	Error string `json:"error"`
}

func NewCleanCmd() *cobra.Command {
	cmder := &cleanCommander{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: cleanShortDesc,
		Long:  cleanLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.in, "in", "i", "-", "Paired dataset, - for stdin")
	cmd.Flags().StringVar(&cmder.inKey, "in-key", dataset.KeyConversationsRaw, "JSON key holding each input conversation")
	cmd.Flags().StringVarP(&cmder.out, "out", "o", "-", "Output file, - for stdout")
	cmd.Flags().StringVar(&cmder.failures, "failures", "", "Write failed turns to this JSON lines file")
	cmd.Flags().IntVar(&cmder.retryPasses, "retry-passes", 1, "Extra passes over failed records")
	cmd.Flags().BoolVar(&cmder.allowPartial, "allow-partial", false, "Write cleaned records even if some failed")

	return cmd
}

func (c *cleanCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := cliutil.LoadConfig(cmd)
	if err != nil {
		return err
	}
	raw, err := cliutil.ReadDataset(cmd, c.in, c.inKey)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.Clean(ctx, raw, c.retryPasses)
	if err != nil {
		return err
	}
	if c.failures != "" {
		if err := c.writeFailures(cmd, out.Failures()); err != nil {
			return err
		}
	}

	cleaned, err := out.Dataset()
	if err != nil {
		if !c.allowPartial {
			return err
		}
		cleaned, _ = out.Cleaned()
	}

	w, err := cliutil.CreateOutput(cmd, c.out)
	if err != nil {
		return err
	}
	err = dataset.WriteJSONL(w, dataset.KeyConversations, cleaned)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("could not write records: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Cleaned %d of %d records (%d failed)\n",
		len(cleaned), out.Len(), len(out.FailedIndices()))
	return nil
}

func (c *cleanCommander) writeFailures(cmd *cobra.Command, failures []*cleaning.CleaningError) error {
	w, err := cliutil.CreateOutput(cmd, c.failures)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, f := range failures {
		if err := enc.Encode(failureRow{Index: f.Index, Turn: string(f.Turn), Error: f.Err.Error()}); err != nil {
			w.Close()
			return fmt.Errorf("could not write failures: %w", err)
		}
	}
	return w.Close()
}
