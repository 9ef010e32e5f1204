package paircmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	"github.com/MrWong99/personaset/internal/app"
	"github.com/MrWong99/personaset/pkg/dataset"
)

const pairLongDesc string = `Extract persona records from the configured transcript.

Every line spoken by someone other than the persona that is directly
followed by a persona line from the same episode becomes one record:
the persona system prompt, the other speaker's line, and the persona's
reply. Records are written uncleaned, in transcript order.

Formats:
  sharegpt  one {"conversations_raw": [...]} object per line
  chatml    one {"text": "<|im_start|>system..."} object per line

Examples:
  personaset pair --out raw.jsonl
  personaset pair --config morty.yaml --format chatml`

const pairShortDesc string = "Pair transcript lines into persona records"

const (
	formatShareGPT = "sharegpt"
	formatChatML   = "chatml"
)

type pairCommander struct {
	out    string
	format string
}

func NewPairCmd() *cobra.Command {
	cmder := &pairCommander{}

	cmd := &cobra.Command{
		Use:   "pair",
		Short: pairShortDesc,
		Long:  pairLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.out, "out", "o", "-", "Output file, - for stdout")
	cmd.Flags().StringVarP(&cmder.format, "format", "f", formatShareGPT, "Output format: sharegpt or chatml")

	return cmd
}

func (c *pairCommander) run(ctx context.Context, cmd *cobra.Command) error {
	if c.format != formatShareGPT && c.format != formatChatML {
		return fmt.Errorf("unknown format %q, want sharegpt or chatml", c.format)
	}

	cfg, err := cliutil.LoadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	x, err := a.Pair(ctx)
	if err != nil {
		return err
	}

	w, err := cliutil.CreateOutput(cmd, c.out)
	if err != nil {
		return err
	}
	if c.format == formatChatML {
		err = writeChatML(w, x.Dataset)
	} else {
		err = dataset.WriteJSONL(w, dataset.KeyConversationsRaw, x.Dataset)
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("could not write records: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Paired %d records for %s (%d malformed lines skipped)\n",
		len(x.Dataset), a.Engine().Persona(), len(x.Skipped))
	return nil
}

// writeChatML writes one {"text": ...} object per record.
func writeChatML(w io.Writer, d dataset.Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, r := range d {
		if err := enc.Encode(map[string]string{"text": r.ChatML()}); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}
