package publishcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	"github.com/MrWong99/personaset/internal/app"
	"github.com/MrWong99/personaset/pkg/dataset"
)

const publishLongDesc string = `Publish an existing dataset file to the configured sinks.

Reads a JSON lines dataset, for example the output of "personaset clean",
and hands it unchanged to every sink in the publish section of the
config.

Examples:
  personaset publish clean.jsonl
  personaset publish --key conversations_raw raw.jsonl`

const publishShortDesc string = "Publish a dataset file"

type publishCommander struct {
	key string
}

func NewPublishCmd() *cobra.Command {
	cmder := &publishCommander{}

	cmd := &cobra.Command{
		Use:   "publish <dataset.jsonl>",
		Short: publishShortDesc,
		Long:  publishLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&cmder.key, "key", dataset.KeyConversations, "JSON key holding each conversation")

	return cmd
}

func (c *publishCommander) run(ctx context.Context, cmd *cobra.Command, path string) error {
	cfg, err := cliutil.LoadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := cliutil.ReadDataset(cmd, path, c.key)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pub, err := a.Publisher(ctx)
	if err != nil {
		return err
	}
	if err := pub.Publish(ctx, d); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published %d records from %s to %d sinks\n", len(d), path, len(pub.Sinks()))
	return nil
}
