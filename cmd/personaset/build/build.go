package buildcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	"github.com/MrWong99/personaset/internal/app"
)

const buildLongDesc string = `Run the whole pipeline: pair, clean and publish.

Reads the configured transcript, pairs persona records, cleans them and
hands the cleaned dataset to every configured sink (JSON lines file,
Hugging Face Hub, PostgreSQL). If any record fails to clean, nothing is
published unless --allow-partial is given.

Examples:
  personaset build
  personaset build --config rick.yaml --retry-passes 2`

const buildShortDesc string = "Pair, clean and publish a persona dataset"

type buildCommander struct {
	retryPasses  int
	allowPartial bool
}

func NewBuildCmd() *cobra.Command {
	cmder := &buildCommander{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: buildShortDesc,
		Long:  buildLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().IntVar(&cmder.retryPasses, "retry-passes", 1, "Extra passes over failed records")
	cmd.Flags().BoolVar(&cmder.allowPartial, "allow-partial", false, "Publish cleaned records even if some failed")

	return cmd
}

func (c *buildCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := cliutil.LoadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Build(ctx, app.BuildOptions{
		RetryPasses:  c.retryPasses,
		AllowPartial: c.allowPartial,
	})
	if err != nil {
		return err
	}

	pub, _ := a.Publisher(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Paired %d records (%d malformed lines skipped)\n", len(res.Raw), len(res.Skipped))
	fmt.Fprintf(cmd.OutOrStdout(), "Published %d records (%d failed cleaning) to:\n",
		len(res.Published), len(res.Outcome.FailedIndices()))
	for _, s := range pub.Sinks() {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", s.Name())
	}
	return nil
}
