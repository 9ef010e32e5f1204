package speakerscmder

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	"github.com/MrWong99/personaset/internal/app"
	"github.com/MrWong99/personaset/internal/speakers"
)

const speakersLongDesc string = `Audit the speaker labels of the configured transcript.

Lists every distinct speaker label with its line count and flags labels
that sound or look like the persona but are not resolved to it, such as
"RICK" or "Rick Sanchez" for persona "Rick". Lines under those labels are
not paired. The suggested aliases can be pasted into persona.aliases.

Examples:
  personaset speakers
  personaset speakers --all --fuzzy-threshold 0.9`

const speakersShortDesc string = "Find speaker labels that likely name the persona"

type speakersCommander struct {
	all               bool
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func NewSpeakersCmd() *cobra.Command {
	cmder := &speakersCommander{}

	cmd := &cobra.Command{
		Use:   "speakers",
		Short: speakersShortDesc,
		Long:  speakersLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().BoolVarP(&cmder.all, "all", "a", false, "List every label, not only persona matches")
	cmd.Flags().Float64Var(&cmder.phoneticThreshold, "phonetic-threshold", 0.70, "Minimum similarity for labels that sound like the persona")
	cmd.Flags().Float64Var(&cmder.fuzzyThreshold, "fuzzy-threshold", 0.85, "Minimum similarity for labels spelled like the persona")

	return cmd
}

func (c *speakersCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := cliutil.LoadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lines, err := a.Source().Read(ctx)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", a.Source().Name(), err)
	}

	auditor := speakers.New(cfg.Persona.Speaker,
		speakers.WithAliases(cfg.Persona.Aliases),
		speakers.WithPhoneticThreshold(c.phoneticThreshold),
		speakers.WithFuzzyThreshold(c.fuzzyThreshold),
	)
	report := auditor.Audit(lines)

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tLINES\tMATCH\tSCORE")
	for _, l := range report.Labels {
		if !c.all && l.Kind == speakers.MatchNone {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.2f\n", l.Name, l.Lines, l.Kind, l.Score)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	aliases := report.SuggestedAliases()
	if len(aliases) == 0 {
		fmt.Fprintf(out, "\nNo unresolved labels for %s.\n", report.Persona)
		return nil
	}

	b, err := yaml.Marshal(map[string]any{"persona": map[string]any{"aliases": aliases}})
	if err != nil {
		return fmt.Errorf("could not render aliases: %w", err)
	}
	fmt.Fprintf(out, "\nSuggested aliases:\n%s", b)
	return nil
}
