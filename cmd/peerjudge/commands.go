package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dshills/peerjudge/internal/pipeline"
	"github.com/dshills/peerjudge/internal/render"
)

type runFlags struct {
	from         int
	step         int
	allowPartial bool
	jsonOut      bool
}

// options passes --from and --step through only when set, so stage 0 can be
// selected explicitly.
func (f *runFlags) options(cmd *cobra.Command) pipeline.RunOptions {
	opts := pipeline.RunOptions{AllowPartial: f.allowPartial}
	if cmd.Flags().Changed("from") {
		opts.From = pipeline.Stage(f.from)
	}
	if cmd.Flags().Changed("step") {
		opts.Step = pipeline.Stage(f.step)
	}
	return opts
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the experiment, resuming from the records on disk",
		Long: "Runs build-pairs (when the pairs file is missing), generate, one judge " +
			"stage per configured judge, then summarize. Interrupt with Ctrl+C at any " +
			"time; the next run resumes where this one stopped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx, stop := withSignals(cmd.Context(), a.logger)
			defer stop()

			rep, err := a.pipe.Run(ctx, f.options(cmd))
			if f.jsonOut {
				if encErr := writeJSON(cmd.OutOrStdout(), rep); encErr != nil && err == nil {
					err = encErr
				}
			} else if rep.Report != nil {
				fmt.Fprint(cmd.OutOrStdout(), render.RenderMarkdown(rep.Report))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&f.from, "from", 0, "start at this stage number and run to the end")
	cmd.Flags().IntVar(&f.step, "step", 0, "run only this stage number")
	cmd.Flags().BoolVar(&f.allowPartial, "allow-partial", false, "summarize even if a judge stage is incomplete")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the run report as JSON")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-stage progress without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.setupReadOnly(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			statuses, err := a.pipe.Status()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), statuses)
			}
			return writeStatusTable(cmd.OutOrStdout(), statuses)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print status as JSON")
	return cmd
}

func newSummarizeCmd(g *globalFlags) *cobra.Command {
	var allowPartial bool
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Recompute every report from the judgment files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			report, _, err := a.pipe.Summarize(allowPartial)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), render.RenderMarkdown(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "summarize even if a judge stage is incomplete")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

var stateStyles = map[pipeline.State]lipgloss.Style{
	pipeline.StateNotStarted: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	pipeline.StateInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	pipeline.StateComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
}

// writeStatusTable prints one row per stage. State is the last column so
// color codes never disturb the alignment.
func writeStatusTable(w io.Writer, statuses []pipeline.StageStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTAGE\tEXPECTED\tCOMPLETED\tREMAINING\tSTATE")
	for _, s := range statuses {
		state := string(s.State)
		if style, ok := stateStyles[s.State]; ok {
			state = style.Render(state)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n", s.Number, s.Name, s.Expected, s.Completed, s.Remaining, state)
	}
	return tw.Flush()
}
