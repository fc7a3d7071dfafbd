package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect and manage the configured agents",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show every agent with its availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tFAILURES\tCOOLDOWN\tTHROTTLE")
			for _, st := range a.coord.ListAgentsWithStatus() {
				state := "available"
				switch {
				case !st.Enabled:
					state = "disabled"
				case st.RemainingCooldown > 0:
					state = "cooldown"
				case st.RemainingThrottle > 0:
					state = "throttled"
				}
				if st.Pinned {
					state += " (pinned)"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					st.Name, state, st.Failures,
					formatRemaining(st.RemainingCooldown),
					formatRemaining(st.RemainingThrottle))
			}
			return w.Flush()
		},
	}

	pin := &cobra.Command{
		Use:   "pin NAME",
		Short: "Pin an agent for the manual rotation strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.coord.SelectAgent(args[0], false); err != nil {
				return err
			}
			fmt.Printf("Agent %s pinned.\n", args[0])
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export FILE",
		Short: "Write the agent roster to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.ExportRoster(args[0]); err != nil {
				return err
			}
			fmt.Printf("Roster written to %s.\n", args[0])
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the agent roster from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.cfg.ImportRoster(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d agents from %s.\n", n, args[0])
			return nil
		},
	}

	cmd.AddCommand(list, pin, export, importCmd)
	return cmd
}

func newStrategyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategy [NAME]",
		Short: "Show or set the rotation strategy",
		Long: "With no argument, print the active rotation strategy. With an " +
			"argument, switch to it. Valid strategies: round-robin, exhaustion, " +
			"random, manual.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 0 {
				fmt.Println(a.coord.Strategy())
				return nil
			}
			if err := a.coord.SetStrategy(args[0]); err != nil {
				return err
			}
			fmt.Printf("Rotation strategy set to %s.\n", a.coord.Strategy())
			return nil
		},
	}
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the conversation log now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.coord.ManualCompact()
			if err != nil {
				return err
			}
			fmt.Printf("Compacted %d entries (%s), kept %d. Tokens: %d -> %d (saved %d).\n",
				stats.EntriesSummarized, stats.Method, stats.EntriesKept,
				stats.TokensBefore, stats.TokensAfter, stats.TokensSaved)
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	var clearInputs bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete this project's conversation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.coord.ClearHistory(); err != nil {
				return err
			}
			fmt.Println("Conversation log cleared.")
			if clearInputs {
				if err := a.coord.ClearInputs(); err != nil {
					return err
				}
				fmt.Println("Input history cleared.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearInputs, "inputs", false, "also clear the input history")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-agent execution statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			totals, err := a.coord.UsageTotals()
			if err != nil {
				return err
			}
			if len(totals) == 0 {
				fmt.Println("No executions recorded yet.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tRUNS\tSUCCESSES\tFAILURES\tAVG DURATION\tLAST RUN")
			for _, t := range totals {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
					t.Agent, t.Runs, t.Successes, t.Failures,
					t.AvgDuration.Round(time.Millisecond),
					t.LastRun.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newApp()
			if err != nil {
				return err
			}
			defer p.close()
			fmt.Println(p.cfg.Path())
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			data, err := os.ReadFile(a.cfg.Path())
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			var pretty json.RawMessage = data
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				// Not valid JSON; show it as-is.
				os.Stdout.Write(data)
				return nil
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.AddCommand(path, show)
	return cmd
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
