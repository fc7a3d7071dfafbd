package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/termaite/termaite/internal/compactor"
	"github.com/termaite/termaite/internal/config"
	"github.com/termaite/termaite/internal/cooldown"
	"github.com/termaite/termaite/internal/executor"
	"github.com/termaite/termaite/internal/history"
	"github.com/termaite/termaite/internal/logging"
	"github.com/termaite/termaite/internal/selector"
	"github.com/termaite/termaite/internal/session"
	"github.com/termaite/termaite/internal/tui"
	"github.com/termaite/termaite/internal/usage"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg     *config.Store
	project *history.Project
	coord   *session.Coordinator
	rec     *usage.Recorder
	log     *logging.Logger
}

// newApp wires every component for the current working directory's project.
func newApp() (*app, error) {
	cfgPath, err := config.DefaultPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	root, err := history.DefaultRoot()
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	project, err := history.OpenProject(root, cwd)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(project.LogPath())
	if err != nil {
		// Diagnostics are best-effort; the logger is nil-safe.
		log = nil
	}

	store, err := history.NewStore(project.HistoryPath())
	if err != nil {
		return nil, err
	}
	inputs, err := history.NewInputLog(project.InputsPath())
	if err != nil {
		return nil, err
	}

	tracker := cooldown.New(cooldown.WithBufferFunc(func(name string) time.Duration {
		if a, ok := cfg.Agent(name); ok {
			return cfg.AgentTimeoutBuffer(a)
		}
		return 0
	}))
	sel, err := selector.New(cfg, tracker, project.SelectorStatePath(), selector.WithLogger(log))
	if err != nil {
		return nil, err
	}
	wrapper := executor.New(executor.WithLogger(log))
	comp := compactor.New(store, cfg, wrapper, compactor.WithLogger(log))

	rec, err := usage.Open(project.UsagePath())
	if err != nil {
		log.Printf("usage recording disabled: %v", err)
		rec = nil
	}

	coord := session.New(cfg, store, inputs, sel, tracker, wrapper, comp,
		session.WithUsage(rec),
		session.WithLogger(log))

	return &app{cfg: cfg, project: project, coord: coord, rec: rec, log: log}, nil
}

func (a *app) close() {
	a.rec.Close()
	a.log.Close()
}

func newRootCmd() *cobra.Command {
	var agentOverride string

	root := &cobra.Command{
		Use:   "termaite [prompt]",
		Short: "Rotate prompts across configured AI agent subprocesses",
		Long: "termaite sends each prompt to one of the agents configured in " +
			"~/.termaite/config.json, keeps a per-project conversation log, retries " +
			"failed agents through the rotation, and compacts the log when it " +
			"outgrows the smallest agent context window.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			prompt := strings.TrimSpace(strings.Join(args, " "))
			stdinIsTTY := term.IsTerminal(int(os.Stdin.Fd()))
			if prompt == "" && !stdinIsTTY {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}

			if prompt != "" {
				return runOneShot(a, prompt, agentOverride)
			}
			if !stdinIsTTY {
				return errors.New("no prompt given and stdin is not a terminal")
			}

			theme, err := tui.LoadTheme(filepath.Join(filepath.Dir(a.cfg.Path()), "theme.toml"))
			if err != nil {
				return err
			}
			if agentOverride != "" {
				if err := a.coord.SelectAgent(agentOverride, true); err != nil {
					return err
				}
			}
			return tui.Run(a.coord, theme)
		},
	}
	root.Flags().StringVar(&agentOverride, "agent", "", "agent to use for the first turn")

	root.AddCommand(
		newRunCmd(),
		newAgentsCmd(),
		newStrategyCmd(),
		newCompactCmd(),
		newClearCmd(),
		newStatsCmd(),
		newConfigCmd(),
	)
	return root
}

func newRunCmd() *cobra.Command {
	var agentOverride string
	cmd := &cobra.Command{
		Use:   "run PROMPT...",
		Short: "Send one prompt and print the reply",
		Long: "Submit a single prompt without opening the interactive chat. " +
			"The prompt comes from the arguments, or from stdin when none are " +
			"given. Exits 0 on success and 1 when every agent failed or the " +
			"run was cancelled.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				if term.IsTerminal(int(os.Stdin.Fd())) {
					return errors.New("no prompt given")
				}
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}
			return runOneShot(a, prompt, agentOverride)
		},
	}
	cmd.Flags().StringVar(&agentOverride, "agent", "", "agent to use for this turn")
	return cmd
}

// runOneShot submits a single prompt and exits 0 on success, 1 otherwise.
// SIGINT cancels the in-flight execution.
func runOneShot(a *app, prompt, agentOverride string) error {
	a.coord.SetNotifier(func(e session.Event) {
		switch e.Kind {
		case session.EventAnnouncement, session.EventFailure, session.EventInfo:
			fmt.Fprintln(os.Stderr, e.Text)
		}
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			a.coord.CancelAll()
		}
	}()

	var opts []session.SubmitOption
	if agentOverride != "" {
		opts = append(opts, session.WithAgentOverride(agentOverride))
	}
	res, err := a.coord.Submit(prompt, opts...)
	if err != nil {
		return err
	}
	fmt.Println(res.Reply)
	return nil
}
