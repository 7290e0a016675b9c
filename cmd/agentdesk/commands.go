package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"agentdesk/pkg/agent"
	"agentdesk/pkg/ai"
	"agentdesk/pkg/config"
	"agentdesk/pkg/logging"
	"agentdesk/pkg/session"
	"agentdesk/pkg/version"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"github.com/spf13/cobra"
)

// errRunFailed marks a run whose failure was already printed as part of the
// transcript.
var errRunFailed = errors.New("run failed")

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	getenv     func(string) string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{getenv: os.Getenv}

	root := &cobra.Command{
		Use:   "agentdesk",
		Short: "Chat with a single agent or run a team of agents",
		Long: `agentdesk drives the agent catalog from the terminal.

A single chat sends your message and the session history to one agent.
A team run lets the project manager plan the work, the members draft,
the PM critique, the members revise, and the PM deliver meeting minutes
and a final report.

Credentials are read from the config file and AGENTDESK_* environment
variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", config.GetConfigPath(), "path to the JSON config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional KEY=VALUE file read after the process environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	root.AddCommand(
		newAgentsCmd(opts),
		newProvidersCmd(opts),
		newChatCmd(opts),
		newTeamCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	getenv, err := config.EnvWithDotEnv(o.envFile, o.getenv)
	if err != nil {
		return err
	}
	cfg = config.ApplyEnv(cfg, getenv)
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", o.configPath, err)
	}

	logger, err := logging.Init(cfg)
	if err != nil {
		// Logging is best effort; the CLI still works without a log file.
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	o.cfg = cfg
	o.logger = logger
	logger.Info("agentdesk_start",
		"version", version.Summary(),
		"llm_provider", cfg.LLMProvider,
		"session_store", cfg.SessionStore.Driver,
	)
	return nil
}

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents [query]",
		Short: "List agents, ranked by relevance when a query is given",
		Long: `Lists the agent catalog. With a query, agents are ranked by keyword,
name, category and description matches; agents whose keywords appear in
the query are marked as recommended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(opts.cfg)
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			rows := make([][]string, 0, catalog.Len())
			for _, m := range catalog.Search(query) {
				mark := ""
				if query != "" && m.Recommended() {
					mark = "*"
				}
				rows = append(rows, []string{mark, m.Agent.ID, m.Agent.Name, m.Agent.Category, strconv.Itoa(m.Score)})
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("", "ID", "NAME", "CATEGORY", "SCORE").
				Rows(rows...)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return err
		},
	}
}

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the LLM providers built into this binary",
		Long: `Lists the registered LLM providers. The provider selected by
llm_provider (or AGENTDESK_LLM_PROVIDER) is marked with "*".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printProviders(cmd.OutOrStdout(), ai.DefaultRegistry, opts.cfg)
		},
	}
}

func printProviders(out io.Writer, registry *ai.Registry, cfg config.Config) error {
	active := ai.ProviderType(cfg.LLMProvider)
	rows := make([][]string, 0, len(ai.SupportedProviders()))
	for _, info := range registry.ListProviders() {
		mark := ""
		if info.Type == active {
			mark = "*"
		}
		rows = append(rows, []string{mark, string(info.Type), info.Name, info.Transport, string(info.Family), info.Description})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("", "TYPE", "NAME", "TRANSPORT", "FAMILY", "DESCRIPTION").
		Rows(rows...)
	if _, err := fmt.Fprintln(out, t.String()); err != nil {
		return err
	}

	info, ok := registry.GetProviderInfo(active)
	if !ok {
		_, err := fmt.Fprintf(out, "active: %s (not registered)\n", cfg.LLMProvider)
		return err
	}
	key := "api key set"
	if !cfg.HasAPIKey() {
		key = "no api key"
	}
	_, err := fmt.Fprintf(out, "active: %s (%s)\n", info.Name, key)
	return err
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		agentID   string
		sessionID string
		expanded  bool
	)

	cmd := &cobra.Command{
		Use:   "chat --agent ID MESSAGE...",
		Short: "Send a message to a single agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id := sessionID
			if id == "" {
				sess, err := a.dispatcher.StartSingle(ctx, agentID)
				if err != nil {
					return err
				}
				id = sess.ID
			}

			msgs, err := a.dispatcher.Send(ctx, id, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printRun(ctx, cmd.OutOrStdout(), a, id, msgs, expanded)
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", agent.GeneralAgentID, "agent id to chat with")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session (redis store)")
	cmd.Flags().BoolVar(&expanded, "expand", false, "print collapsed messages in full")
	return cmd
}

func newTeamCmd(opts *rootOptions) *cobra.Command {
	var (
		members   []string
		sessionID string
		exportDir string
		copyOut   bool
		expanded  bool
	)

	cmd := &cobra.Command{
		Use:   "team --members ID,ID MESSAGE...",
		Short: "Run the team workflow on a goal",
		Long: `Runs the five-phase team workflow: the PM plans, each member drafts,
the PM critiques, each member revises, and the PM writes the meeting
minutes and the final report. The PM is the configured pm_agent_id and is
always the first member.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id := sessionID
			if id == "" {
				sess, err := a.dispatcher.StartGroup(ctx, members)
				if err != nil {
					return err
				}
				id = sess.ID
			} else if len(members) > 0 {
				if _, err := a.dispatcher.AddMembers(ctx, id, members); err != nil {
					return err
				}
			}

			msgs, err := a.dispatcher.Send(ctx, id, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if exportDir != "" {
				paths, err := exportArtifacts(exportDir, msgs)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", p)
				}
			}
			if copyOut {
				if report := finalReport(msgs); report != "" {
					_, _ = fmt.Fprint(out, osc52.New(report))
				}
			}
			return printRun(ctx, out, a, id, msgs, expanded)
		},
	}

	cmd.Flags().StringSliceVar(&members, "members", nil, "comma separated member agent ids")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing group session (redis store)")
	cmd.Flags().StringVar(&exportDir, "export", "", "directory to write the generated artifacts to")
	cmd.Flags().BoolVar(&copyOut, "copy", false, "copy the final report to the clipboard via OSC 52")
	cmd.Flags().BoolVar(&expanded, "expand", false, "print drafts and revisions in full")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

// printRun prints the session header and the messages appended by the run.
// It returns errRunFailed when any of them is an error message.
func printRun(ctx context.Context, out io.Writer, a *app, sessionID string, msgs []session.Message, expanded bool) error {
	r := a.renderer(out, expanded)
	if sess, err := a.store.Get(ctx, sessionID); err == nil {
		fmt.Fprintln(out, r.Header(sess))
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, r.Transcript(msgs))

	for _, m := range msgs {
		if m.IsError {
			return errRunFailed
		}
	}
	return nil
}
