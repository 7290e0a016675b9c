package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"agentdesk/pkg/agent"
	"agentdesk/pkg/ai"
	"agentdesk/pkg/chat"
	"agentdesk/pkg/config"
	"agentdesk/pkg/render"
	"agentdesk/pkg/session"
	"agentdesk/pkg/workflow"

	"golang.org/x/term"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	catalog    *agent.Catalog
	store      session.Store
	llm        *ai.Service
	dispatcher *chat.Dispatcher
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	llm, err := ai.NewServiceFromConfig(nil, cfg, ai.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM service: %w", err)
	}

	store, err := session.Open(cfg.SessionStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	orch := workflow.New(llm, catalog, store,
		workflow.WithWorkflowConfig(cfg.Workflow),
		workflow.WithLogger(logger),
	)
	dispatcher := chat.NewDispatcher(llm, orch, catalog, store,
		chat.WithPMAgent(cfg.Workflow.PMAgentID),
		chat.WithLogger(logger),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		catalog:    catalog,
		store:      store,
		llm:        llm,
		dispatcher: dispatcher,
	}, nil
}

func loadCatalog(cfg config.Config) (*agent.Catalog, error) {
	if path := strings.TrimSpace(cfg.CatalogFile); path != "" {
		catalog, err := agent.LoadCatalogFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent catalog: %w", err)
		}
		return catalog, nil
	}
	return agent.DefaultCatalog(), nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) agentName(id string) string {
	if ag, ok := a.catalog.Lookup(id); ok {
		return ag.Name
	}
	return id
}

// renderer styles output only when out is a terminal.
func (a *app) renderer(out io.Writer, expanded bool) *render.Renderer {
	opts := []render.Option{
		render.WithNames(a.agentName),
		render.WithExpanded(expanded),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		opts = append(opts, render.WithStyles(true))
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			opts = append(opts, render.WithWidth(width))
		}
	}
	return render.New(opts...)
}
