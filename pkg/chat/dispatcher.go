package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agentdesk/pkg/agent"
	"agentdesk/pkg/ai"
	"agentdesk/pkg/logging"
	"agentdesk/pkg/session"
	"agentdesk/pkg/workflow"
)

var (
	// ErrSessionBusy is returned when a session already has a reply or team
	// run in flight, in this process or any other sharing the store.
	ErrSessionBusy = session.ErrBusy
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message cannot be empty")
)

// Reply texts appended by single-agent chats.
const (
	MissingKeyText  = "Error: no API key configured."
	EmptyReplyText  = "Unable to generate a reply."
	ErrorTextPrefix = "Error: "
	joinNoticeText  = "System notice: %s joined the team."
)

// LLM is the facade used for single-agent chats.
type LLM interface {
	Chat(ctx context.Context, req ai.ChatRequest) (ai.ChatResponse, error)
	Configured() bool
}

// Runner executes a team run on a group session the dispatcher holds.
type Runner interface {
	RunClaimed(ctx context.Context, sessionID, input string) (workflow.Result, error)
}

// Catalog resolves agent ids.
type Catalog interface {
	Lookup(id string) (agent.Agent, bool)
}

// Dispatcher is the entry point for user input. It appends the user
// message and routes single sessions to the LLM and group sessions to the
// team runner. The session is claimed in the store for the whole call, so
// at most one run is active per session across processes.
type Dispatcher struct {
	llm     LLM
	runner  Runner
	catalog Catalog
	store   session.Store
	pmID    string
	logger  *slog.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithPMAgent sets the agent forced to the front of every group.
func WithPMAgent(id string) Option {
	return func(d *Dispatcher) {
		if strings.TrimSpace(id) != "" {
			d.pmID = id
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(llm LLM, runner Runner, catalog Catalog, store session.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		llm:     llm,
		runner:  runner,
		catalog: catalog,
		store:   store,
		pmID:    agent.GeneralAgentID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StartSingle creates a one-agent session.
func (d *Dispatcher) StartSingle(ctx context.Context, agentID string) (session.ChatSession, error) {
	if _, ok := d.catalog.Lookup(agentID); !ok {
		return session.ChatSession{}, fmt.Errorf("%w: %s", agent.ErrUnknownAgent, agentID)
	}
	s, err := session.NewSingle(agentID)
	if err != nil {
		return session.ChatSession{}, err
	}
	if err := d.store.Create(ctx, s); err != nil {
		return session.ChatSession{}, fmt.Errorf("failed to create session: %w", err)
	}
	d.logger.Info("chat_session_started", "session_id", s.ID, "type", s.Type, "agent_id", agentID)
	return *s, nil
}

// StartGroup creates a team session. The PM is always members[0]; any
// duplicate ids are dropped.
func (d *Dispatcher) StartGroup(ctx context.Context, memberIDs []string) (session.ChatSession, error) {
	members := mergeMembers([]string{d.pmID}, memberIDs)
	for _, id := range members {
		if _, ok := d.catalog.Lookup(id); !ok {
			return session.ChatSession{}, fmt.Errorf("%w: %s", agent.ErrUnknownAgent, id)
		}
	}
	s, err := session.NewGroup(members)
	if err != nil {
		return session.ChatSession{}, err
	}
	if err := d.store.Create(ctx, s); err != nil {
		return session.ChatSession{}, fmt.Errorf("failed to create session: %w", err)
	}
	d.logger.Info("chat_session_started", "session_id", s.ID, "type", s.Type, "members", len(members))
	return *s, nil
}

// AddMembers merges ids into a group session and announces the newcomers.
// Ids already present are ignored. It fails with ErrSessionBusy while a run
// holds the session.
func (d *Dispatcher) AddMembers(ctx context.Context, sessionID string, ids []string) (session.ChatSession, error) {
	if err := d.acquire(ctx, sessionID, session.StatusWorking); err != nil {
		return session.ChatSession{}, err
	}
	err := d.addMembers(ctx, sessionID, ids)
	d.release(ctx, sessionID)
	if err != nil {
		return session.ChatSession{}, err
	}
	return d.store.Get(ctx, sessionID)
}

func (d *Dispatcher) addMembers(ctx context.Context, sessionID string, ids []string) error {
	sess, err := d.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Type != session.TypeGroup {
		return fmt.Errorf("%w: members can only be added to a group session", session.ErrInvalidGroup)
	}

	merged := mergeMembers(sess.Members, ids)
	added := merged[len(sess.Members):]
	if len(added) == 0 {
		return nil
	}

	names := make([]string, 0, len(added))
	for _, id := range added {
		a, ok := d.catalog.Lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s", agent.ErrUnknownAgent, id)
		}
		names = append(names, a.Name)
	}

	if err := d.store.SetMembers(ctx, sessionID, merged); err != nil {
		return err
	}
	notice := session.Message{
		Role:    session.RoleModel,
		Text:    fmt.Sprintf(joinNoticeText, strings.Join(names, ", ")),
		AgentID: sess.PrimaryAgent(),
	}
	if err := d.store.Append(ctx, sessionID, notice); err != nil {
		return err
	}
	d.logger.Info("chat_members_added", "session_id", sessionID, "added", len(added))
	return nil
}

// Send submits user text to a session and blocks until the reply or the
// team run is finished. It returns the messages appended by this call,
// starting with the user message. Provider failures are reported as error
// messages in the log, not as a returned error.
func (d *Dispatcher) Send(ctx context.Context, sessionID, text string) ([]session.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := d.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	status := session.StatusWorking
	if sess.Type == session.TypeGroup {
		status = workflow.PhasePlan.Status()
	}
	if err := d.acquire(ctx, sessionID, status); err != nil {
		return nil, err
	}
	defer d.release(ctx, sessionID)

	// Reload under the claim; another holder may have appended since.
	sess, err = d.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	start := len(sess.Messages)

	user := session.Message{Role: session.RoleUser, Text: text}
	if err := d.store.Append(ctx, sessionID, user); err != nil {
		return nil, err
	}
	sess.Messages = append(sess.Messages, user)

	d.logger.Info("chat_send",
		"session_id", sessionID,
		"type", sess.Type,
		"history_messages", len(sess.Messages),
	)

	switch {
	case !d.llm.Configured():
		err = d.appendError(ctx, sessionID, sess.PrimaryAgent(), MissingKeyText)
	case sess.Type == session.TypeGroup:
		_, runErr := d.runner.RunClaimed(ctx, sessionID, text)
		if runErr != nil {
			d.logger.Warn("chat_team_run_failed", "session_id", sessionID, "error", runErr)
		}
		if errors.Is(runErr, session.ErrNotFound) {
			err = runErr
		}
	default:
		err = d.replySingle(ctx, sess)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	msgs, err := d.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if start > len(msgs) {
		start = len(msgs)
	}
	return msgs[start:], nil
}

func (d *Dispatcher) replySingle(ctx context.Context, sess session.ChatSession) error {
	agentID := sess.PrimaryAgent()
	a, ok := d.catalog.Lookup(agentID)
	if !ok {
		return d.appendError(ctx, sess.ID, agentID, ErrorTextPrefix+fmt.Sprintf("%v: %s", agent.ErrUnknownAgent, agentID))
	}

	req := ai.ChatRequest{
		Model:             a.Model,
		Messages:          session.ToChatMessages(sess.Messages),
		SystemInstruction: a.SystemInstruction,
	}
	d.logger.Log(ctx, logging.LevelTrace, "chat_prompt",
		"session_id", sess.ID,
		"agent_id", a.ID,
		"message_count", len(req.Messages),
		"system_instruction", req.SystemInstruction,
	)

	resp, err := d.llm.Chat(ctx, req)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		d.logger.Error("chat_reply_error", "session_id", sess.ID, "agent_id", a.ID, "error", err)
		return d.appendError(ctx, sess.ID, a.ID, ErrorTextPrefix+err.Error())
	}

	text := resp.Text
	if strings.TrimSpace(text) == "" {
		text = EmptyReplyText
	}
	return d.store.Append(ctx, sess.ID, session.Message{
		Role:    session.RoleModel,
		Text:    text,
		AgentID: a.ID,
	})
}

func (d *Dispatcher) appendError(ctx context.Context, sessionID, agentID, text string) error {
	return d.store.Append(ctx, sessionID, session.Message{
		Role:    session.RoleModel,
		Text:    text,
		AgentID: agentID,
		IsError: true,
	})
}

// ToggleCollapse flips the collapse flag of one message.
func (d *Dispatcher) ToggleCollapse(ctx context.Context, sessionID string, index int) (bool, error) {
	return d.store.ToggleCollapse(ctx, sessionID, index)
}

// Busy reports whether a session has a run in flight. Unknown sessions are
// not busy.
func (d *Dispatcher) Busy(ctx context.Context, sessionID string) bool {
	sess, err := d.store.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	return !sess.Status.Idle()
}

func (d *Dispatcher) acquire(ctx context.Context, sessionID string, status session.Status) error {
	err := d.store.BeginRun(ctx, sessionID, status)
	if errors.Is(err, session.ErrBusy) {
		d.logger.Warn("chat_session_busy", "session_id", sessionID)
	}
	return err
}

// release returns the session to idle even when ctx is already cancelled.
func (d *Dispatcher) release(ctx context.Context, sessionID string) {
	err := d.store.SetStatus(context.WithoutCancel(ctx), sessionID, session.StatusIdle)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		d.logger.Warn("chat_session_release_failed", "session_id", sessionID, "error", err)
	}
}

// mergeMembers appends ids to base with set semantics, keeping first
// occurrence order.
func mergeMembers(base, ids []string) []string {
	seen := make(map[string]struct{}, len(base)+len(ids))
	out := make([]string, 0, len(base)+len(ids))
	for _, list := range [][]string{base, ids} {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
