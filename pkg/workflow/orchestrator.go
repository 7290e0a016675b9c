package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agentdesk/pkg/agent"
	"agentdesk/pkg/ai"
	"agentdesk/pkg/config"
	"agentdesk/pkg/logging"
	"agentdesk/pkg/session"
)

// Message texts appended to the session log by a team run.
const (
	AskFallback     = "Please provide more details."
	PlanHeader      = "Plan complete, the team is starting.\n\n"
	DraftPrefix     = "[Draft]\n"
	RevisionPrefix  = "[Revision]\n"
	NoOutput        = "(no output)"
	CritiqueHeader  = "Round-table critique:\n"
	CritiqueFooter  = "\n\nEach member please revise according to the feedback."
	FailurePrefix   = "Team collaboration failed: "
	MinutesNotice   = "Meeting minutes compiled, covering key decisions and action items."
	ReportNotice    = "The final project report is ready for review."
	minutesBaseName = "meeting-minutes"
	reportBaseName  = "project-report"
)

const (
	DefaultDraftDelay  = 800 * time.Millisecond
	DefaultReviseDelay = 1000 * time.Millisecond
)

// Chatter is the LLM entry point the orchestrator calls once per phase per
// participant.
type Chatter interface {
	Chat(ctx context.Context, req ai.ChatRequest) (ai.ChatResponse, error)
}

// AgentLookup resolves member ids to agents.
type AgentLookup interface {
	Lookup(id string) (agent.Agent, bool)
}

// Orchestrator runs the five-phase team protocol over a group session.
type Orchestrator struct {
	llm         Chatter
	agents      AgentLookup
	store       session.Store
	pacer       Pacer
	draftDelay  time.Duration
	reviseDelay time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithPacer replaces the pacing between worker calls.
func WithPacer(p Pacer) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pacer = p
		}
	}
}

// WithDelays sets the pause before each draft and each revision.
func WithDelays(draft, revise time.Duration) Option {
	return func(o *Orchestrator) {
		o.draftDelay = draft
		o.reviseDelay = revise
	}
}

// WithWorkflowConfig applies the configured pacing delays.
func WithWorkflowConfig(cfg config.WorkflowConfig) Option {
	return WithDelays(
		time.Duration(cfg.DraftDelayMS)*time.Millisecond,
		time.Duration(cfg.ReviseDelayMS)*time.Millisecond,
	)
}

// WithClock sets the time source used for the transcript and artifacts.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an Orchestrator.
func New(llm Chatter, agents AgentLookup, store session.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:         llm,
		agents:      agents,
		store:       store,
		pacer:       SleepPacer{},
		draftDelay:  DefaultDraftDelay,
		reviseDelay: DefaultReviseDelay,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result summarises a finished run.
type Result struct {
	Phase    Phase
	Decision Decision
	// Drafts holds the latest text of each worker, keyed by agent id.
	Drafts  map[string]string
	Minutes string
	Report  string
	Err     error
}

type run struct {
	sessionID string
	goal      string
	history   []session.Message
	pm        agent.Agent
	workers   []agent.Agent
	decision  Decision
	drafts    map[string]string
	critique  string
	minutes   string
	report    string
	log       *transcript
}

type step func(ctx context.Context, r *run) (Phase, error)

// Run claims the group session and executes the protocol for input. The
// user message is expected to be in the log already. A session that is not
// idle is rejected with session.ErrBusy before anything is written. Any
// phase error appends a single PM error message and ends the run in
// PhaseFailed. If the session disappears or ctx is cancelled the run stops
// without appending anything. The status is idle again when Run returns.
func (o *Orchestrator) Run(ctx context.Context, sessionID, input string) (Result, error) {
	if err := o.store.BeginRun(ctx, sessionID, PhasePlan.Status()); err != nil {
		if errors.Is(err, session.ErrBusy) {
			o.logger.Warn("workflow_session_busy", "session_id", sessionID)
			return Result{Phase: PhaseFailed, Err: err}, err
		}
		return o.stopQuietly(PhasePlan, err)
	}
	defer func() {
		// The run owns the status until it ends, even when cancelled.
		_ = o.store.SetStatus(context.WithoutCancel(ctx), sessionID, session.StatusIdle)
	}()
	return o.RunClaimed(ctx, sessionID, input)
}

// RunClaimed executes the protocol on a session the caller already holds
// through session.Store.BeginRun. The caller resets the status to idle.
func (o *Orchestrator) RunClaimed(ctx context.Context, sessionID, input string) (Result, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return o.stopQuietly(PhasePlan, err)
	}
	if sess.Type != session.TypeGroup {
		err := fmt.Errorf("session %s is not a group session", sessionID)
		return Result{Phase: PhaseFailed, Err: err}, err
	}

	r, err := o.prepare(sess, input)
	if err != nil {
		return o.fail(ctx, sessionID, sess.PrimaryAgent(), PhasePlan, err, Result{})
	}

	steps := map[Phase]step{
		PhasePlan:     o.plan,
		PhaseDraft:    o.draft,
		PhaseCritique: o.critique,
		PhaseRevise:   o.revise,
		PhaseFinalize: o.finalize,
	}

	phase := PhasePlan
	for !phase.Terminal() {
		started := time.Now()
		o.logger.Info("workflow_phase_start",
			"session_id", sessionID,
			"phase", phase,
			"workers", len(r.workers),
		)
		if err := o.store.SetStatus(ctx, sessionID, phase.Status()); err != nil {
			return o.fail(ctx, sessionID, r.pm.ID, phase, err, r.result(PhaseFailed))
		}
		next, err := steps[phase](ctx, r)
		if err != nil {
			return o.fail(ctx, sessionID, r.pm.ID, phase, err, r.result(PhaseFailed))
		}
		o.logger.Info("workflow_phase_done",
			"session_id", sessionID,
			"phase", phase,
			"next", next,
			"duration", time.Since(started),
		)
		phase = next
	}

	return r.result(phase), nil
}

func (o *Orchestrator) prepare(sess session.ChatSession, input string) (*run, error) {
	pm, ok := o.agents.Lookup(sess.PrimaryAgent())
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrUnknownAgent, sess.PrimaryAgent())
	}
	workerIDs := sess.Workers()
	workers := make([]agent.Agent, 0, len(workerIDs))
	for _, id := range workerIDs {
		w, ok := o.agents.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", agent.ErrUnknownAgent, id)
		}
		workers = append(workers, w)
	}

	return &run{
		sessionID: sess.ID,
		goal:      input,
		history:   sess.Messages,
		pm:        pm,
		workers:   workers,
		drafts:    make(map[string]string, len(workers)),
		log:       newTranscript(o.now(), input, Roster(workers)),
	}, nil
}

func (o *Orchestrator) plan(ctx context.Context, r *run) (Phase, error) {
	msgs := session.ToChatMessages(r.history)
	if n := len(msgs); n == 0 || msgs[n-1].Role != ai.RoleUser || msgs[n-1].Content != r.goal {
		msgs = append(msgs, ai.ChatMessage{Role: ai.RoleUser, Content: r.goal})
	}

	text, err := o.call(ctx, PhasePlan, r.pm, ai.ChatRequest{
		Model:             r.pm.Model,
		Messages:          msgs,
		SystemInstruction: PlanPrompt(Roster(r.workers), r.goal),
		JSONMode:          true,
	})
	if err != nil {
		return PhaseFailed, err
	}

	r.decision = ParseDecision(text)
	if !r.decision.Parsed {
		o.logger.Warn("workflow_decision_unparsed",
			"session_id", r.sessionID,
			"raw_len", len(text),
		)
	}

	if r.decision.Action == ActionAsk {
		question := r.decision.Content
		if strings.TrimSpace(question) == "" {
			question = AskFallback
		}
		if err := o.append(ctx, r, session.Message{Role: session.RoleModel, Text: question, AgentID: r.pm.ID}); err != nil {
			return PhaseFailed, err
		}
		return PhaseAsked, nil
	}

	r.log.plan(r.decision.Content)
	if err := o.append(ctx, r, session.Message{
		Role:    session.RoleModel,
		Text:    PlanHeader + r.decision.Content,
		AgentID: r.pm.ID,
	}); err != nil {
		return PhaseFailed, err
	}
	return PhaseDraft, nil
}

func (o *Orchestrator) draft(ctx context.Context, r *run) (Phase, error) {
	for _, w := range r.workers {
		if err := o.pacer.Pause(ctx, o.draftDelay); err != nil {
			return PhaseFailed, err
		}
		text, err := o.call(ctx, PhaseDraft, w, ai.ChatRequest{
			Model:             w.Model,
			Messages:          []ai.ChatMessage{{Role: ai.RoleUser, Content: draftUserTurn}},
			SystemInstruction: DraftPrompt(w, r.decision.Content, r.goal),
		})
		if err != nil {
			return PhaseFailed, err
		}
		text = orNoOutput(text)
		r.drafts[w.ID] = text
		r.log.draft(w.Name, text)
		if err := o.append(ctx, r, session.Message{
			Role:        session.RoleModel,
			Text:        DraftPrefix + text,
			AgentID:     w.ID,
			IsCollapsed: true,
		}); err != nil {
			return PhaseFailed, err
		}
	}
	return PhaseCritique, nil
}

func (o *Orchestrator) critique(ctx context.Context, r *run) (Phase, error) {
	text, err := o.call(ctx, PhaseCritique, r.pm, ai.ChatRequest{
		Model:             r.pm.Model,
		Messages:          []ai.ChatMessage{{Role: ai.RoleUser, Content: critiqueUserTurn}},
		SystemInstruction: CritiquePrompt(r.goal, r.outputs()),
	})
	if err != nil {
		return PhaseFailed, err
	}
	r.critique = text
	r.log.critique(text)
	if err := o.append(ctx, r, session.Message{
		Role:    session.RoleModel,
		Text:    CritiqueHeader + text + CritiqueFooter,
		AgentID: r.pm.ID,
	}); err != nil {
		return PhaseFailed, err
	}
	return PhaseRevise, nil
}

func (o *Orchestrator) revise(ctx context.Context, r *run) (Phase, error) {
	for _, w := range r.workers {
		if err := o.pacer.Pause(ctx, o.reviseDelay); err != nil {
			return PhaseFailed, err
		}
		text, err := o.call(ctx, PhaseRevise, w, ai.ChatRequest{
			Model:             w.Model,
			Messages:          []ai.ChatMessage{{Role: ai.RoleUser, Content: reviseUserTurn}},
			SystemInstruction: RevisePrompt(w, r.critique, r.drafts[w.ID]),
		})
		if err != nil {
			return PhaseFailed, err
		}
		text = orNoOutput(text)
		r.drafts[w.ID] = text
		r.log.revision(w.Name, text)
		if err := o.append(ctx, r, session.Message{
			Role:        session.RoleModel,
			Text:        RevisionPrefix + text,
			AgentID:     w.ID,
			IsCollapsed: true,
		}); err != nil {
			return PhaseFailed, err
		}
	}
	return PhaseFinalize, nil
}

func (o *Orchestrator) finalize(ctx context.Context, r *run) (Phase, error) {
	minutes, err := o.call(ctx, PhaseFinalize, r.pm, ai.ChatRequest{
		Model:             r.pm.Model,
		Messages:          []ai.ChatMessage{{Role: ai.RoleUser, Content: minutesUserTurn}},
		SystemInstruction: MinutesPrompt(r.log.String()),
	})
	if err != nil {
		return PhaseFailed, err
	}
	report, err := o.call(ctx, PhaseFinalize, r.pm, ai.ChatRequest{
		Model:             r.pm.Model,
		Messages:          []ai.ChatMessage{{Role: ai.RoleUser, Content: reportUserTurn}},
		SystemInstruction: ReportPrompt(r.goal, r.outputs()),
	})
	if err != nil {
		return PhaseFailed, err
	}
	r.minutes = minutes
	r.report = report

	now := o.now()
	stamp := now.Format(timestampLayout)
	if err := o.append(ctx, r,
		session.Message{
			Role:    session.RoleModel,
			Text:    MinutesNotice,
			AgentID: r.pm.ID,
			GeneratedFile: &session.GeneratedFile{
				Name:    ArtifactName(minutesBaseName, now, session.FileTXT),
				Type:    session.FileTXT,
				Content: minutes,
				Date:    stamp,
			},
		},
		session.Message{
			Role:    session.RoleModel,
			Text:    ReportNotice,
			AgentID: r.pm.ID,
			GeneratedFile: &session.GeneratedFile{
				Name:    ArtifactName(reportBaseName, now, session.FilePDF),
				Type:    session.FilePDF,
				Content: report,
				Date:    stamp,
			},
		},
	); err != nil {
		return PhaseFailed, err
	}
	return PhaseDone, nil
}

// ArtifactName builds "<base>_<YYYY-MM-DD>.<ext>".
func ArtifactName(base string, t time.Time, ext session.FileType) string {
	return fmt.Sprintf("%s_%s.%s", base, t.Format("2006-01-02"), ext)
}

func (o *Orchestrator) call(ctx context.Context, phase Phase, a agent.Agent, req ai.ChatRequest) (string, error) {
	o.logger.Log(ctx, logging.LevelTrace, "workflow_prompt",
		"phase", phase,
		"agent_id", a.ID,
		"model", req.Model,
		"system_instruction", req.SystemInstruction,
	)
	resp, err := o.llm.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	attrs := []any{"phase", phase, "agent_id", a.ID, "model", resp.Model, "chars", len(resp.Text)}
	if resp.Usage != nil {
		attrs = append(attrs, "prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	}
	o.logger.Debug("workflow_reply", attrs...)
	return resp.Text, nil
}

func (o *Orchestrator) append(ctx context.Context, r *run, msgs ...session.Message) error {
	return o.store.Append(ctx, r.sessionID, msgs...)
}

// fail ends the run. The error message is appended unless the session is
// gone or the caller cancelled, in which case results are discarded.
func (o *Orchestrator) fail(ctx context.Context, sessionID, pmID string, phase Phase, cause error, res Result) (Result, error) {
	if errors.Is(cause, session.ErrNotFound) || ctx.Err() != nil {
		return o.stopQuietly(phase, cause)
	}

	err := phaseError(phase, cause)
	o.logger.Error("workflow_failed",
		"session_id", sessionID,
		"phase", phase,
		"error", cause,
	)
	appendErr := o.store.Append(ctx, sessionID, session.Message{
		Role:    session.RoleModel,
		Text:    FailurePrefix + cause.Error(),
		AgentID: pmID,
		IsError: true,
	})
	if appendErr != nil {
		o.logger.Warn("workflow_failure_not_recorded",
			"session_id", sessionID,
			"error", appendErr,
		)
	}
	res.Phase = PhaseFailed
	res.Err = err
	return res, err
}

func (o *Orchestrator) stopQuietly(phase Phase, cause error) (Result, error) {
	err := phaseError(phase, cause)
	o.logger.Info("workflow_stopped",
		"phase", phase,
		"reason", cause,
	)
	return Result{Phase: PhaseFailed, Err: err}, err
}

func (r *run) outputs() []NamedOutput {
	out := make([]NamedOutput, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, NamedOutput{Name: w.Name, Text: r.drafts[w.ID]})
	}
	return out
}

func (r *run) result(phase Phase) Result {
	drafts := make(map[string]string, len(r.drafts))
	for k, v := range r.drafts {
		drafts[k] = v
	}
	return Result{
		Phase:    phase,
		Decision: r.decision,
		Drafts:   drafts,
		Minutes:  r.minutes,
		Report:   r.report,
	}
}

func orNoOutput(text string) string {
	if strings.TrimSpace(text) == "" {
		return NoOutput
	}
	return text
}
