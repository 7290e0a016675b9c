package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agentdesk/pkg/ai"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
)

// Type distinguishes one-agent chats from team sessions.
type Type string

const (
	TypeSingle Type = "single"
	TypeGroup  Type = "group"
)

// Status is the workflow status shown next to a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPlanning   Status = "planning"
	StatusWorking    Status = "working"
	StatusReviewing  Status = "reviewing"
	StatusFinalizing Status = "finalizing"
)

// Idle reports whether no run holds the session. Records written before
// statuses existed have an empty status.
func (s Status) Idle() bool {
	return s == StatusIdle || s == ""
}

// Message authors. Agent messages always use RoleModel.
const (
	RoleUser  = ai.RoleUser
	RoleModel = ai.RoleModel
)

// FileType is the kind of artifact attached to a message.
type FileType string

const (
	FileTXT FileType = "txt"
	FilePDF FileType = "pdf"
)

// TitleWidth is the display width session titles are truncated to.
const TitleWidth = 32

var (
	ErrNotFound     = errors.New("session not found")
	ErrConflict     = errors.New("session already exists")
	ErrNoSuchIndex  = errors.New("message index out of range")
	ErrInvalidGroup = errors.New("invalid session members")
	// ErrBusy is returned by BeginRun when the session is not idle.
	ErrBusy = errors.New("session is busy")
)

// GeneratedFile is a deliverable produced by a team run.
type GeneratedFile struct {
	Name    string   `json:"name"`
	Type    FileType `json:"type"`
	Content string   `json:"content"`
	Date    string   `json:"date"`
}

// Message is one entry of a session log.
type Message struct {
	Role          string         `json:"role"`
	Text          string         `json:"text"`
	AgentID       string         `json:"agent_id,omitempty"`
	IsError       bool           `json:"is_error,omitempty"`
	IsCollapsed   bool           `json:"is_collapsed,omitempty"`
	GeneratedFile *GeneratedFile `json:"generated_file,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ChatSession is a conversation with one agent or a team. For group
// sessions Members[0] is the PM.
type ChatSession struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Members   []string  `json:"members"`
	Messages  []Message `json:"messages,omitempty"`
	Status    Status    `json:"status"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// NewSingle creates a session with one agent.
func NewSingle(agentID string) (*ChatSession, error) {
	return newSession(TypeSingle, []string{agentID})
}

// NewGroup creates a team session. members[0] is the PM.
func NewGroup(members []string) (*ChatSession, error) {
	return newSession(TypeGroup, members)
}

func newSession(t Type, members []string) (*ChatSession, error) {
	now := time.Now()
	s := &ChatSession{
		ID:        NewID(),
		Type:      t,
		Members:   append([]string(nil), members...),
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the member invariants of the session type.
func (s *ChatSession) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("session id cannot be empty")
	}
	for _, m := range s.Members {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: empty member id", ErrInvalidGroup)
		}
	}
	switch s.Type {
	case TypeSingle:
		if len(s.Members) != 1 {
			return fmt.Errorf("%w: single session needs exactly one member, got %d", ErrInvalidGroup, len(s.Members))
		}
	case TypeGroup:
		if len(s.Members) == 0 {
			return fmt.Errorf("%w: group session needs a PM", ErrInvalidGroup)
		}
	default:
		return fmt.Errorf("unknown session type: %q", s.Type)
	}
	return nil
}

// PrimaryAgent is the single agent or the PM.
func (s *ChatSession) PrimaryAgent() string {
	if len(s.Members) == 0 {
		return ""
	}
	return s.Members[0]
}

// Workers returns the non-PM members of a group session in order.
func (s *ChatSession) Workers() []string {
	if s.Type != TypeGroup || len(s.Members) < 2 {
		return nil
	}
	return append([]string(nil), s.Members[1:]...)
}

// TitleFrom derives a session title from the first user message, cut to
// width display columns.
func TitleFrom(text string, width int) string {
	title := strings.Join(strings.Fields(text), " ")
	if width <= 0 {
		return title
	}
	return runewidth.Truncate(title, width, "…")
}

// ToChatMessages converts a session log to the provider message shape.
func ToChatMessages(msgs []Message) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := ai.RoleUser
		if ai.IsAssistantRole(m.Role) {
			role = ai.RoleModel
		}
		out = append(out, ai.ChatMessage{Role: role, Content: m.Text})
	}
	return out
}

// applyAppend updates the derived session fields for newly appended
// messages.
func applyAppend(s *ChatSession, msgs []Message, now time.Time) {
	for i := range msgs {
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
		if s.Title == "" && msgs[i].Role == RoleUser {
			s.Title = TitleFrom(msgs[i].Text, TitleWidth)
		}
	}
	s.UpdatedAt = now
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.GeneratedFile != nil {
			f := *m.GeneratedFile
			out[i].GeneratedFile = &f
		}
	}
	return out
}

func cloneSession(s *ChatSession) ChatSession {
	out := *s
	out.Members = append([]string(nil), s.Members...)
	out.Messages = cloneMessages(s.Messages)
	return out
}
