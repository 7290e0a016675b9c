package render

import (
	"fmt"
	"strings"

	"agentdesk/pkg/session"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 80

const (
	userLabel      = "You"
	collapsedMark  = "[collapsed]"
	errorMark      = "[error]"
	previewEllipse = "…"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)
)

// Renderer prints session logs as terminal text in append order.
type Renderer struct {
	width    int
	styled   bool
	expanded bool
	names    func(id string) string
}

// Option customises a Renderer.
type Option func(*Renderer)

// WithWidth sets the wrap width.
func WithWidth(width int) Option {
	return func(r *Renderer) {
		if width > 0 {
			r.width = width
		}
	}
}

// WithStyles enables ANSI styling.
func WithStyles(enabled bool) Option {
	return func(r *Renderer) {
		r.styled = enabled
	}
}

// WithExpanded prints collapsed messages in full.
func WithExpanded(enabled bool) Option {
	return func(r *Renderer) {
		r.expanded = enabled
	}
}

// WithNames sets the resolver from agent id to display name.
func WithNames(names func(id string) string) Option {
	return func(r *Renderer) {
		if names != nil {
			r.names = names
		}
	}
}

// New creates a Renderer. Output is plain text unless WithStyles is set.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		width: DefaultWidth,
		names: func(id string) string { return id },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Header renders a one-line summary of the session.
func (r *Renderer) Header(s session.ChatSession) string {
	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	names := make([]string, 0, len(s.Members))
	for _, id := range s.Members {
		names = append(names, r.names(id))
	}
	line := fmt.Sprintf("%s | %s | %s | %s", title, s.Type, s.Status, strings.Join(names, ", "))
	if ansi.StringWidth(line) > r.width {
		line = ansi.Truncate(line, r.width, "...")
	}
	return r.style(headerStyle, line)
}

// Transcript renders every message separated by a blank line.
func (r *Renderer) Transcript(msgs []session.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, r.Message(m))
	}
	return strings.Join(parts, "\n\n")
}

// Message renders one log entry. Collapsed entries show a single preview
// line unless the renderer is expanded.
func (r *Renderer) Message(m session.Message) string {
	label := r.label(m)

	if m.IsCollapsed && !r.expanded {
		budget := r.width - ansi.StringWidth(label) - len(collapsedMark) - 3
		line := fmt.Sprintf("%s: %s %s", r.styleLabel(m, label), Preview(m.Text, budget), r.style(mutedStyle, collapsedMark))
		return line
	}

	var sb strings.Builder
	sb.WriteString(r.styleLabel(m, label))
	sb.WriteString(":\n")
	sb.WriteString(ansi.Wordwrap(m.Text, r.width, ""))
	if f := m.GeneratedFile; f != nil {
		sb.WriteString("\n")
		sb.WriteString(r.style(fileStyle, fmt.Sprintf("  attached: %s (%s, %s)", f.Name, f.Type, f.Date)))
	}
	return sb.String()
}

func (r *Renderer) label(m session.Message) string {
	label := userLabel
	if m.Role != session.RoleUser {
		label = r.names(m.AgentID)
		if label == "" {
			label = "Assistant"
		}
	}
	if m.IsError {
		label += " " + errorMark
	}
	return label
}

func (r *Renderer) styleLabel(m session.Message, label string) string {
	switch {
	case m.IsError:
		return r.style(errorStyle, label)
	case m.Role == session.RoleUser:
		return r.style(userStyle, label)
	default:
		return r.style(agentStyle, label)
	}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

// Preview flattens text to one line cut to width display columns.
func Preview(text string, width int) string {
	line := strings.Join(strings.Fields(text), " ")
	if width <= 0 || ansi.StringWidth(line) <= width {
		return line
	}
	return ansi.Truncate(line, width, previewEllipse)
}
