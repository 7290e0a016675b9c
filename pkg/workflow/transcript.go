package workflow

import (
	"fmt"
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// transcript is the internal process record fed to the minutes prompt.
type transcript struct {
	sb strings.Builder
}

func newTranscript(start time.Time, goal, roster string) *transcript {
	t := &transcript{}
	fmt.Fprintf(&t.sb, "Project start: %s\n", start.Format(timestampLayout))
	fmt.Fprintf(&t.sb, "Project goal: %s\n", goal)
	team := "PM"
	if roster != "" {
		team += ", " + roster
	}
	fmt.Fprintf(&t.sb, "Team: %s\n\n", team)
	return t
}

func (t *transcript) section(title, body string) {
	fmt.Fprintf(&t.sb, "[%s]\n%s\n\n", title, body)
}

func (t *transcript) plan(content string) {
	t.section("Phase 1: Planning", content)
}

func (t *transcript) draft(name, text string) {
	t.section("Phase 2: "+name+" draft", text)
}

func (t *transcript) critique(text string) {
	t.section("Phase 3: Round-table critique", text)
}

func (t *transcript) revision(name, text string) {
	t.section("Phase 4: "+name+" revision", text)
}

func (t *transcript) String() string {
	return t.sb.String()
}
