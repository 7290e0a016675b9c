package workflow

import (
	"encoding/json"
	"strings"
)

// Action is the PM's planning decision.
type Action string

const (
	ActionAsk      Action = "ASK"
	ActionDelegate Action = "DELEGATE"
)

// Decision is the parsed PLAN output.
type Decision struct {
	Action  Action `json:"action"`
	Content string `json:"content"`
	// Parsed is false when the raw text was not a JSON decision and was
	// taken verbatim as delegation content.
	Parsed bool `json:"-"`
}

// ParseDecision reads the PM decision. Anything that does not parse as a
// JSON object becomes a DELEGATE carrying the raw text verbatim; a parsed
// object with an action other than ASK is a DELEGATE, and a DELEGATE with
// no content keeps the raw text.
func ParseDecision(raw string) Decision {
	var payload struct {
		Action  string          `json:"action"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return Decision{Action: ActionDelegate, Content: raw}
	}

	d := Decision{Action: ActionDelegate, Content: contentString(payload.Content), Parsed: true}
	if strings.EqualFold(strings.TrimSpace(payload.Action), string(ActionAsk)) {
		d.Action = ActionAsk
	}
	if d.Action == ActionDelegate && strings.TrimSpace(d.Content) == "" {
		d.Content = raw
	}
	return d
}

// contentString accepts a JSON string, or any other JSON value re-encoded
// as text.
func contentString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
