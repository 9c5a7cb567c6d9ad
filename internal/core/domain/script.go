package domain

import "strings"

// ScriptLine is a single timestamped line of a narration script.
type ScriptLine struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// IsEmpty reports whether the line has nothing to synthesize.
func (l ScriptLine) IsEmpty() bool {
	return strings.TrimSpace(l.Text) == ""
}
