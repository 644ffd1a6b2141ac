// Package directive extracts structured action, schedule, and preference
// blocks from completion output. The text is model-generated, so parsing is
// tolerant: one malformed block never blocks the surrounding prose or the
// other well-formed blocks.
package directive

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Action instructs the orchestrator to invoke a tool now.
type Action struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Schedule defers a tool invocation to a parsed temporal expression.
type Schedule struct {
	When        string         `json:"when"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description"`
}

// Preference records a user-declared fact to remember.
type Preference struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Parsed is the outcome of scanning one completion response.
type Parsed struct {
	Text       string
	Actions    []Action
	Schedule   *Schedule
	Preference *Preference
}

// Directives are fenced code blocks whose info string names the kind:
//
//	```action
//	{"tool": "battery_status", "args": {}}
//	```
//
// An unterminated fence is left in the prose rather than guessed at.
var fenceRe = regexp.MustCompile("(?s)```(action|schedule|preference)[ \t]*\n(.*?)```")

// Parse scans raw completion text. Recognized fences are stripped from the
// returned display text whether or not their JSON decodes; malformed bodies
// are dropped without aborting the scan. At most one schedule and one
// preference are honored (first wins).
func Parse(raw string) Parsed {
	parsed := Parsed{}
	cleaned := fenceRe.ReplaceAllStringFunc(raw, func(block string) string {
		m := fenceRe.FindStringSubmatch(block)
		kind, body := m[1], strings.TrimSpace(m[2])
		switch kind {
		case "action":
			var a Action
			if err := json.Unmarshal([]byte(body), &a); err == nil && a.Tool != "" {
				if a.Args == nil {
					a.Args = map[string]any{}
				}
				parsed.Actions = append(parsed.Actions, a)
			}
		case "schedule":
			var s Schedule
			if err := json.Unmarshal([]byte(body), &s); err == nil && s.Tool != "" && parsed.Schedule == nil {
				if s.Args == nil {
					s.Args = map[string]any{}
				}
				parsed.Schedule = &s
			}
		case "preference":
			var p Preference
			if err := json.Unmarshal([]byte(body), &p); err == nil && p.Key != "" && parsed.Preference == nil {
				parsed.Preference = &p
			}
		}
		return ""
	})
	parsed.Text = tidy(cleaned)
	return parsed
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

func tidy(s string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n\n"))
}
