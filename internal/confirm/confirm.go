// Package confirm classifies user replies to pending-action prompts and
// decides which tools require confirmation before execution.
package confirm

import (
	"strings"

	"github.com/haasonsaas/valet/pkg/models"
)

// Decision is the outcome of classifying a reply.
type Decision int

const (
	// DecisionOther means the reply is neither a confirmation nor a
	// cancellation and should be treated as a fresh command.
	DecisionOther Decision = iota
	DecisionConfirm
	DecisionCancel
)

var confirmPhrases = map[string]struct{}{
	"yes":        {},
	"yeah":       {},
	"yep":        {},
	"sure":       {},
	"ok":         {},
	"okay":       {},
	"do it":      {},
	"confirm":    {},
	"go ahead":   {},
	"yes please": {},
}

var cancelPhrases = map[string]struct{}{
	"no":         {},
	"nope":       {},
	"cancel":     {},
	"stop":       {},
	"don't":      {},
	"dont":       {},
	"nevermind":  {},
	"never mind": {},
	"abort":      {},
}

// ParseReply classifies free text against the confirmation grammar. The
// whole message must match a known phrase; matching is case-insensitive and
// ignores trailing punctuation. Anything else is DecisionOther.
func ParseReply(text string) Decision {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, ".!?, ")
	s = strings.Join(strings.Fields(s), " ")
	if _, ok := confirmPhrases[s]; ok {
		return DecisionConfirm
	}
	if _, ok := cancelPhrases[s]; ok {
		return DecisionCancel
	}
	return DecisionOther
}

// Matcher decides which tools are sensitive. A tool is sensitive when the
// catalog marks it or its name matches a configured pattern.
type Matcher struct {
	patterns []string
}

// NewMatcher builds a matcher from name patterns. Patterns support a single
// leading or trailing wildcard ("send_*", "*_secret") or plain "*".
func NewMatcher(patterns []string) *Matcher {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &Matcher{patterns: cleaned}
}

// Sensitive reports whether the tool requires confirmation.
func (m *Matcher) Sensitive(tool models.Tool) bool {
	if tool.Sensitive {
		return true
	}
	return m.MatchName(tool.Name)
}

// MatchName checks a bare tool name against the pattern list.
func (m *Matcher) MatchName(name string) bool {
	for _, pattern := range m.patterns {
		if matchPattern(pattern, name) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(name, strings.TrimPrefix(pattern, "*"))
	}
	return pattern == name
}
