package inference

import (
	"os"
	"os/user"
	"strings"
)

// Placeholders substituted into outbound prompts.
const (
	placeholderUser = "[USER]"
	placeholderHome = "[HOME]"
	placeholderPath = "[PATH]"
)

// Anonymizer strips machine-identifying strings from text before it
// leaves the machine. Rules apply in order: configured sensitive
// patterns, then the home directory, then the bare username. Home runs
// before username because the home path contains it.
type Anonymizer struct {
	rules []anonRule
}

type anonRule struct {
	match       string
	replacement string
}

// NewAnonymizer builds the rule set from the current user and the
// configured sensitive path patterns.
func NewAnonymizer(sensitivePatterns []string) *Anonymizer {
	a := &Anonymizer{}
	for _, p := range sensitivePatterns {
		if p != "" {
			a.rules = append(a.rules, anonRule{match: p, replacement: placeholderPath})
		}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && home != "/" {
		a.rules = append(a.rules, anonRule{match: home, replacement: placeholderHome})
	}
	if u, err := user.Current(); err == nil && len(u.Username) >= 2 {
		a.rules = append(a.rules, anonRule{match: u.Username, replacement: placeholderUser})
	}
	return a
}

// Scrub returns s with every rule applied.
func (a *Anonymizer) Scrub(s string) string {
	for _, r := range a.rules {
		s = strings.ReplaceAll(s, r.match, r.replacement)
	}
	return s
}
