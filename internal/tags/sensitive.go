package tags

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/lexicon.yaml
var lexiconYAML []byte

// Lexicon holds the sensitive-term set. Tags matching any term are
// suggested only, never auto-confirmed.
type Lexicon struct {
	terms []string
}

// LoadLexicon parses the embedded defaults plus any extra patterns from
// configuration.
func LoadLexicon(extra []string) (*Lexicon, error) {
	var byCategory map[string][]string
	if err := yaml.Unmarshal(lexiconYAML, &byCategory); err != nil {
		return nil, err
	}
	lx := &Lexicon{}
	for _, terms := range byCategory {
		for _, t := range terms {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				lx.terms = append(lx.terms, t)
			}
		}
	}
	for _, t := range extra {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lx.terms = append(lx.terms, t)
		}
	}
	return lx, nil
}

// Sensitive reports whether a tag name contains a sensitive term.
func (lx *Lexicon) Sensitive(name string) bool {
	name = strings.ToLower(name)
	for _, t := range lx.terms {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}
