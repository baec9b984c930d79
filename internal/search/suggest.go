package search

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/neuralfs/neuralfs/internal/textindex"
)

const (
	defaultMaxEditDistance = 2
	defaultMaxSuggestions  = 5
	defaultMinTermFreq     = 1
)

// Suggester produces query suggestions from the indexed vocabulary:
// spelling corrections for unknown terms and completions for the final
// term being typed.
type Suggester struct {
	text *textindex.Index

	maxDistance    int
	maxSuggestions int
	minFreq        int

	mu      sync.RWMutex
	terms   []string
	termSet map[string]struct{}
	valid   bool
}

// SuggesterOption configures a Suggester.
type SuggesterOption func(*Suggester)

// WithMaxEditDistance sets the correction distance bound.
func WithMaxEditDistance(d int) SuggesterOption {
	return func(s *Suggester) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMaxSuggestions bounds the suggestion list.
func WithMaxSuggestions(n int) SuggesterOption {
	return func(s *Suggester) {
		if n > 0 {
			s.maxSuggestions = n
		}
	}
}

// NewSuggester creates a suggester over the text index vocabulary.
func NewSuggester(tix *textindex.Index, opts ...SuggesterOption) *Suggester {
	s := &Suggester{
		text:           tix,
		maxDistance:    defaultMaxEditDistance,
		maxSuggestions: defaultMaxSuggestions,
		minFreq:        defaultMinTermFreq,
		termSet:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate marks the vocabulary cache stale; the next Suggest call
// refreshes it. Call after indexing batches.
func (s *Suggester) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

func (s *Suggester) refresh() error {
	terms, err := s.text.Terms()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms = terms
	s.termSet = make(map[string]struct{}, len(terms))
	for _, t := range terms {
		s.termSet[strings.ToLower(t)] = struct{}{}
	}
	s.valid = true
	return nil
}

type candidate struct {
	term  string
	score float64
}

// Suggest returns up to max suggested queries: the input with unknown
// terms corrected, then completions of the final term.
func (s *Suggester) Suggest(query string, max int) ([]string, error) {
	if max <= 0 {
		max = s.maxSuggestions
	}
	s.mu.RLock()
	valid := s.valid
	s.mu.RUnlock()
	if !valid {
		if err := s.refresh(); err != nil {
			return nil, err
		}
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var suggestions []string
	seen := map[string]bool{}
	addQuery := func(q string) {
		if q == "" || strings.EqualFold(q, query) || seen[strings.ToLower(q)] {
			return
		}
		seen[strings.ToLower(q)] = true
		suggestions = append(suggestions, q)
	}

	// corrections: rewrite the query once per plausible fix of each
	// unknown term, best fixes first
	for i, tok := range tokens {
		lower := strings.ToLower(tok)
		if s.known(lower) {
			continue
		}
		for _, c := range s.corrections(lower) {
			fixed := make([]string, len(tokens))
			copy(fixed, tokens)
			fixed[i] = c.term
			addQuery(strings.Join(fixed, " "))
			if len(suggestions) >= max {
				return suggestions, nil
			}
		}
	}

	// completions of the trailing term
	last := strings.ToLower(tokens[len(tokens)-1])
	if len(last) >= 2 {
		for _, c := range s.completions(last) {
			completed := make([]string, len(tokens))
			copy(completed, tokens)
			completed[len(completed)-1] = c.term
			addQuery(strings.Join(completed, " "))
			if len(suggestions) >= max {
				break
			}
		}
	}
	return suggestions, nil
}

func (s *Suggester) known(term string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.termSet[term]
	return ok
}

// corrections ranks vocabulary terms near the unknown term. Score favors
// short edit distance, then document frequency.
func (s *Suggester) corrections(term string) []candidate {
	s.mu.RLock()
	terms := s.terms
	s.mu.RUnlock()

	var out []candidate
	for _, t := range terms {
		lower := strings.ToLower(t)
		// cheap length prefilter before the edit-distance matrix
		if abs(len([]rune(lower))-len([]rune(term))) > s.maxDistance {
			continue
		}
		d := levenshtein(term, lower)
		if d == 0 || d > s.maxDistance {
			continue
		}
		freq, err := s.text.TermDocFrequency(t)
		if err != nil || freq < s.minFreq {
			continue
		}
		out = append(out, candidate{
			term:  lower,
			score: math.Log1p(float64(freq)) / float64(d),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].term < out[j].term
	})
	if len(out) > s.maxSuggestions {
		out = out[:s.maxSuggestions]
	}
	return out
}

// completions ranks vocabulary terms extending the prefix by frequency.
func (s *Suggester) completions(prefix string) []candidate {
	s.mu.RLock()
	terms := s.terms
	s.mu.RUnlock()

	var out []candidate
	for _, t := range terms {
		lower := strings.ToLower(t)
		if lower == prefix || !strings.HasPrefix(lower, prefix) {
			continue
		}
		freq, err := s.text.TermDocFrequency(t)
		if err != nil || freq < s.minFreq {
			continue
		}
		out = append(out, candidate{term: lower, score: float64(freq)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].term < out[j].term
	})
	if len(out) > s.maxSuggestions {
		out = out[:s.maxSuggestions]
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
