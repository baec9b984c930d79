package search

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/neuralfs/neuralfs/internal/models"
)

// QueryMode drives the vector/keyword weight split.
type QueryMode string

const (
	ModeExactKeyword    QueryMode = "exact-keyword"
	ModeNaturalLanguage QueryMode = "natural-language"
	ModeMixed           QueryMode = "mixed"
)

// patterns that mark a query as keyword-seeking
var (
	hexPattern      = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	digitRunPattern = regexp.MustCompile(`\d{4,}`)
	capsPattern     = regexp.MustCompile(`[A-Z][A-Z0-9_]{2,}`)
	filenamePattern = regexp.MustCompile(`\b[\w\-]+\.[A-Za-z0-9]{1,6}\b`)
	quotedPattern   = regexp.MustCompile(`"[^"]+"|'[^']+'`)
	pathPattern     = regexp.MustCompile(`(?:^|\s)(?:~?/[\w\-. ]+(?:/[\w\-. ]*)*|[A-Za-z]:\\[\w\-. \\]*)`)
)

// interrogative and descriptive openers that mark natural language
var (
	englishOpeners = []string{
		"what", "where", "which", "when", "who", "why", "how",
		"find", "show", "list", "search", "give", "tell",
	}
	chineseOpeners = []string{
		"什么", "哪个", "哪些", "哪里", "怎么", "如何", "为什么",
		"找", "查找", "搜索", "显示", "列出", "关于",
	}
)

// Classification is the outcome of query analysis.
type Classification struct {
	Mode    QueryMode
	Intent  models.QueryIntent
	Tokens  []string
	Phrases []string
	// FileHint is set when the query names a file or a path directly.
	FileHint bool
}

// Classify analyzes a query into its mode and intent.
func Classify(query string) Classification {
	trimmed := strings.TrimSpace(query)

	var phrases []string
	for _, m := range quotedPattern.FindAllString(trimmed, -1) {
		phrases = append(phrases, strings.Trim(m, `"'`))
	}

	keywordSignal := hexPattern.MatchString(trimmed) ||
		digitRunPattern.MatchString(trimmed) ||
		capsPattern.MatchString(trimmed) ||
		len(phrases) > 0 ||
		pathPattern.MatchString(trimmed)
	fileHint := filenamePattern.MatchString(trimmed) || pathPattern.MatchString(trimmed)
	if fileHint {
		keywordSignal = true
	}

	tokens := tokenize(trimmed)
	// Path segments and filename parts are not prose; token count only
	// signals natural language when no file hint matched.
	naturalSignal := (len(tokens) >= 3 && !fileHint) || hasOpener(trimmed, tokens)

	c := Classification{
		Tokens:   tokens,
		Phrases:  phrases,
		FileHint: fileHint,
	}
	switch {
	case keywordSignal && naturalSignal:
		c.Mode = ModeMixed
	case keywordSignal:
		c.Mode = ModeExactKeyword
	case naturalSignal:
		c.Mode = ModeNaturalLanguage
	default:
		c.Mode = ModeMixed
	}

	switch {
	case fileHint:
		c.Intent = models.IntentFindFile
	case c.Mode == ModeNaturalLanguage:
		c.Intent = models.IntentFindContent
	default:
		c.Intent = models.IntentAmbiguous
	}
	return c
}

// Weights returns (vector, bm25) weights for the mode. defaultVec is the
// configured vector weight used for mixed queries; the pair always sums
// to one.
func Weights(mode QueryMode, defaultVec float64) (float64, float64) {
	if defaultVec <= 0 || defaultVec >= 1 {
		defaultVec = 0.6
	}
	switch mode {
	case ModeExactKeyword:
		return 0.2, 0.8
	case ModeNaturalLanguage:
		return 0.8, 0.2
	default:
		return defaultVec, 1 - defaultVec
	}
}

func hasOpener(query string, tokens []string) bool {
	if len(tokens) > 0 {
		first := strings.ToLower(tokens[0])
		for _, opener := range englishOpeners {
			if first == opener {
				return true
			}
		}
	}
	for _, opener := range chineseOpeners {
		if strings.HasPrefix(query, opener) {
			return true
		}
	}
	return false
}

// tokenize splits on whitespace and punctuation, keeping Han runs whole
// so token counting matches how users phrase Chinese queries.
func tokenize(query string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	var lastHan bool
	for _, r := range query {
		han := unicode.Is(unicode.Han, r)
		switch {
		case han:
			if !lastHan {
				flush()
			}
			cur = append(cur, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.':
			if lastHan {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
		lastHan = han
	}
	flush()
	return tokens
}
