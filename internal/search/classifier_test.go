package search

import (
	"math"
	"testing"

	"github.com/neuralfs/neuralfs/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		query  string
		mode   QueryMode
		intent models.QueryIntent
	}{
		{"ERR_0x1A4F", ModeExactKeyword, models.IntentAmbiguous},
		{"report.pdf", ModeExactKeyword, models.IntentFindFile},
		{"/home/dev/projects/api", ModeExactKeyword, models.IntentFindFile},
		{`"quarterly budget"`, ModeExactKeyword, models.IntentAmbiguous},
		{"invoice 20240115", ModeExactKeyword, models.IntentAmbiguous},
		{"what is the project budget", ModeNaturalLanguage, models.IntentFindContent},
		{"找预算报告", ModeNaturalLanguage, models.IntentFindContent},
		{"documents about vendor contracts", ModeNaturalLanguage, models.IntentFindContent},
		{"meeting notes from 2024 planning", ModeMixed, models.IntentAmbiguous},
		{"budget report", ModeMixed, models.IntentAmbiguous},
	}
	for _, c := range cases {
		got := Classify(c.query)
		if got.Mode != c.mode {
			t.Errorf("%q: mode %s, want %s", c.query, got.Mode, c.mode)
		}
		if got.Intent != c.intent {
			t.Errorf("%q: intent %s, want %s", c.query, got.Intent, c.intent)
		}
	}
}

func TestClassifyAlwaysYieldsOneIntent(t *testing.T) {
	queries := []string{"a", "", "???", "合同", "x.y", "how how how"}
	for _, q := range queries {
		got := Classify(q)
		switch got.Intent {
		case models.IntentFindFile, models.IntentFindContent, models.IntentAmbiguous:
		default:
			t.Errorf("%q: invalid intent %q", q, got.Intent)
		}
	}
}

func TestWeightsSumToOne(t *testing.T) {
	cases := []struct {
		mode       QueryMode
		wVec, wBM  float64
		defaultVec float64
	}{
		{ModeExactKeyword, 0.2, 0.8, 0.6},
		{ModeNaturalLanguage, 0.8, 0.2, 0.6},
		{ModeMixed, 0.6, 0.4, 0.6},
		{ModeMixed, 0.7, 0.3, 0.7},
	}
	const eps = 1e-9
	for _, c := range cases {
		v, b := Weights(c.mode, c.defaultVec)
		if math.Abs(v-c.wVec) > eps || math.Abs(b-c.wBM) > eps {
			t.Errorf("%s: got (%g,%g), want (%g,%g)", c.mode, v, b, c.wVec, c.wBM)
		}
	}
}
