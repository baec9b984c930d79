package models

import "testing"

func TestIndexStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to IndexStatus
		ok       bool
	}{
		{IndexPending, IndexIndexing, true},
		{IndexIndexing, IndexIndexed, true},
		{IndexIndexing, IndexFailed, true},
		{IndexIndexing, IndexSkipped, true},
		{IndexPending, IndexIndexed, false},
		{IndexIndexed, IndexPending, true},
		{IndexIndexed, IndexFailed, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	allowed := map[TaskStatus][]TaskStatus{
		TaskPending:    {TaskProcessing},
		TaskProcessing: {TaskCompleted, TaskFailed, TaskDeadLetter},
		TaskFailed:     {TaskPending},
	}
	all := []TaskStatus{TaskPending, TaskProcessing, TaskCompleted, TaskFailed, TaskDeadLetter}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestFileTypeForExtension(t *testing.T) {
	if FileTypeForExtension(".pdf") != FileTypeDocument {
		t.Error(".pdf should be document")
	}
	if FileTypeForExtension(".go") != FileTypeCode {
		t.Error(".go should be code")
	}
	if FileTypeForExtension(".xyz") != FileTypeOther {
		t.Error("unknown extension should be other")
	}
}

func TestEffectiveStrength(t *testing.T) {
	r := &FileRelation{Strength: 0.8, Feedback: FeedbackNone}
	if r.EffectiveStrength() != 0.8 {
		t.Errorf("none: got %f", r.EffectiveStrength())
	}
	r.Feedback = FeedbackRejected
	if r.EffectiveStrength() != 0 {
		t.Errorf("rejected: got %f", r.EffectiveStrength())
	}
	r.Feedback = FeedbackAdjusted
	r.UserStrength = 0.3
	if r.EffectiveStrength() != 0.3 {
		t.Errorf("adjusted: got %f", r.EffectiveStrength())
	}
}

func TestPointIDStable(t *testing.T) {
	id := NewID()
	if PointID(id) != PointID(id) {
		t.Error("point id must be deterministic")
	}
	if PointID("not-a-uuid") == 0 {
		t.Error("fallback hash should not be zero for non-empty input")
	}
}

func TestSearchRequestValidate(t *testing.T) {
	r := &SearchRequest{}
	if err := r.Validate(); err == nil {
		t.Fatal("empty query must be rejected")
	}
	r = &SearchRequest{Query: "report", Limit: 500}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if r.Limit != 100 {
		t.Errorf("limit should clamp to 100, got %d", r.Limit)
	}
	if r.RequestID == "" {
		t.Error("request id should be assigned")
	}
}
