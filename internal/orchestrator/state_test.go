package orchestrator

import (
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/pkg/types"
)

// TestApplyMergesDisjointKeys covers invariant #5: applying two partials
// with disjoint context-data keys is equivalent to applying their union
// in one shot.
func TestApplyMergesDisjointKeys(t *testing.T) {
	base := CreateInitial("c1", 1, time.Now())

	a := Partial{Payload: &PayloadPartial{ContextData: map[string]any{"regime": "bull"}}}
	b := Partial{Payload: &PayloadPartial{ContextData: map[string]any{"volatility": 0.2}}}

	sequential := Apply(Apply(base, a), b)

	merged := Partial{Payload: &PayloadPartial{ContextData: map[string]any{"regime": "bull", "volatility": 0.2}}}
	oneShot := Apply(base, merged)

	if len(sequential.Payload.ContextData) != len(oneShot.Payload.ContextData) {
		t.Fatalf("expected %d keys, got %d", len(oneShot.Payload.ContextData), len(sequential.Payload.ContextData))
	}
	for k, v := range oneShot.Payload.ContextData {
		if sequential.Payload.ContextData[k] != v {
			t.Fatalf("key %s: expected %v, got %v", k, v, sequential.Payload.ContextData[k])
		}
	}
}

// TestApplyOverlappingKeysLastWins covers invariant #5's conflict rule:
// for overlapping keys the later partial wins.
func TestApplyOverlappingKeysLastWins(t *testing.T) {
	base := CreateInitial("c1", 1, time.Now())

	a := Partial{Payload: &PayloadPartial{ContextData: map[string]any{"regime": "bull"}}}
	b := Partial{Payload: &PayloadPartial{ContextData: map[string]any{"regime": "bear"}}}

	result := Apply(Apply(base, a), b)
	if result.Payload.ContextData["regime"] != "bear" {
		t.Fatalf("expected later partial to win, got %v", result.Payload.ContextData["regime"])
	}
}

// TestApplyNeverMutatesInput ensures no node mutates the state it was
// handed; Apply must always return a distinct value for list fields.
func TestApplyNeverMutatesInput(t *testing.T) {
	base := CreateInitial("c1", 1, time.Now())
	base.Thoughts = []string{"first"}

	updated := Apply(base, AddThought(base, "second", time.Now()))

	if len(base.Thoughts) != 1 {
		t.Fatalf("input state was mutated: %v", base.Thoughts)
	}
	if len(updated.Thoughts) != 2 {
		t.Fatalf("expected 2 thoughts after apply, got %d", len(updated.Thoughts))
	}
}

// TestAddErrorStampsTimestamp checks the ISO-8601 prefix convention.
func TestAddErrorStampsTimestamp(t *testing.T) {
	base := CreateInitial("c1", 1, time.Now())
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	result := Apply(base, AddError(base, "boom", now))
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(result.Errors))
	}
	want := "2026-01-02T03:04:05Z boom"
	if result.Errors[0] != want {
		t.Fatalf("expected %q, got %q", want, result.Errors[0])
	}
}

// TestApplyReplacesScalarFields checks plain (non-mapping) field
// replacement semantics.
func TestApplyReplacesScalarFields(t *testing.T) {
	base := CreateInitial("c1", 1, time.Now())
	result := Apply(base, Partial{CurrentStep: types.StepEvaluate})
	if result.CurrentStep != types.StepEvaluate {
		t.Fatalf("expected step evaluate, got %s", result.CurrentStep)
	}
	if base.CurrentStep != types.StepContext {
		t.Fatalf("input state step was mutated: %s", base.CurrentStep)
	}
}
