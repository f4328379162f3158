// Package orchestrator drives the fixed node DAG (context, theorize,
// evaluate, select, risk-gate, execute, learn) over one Cycle State per
// invocation, wrapping every node in a named circuit breaker.
package orchestrator

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/execution-pipeline/pkg/types"
)

// CreateInitial builds the zero-value Cycle State for a new cycle.
func CreateInitial(cycleID string, cycleNumber int, now time.Time) types.CycleState {
	return types.CycleState{
		CycleID:     cycleID,
		CycleNumber: cycleNumber,
		StartedAt:   now,
		CurrentStep: types.StepContext,
		Thoughts:    []string{},
		Errors:      []string{},
		Warnings:    []string{},
	}
}

// Partial is a node's proposed update to the Cycle State. Only non-zero
// fields are meant to be set; Apply interprets a zero value as "no
// opinion" for every field except the accumulator lists, which nodes
// must pass in full (see AddThought/AddError below).
type Partial struct {
	CurrentStep types.CycleStep
	FinalStatus string
	Thoughts    []string
	Errors      []string
	Warnings    []string
	Payload     *PayloadPartial
}

// PayloadPartial mirrors CyclePayload but lets a node touch only the
// fields it produced; Apply merges these onto the prior payload.
type PayloadPartial struct {
	ContextData       map[string]any
	Candidates        []types.CandidateIdea
	EvaluationResults []types.EvaluationResult
	Selected          *types.CandidateIdea
	Signal            *types.Signal
	RiskDecision      *types.RiskDecision
	ExecutionOutcome  *types.ExecutionOutcome
}

// Apply merges partial onto state per §4.3's rule: for every field
// partial sets, the new value replaces the old one (a plain field) or
// merges by union with partial winning on key conflict (a mapping);
// nodes never mutate the state they were given, so the result is always
// a distinct value.
func Apply(state types.CycleState, partial Partial) types.CycleState {
	next := state

	if partial.CurrentStep != "" {
		next.CurrentStep = partial.CurrentStep
	}
	if partial.FinalStatus != "" {
		next.FinalStatus = partial.FinalStatus
	}
	if partial.Thoughts != nil {
		next.Thoughts = partial.Thoughts
	}
	if partial.Errors != nil {
		next.Errors = partial.Errors
	}
	if partial.Warnings != nil {
		next.Warnings = partial.Warnings
	}
	if partial.Payload != nil {
		next.Payload = applyPayload(state.Payload, *partial.Payload)
	}

	return next
}

func applyPayload(prior types.CyclePayload, p PayloadPartial) types.CyclePayload {
	next := prior

	if p.ContextData != nil {
		merged := make(map[string]any, len(prior.ContextData)+len(p.ContextData))
		for k, v := range prior.ContextData {
			merged[k] = v
		}
		for k, v := range p.ContextData {
			merged[k] = v
		}
		next.ContextData = merged
	}
	if p.Candidates != nil {
		next.Candidates = p.Candidates
	}
	if p.EvaluationResults != nil {
		next.EvaluationResults = p.EvaluationResults
	}
	if p.Selected != nil {
		next.Selected = p.Selected
	}
	if p.Signal != nil {
		next.Signal = p.Signal
	}
	if p.RiskDecision != nil {
		next.RiskDecision = p.RiskDecision
	}
	if p.ExecutionOutcome != nil {
		next.ExecutionOutcome = p.ExecutionOutcome
	}

	return next
}

// AddThought prepends an ISO-8601 timestamp to msg and appends it to the
// full thoughts list carried by the returned partial.
func AddThought(state types.CycleState, msg string, now time.Time) Partial {
	return Partial{Thoughts: append(append([]string{}, state.Thoughts...), stamp(now, msg))}
}

// AddError prepends an ISO-8601 timestamp to msg and appends it to the
// full errors list carried by the returned partial.
func AddError(state types.CycleState, msg string, now time.Time) Partial {
	return Partial{Errors: append(append([]string{}, state.Errors...), stamp(now, msg))}
}

// AddWarning prepends an ISO-8601 timestamp to msg and appends it to the
// full warnings list carried by the returned partial.
func AddWarning(state types.CycleState, msg string, now time.Time) Partial {
	return Partial{Warnings: append(append([]string{}, state.Warnings...), stamp(now, msg))}
}

func stamp(now time.Time, msg string) string {
	return fmt.Sprintf("%s %s", now.UTC().Format(time.RFC3339), msg)
}
