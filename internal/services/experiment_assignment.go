package services

import (
	"context"
	"sync"

	"variantlab/internal/models"
)

// AssignmentState is the lifecycle of one Assignment
type AssignmentState int

const (
	AssignmentUnresolved AssignmentState = iota
	AssignmentResolving
	AssignmentResolved
	AssignmentFallback
)

func (s AssignmentState) String() string {
	switch s {
	case AssignmentUnresolved:
		return "unresolved"
	case AssignmentResolving:
		return "resolving"
	case AssignmentResolved:
		return "resolved"
	case AssignmentFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Assignment tracks the variant of one flag for one page view.
// It resolves at most once; Resolved and Fallback are terminal.
type Assignment struct {
	svc        *ExperimentService
	flagKey    string
	distinctID string
	onResolved func(variant string)

	mu         sync.Mutex
	state      AssignmentState
	resolution models.VariantResolution
	done       chan struct{}
}

// NewAssignment creates an unresolved assignment. onResolved, if set, runs once on the
// goroutine that performed the resolution, right after the terminal transition.
func (s *ExperimentService) NewAssignment(flagKey, distinctID string, onResolved func(variant string)) *Assignment {
	return &Assignment{
		svc:        s,
		flagKey:    flagKey,
		distinctID: distinctID,
		onResolved: onResolved,
		done:       make(chan struct{}),
	}
}

// Resolve drives the assignment to a terminal state and returns the outcome.
// Concurrent callers share the single in-flight resolution.
func (a *Assignment) Resolve(ctx context.Context) models.VariantResolution {
	a.mu.Lock()
	switch a.state {
	case AssignmentResolved, AssignmentFallback:
		res := a.resolution
		a.mu.Unlock()
		return res
	case AssignmentResolving:
		a.mu.Unlock()
		select {
		case <-a.done:
			a.mu.Lock()
			defer a.mu.Unlock()
			return a.resolution
		case <-ctx.Done():
			return models.VariantResolution{
				FlagKey:  a.flagKey,
				Variant:  models.ControlVariant,
				Fallback: true,
				Reason:   ctx.Err().Error(),
			}
		}
	}
	a.state = AssignmentResolving
	a.mu.Unlock()

	res := a.svc.ResolveVariant(ctx, a.flagKey, a.distinctID)

	a.mu.Lock()
	a.resolution = res
	if res.Fallback {
		a.state = AssignmentFallback
	} else {
		a.state = AssignmentResolved
	}
	close(a.done)
	a.mu.Unlock()

	// Panics from the callback propagate to the caller
	if a.onResolved != nil {
		a.onResolved(res.Variant)
	}
	return res
}

// State returns the current lifecycle state
func (a *Assignment) State() AssignmentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Variant returns the resolved variant, or ok=false while unresolved or resolving
func (a *Assignment) Variant() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AssignmentResolved && a.state != AssignmentFallback {
		return "", false
	}
	return a.resolution.Variant, true
}
