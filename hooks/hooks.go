// Package hooks provides the hook interface for handling moderation events.
package hooks

import (
	"context"
)

// Hooks defines the interface for handling moderation events.
// Implement this interface to receive notifications as evaluations complete.
type Hooks interface {
	// OnEvaluated is called after every completed evaluation.
	OnEvaluated(ctx context.Context, e EvaluatedEvent) error

	// OnHumanReviewRequired is called when a decision needs human review.
	OnHumanReviewRequired(ctx context.Context, e HumanReviewRequiredEvent) error

	// OnUnderageSuspected is called when the underage override fires.
	OnUnderageSuspected(ctx context.Context, e UnderageSuspectedEvent) error
}

// NopHooks is a no-op implementation of Hooks.
type NopHooks struct{}

// OnEvaluated does nothing.
func (NopHooks) OnEvaluated(ctx context.Context, e EvaluatedEvent) error { return nil }

// OnHumanReviewRequired does nothing.
func (NopHooks) OnHumanReviewRequired(ctx context.Context, e HumanReviewRequiredEvent) error {
	return nil
}

// OnUnderageSuspected does nothing.
func (NopHooks) OnUnderageSuspected(ctx context.Context, e UnderageSuspectedEvent) error {
	return nil
}

// Ensure NopHooks implements Hooks.
var _ Hooks = NopHooks{}

// ChainHooks chains multiple Hooks implementations.
type ChainHooks []Hooks

// OnEvaluated calls all hooks in order.
func (ch ChainHooks) OnEvaluated(ctx context.Context, e EvaluatedEvent) error {
	for _, h := range ch {
		if err := h.OnEvaluated(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnHumanReviewRequired calls all hooks in order.
func (ch ChainHooks) OnHumanReviewRequired(ctx context.Context, e HumanReviewRequiredEvent) error {
	for _, h := range ch {
		if err := h.OnHumanReviewRequired(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnUnderageSuspected calls all hooks in order.
func (ch ChainHooks) OnUnderageSuspected(ctx context.Context, e UnderageSuspectedEvent) error {
	for _, h := range ch {
		if err := h.OnUnderageSuspected(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FuncHooks allows using functions as hooks.
type FuncHooks struct {
	OnEvaluatedFunc           func(ctx context.Context, e EvaluatedEvent) error
	OnHumanReviewRequiredFunc func(ctx context.Context, e HumanReviewRequiredEvent) error
	OnUnderageSuspectedFunc   func(ctx context.Context, e UnderageSuspectedEvent) error
}

// OnEvaluated calls the function if set.
func (fh FuncHooks) OnEvaluated(ctx context.Context, e EvaluatedEvent) error {
	if fh.OnEvaluatedFunc != nil {
		return fh.OnEvaluatedFunc(ctx, e)
	}
	return nil
}

// OnHumanReviewRequired calls the function if set.
func (fh FuncHooks) OnHumanReviewRequired(ctx context.Context, e HumanReviewRequiredEvent) error {
	if fh.OnHumanReviewRequiredFunc != nil {
		return fh.OnHumanReviewRequiredFunc(ctx, e)
	}
	return nil
}

// OnUnderageSuspected calls the function if set.
func (fh FuncHooks) OnUnderageSuspected(ctx context.Context, e UnderageSuspectedEvent) error {
	if fh.OnUnderageSuspectedFunc != nil {
		return fh.OnUnderageSuspectedFunc(ctx, e)
	}
	return nil
}
