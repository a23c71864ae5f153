// Package policy maps a fused risk assessment to a final moderation decision
// using per-context thresholds. Two hard overrides sit above the threshold
// logic: suspected underage subjects and child-keyword matches are rejected
// outright, regardless of context.
package policy

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	sieve "github.com/modstack/imagesieve"
)

// DefaultThresholdTable returns the built-in per-context threshold pairs.
// Unknown contexts use the public gallery pair, the strictest in the table.
func DefaultThresholdTable() map[sieve.ContextType]sieve.Thresholds {
	return map[sieve.ContextType]sieve.Thresholds{
		sieve.ContextPublicGallery:  {AutoApprove: 20, AutoReject: 80},
		sieve.ContextPrivateGallery: {AutoApprove: 60, AutoReject: 95},
		sieve.ContextPaysite:        {AutoApprove: 40, AutoReject: 90},
		sieve.ContextProfilePic:     {AutoApprove: 10, AutoReject: 60},
	}
}

// Registry holds the active threshold table. Lookups read an atomic snapshot;
// Replace swaps the whole table so in-flight requests keep the pairs they
// started with.
type Registry struct {
	table atomic.Pointer[map[sieve.ContextType]sieve.Thresholds]
}

// NewRegistry creates a registry seeded with the given table, or the default
// table when nil.
func NewRegistry(table map[sieve.ContextType]sieve.Thresholds) *Registry {
	r := &Registry{}
	if table == nil {
		table = DefaultThresholdTable()
	}
	r.Replace(table)
	return r
}

// Replace atomically installs a new threshold table. The table must contain a
// public gallery entry; it is the fallback for unknown contexts.
func (r *Registry) Replace(table map[sieve.ContextType]sieve.Thresholds) error {
	if _, ok := table[sieve.ContextPublicGallery]; !ok {
		return fmt.Errorf("imagesieve: threshold table missing %q fallback entry", sieve.ContextPublicGallery)
	}
	for ctx, th := range table {
		if th.AutoApprove < 0 || th.AutoReject > 100 || th.AutoApprove >= th.AutoReject {
			return fmt.Errorf("imagesieve: invalid thresholds for context %q: approve=%v reject=%v",
				ctx, th.AutoApprove, th.AutoReject)
		}
	}

	copied := make(map[sieve.ContextType]sieve.Thresholds, len(table))
	for ctx, th := range table {
		copied[ctx] = th
	}
	r.table.Store(&copied)
	return nil
}

// Thresholds returns the pair for the context and whether the context was
// known. Unknown contexts return the public gallery pair.
func (r *Registry) Thresholds(ctx sieve.ContextType) (sieve.Thresholds, bool) {
	table := *r.table.Load()
	if th, ok := table[ctx]; ok {
		return th, true
	}
	return table[sieve.ContextPublicGallery], false
}

// Contexts returns the known context types in sorted order.
func (r *Registry) Contexts() []sieve.ContextType {
	table := *r.table.Load()
	out := make([]sieve.ContextType, 0, len(table))
	for ctx := range table {
		out = append(out, ctx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decide evaluates the risk assessment against the registry's current table.
func (r *Registry) Decide(ctx sieve.ContextType, risk sieve.RiskAssessment, signals sieve.SignalSet) sieve.ModerationDecision {
	return Decide(*r.table.Load(), ctx, risk, signals)
}

// Decide evaluates the risk assessment against the given threshold table and
// the hard overrides, producing the final immutable decision. Callers holding
// a per-request configuration snapshot pass its table here so a concurrent
// table swap cannot change the verdict mid-request. Unknown contexts use the
// public gallery pair.
func Decide(table map[sieve.ContextType]sieve.Thresholds, ctx sieve.ContextType, risk sieve.RiskAssessment, signals sieve.SignalSet) sieve.ModerationDecision {
	thresholds, ok := table[ctx]
	if !ok {
		thresholds = table[sieve.ContextPublicGallery]
	}

	decision := sieve.ModerationDecision{
		ContextType:       ctx,
		AppliedThresholds: thresholds,
		DecidedAt:         time.Now().UTC(),
	}
	if signals.Face != nil && signals.Face.FacesDetected {
		decision.MinDetectedAge = signals.Face.MinAge
	}

	// Hard overrides come before thresholds: no context is permissive enough
	// to auto-approve suspected minor content.
	if signals.Face != nil && signals.Face.UnderageDetected {
		decision.Status = sieve.StatusRejected
		decision.Action = sieve.ActionRejectMinor
		decision.HumanReviewRequired = true
		decision.Confidence = 99
		decision.Reason = fmt.Sprintf("detected subject age %d below threshold %d",
			signals.Face.MinAge, sieve.MinAgeThreshold)
		return decision
	}

	// The override reads the signal flag, not the combiner's reasoning trail;
	// the trail is presentation, the flag is the evidence.
	if signals.Description != nil && signals.Description.ContainsChildKeywords {
		decision.Status = sieve.StatusRejected
		decision.Action = sieve.ActionRejectKeyword
		decision.HumanReviewRequired = true
		decision.Confidence = 95
		decision.Reason = "child-related keywords in generated description"
		return decision
	}

	score := risk.FinalRiskScore
	switch {
	case score <= thresholds.AutoApprove:
		decision.Status = sieve.StatusApproved
		decision.Action = sieve.ActionApprove
		decision.Confidence = 100 - score
	case score >= thresholds.AutoReject:
		decision.Status = sieve.StatusRejected
		decision.Action = sieve.ActionReject
		decision.HumanReviewRequired = true
		decision.Confidence = score
	default:
		decision.Status = sieve.StatusFlagged
		decision.Action = sieve.ActionHumanReview
		decision.HumanReviewRequired = true
		decision.Confidence = 50
	}
	return decision
}
