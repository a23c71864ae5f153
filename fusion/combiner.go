// Package fusion combines validated analyzer signals into a single risk
// assessment. The combiner is deterministic and pure: the same signal set
// always produces the same score, level, and reasoning.
package fusion

import (
	"strings"

	sieve "github.com/modstack/imagesieve"
)

// Names of the bucket tables recorded on each assessment.
const (
	BucketTableAgeAware = "age_aware"
	BucketTableAgeBlind = "age_blind"
)

// Options configures a Combiner. Zero values select the default keyword and
// tag lists.
type Options struct {
	// ChildKeywords are matched case-insensitively against generated
	// descriptions and tags.
	ChildKeywords []string

	// RiskyTags each add sieve.RiskyTagIncrement to the description term.
	RiskyTags []string
}

// Combiner fuses a SignalSet into a RiskAssessment.
type Combiner struct {
	childKeywords []string
	riskyTags     []string
}

// NewCombiner creates a combiner with the given options.
func NewCombiner(opts Options) *Combiner {
	c := &Combiner{
		childKeywords: opts.ChildKeywords,
		riskyTags:     opts.RiskyTags,
	}
	if len(c.childKeywords) == 0 {
		c.childKeywords = sieve.DefaultChildKeywords
	}
	if len(c.riskyTags) == 0 {
		c.riskyTags = sieve.DefaultRiskyTags
	}
	return c
}

// Combine fuses the signal set into a risk assessment.
//
// The additive terms (nudity, description tags, pose, child keywords) are
// summed on a 0-1 scale, the age multiplier is applied after the sum so that
// protected-class severity scales every contributing factor, and the result
// is clamped to [0,100]. A nil signal contributes exactly zero; disabling a
// component can never raise the score.
func (c *Combiner) Combine(signals sieve.SignalSet) sieve.RiskAssessment {
	var reasoning []string
	var nudityTerm, descTerm, poseTerm, childTerm float64

	if n := signals.Nudity; n != nil {
		nudityTerm = n.NudityScore / 100
		if n.Err != "" {
			reasoning = append(reasoning, sieve.ReasonAnalysisError)
		}
		if n.HasNudity {
			reasoning = append(reasoning, sieve.ReasonNudityDetected)
		}
	}

	if d := signals.Description; d != nil {
		matched := c.matchRiskyTags(d)
		if len(matched) > 0 {
			descTerm = float64(len(matched)) * sieve.RiskyTagIncrement
			reasoning = append(reasoning, sieve.ReasonRiskyTags)
		}
	}

	// Pose is a weak proxy for risk; it only weighs in when no age-bearing
	// signal is available. With a face in frame, age dominates.
	if p := signals.Pose; p != nil {
		if p.Detected && !signals.HasAgeEvidence() {
			poseTerm = p.SuggestiveScore * p.Confidence * sieve.PoseWeightFactor
			if poseTerm > 0 {
				reasoning = append(reasoning, sieve.ReasonSuggestivePose)
			}
		}
		if p.Category == sieve.PoseUncertain {
			reasoning = append(reasoning, sieve.ReasonExtremeMetrics)
		}
	}

	childKeywords := signals.Description != nil && signals.Description.ContainsChildKeywords
	if childKeywords {
		childTerm = sieve.ChildKeywordTerm
		reasoning = append(reasoning, sieve.ReasonChildKeywords)
	}

	ageMult := 1.0
	if f := signals.Face; f != nil && f.FacesDetected {
		switch {
		case f.UnderageDetected:
			ageMult = sieve.UnderageRiskMultiplier
			reasoning = append(reasoning, sieve.ReasonUnderage)
		case f.SuspiciousAge:
			ageMult = sieve.SuspiciousRiskMultiplier
			reasoning = append(reasoning, sieve.ReasonSuspiciousAge)
		}
	}

	base := nudityTerm + descTerm + poseTerm + childTerm
	score := sieve.ClampRiskScore(base * ageMult * 100)

	table := BucketTableAgeBlind
	if signals.HasAgeEvidence() {
		table = BucketTableAgeAware
	}

	if len(reasoning) == 0 {
		reasoning = []string{sieve.ReasonCleanContent}
	}

	return sieve.RiskAssessment{
		FinalRiskScore:           score,
		RiskLevel:                LevelForScore(score, table),
		BucketTable:              table,
		Reasoning:                reasoning,
		NudityContribution:       nudityTerm * 100,
		DescriptionContribution:  descTerm * 100,
		PoseContribution:         poseTerm * 100,
		ChildKeywordContribution: childTerm * 100,
		AgeMultiplier:            ageMult,
	}
}

// matchRiskyTags returns the risky tags present in the description signal.
// Each configured tag counts at most once, whether it appears as a tag or
// inside the generated text.
func (c *Combiner) matchRiskyTags(d *sieve.DescriptionSignal) []string {
	text := strings.ToLower(d.Description)
	tagSet := make(map[string]struct{}, len(d.Tags))
	for _, t := range d.Tags {
		tagSet[strings.ToLower(t)] = struct{}{}
	}

	var matched []string
	for _, risky := range c.riskyTags {
		if _, ok := tagSet[risky]; ok {
			matched = append(matched, risky)
			continue
		}
		if text != "" && strings.Contains(text, risky) {
			matched = append(matched, risky)
		}
	}
	return matched
}

// ScanChildKeywords matches the combiner's child keyword list against a
// description signal. The pipeline calls this to set ContainsChildKeywords
// before fusion; the combiner itself only trusts the flag, so disabling child
// content detection cleanly removes the term.
func (c *Combiner) ScanChildKeywords(text string, tags []string) []string {
	return MatchKeywords(text, tags, c.childKeywords)
}

// MatchKeywords returns the keywords found in the text or tag list, matched
// case-insensitively on whole tag values and substrings of the text.
func MatchKeywords(text string, tags []string, keywords []string) []string {
	lower := strings.ToLower(text)
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[strings.ToLower(t)] = struct{}{}
	}

	var matched []string
	for _, kw := range keywords {
		if _, ok := tagSet[kw]; ok {
			matched = append(matched, kw)
			continue
		}
		if lower != "" && strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// bucket maps a minimum score to a risk level.
type bucket struct {
	min   float64
	level sieve.RiskLevel
}

// With age evidence in hand the high buckets start later: a verified-adult
// subject tolerates a higher raw score before escalating.
var ageAwareBuckets = []bucket{
	{90, sieve.RiskCritical},
	{70, sieve.RiskHigh},
	{40, sieve.RiskMedium},
	{20, sieve.RiskLow},
}

// Without age evidence the same raw score escalates sooner.
var ageBlindBuckets = []bucket{
	{80, sieve.RiskCritical},
	{60, sieve.RiskHigh},
	{40, sieve.RiskMedium},
	{20, sieve.RiskLow},
}

// LevelForScore buckets a score using the named table. Unknown table names
// use the age-blind (stricter) buckets.
func LevelForScore(score float64, table string) sieve.RiskLevel {
	buckets := ageBlindBuckets
	if table == BucketTableAgeAware {
		buckets = ageAwareBuckets
	}
	for _, b := range buckets {
		if score >= b.min {
			return b.level
		}
	}
	return sieve.RiskMinimal
}
