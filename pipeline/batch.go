package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	sieve "github.com/modstack/imagesieve"
)

// BatchResult pairs one batch entry with its outcome.
type BatchResult struct {
	Index      int
	Request    Request
	Evaluation *Evaluation
	Err        error
}

// EvaluateBatch evaluates the requests with bounded concurrency. Results are
// positionally aligned with the input; one bad request does not abort the
// rest of the batch.
func (p *Pipeline) EvaluateBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.cfg.Current().BatchConcurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			eval, err := p.Evaluate(ctx, req)
			results[i] = BatchResult{Index: i, Request: req, Evaluation: eval, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Approved reports whether every entry in the batch was approved.
func Approved(results []BatchResult) bool {
	for _, r := range results {
		if r.Err != nil || r.Evaluation == nil {
			return false
		}
		if r.Evaluation.Decision.Status != sieve.StatusApproved {
			return false
		}
	}
	return len(results) > 0
}
