package dialogue

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ai-talker/internal/domain"
)

// Job is one dialogue to run through RunAll.
type Job struct {
	Name     string
	Sequence []string
	Scope    domain.Scope
	Input    InputSource
}

// Result pairs a job with its transcript. Err is set when the dialogue
// failed to start or stopped early.
type Result struct {
	Name  string
	ID    string
	Turns []domain.Turn
	Err   error
}

// RunAll runs independent dialogues with at most limit in flight. A failing
// dialogue does not stop the others. Results keep the order of jobs.
func (e *Engine) RunAll(ctx context.Context, jobs []Job, limit int) []Result {
	results := make([]Result, len(jobs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		results[i].Name = job.Name
		g.Go(func() error {
			d, err := e.Start(job.Sequence, job.Scope)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].ID = d.ID()
			results[i].Turns, results[i].Err = d.Run(ctx, job.Input)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
