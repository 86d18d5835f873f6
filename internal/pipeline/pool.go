// Package pipeline drives the concurrent account-processing run: a fixed
// pool of workers consuming a bounded credential queue, streaming records
// into sinks and producing one terminal JobResult per credential.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/histsweep/histsweep/internal/creds"
)

// Pool runs a fixed set of workers over a bounded job queue.
type Pool struct {
	Worker *Worker
	// Concurrency is the number of workers. QueueDepth bounds the pending
	// queue; enqueueing blocks when it is full, so peak memory does not
	// depend on batch size.
	Concurrency int
	QueueDepth  int
}

// Process runs the batch to completion and returns the manifest. fn, when
// non-nil, observes each JobResult as it lands; results complete in no
// particular order. On ctx cancellation, queued-but-unstarted credentials
// are reported as cancelled and in-flight accounts finish their current
// remote call before stopping. Exactly one JobResult is produced per
// credential either way.
func (p *Pool) Process(ctx context.Context, credentials []creds.Credential, fn func(JobResult)) *Manifest {
	workers := p.Concurrency
	if workers < 1 {
		workers = 1
	}
	depth := p.QueueDepth
	if depth < workers {
		depth = workers
	}

	jobs := make(chan creds.Credential, depth)
	results := make(chan JobResult, workers)

	// Producer: blocks for backpressure when the queue is full. On
	// cancellation, every credential never handed to a worker still gets
	// an explicit marker.
	go func() {
		defer close(jobs)
		for i, cred := range credentials {
			select {
			case jobs <- cred:
			case <-ctx.Done():
				for _, rest := range credentials[i:] {
					results <- JobResult{
						Credential: rest,
						Outcome:    OutcomeCancelled,
						Reason:     "cancelled before start",
					}
				}
				return
			}
		}
	}()

	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for cred := range jobs {
				results <- p.Worker.Run(ctx, cred)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	manifest := &Manifest{}
	for len(manifest.Results) < len(credentials) {
		r := <-results
		manifest.add(r)
		if fn != nil {
			fn(r)
		}
	}
	<-done
	return manifest
}
