package idmapping

import (
	"context"
	"fmt"
	"iter"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxInFlight caps concurrent jobs when Concurrent.MaxInFlight is unset
const DefaultMaxInFlight = 4

// Strategy modes accepted in configuration
const (
	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
)

// ResolveFunc resolves a single batch. It never panics and always returns a
// result for the batch it was given.
type ResolveFunc func(ctx context.Context, batch domain.Batch) domain.Result

// Strategy schedules batches through a ResolveFunc and exposes the results
// as a lazy sequence. Stopping the range loop abandons outstanding batches.
type Strategy interface {
	Run(ctx context.Context, batches []domain.Batch, resolve ResolveFunc) iter.Seq[domain.Result]
}

// NewStrategy builds the strategy named by mode
func NewStrategy(mode string, maxInFlight int, abortOnError bool) (Strategy, error) {
	switch mode {
	case ModeSequential, "":
		return Sequential{AbortOnError: abortOnError}, nil
	case ModeConcurrent:
		return Concurrent{MaxInFlight: maxInFlight, AbortOnError: abortOnError}, nil
	default:
		return nil, fmt.Errorf("%w: unknown orchestrator mode %q (want %s or %s)", domain.ErrInvalidInput, mode, ModeSequential, ModeConcurrent)
	}
}

// Sequential resolves one batch at a time and yields results in submission
// order. A failed batch does not stop the run unless AbortOnError is set.
// Cancelling ctx stops the run before the next batch.
type Sequential struct {
	AbortOnError bool
}

func (s Sequential) Run(ctx context.Context, batches []domain.Batch, resolve ResolveFunc) iter.Seq[domain.Result] {
	return func(yield func(domain.Result) bool) {
		for _, batch := range batches {
			if ctx.Err() != nil {
				return
			}
			res := resolve(ctx, batch)
			if !yield(res) {
				return
			}
			if res.Err != nil && s.AbortOnError {
				return
			}
		}
	}
}

// Concurrent keeps up to MaxInFlight jobs running at once and yields results
// in completion order. Batches beyond the cap wait for a free slot. When the
// consumer stops early, Run cancels outstanding batches and waits for them.
type Concurrent struct {
	MaxInFlight  int
	AbortOnError bool
}

func (s Concurrent) Run(ctx context.Context, batches []domain.Batch, resolve ResolveFunc) iter.Seq[domain.Result] {
	limit := s.MaxInFlight
	if limit <= 0 {
		limit = DefaultMaxInFlight
	}

	return func(yield func(domain.Result) bool) {
		ctx, cancel := context.WithCancel(ctx)
		results := make(chan domain.Result)
		done := make(chan struct{})
		// in-flight resolves observe ctx and must finish before Run returns
		defer func() {
			cancel()
			<-done
		}()

		go func() {
			defer close(done)
			defer close(results)

			var g errgroup.Group
			g.SetLimit(limit)
			for _, batch := range batches {
				if ctx.Err() != nil {
					break
				}
				g.Go(func() error {
					res := resolve(ctx, batch)
					select {
					case results <- res:
					case <-ctx.Done():
					}
					return nil
				})
			}
			_ = g.Wait()
		}()

		for res := range results {
			if !yield(res) {
				return
			}
			if res.Err != nil && s.AbortOnError {
				return
			}
		}
	}
}
