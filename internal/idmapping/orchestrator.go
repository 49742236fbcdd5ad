package idmapping

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	"github.com/noatgnu/UniprotWebParser/internal/fields"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
)

// Resolver resolves one batch into a payload. *Client implements it.
type Resolver interface {
	Resolve(ctx context.Context, batch domain.Batch, sel domain.Selection) (*domain.Payload, error)
}

// Validator checks a field selection before any request is made
type Validator interface {
	Validate(sel domain.Selection) error
}

// Recorder is told about every resolved batch
type Recorder interface {
	Record(ctx context.Context, runID string, res domain.Result) error
}

// Orchestrator drives planned batches through a Resolver with a Strategy
type Orchestrator struct {
	resolver  Resolver
	strategy  Strategy
	validator Validator
	recorder  Recorder
	logger    *slog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithRecorder reports each batch outcome to r
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithValidator replaces the built-in field catalog as selection validator
func WithValidator(v Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// NewOrchestrator creates an Orchestrator. A nil strategy means Sequential.
func NewOrchestrator(resolver Resolver, strategy Strategy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:  resolver,
		strategy:  strategy,
		validator: fields.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.strategy == nil {
		o.strategy = Sequential{}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Run validates its arguments and returns the lazy sequence of batch
// results under a fresh run id.
func (o *Orchestrator) Run(ctx context.Context, batches []domain.Batch, sel domain.Selection) (iter.Seq[domain.Result], error) {
	return o.RunAs(ctx, uuid.NewString(), batches, sel)
}

// RunAs is Run with a caller-chosen run id. Invalid selections and empty
// batches are rejected here, before any job is submitted.
func (o *Orchestrator) RunAs(ctx context.Context, runID string, batches []domain.Batch, sel domain.Selection) (iter.Seq[domain.Result], error) {
	if err := o.validator.Validate(sel); err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("%w: no batches to run", domain.ErrInvalidInput)
	}
	for _, b := range batches {
		if len(b.IDs) == 0 {
			return nil, fmt.Errorf("%w: batch %d is empty", domain.ErrInvalidInput, b.Index)
		}
	}

	logger := o.logger.With(slog.String("run_id", runID))
	logger.Info("Starting mapping run",
		slog.Int("batches", len(batches)),
		slog.String("from", sel.From),
		slog.String("to", sel.To),
	)

	resolve := func(ctx context.Context, batch domain.Batch) domain.Result {
		payload, err := o.resolver.Resolve(ctx, batch, sel)
		res := domain.Result{Batch: batch, Payload: payload}
		if err != nil {
			var batchErr *domain.BatchError
			if !errors.As(err, &batchErr) {
				err = &domain.BatchError{Index: batch.Index, IDs: batch.IDs, Err: err}
			}
			res.Payload = nil
			res.Err = err
			logger.Error("Batch failed",
				slog.Int("batch", batch.Index),
				slog.Int("id_count", len(batch.IDs)),
				slog.Any("error", err),
			)
		}
		o.record(ctx, logger, runID, res)
		return res
	}

	return o.strategy.Run(ctx, batches, resolve), nil
}

func (o *Orchestrator) record(ctx context.Context, logger *slog.Logger, runID string, res domain.Result) {
	if o.recorder == nil {
		return
	}
	// Abandoned runs still get their rows written.
	if err := o.recorder.Record(context.WithoutCancel(ctx), runID, res); err != nil {
		logger.Warn("Failed to record batch outcome",
			slog.Int("batch", res.Batch.Index),
			slog.Any("error", err),
		)
	}
}
