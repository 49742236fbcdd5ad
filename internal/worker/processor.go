package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping"
	mapping "github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/noatgnu/UniprotWebParser/internal/worker/domain"
)

// processRequest plans a request into batches, resolves them and publishes
// each batch outcome as it becomes available.
func (w *Worker) processRequest(ctx context.Context, msg *JobMessage) error {
	req := msg.Request

	sel := w.defaults
	if req.From != "" {
		sel.From = req.From
	}
	if req.To != "" {
		sel.To = req.To
	}

	format := req.Format
	if format == "" {
		format = w.defaultFormat
	}
	resolver, ok := w.resolvers[format]
	if !ok {
		return fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidPayload, format)
	}

	size := w.batchSize
	if req.BatchSize > 0 && req.BatchSize < size {
		size = req.BatchSize
	}

	batches, err := idmapping.Plan(req.IDs, size)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	opts := []idmapping.Option{idmapping.WithLogger(w.logger)}
	if w.recorder != nil {
		opts = append(opts, idmapping.WithRecorder(w.recorder))
	}
	orch := idmapping.NewOrchestrator(resolver, w.strategy, opts...)

	results, err := orch.RunAs(jobCtx, req.RequestID, batches, sel)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	var delivered, failed int
	for res := range results {
		out := newResultMessage(req.RequestID, len(batches), format, res)
		out.Redelivered = msg.Delivery.Redelivered
		body, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to encode result of batch %d: %w", res.Batch.Index, err)
		}

		if err := w.broker.PublishWithRetry(ctx, w.resultRoutingKey, body, "application/json"); err != nil {
			return domain.NewRetryableError(fmt.Errorf("%w: batch %d: %v", domain.ErrPublish, res.Batch.Index, err))
		}

		if res.Err != nil {
			failed++
		} else {
			delivered++
		}
	}

	// Shutdown hands the request to another consumer
	if ctx.Err() != nil {
		return domain.NewRetryableError(fmt.Errorf("request %s interrupted: %w", req.RequestID, ctx.Err()))
	}
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		w.logger.Warn("Mapping request hit the job timeout",
			slog.String("request_id", req.RequestID),
			slog.Duration("job_timeout", w.jobTimeout),
		)
	}

	w.logger.Info("Mapping request completed",
		slog.String("request_id", req.RequestID),
		slog.Int("batches", len(batches)),
		slog.Int("delivered", delivered),
		slog.Int("failed", failed),
	)

	return nil
}

func newResultMessage(requestID string, batches int, format string, res mapping.Result) domain.ResultMessage {
	out := domain.ResultMessage{
		RequestID: requestID,
		Batch:     res.Batch.Index,
		Batches:   batches,
		Status:    domain.StatusDelivered,
		Format:    format,
		IDs:       res.Batch.IDs,
	}

	if res.Payload != nil {
		out.JobID = res.Payload.JobID
		out.Data = string(res.Payload.Data)
	}

	if res.Err != nil {
		out.Status = domain.StatusFailed
		out.Error = res.Err.Error()
		out.NotFound = errors.Is(res.Err, mapping.ErrJobNotFound)

		var batchErr *mapping.BatchError
		if errors.As(res.Err, &batchErr) {
			out.JobID = batchErr.JobID
		}
	}

	return out
}
