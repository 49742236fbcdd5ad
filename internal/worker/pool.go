package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/noatgnu/UniprotWebParser/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes requests until the pool is stopped or the dispatcher
// closes jobsChan.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				return
			}

			w.logger.Info("Worker received mapping request",
				slog.String("worker_name", workerName),
				slog.String("request_id", msg.Request.RequestID),
				slog.Int("id_count", len(msg.Request.IDs)),
			)

			err := w.processRequest(ctx, msg)
			if err == nil {
				if ackErr := msg.Delivery.Ack(false); ackErr != nil {
					w.logger.Error("Failed to ACK message",
						slog.String("request_id", msg.Request.RequestID),
						slog.Any("error", ackErr),
					)
				}
				continue
			}

			requeue := w.shouldRequeue(err)
			w.logger.Error("Mapping request failed",
				slog.String("worker_name", workerName),
				slog.String("request_id", msg.Request.RequestID),
				slog.Bool("requeue", requeue),
				slog.Any("error", err),
			)
			if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
				w.logger.Error("Failed to NACK message",
					slog.String("request_id", msg.Request.RequestID),
					slog.Any("error", nackErr),
				)
			}
		}
	}
}

// shouldRequeue determines if a request should be redelivered based on the
// error type
func (w *Worker) shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
