package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/noatgnu/UniprotWebParser/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets QoS and starts consuming the request queue
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// prefetch bounds unacknowledged requests held by this consumer
	if err := w.broker.SetQos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.broker.Consume(w.requestQueue, w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("worker_id", w.workerID),
		slog.String("queue", w.requestQueue),
	)

	return deliveries, nil
}

// startMessageDispatcher validates deliveries and hands them to the worker
// pool. It reports whether it stopped because the delivery channel closed.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	defer close(w.jobsChan)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return false

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return true
			}

			req, err := decodeRequest(delivery.Body)
			if err != nil {
				w.logger.Error("Rejecting malformed mapping request",
					slog.Any("error", err),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
				// no requeue: a malformed message never becomes valid
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- &JobMessage{Request: req, Delivery: delivery}:
				w.logger.Debug("Request dispatched to worker pool",
					slog.String("request_id", req.RequestID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return false
			}
		}
	}
}

func decodeRequest(body []byte) (domain.RequestMessage, error) {
	var req domain.RequestMessage
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if _, err := uuid.Parse(req.RequestID); err != nil {
		return req, fmt.Errorf("%w: request_id %q is not a UUID", domain.ErrInvalidPayload, req.RequestID)
	}
	if len(req.IDs) == 0 {
		return req, fmt.Errorf("%w: request %s has no ids", domain.ErrInvalidPayload, req.RequestID)
	}
	return req, nil
}
