package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping"
	mapping "github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/noatgnu/UniprotWebParser/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the part of the RabbitMQ client the worker needs
type Broker interface {
	SetQos(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Config holds worker configuration
type Config struct {
	Logger           *slog.Logger
	Broker           Broker
	Resolvers        map[string]idmapping.Resolver // keyed by result format
	Recorder         idmapping.Recorder            // optional
	Strategy         idmapping.Strategy
	Defaults         mapping.Selection
	DefaultFormat    string
	BatchSize        int
	RequestQueue     string
	ResultRoutingKey string
	Concurrency      int
	PrefetchCount    int
	JobTimeout       time.Duration
	WorkerID         string
}

// JobMessage is a validated request together with its delivery
type JobMessage struct {
	Request  domain.RequestMessage
	Delivery amqp.Delivery
}

// Worker consumes mapping requests, resolves them and publishes one result
// message per batch.
type Worker struct {
	logger           *slog.Logger
	broker           Broker
	resolvers        map[string]idmapping.Resolver
	recorder         idmapping.Recorder
	strategy         idmapping.Strategy
	defaults         mapping.Selection
	defaultFormat    string
	batchSize        int
	requestQueue     string
	resultRoutingKey string
	concurrency      int
	prefetchCount    int
	jobTimeout       time.Duration
	workerID         string

	jobsChan chan *JobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:           cfg.Logger,
		broker:           cfg.Broker,
		resolvers:        cfg.Resolvers,
		recorder:         cfg.Recorder,
		strategy:         cfg.Strategy,
		defaults:         cfg.Defaults,
		defaultFormat:    cfg.DefaultFormat,
		batchSize:        cfg.BatchSize,
		requestQueue:     cfg.RequestQueue,
		resultRoutingKey: cfg.ResultRoutingKey,
		concurrency:      max(cfg.Concurrency, 1),
		prefetchCount:    cfg.PrefetchCount,
		jobTimeout:       cfg.JobTimeout,
		workerID:         cfg.WorkerID,
		stopChan:         make(chan struct{}),
	}

	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	if w.workerID == "" {
		w.workerID = "worker-" + uuid.NewString()[:8]
	}
	if w.defaultFormat == "" {
		w.defaultFormat = mapping.FormatTSV
	}
	if w.batchSize <= 0 {
		w.batchSize = mapping.DefaultBatchSize
	}
	if w.prefetchCount <= 0 {
		w.prefetchCount = w.concurrency
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 30 * time.Minute
	}
	w.jobsChan = make(chan *JobMessage, w.concurrency)

	return w
}

// Start consumes requests until ctx is canceled or the broker closes the
// delivery channel.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if closed := w.startMessageDispatcher(ctx, deliveries); closed {
		return errors.New("rabbitmq delivery channel closed")
	}
	return nil
}

// Stop waits for in-flight requests to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
