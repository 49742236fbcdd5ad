// Package idmapping drives UniProt's asynchronous ID mapping protocol:
// identifiers are planned into batches, each batch is submitted as a remote
// job, polled until it resolves and its results are downloaded.
//
// Client owns the per-job protocol. Orchestrator runs many batches through a
// Client with either the Sequential or the Concurrent strategy.
package idmapping

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
)

const (
	// DefaultBaseURL is the public UniProt REST service
	DefaultBaseURL = "https://rest.uniprot.org"
	// DefaultRequestTimeout bounds each individual HTTP call
	DefaultRequestTimeout = 30 * time.Second
	// DefaultMaxRetries is the number of retries after a transient failure
	DefaultMaxRetries = 3
	// DefaultPageSize is the number of result rows requested per page
	DefaultPageSize = 500
	// DefaultUserAgent identifies the client to the service
	DefaultUserAgent = "UniprotWebParser (Go)"
)

// Config holds client configuration
type Config struct {
	BaseURL        string
	HTTPClient     *http.Client // optional; its transport is shared by every request
	RequestTimeout time.Duration
	UserAgent      string
	Format         string   // tsv or fasta
	Fields         []string // result columns, TSV only
	IncludeIsoform bool
	PageSize       int
	Poll           Backoff
	Retry          Backoff
	MaxRetries     int  // zero means DefaultMaxRetries unless NoRetry is set
	NoRetry        bool // fail on the first transient error
	Clock          Clock
	Logger         *slog.Logger
}

// Client submits, polls and fetches mapping jobs. It is safe for concurrent
// use; each job is owned by the goroutine that submitted it.
type Client struct {
	baseURL        *url.URL
	http           *http.Client // follows redirects
	status         *http.Client // returns redirects to the caller
	requestTimeout time.Duration
	userAgent      string
	format         string
	fields         []string
	includeIsoform bool
	pageSize       int
	poll           Backoff
	retry          Backoff
	maxRetries     int
	clock          Clock
	logger         *slog.Logger
}

// NewClient creates a new Client, filling unset options with defaults
func NewClient(cfg *Config) (*Client, error) {
	rawBase := cfg.BaseURL
	if rawBase == "" {
		rawBase = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", domain.ErrInvalidInput, rawBase)
	}

	format := strings.ToLower(cfg.Format)
	switch format {
	case "":
		format = domain.FormatTSV
	case domain.FormatTSV, domain.FormatFASTA:
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidInput, cfg.Format)
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		transport = cfg.HTTPClient.Transport
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{Transport: transport},
		status: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		requestTimeout: cfg.RequestTimeout,
		userAgent:      cfg.UserAgent,
		format:         format,
		fields:         cfg.Fields,
		includeIsoform: cfg.IncludeIsoform,
		pageSize:       cfg.PageSize,
		poll:           cfg.Poll,
		retry:          cfg.Retry,
		maxRetries:     cfg.MaxRetries,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}

	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.poll.Initial <= 0 {
		c.poll = DefaultPollBackoff
	}
	if c.retry.Initial <= 0 {
		c.retry = DefaultRetryBackoff
	}
	switch {
	case cfg.NoRetry:
		c.maxRetries = 0
	case c.maxRetries <= 0:
		c.maxRetries = DefaultMaxRetries
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	return c, nil
}

// Format returns the result format requested from the service
func (c *Client) Format() string { return c.format }

// Submit starts a remote mapping job for one batch
func (c *Client) Submit(ctx context.Context, batch domain.Batch, sel domain.Selection) (*domain.Job, error) {
	if len(batch.IDs) == 0 {
		return nil, fmt.Errorf("%w: batch %d is empty", domain.ErrInvalidInput, batch.Index)
	}

	job := &domain.Job{
		Batch:     batch,
		Selection: sel,
		State:     domain.JobStateCreated,
		CreatedAt: c.clock.Now(),
	}

	form := url.Values{
		"ids":  {strings.Join(batch.IDs, ",")},
		"from": {sel.From},
		"to":   {sel.To},
	}

	var jobID string
	err := c.withRetry(ctx, "submit", func() error {
		res, body, err := c.roundTrip(ctx, c.http, http.MethodPost, c.endpoint("idmapping/run"), form)
		if err != nil {
			return err
		}
		if res.StatusCode != http.StatusOK {
			return newStatusError(res.StatusCode, body)
		}

		var payload struct {
			JobID string `json:"jobId"`
		}
		if err := json.Unmarshal(body, &payload); err != nil || payload.JobID == "" {
			return fmt.Errorf("malformed submit response: %q", truncate(body))
		}
		jobID = payload.JobID
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("Failed to submit mapping job",
			slog.Int("batch", batch.Index),
			slog.Int("id_count", len(batch.IDs)),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: batch %d: %v", domain.ErrSubmit, batch.Index, err)
	}

	job.ID = jobID
	job.State = domain.JobStateSubmitted

	c.logger.Info("Mapping job submitted",
		slog.String("job_id", job.ID),
		slog.Int("batch", batch.Index),
		slog.Int("id_count", len(batch.IDs)),
		slog.String("from", sel.From),
		slog.String("to", sel.To),
	)

	return job, nil
}

// Poll performs one status check. A job that already reached a terminal
// status is answered locally without contacting the service.
func (c *Client) Poll(ctx context.Context, job *domain.Job) (domain.JobStatus, error) {
	if job.Status.Terminal() {
		return job.Status, nil
	}
	if job.ID == "" {
		return "", fmt.Errorf("%w: job for batch %d was never submitted", domain.ErrInvalidInput, job.Batch.Index)
	}

	var (
		status   domain.JobStatus
		location string
	)
	err := c.withRetry(ctx, "poll", func() error {
		res, body, err := c.roundTrip(ctx, c.status, http.MethodGet, c.endpoint("idmapping/status/"+job.ID), nil)
		if err != nil {
			return err
		}
		status, location, err = classifyStatus(res, body)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: job %s: %v", domain.ErrPoll, job.ID, err)
	}

	job.Polls++
	job.Status = status

	switch status {
	case domain.JobStatusFinished:
		job.State = domain.JobStateReadyToFetch
		if location != "" {
			job.ResultURL = c.resolve(location)
		}
	case domain.JobStatusFailed, domain.JobStatusNotFound:
		job.State = domain.JobStateFailed
	}

	c.logger.Debug("Mapping job polled",
		slog.String("job_id", job.ID),
		slog.String("status", string(status)),
		slog.Int("polls", job.Polls),
	)

	return status, nil
}

// Await polls until the job leaves RUNNING. Waits between polls follow the
// poll backoff; there is no overall deadline beyond ctx.
func (c *Client) Await(ctx context.Context, job *domain.Job) error {
	for attempt := 0; ; attempt++ {
		status, err := c.Poll(ctx, job)
		if err != nil {
			return err
		}

		switch status {
		case domain.JobStatusFinished:
			return nil
		case domain.JobStatusFailed:
			return fmt.Errorf("%w: job %s", domain.ErrJobFailed, job.ID)
		case domain.JobStatusNotFound:
			return fmt.Errorf("%w: job %s", domain.ErrJobNotFound, job.ID)
		}

		if err := c.clock.Sleep(ctx, c.poll.Delay(attempt)); err != nil {
			return err
		}
	}
}

// Resolve runs one batch through submit, poll and fetch. Failures are
// returned as *domain.BatchError.
func (c *Client) Resolve(ctx context.Context, batch domain.Batch, sel domain.Selection) (*domain.Payload, error) {
	job, err := c.Submit(ctx, batch, sel)
	if err != nil {
		return nil, &domain.BatchError{Index: batch.Index, IDs: batch.IDs, Err: err}
	}

	if err := c.Await(ctx, job); err != nil {
		c.logger.Warn("Mapping job did not finish",
			slog.String("job_id", job.ID),
			slog.Int("batch", batch.Index),
			slog.Any("error", err),
		)
		return nil, &domain.BatchError{Index: batch.Index, IDs: batch.IDs, JobID: job.ID, Err: err}
	}

	data, err := c.Fetch(ctx, job)
	if err != nil {
		return nil, &domain.BatchError{Index: batch.Index, IDs: batch.IDs, JobID: job.ID, Err: err}
	}

	c.logger.Info("Mapping job delivered",
		slog.String("job_id", job.ID),
		slog.Int("batch", batch.Index),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", c.clock.Now().Sub(job.CreatedAt)),
	)

	return &domain.Payload{
		Batch:  batch,
		JobID:  job.ID,
		Format: c.format,
		Data:   data,
	}, nil
}

// withRetry calls fn until it succeeds, fails permanently or the retry
// budget is spent. Only RetryableError results are retried.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !domain.IsRetryable(err) {
			return err
		}

		if attempt >= c.maxRetries {
			c.logger.Error("Request failed after all retries",
				slog.String("op", op),
				slog.Int("attempts", attempt+1),
				slog.Any("error", err),
			)
			return fmt.Errorf("failed after %d attempts: %w", attempt+1, err)
		}

		delay := c.retry.Delay(attempt)
		c.logger.Warn("Request failed, retrying...",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", c.maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// roundTrip performs a single HTTP call under its own timeout and reads the
// whole body. Transport errors, timeouts, 429 and 5xx are retryable.
func (c *Client) roundTrip(ctx context.Context, hc *http.Client, method, target string, form url.Values) (*http.Response, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(callCtx, method, target, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", c.userAgent)

	res, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, domain.NewRetryableError(err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, domain.NewRetryableError(fmt.Errorf("failed to read response body: %w", err))
	}

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError {
		return res, data, domain.NewRetryableError(newStatusError(res.StatusCode, data))
	}

	return res, data, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.JoinPath(path).String()
}

// resolve turns a Location or Link target into an absolute URL
func (c *Client) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.baseURL.ResolveReference(u).String()
}

type statusResponse struct {
	JobStatus string          `json:"jobStatus"`
	Results   json.RawMessage `json:"results"`
	FailedIDs json.RawMessage `json:"failedIds"`
	Messages  []string        `json:"messages"`
}

// classifyStatus maps a status endpoint response to a job status and, for
// redirects, the result location.
func classifyStatus(res *http.Response, body []byte) (domain.JobStatus, string, error) {
	switch {
	case res.StatusCode >= 300 && res.StatusCode < 400:
		return domain.JobStatusFinished, res.Header.Get("Location"), nil
	case res.StatusCode == http.StatusBadRequest, res.StatusCode == http.StatusNotFound, res.StatusCode == http.StatusGone:
		return domain.JobStatusNotFound, "", nil
	case res.StatusCode != http.StatusOK:
		return "", "", newStatusError(res.StatusCode, body)
	}

	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", "", fmt.Errorf("malformed status response: %q", truncate(body))
	}

	switch strings.ToUpper(sr.JobStatus) {
	case "NEW", "QUEUED", "RUNNING":
		return domain.JobStatusRunning, "", nil
	case "FINISHED":
		return domain.JobStatusFinished, "", nil
	case "ERROR", "FAILED", "ABORTED":
		return domain.JobStatusFailed, "", nil
	case "":
		if sr.Results != nil || sr.FailedIDs != nil {
			return domain.JobStatusFinished, "", nil
		}
		if len(sr.Messages) > 0 {
			return domain.JobStatusFailed, "", nil
		}
	}

	return "", "", fmt.Errorf("unrecognised job status %q", sr.JobStatus)
}

// StatusError is an unexpected HTTP status from the service
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP status code %d", e.Code)
	}
	return fmt.Sprintf("HTTP status code %d: %s", e.Code, e.Body)
}

func newStatusError(code int, body []byte) error {
	return &StatusError{Code: code, Body: truncate(body)}
}

func truncate(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
