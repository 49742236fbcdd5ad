package idmapping

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeUniProt mimics the ID mapping endpoints of rest.uniprot.org
type fakeUniProt struct {
	mu   sync.Mutex
	jobs map[string]*fakeJob
	next int

	// RUNNING answers before a job finishes
	runningPolls int
	// finish with a JSON body instead of a 303 redirect
	finishWithJSON bool
	// jobs containing one of these ids expire (404 on status)
	expire map[string]bool
	// jobs containing one of these ids fail remotely
	fail map[string]bool
	// reject every submission with this status code
	rejectSubmit int

	submits int
	polls   int
	fetches int
	details int
}

type fakeJob struct {
	ids   []string
	polls int
}

func newFakeUniProt(t *testing.T) (*fakeUniProt, *httptest.Server) {
	t.Helper()

	f := &fakeUniProt{
		jobs:   make(map[string]*fakeJob),
		expire: make(map[string]bool),
		fail:   make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /idmapping/run", f.handleRun)
	mux.HandleFunc("GET /idmapping/status/{id}", f.handleStatus)
	mux.HandleFunc("GET /idmapping/details/{id}", f.handleDetails)
	mux.HandleFunc("GET /idmapping/uniprotkb/results/{id}", f.handleResults)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeUniProt) handleRun(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++

	if f.rejectSubmit != 0 {
		w.WriteHeader(f.rejectSubmit)
		_, _ = w.Write([]byte(`{"messages":["The 'from' value is invalid"]}`))
		return
	}

	if err := r.ParseForm(); err != nil || r.PostForm.Get("ids") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.next++
	id := fmt.Sprintf("job%04d", f.next)
	f.jobs[id] = &fakeJob{ids: strings.Split(r.PostForm.Get("ids"), ",")}

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jobId":%q}`, id)
}

func (f *fakeUniProt) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++

	job, ok := f.jobs[r.PathValue("id")]
	if !ok || f.contains(job, f.expire) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if f.contains(job, f.fail) {
		_, _ = w.Write([]byte(`{"jobStatus":"ERROR"}`))
		return
	}

	job.polls++
	if job.polls <= f.runningPolls {
		_, _ = w.Write([]byte(`{"jobStatus":"RUNNING"}`))
		return
	}

	if f.finishWithJSON {
		_, _ = w.Write([]byte(`{"jobStatus":"FINISHED"}`))
		return
	}

	w.Header().Set("Location", "/idmapping/uniprotkb/results/"+r.PathValue("id"))
	w.WriteHeader(http.StatusSeeOther)
}

func (f *fakeUniProt) handleDetails(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details++

	if _, ok := f.jobs[r.PathValue("id")]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"redirectURL": "http://" + r.Host + "/idmapping/uniprotkb/results/" + r.PathValue("id"),
	})
}

func (f *fakeUniProt) handleResults(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++

	id := r.PathValue("id")
	job, ok := f.jobs[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	size, _ := strconv.Atoi(q.Get("size"))
	if size <= 0 {
		size = len(job.ids)
	}
	cursor, _ := strconv.Atoi(q.Get("cursor"))
	end := min(cursor+size, len(job.ids))

	w.Header().Set("X-Total-Results", strconv.Itoa(len(job.ids)))
	if end < len(job.ids) {
		next := fmt.Sprintf("http://%s/idmapping/uniprotkb/results/%s?cursor=%d&size=%d&format=%s&fields=%s",
			r.Host, id, end, size, q.Get("format"), q.Get("fields"))
		w.Header().Set("Link", "<"+next+`>; rel="next"`)
	}

	var b strings.Builder
	switch q.Get("format") {
	case "fasta":
		for _, acc := range job.ids[cursor:end] {
			fmt.Fprintf(&b, ">sp|%s|TEST_HUMAN\nMSEQ\n", acc)
		}
	default:
		b.WriteString("From\tEntry\n")
		for _, acc := range job.ids[cursor:end] {
			fmt.Fprintf(&b, "%s\t%s\n", acc, acc)
		}
	}
	_, _ = w.Write([]byte(b.String()))
}

func (f *fakeUniProt) contains(job *fakeJob, set map[string]bool) bool {
	for _, id := range job.ids {
		if set[id] {
			return true
		}
	}
	return false
}

func (f *fakeUniProt) counts() (submits, polls, fetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.polls, f.fetches
}

// fakeClock records sleeps instead of waiting
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = nil
}

// flakyTransport fails requests whose path starts with a prefix with a
// network timeout, a set number of times.
type flakyTransport struct {
	mu       sync.Mutex
	base     http.RoundTripper
	failures map[string]int
}

func newFlakyTransport() *flakyTransport {
	return &flakyTransport{base: http.DefaultTransport, failures: make(map[string]int)}
}

func (t *flakyTransport) FailNext(prefix string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[prefix] = n
}

func (t *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	for prefix, n := range t.failures {
		if n > 0 && strings.HasPrefix(req.URL.Path, prefix) {
			t.failures[prefix] = n - 1
			t.mu.Unlock()
			return nil, timeoutError{}
		}
	}
	t.mu.Unlock()
	return t.base.RoundTrip(req)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func newTestClient(t *testing.T, baseURL string, clock Clock, transport http.RoundTripper, mutate ...func(*Config)) *Client {
	t.Helper()

	cfg := &Config{
		BaseURL:        baseURL,
		HTTPClient:     &http.Client{Transport: transport},
		RequestTimeout: 5 * time.Second,
		Format:         "tsv",
		Fields:         []string{"accession", "id"},
		IncludeIsoform: true,
		PageSize:       500,
		Poll:           Backoff{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2},
		Retry:          Backoff{Initial: time.Second, Max: 3 * time.Second, Multiplier: 2},
		MaxRetries:     3,
		Clock:          clock,
	}
	for _, m := range mutate {
		m(cfg)
	}

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}
