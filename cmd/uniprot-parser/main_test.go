package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniprotStub finishes every job on the first poll. Jobs holding an id listed
// in missing answer 404 on status.
type uniprotStub struct {
	mu      sync.Mutex
	jobs    map[string][]string
	missing map[string]bool
	submits int
}

func newUniProtStub(t *testing.T) (*uniprotStub, string) {
	t.Helper()

	s := &uniprotStub{jobs: make(map[string][]string), missing: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /idmapping/run", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.submits++
		id := fmt.Sprintf("job%d", s.submits)
		s.jobs[id] = strings.Split(r.FormValue("ids"), ",")
		_, _ = fmt.Fprintf(w, `{"jobId":%q}`, id)
	})
	mux.HandleFunc("GET /idmapping/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, acc := range s.jobs[r.PathValue("id")] {
			if s.missing[acc] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		}
		w.Header().Set("Location", "/idmapping/uniprotkb/results/"+r.PathValue("id"))
		w.WriteHeader(http.StatusSeeOther)
	})
	mux.HandleFunc("GET /idmapping/uniprotkb/results/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.URL.Query().Get("format") == "fasta" {
			for _, acc := range s.jobs[r.PathValue("id")] {
				_, _ = fmt.Fprintf(w, ">sp|%s|TEST_HUMAN\nMSEQ\n", acc)
			}
			return
		}
		_, _ = w.Write([]byte("From\tEntry\n"))
		for _, acc := range s.jobs[r.PathValue("id")] {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", acc, acc)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv.URL
}

func testEnv(baseURL string) func(string) (string, bool) {
	env := map[string]string{
		"UNIPROT_BASE_URL": baseURL,
		"LOG_LEVEL":        "error",
	}
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadIDs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		parse bool
		want  []string
	}{
		{
			name:  "blank lines and duplicates",
			input: "P04637\n\n  Q99490 \nP04637\n",
			want:  []string{"P04637", "Q99490"},
		},
		{
			name:  "kept verbatim without parse",
			input: ">sp|P06493|CDK1_HUMAN\nnot_an_id\n",
			want:  []string{">sp|P06493|CDK1_HUMAN", "not_an_id"},
		},
		{
			name:  "parse headers and isoforms",
			input: ">sp|P06493|CDK1_HUMAN Cyclin-dependent kinase 1\nP06493-2\nsp|P06493|CDK1_HUMAN\nnot_an_id\n",
			parse: true,
			want:  []string{"P06493", "P06493-2", "not_an_id"},
		},
		{
			name: "empty input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := readIDs(strings.NewReader(tt.input), tt.parse)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRun_TSV(t *testing.T) {
	stub, baseURL := newUniProtStub(t)
	input := writeFile(t, "ids.txt", "P04637\nQ99490\nP04637\nP68871\n")
	out := filepath.Join(t.TempDir(), "out.tsv")

	err := run(context.Background(), []string{"-i", input, "-o", out, "-batch-size", "2"}, nil, nil, io.Discard, testEnv(baseURL))
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "From\tEntry\nP04637\tP04637\nQ99490\tQ99490\nP68871\tP68871\n", string(data))
	assert.Equal(t, 2, stub.submits)
}

func TestRun_StdinToStdoutFASTA(t *testing.T) {
	_, baseURL := newUniProtStub(t)
	var stdout bytes.Buffer

	err := run(context.Background(),
		[]string{"-format", "fasta", "-parse", "-mode", "concurrent", "-concurrency", "2", "-batch-size", "1"},
		strings.NewReader(">sp|P06493|CDK1_HUMAN\n"), &stdout, io.Discard, testEnv(baseURL))
	require.NoError(t, err)
	assert.Equal(t, ">sp|P06493|TEST_HUMAN\nMSEQ\n", stdout.String())
}

func TestRun_PartialFailure(t *testing.T) {
	stub, baseURL := newUniProtStub(t)
	stub.missing["Q99490"] = true
	input := writeFile(t, "ids.txt", "P04637\nQ99490\nP68871\n")

	t.Run("failed ids go to the -failed file", func(t *testing.T) {
		failed := filepath.Join(t.TempDir(), "failed.txt")
		var stdout, stderr bytes.Buffer

		err := run(context.Background(), []string{"-i", input, "-batch-size", "1", "-failed", failed}, nil, &stdout, &stderr, testEnv(baseURL))
		require.NoError(t, err)
		assert.Equal(t, "From\tEntry\nP04637\tP04637\nP68871\tP68871\n", stdout.String())
		assert.Empty(t, stderr.String())

		data, err := os.ReadFile(failed)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "# batch 1: "))
		assert.True(t, strings.HasSuffix(string(data), "\nQ99490\n"))
	})

	t.Run("failed ids go to stderr without -failed", func(t *testing.T) {
		var stdout, stderr bytes.Buffer

		err := run(context.Background(), []string{"-i", input, "-batch-size", "1"}, nil, &stdout, &stderr, testEnv(baseURL))
		require.NoError(t, err)
		assert.Equal(t, "From\tEntry\nP04637\tP04637\nP68871\tP68871\n", stdout.String())
		assert.True(t, strings.HasPrefix(stderr.String(), "# batch 1: "))
		assert.True(t, strings.HasSuffix(stderr.String(), "\nQ99490\n"))
	})
}

func TestRun_AllBatchesFailed(t *testing.T) {
	stub, baseURL := newUniProtStub(t)
	stub.missing["P04637"] = true

	err := run(context.Background(), nil, strings.NewReader("P04637\n"), &bytes.Buffer{}, io.Discard, testEnv(baseURL))
	assert.ErrorIs(t, err, errAllBatchesFailed)
}

func TestRun_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		input string
	}{
		{name: "no identifiers", input: "\n\n"},
		{name: "target database as source", args: []string{"-from", "UniProtKB"}, input: "P04637\n"},
		{name: "unsupported format", args: []string{"-format", "json"}, input: "P04637\n"},
		{name: "unknown mode", args: []string{"-mode", "parallel"}, input: "P04637\n"},
		{name: "missing input file", args: []string{"-i", "/nonexistent/ids.txt"}},
		{name: "unknown flag", args: []string{"-verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub, baseURL := newUniProtStub(t)

			err := run(context.Background(), tt.args, strings.NewReader(tt.input), &bytes.Buffer{}, io.Discard, testEnv(baseURL))
			require.Error(t, err)
			assert.Zero(t, stub.submits, "nothing may be submitted")
		})
	}
}

func TestRun_NoIdentifiersIsInvalidInput(t *testing.T) {
	_, baseURL := newUniProtStub(t)

	err := run(context.Background(), nil, strings.NewReader(""), &bytes.Buffer{}, io.Discard, testEnv(baseURL))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRun_ListFields(t *testing.T) {
	var stdout bytes.Buffer

	err := run(context.Background(), []string{"-list-fields"}, nil, &stdout, io.Discard, testEnv("http://127.0.0.1:1"))
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "UniProtKB_AC-ID\tfrom\t")
	assert.Contains(t, stdout.String(), "UniProtKB-Swiss-Prot\tto\t")
}
