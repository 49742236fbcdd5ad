package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(index int, format, data string) *domain.Payload {
	return &domain.Payload{Batch: domain.Batch{Index: index}, Format: format, Data: []byte(data)}
}

func TestMerger_TSV(t *testing.T) {
	tests := []struct {
		name     string
		payloads []*domain.Payload
		want     string
		records  int
	}{
		{
			name: "single header across batches",
			payloads: []*domain.Payload{
				payload(0, "tsv", "From\tEntry\nP04637\tP04637\n"),
				payload(1, "tsv", "From\tEntry\nQ99490\tQ99490\nQ13322\tQ13322\n"),
			},
			want:    "From\tEntry\nP04637\tP04637\nQ99490\tQ99490\nQ13322\tQ13322\n",
			records: 3,
		},
		{
			name: "missing trailing newline",
			payloads: []*domain.Payload{
				payload(0, "tsv", "From\tEntry\nP04637\tP04637"),
				payload(1, "tsv", "From\tEntry\nQ99490\tQ99490"),
			},
			want:    "From\tEntry\nP04637\tP04637\nQ99490\tQ99490\n",
			records: 2,
		},
		{
			name: "header only batch",
			payloads: []*domain.Payload{
				payload(0, "tsv", "From\tEntry\n"),
				payload(1, "tsv", "From\tEntry\nQ99490\tQ99490\n"),
			},
			want:    "From\tEntry\nQ99490\tQ99490\n",
			records: 1,
		},
		{
			name: "nil and empty payloads are skipped",
			payloads: []*domain.Payload{
				nil,
				payload(0, "tsv", ""),
				payload(1, "tsv", "From\tEntry\nP04637\tP04637\n"),
			},
			want:    "From\tEntry\nP04637\tP04637\n",
			records: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			m, err := NewMerger(&buf, domain.FormatTSV)
			require.NoError(t, err)

			for _, p := range tt.payloads {
				require.NoError(t, m.Write(p))
			}
			require.NoError(t, m.Flush())

			assert.Equal(t, tt.want, buf.String())
			assert.Equal(t, tt.records, m.Records())
		})
	}
}

func TestMerger_FASTA(t *testing.T) {
	var buf bytes.Buffer
	m, err := NewMerger(&buf, domain.FormatFASTA)
	require.NoError(t, err)

	require.NoError(t, m.Write(payload(0, "fasta", ">sp|P04637|P53_HUMAN\nMEEPQ\n>sp|P06493|CDK1_HUMAN\nMEDYT")))
	require.NoError(t, m.Write(payload(1, "fasta", ">sp|Q99490|AGAP2_HUMAN\nMSRGA\n")))
	require.NoError(t, m.Flush())

	assert.Equal(t, ">sp|P04637|P53_HUMAN\nMEEPQ\n>sp|P06493|CDK1_HUMAN\nMEDYT\n>sp|Q99490|AGAP2_HUMAN\nMSRGA\n", buf.String())
	assert.Equal(t, 3, m.Records())
}

func TestMerger_Errors(t *testing.T) {
	_, err := NewMerger(io.Discard, "xlsx")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	m, err := NewMerger(io.Discard, domain.FormatTSV)
	require.NoError(t, err)
	err = m.Write(payload(2, "fasta", ">x\nM\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 2")
}

func TestWriteFailures(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFailures(&buf, []*domain.BatchError{
		{Index: 1, IDs: []string{"Q13322", "Q8NEJ0"}, JobID: "j1", Err: fmt.Errorf("%w: job j1", domain.ErrJobNotFound)},
		{Index: 3, IDs: []string{"P04637"}, Err: domain.ErrSubmit},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"# batch 1: mapping job not found: job j1\nQ13322\nQ8NEJ0\n# batch 3: job submission failed\nP04637\n",
		buf.String())
}

func TestIsBrokenPipe(t *testing.T) {
	assert.True(t, IsBrokenPipe(syscall.EPIPE))
	assert.True(t, IsBrokenPipe(fmt.Errorf("write stdout: %w", io.ErrClosedPipe)))
	assert.False(t, IsBrokenPipe(errors.New("disk full")))
	assert.False(t, IsBrokenPipe(nil))
}
