// Package output writes mapping payloads to a single stream. TSV payloads
// from several batches share one header row; FASTA payloads pass through.
package output

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
)

// Merger concatenates payloads of one format onto w
type Merger struct {
	w       *bufio.Writer
	format  string
	header  []byte
	records int
}

// NewMerger creates a Merger for the given format
func NewMerger(w io.Writer, format string) (*Merger, error) {
	switch format {
	case domain.FormatTSV, domain.FormatFASTA:
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", domain.ErrInvalidInput, format)
	}
	return &Merger{w: bufio.NewWriter(w), format: format}, nil
}

// Write appends one payload. For TSV the first header row seen is kept and
// later payloads have a matching header row removed.
func (m *Merger) Write(p *domain.Payload) error {
	if p == nil || len(p.Data) == 0 {
		return nil
	}
	if p.Format != "" && p.Format != m.format {
		return fmt.Errorf("payload for batch %d is %s, merger writes %s", p.Batch.Index, p.Format, m.format)
	}

	data := p.Data
	if m.format == domain.FormatTSV {
		header, rest := splitFirstLine(data)
		switch {
		case m.header == nil:
			m.header = header
			if _, err := m.w.Write(header); err != nil {
				return err
			}
			if len(header) > 0 && header[len(header)-1] != '\n' {
				if err := m.w.WriteByte('\n'); err != nil {
					return err
				}
			}
			data = rest
		case bytes.Equal(bytes.TrimRight(header, "\r\n"), bytes.TrimRight(m.header, "\r\n")):
			data = rest
		}
	}

	if len(data) == 0 {
		return nil
	}
	if _, err := m.w.Write(data); err != nil {
		return err
	}
	if data[len(data)-1] != '\n' {
		if err := m.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	m.records += countRecords(data, m.format)
	return nil
}

// Records returns the number of data rows or sequences written so far
func (m *Merger) Records() int { return m.records }

// Flush writes any buffered data to the underlying writer
func (m *Merger) Flush() error {
	return m.w.Flush()
}

// WriteFailures writes the identifiers of failed batches, one per line, each
// batch preceded by a comment naming the batch and its error.
func WriteFailures(w io.Writer, failures []*domain.BatchError) error {
	bw := bufio.NewWriter(w)
	for _, f := range failures {
		if _, err := fmt.Fprintf(bw, "# batch %d: %v\n", f.Index, f.Err); err != nil {
			return err
		}
		for _, id := range f.IDs {
			if _, err := fmt.Fprintln(bw, id); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// IsBrokenPipe reports whether err comes from a reader that went away early,
// as when output is piped into head.
func IsBrokenPipe(err error) bool {
	return err != nil && (errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe))
}

func splitFirstLine(data []byte) (line, rest []byte) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[:i+1], data[i+1:]
	}
	return data, nil
}

func countRecords(data []byte, format string) int {
	if format == domain.FormatFASTA {
		n := bytes.Count(data, []byte("\n>"))
		if len(data) > 0 && data[0] == '>' {
			n++
		}
		return n
	}
	n := bytes.Count(data, []byte("\n"))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return n
}
