package idmapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
)

// Fetch downloads the results of a finished job. Large result sets are
// retrieved page by page through the service's Link headers and concatenated;
// TSV pages after the first have their header row removed.
func (c *Client) Fetch(ctx context.Context, job *domain.Job) ([]byte, error) {
	if job.Status != domain.JobStatusFinished {
		return nil, fmt.Errorf("%w: job %s is %q, not finished", domain.ErrFetch, job.ID, job.Status)
	}

	if job.ResultURL == "" {
		location, err := c.resultLocation(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: job %s: %v", domain.ErrFetch, job.ID, err)
		}
		job.ResultURL = location
	}

	next, err := c.firstPage(job.ResultURL)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", domain.ErrFetch, job.ID, err)
	}

	var buf bytes.Buffer
	for page := 0; next != ""; page++ {
		var (
			res  *http.Response
			body []byte
		)
		err := c.withRetry(ctx, "fetch", func() error {
			var err error
			res, body, err = c.roundTrip(ctx, c.http, http.MethodGet, next, nil)
			if err != nil {
				return err
			}
			if res.StatusCode/100 != 2 {
				return newStatusError(res.StatusCode, body)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: job %s page %d: %v", domain.ErrFetch, job.ID, page+1, err)
		}

		if page == 0 {
			if total, err := strconv.Atoi(res.Header.Get("X-Total-Results")); err == nil && total > c.pageSize {
				c.logger.Info("Result set exceeds page size, paginating",
					slog.String("job_id", job.ID),
					slog.Int("total_results", total),
					slog.Int("page_size", c.pageSize),
				)
			}
		} else if c.format == domain.FormatTSV {
			body = dropFirstLine(body)
		}
		buf.Write(body)

		next = ""
		if link := nextLink(res.Header); link != "" {
			next = c.resolve(link)
		}
	}

	job.State = domain.JobStateDelivered
	return buf.Bytes(), nil
}

// resultLocation asks the details endpoint where a finished job's results live
func (c *Client) resultLocation(ctx context.Context, job *domain.Job) (string, error) {
	var location string
	err := c.withRetry(ctx, "details", func() error {
		res, body, err := c.roundTrip(ctx, c.http, http.MethodGet, c.endpoint("idmapping/details/"+job.ID), nil)
		if err != nil {
			return err
		}
		if res.StatusCode != http.StatusOK {
			return newStatusError(res.StatusCode, body)
		}

		var details struct {
			RedirectURL string `json:"redirectURL"`
		}
		if err := json.Unmarshal(body, &details); err != nil || details.RedirectURL == "" {
			return fmt.Errorf("malformed job details response: %q", truncate(body))
		}
		location = c.resolve(details.RedirectURL)
		return nil
	})
	return location, err
}

// firstPage adds format, page size, fields and isoform options to the result
// location unless the service already set them.
func (c *Client) firstPage(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid result location %q: %w", location, err)
	}

	q := u.Query()
	setDefault := func(key, value string) {
		if q.Get(key) == "" {
			q.Set(key, value)
		}
	}
	setDefault("format", c.format)
	setDefault("size", strconv.Itoa(c.pageSize))
	if c.format == domain.FormatTSV && len(c.fields) > 0 {
		setDefault("fields", strings.Join(c.fields, ","))
	}
	if c.includeIsoform {
		setDefault("includeIsoform", "true")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
// Targets are scanned between angle brackets because UniProt cursors carry
// unescaped commas in their field lists.
func nextLink(h http.Header) string {
	for _, value := range h.Values("Link") {
		for {
			start := strings.IndexByte(value, '<')
			if start < 0 {
				break
			}
			end := strings.IndexByte(value[start:], '>')
			if end < 0 {
				break
			}
			target := value[start+1 : start+end]
			value = value[start+end+1:]

			params := value
			if i := strings.IndexByte(value, '<'); i >= 0 {
				params = value[:i]
			}
			for _, param := range strings.Split(params, ";") {
				param = strings.ReplaceAll(strings.Trim(strings.TrimSpace(param), ","), " ", "")
				if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
					return target
				}
			}
		}
	}
	return ""
}

func dropFirstLine(body []byte) []byte {
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		return body[i+1:]
	}
	return nil
}
