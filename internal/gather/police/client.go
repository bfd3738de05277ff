// Package police synchronises a local copy of the data.police.uk
// stop-and-search records for one force, one month at a time.
package police

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stopsearch/internal/config"
	"stopsearch/internal/domain"
	"stopsearch/internal/util"
)

// maxBodyBytes caps a single month's response body.
const maxBodyBytes = 256 << 20

// Batch is the result of fetching one month.
type Batch struct {
	Month   domain.Month
	Status  domain.FetchStatus
	Records []domain.Record
	Err     error

	// Permanent is set on a failed batch that retrying will not fix, such
	// as a 404 for an unknown force.
	Permanent bool
}

// Len returns the number of fetched records.
func (b Batch) Len() int { return len(b.Records) }

// statusError reports a non-2xx response.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, http.StatusText(e.Code))
}

// transportError reports a failure to send a request or read its body.
type transportError struct {
	Op  string
	Err error
}

func (e *transportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *transportError) Unwrap() error { return e.Err }

// Client fetches monthly stop-and-search records over HTTP.
type Client struct {
	httpClient  *http.Client
	urlTemplate string
	userAgent   string
	maxRetries  int
	backoff     time.Duration
	throttle    *util.Throttle
	log         *slog.Logger
}

// NewClient creates a Client from the source configuration.
func NewClient(cfg config.Source, log *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		urlTemplate: cfg.APIURLTemplate,
		userAgent:   cfg.UserAgent,
		maxRetries:  cfg.RetryCount(),
		backoff:     cfg.Backoff,
		throttle:    util.NewThrottle(cfg.PauseInterval()),
		log:         log.With("component", "police-client"),
	}
}

// MonthURL expands the URL template for force and month.
func (c *Client) MonthURL(force string, m domain.Month) string {
	r := strings.NewReplacer(
		"{force}", url.QueryEscape(force),
		"{date}", m.String(),
	)
	return r.Replace(c.urlTemplate)
}

// FetchMonth retrieves all records for force in month m. It never returns an
// error: an unrecoverable failure yields a Batch with Status FetchFailed, no
// records and the cause in Err. The configured pause follows every fetch
// whatever its outcome, and transient failures (429, 5xx, transport errors)
// are retried with exponential backoff.
func (c *Client) FetchMonth(ctx context.Context, force string, m domain.Month) Batch {
	log := c.log.With("source", force, "month", m.String())

	if err := c.throttle.Wait(ctx); err != nil {
		return Batch{Month: m, Status: domain.FetchFailed, Err: err}
	}
	defer c.throttle.Done()

	u := c.MonthURL(force, m)
	log.Info("fetching data")

	var body []byte
	attempt := 0
	err := util.Retry(ctx, c.maxRetries+1, c.backoff, func() error {
		attempt++
		b, err := c.get(ctx, u)
		if err != nil {
			if !isRetryable(err) {
				return util.Permanent(err)
			}
			log.Warn("transient fetch error", "attempt", attempt, "error", err)
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		// A cancelled run is not the month's fault.
		permanent := !isRetryable(err) && ctx.Err() == nil
		log.Error("error fetching data", "attempts", attempt, "permanent", permanent, "error", err)
		return Batch{Month: m, Status: domain.FetchFailed, Err: err, Permanent: permanent}
	}

	records, err := decodeRecords(body)
	if err != nil {
		log.Error("error decoding response", "error", err)
		return Batch{Month: m, Status: domain.FetchFailed, Err: err}
	}

	status := domain.FetchOK
	if len(records) == 0 {
		status = domain.FetchEmpty
	}
	log.Info("fetched data", "records", len(records))
	return Batch{Month: m, Status: status, Records: records}
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &statusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &transportError{Op: "read body", Err: err}
	}
	return body, nil
}

// isRetryable reports whether err is worth another attempt: 429 and the
// gateway-style 5xx statuses, and transport failures other than context
// cancellation.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *transportError
	return errors.As(err, &te)
}

// decodeRecords parses a JSON array of objects. Scalars keep their literal
// text, JSON null becomes a null value and nested objects or arrays are
// stored as compact JSON.
func decodeRecords(body []byte) ([]domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	records := make([]domain.Record, 0, len(raw))
	for _, obj := range raw {
		rec := make(domain.Record, len(obj))
		for k, v := range obj {
			val, err := toValue(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			rec[k] = val
		}
		records = append(records, rec)
	}
	return records, nil
}

func toValue(v any) (domain.Value, error) {
	switch t := v.(type) {
	case nil:
		return domain.Null(), nil
	case string:
		return domain.String(t), nil
	case json.Number:
		return domain.String(t.String()), nil
	case bool:
		if t {
			return domain.String("true"), nil
		}
		return domain.String("false"), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.String(string(b)), nil
	}
}
