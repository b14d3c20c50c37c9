package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"quoteflow/quotation"
)

const totalCountHeader = "X-Total-Count"

// HTTPStore talks to a json-server style REST backend:
//
//	GET   /quotations?q=&status=&_page=&_limit=   (total in X-Total-Count)
//	GET   /quotations/{id}
//	PATCH /quotations/{id}
//
// Reads that fail with ErrNetwork are retried with exponential backoff; patches
// are sent once because a lost response may hide an applied write.
type HTTPStore struct {
	base       *url.URL
	client     *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewHTTPStore builds a client for baseURL. timeout bounds each request,
// including reading the body.
func NewHTTPStore(baseURL string, timeout time.Duration) (*HTTPStore, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: base url %q must be http or https", baseURL)
	}
	return &HTTPStore{
		base: u,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries: 2,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		},
	}, nil
}

// WithRetries sets how many times a failed read is retried. Zero disables
// retries.
func (s *HTTPStore) WithRetries(n uint64) *HTTPStore {
	s.maxRetries = n
	return s
}

// WithBackOff replaces the retry schedule.
func (s *HTTPStore) WithBackOff(fn func() backoff.BackOff) *HTTPStore {
	s.newBackOff = fn
	return s
}

// WithHTTPClient replaces the underlying client, e.g. with an httptest server's.
func (s *HTTPStore) WithHTTPClient(c *http.Client) *HTTPStore {
	s.client = c
	return s
}

func (s *HTTPStore) ListRecords(ctx context.Context, cred string, filter quotation.Filter, cursor, pageSize int) (ListResult, error) {
	f := filter.Normalized()
	params := url.Values{}
	if f.Query != "" {
		params.Set("q", f.Query)
	}
	if f.Status != "" {
		params.Set("status", string(f.Status))
	}
	params.Set("_page", strconv.Itoa(cursor))
	params.Set("_limit", strconv.Itoa(pageSize))

	var items []quotation.Quotation
	var resp *http.Response
	err := s.retry(ctx, func() error {
		items = nil
		var err error
		resp, err = s.do(ctx, http.MethodGet, "/quotations", params, cred, nil, &items)
		return err
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("remote: list quotations: %w", err)
	}

	total := len(items)
	if raw := resp.Header.Get(totalCountHeader); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return ListResult{}, fmt.Errorf("remote: list quotations: %w: bad %s %q", ErrNetwork, totalCountHeader, raw)
		}
		total = n
	}
	if items == nil {
		items = []quotation.Quotation{}
	}
	return ListResult{Items: items, TotalCount: total}, nil
}

func (s *HTTPStore) GetRecord(ctx context.Context, cred, id string) (quotation.Quotation, error) {
	var q quotation.Quotation
	err := s.retry(ctx, func() error {
		q = quotation.Quotation{}
		_, err := s.do(ctx, http.MethodGet, "/quotations/"+url.PathEscape(id), nil, cred, nil, &q)
		return err
	})
	if err != nil {
		return quotation.Quotation{}, fmt.Errorf("remote: get quotation %s: %w", id, err)
	}
	return q, nil
}

func (s *HTTPStore) PatchRecord(ctx context.Context, cred, id string, patch quotation.Patch) (quotation.Quotation, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return quotation.Quotation{}, fmt.Errorf("remote: encode patch: %w", err)
	}
	var q quotation.Quotation
	if _, err := s.do(ctx, http.MethodPatch, "/quotations/"+url.PathEscape(id), nil, cred, body, &q); err != nil {
		return quotation.Quotation{}, fmt.Errorf("remote: patch quotation %s: %w", id, err)
	}
	return q, nil
}

// retry runs op until it succeeds, fails with something other than
// ErrNetwork, or the retry budget or ctx runs out.
func (s *HTTPStore) retry(ctx context.Context, op func() error) error {
	if s.maxRetries == 0 {
		return op()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, ErrNetwork) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (s *HTTPStore) do(ctx context.Context, method, path string, params url.Values, cred string, body []byte, out any) (*http.Response, error) {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrNetwork, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := serverMessage(resp)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %d %s", ErrUnauthorized, resp.StatusCode, msg)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: %d %s", ErrNetwork, resp.StatusCode, msg)
	}
}

// serverMessage extracts {"error": "..."} when present, else the raw body.
func serverMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
