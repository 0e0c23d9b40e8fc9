// Package restapi implements remote.Transport over the REST entity API with
// built-in retry/backoff and optional TLS verification skipping.
//
// Every call maps to one HTTP request:
//
//	meta           GET    meta/{entity}
//	search         GET    search/{entity}?query=...
//	query          GET    query/{entity}?where=...
//	insert         PUT    entity/{entity}
//	update         POST   entity/{entity}/{id}
//	delete         DELETE entity/{entity}/{id}
//	associations   GET    entity/{entity}/{id}/{relation}
//	associate      PUT    entity/{entity}/{id}/{relation}/{ids}
//	disassociate   DELETE entity/{entity}/{id}/{relation}/{ids}
//	by_external_id GET    services/dataLoader/getByExternalID
//	complete       POST   services/dataLoader/complete
//
// The session token is sent as a query parameter on every request.
package restapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dataloader/internal/meta"
	"dataloader/internal/remote"
)

// DefaultTokenParam is the query parameter carrying the session token.
const DefaultTokenParam = "BhRestToken"

// maxErrorBody caps how much of a failed response is read for the error.
const maxErrorBody = 64 << 10

// Config configures the REST transport.
//
// Zero values are given sensible defaults:
//   - Timeout:        30s
//   - MaxRetries:     0
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
type Config struct {
	// BaseURL is the REST root, e.g. https://rest.example.com/rest-services/abc/.
	BaseURL string
	// Token is the session token.
	Token string
	// TokenParam overrides the query parameter name used for Token.
	TokenParam string

	// Timeout is the per-request timeout applied at the http.Client level.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the initial request.
	// Retries apply to transport errors, 429 and 5xx only.
	MaxRetries int

	// InitialBackoff is the base backoff duration for the first retry.
	// Each subsequent retry doubles the previous backoff up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff duration.
	MaxBackoff time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// BaseHeaders are headers added to every request.
	BaseHeaders http.Header

	// Transport is an optional custom RoundTripper.
	Transport http.RoundTripper
}

// Client is a remote.Transport speaking HTTP+JSON.
type Client struct {
	httpClient     *http.Client
	base           *url.URL
	token          string
	tokenParam     string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	baseHeaders    http.Header

	// sleep is injectable to make tests fast and deterministic.
	sleep func(time.Duration)
}

// NewClient constructs a Client from Config, applying defaults for zero values.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("restapi: base url must not be empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("restapi: parse base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if cfg.TokenParam == "" {
		cfg.TokenParam = DefaultTokenParam
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	hdr := http.Header{}
	for k, vs := range cfg.BaseHeaders {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		base:           base,
		token:          cfg.Token,
		tokenParam:     cfg.TokenParam,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		baseHeaders:    hdr,
		sleep:          time.Sleep,
	}, nil
}

// wireResponse is the JSON envelope of every entity API response.
type wireResponse struct {
	Data            json.RawMessage  `json:"data"`
	Total           int              `json:"total"`
	Start           int              `json:"start"`
	Count           int              `json:"count"`
	ChangedEntityID int64            `json:"changedEntityId"`
	ChangeType      string           `json:"changeType"`
	Messages        []remote.Message `json:"messages"`
	ErrorMessage    string           `json:"errorMessage"`
	ErrorCode       int              `json:"errorCode"`
}

// Call implements remote.Transport.
func (c *Client) Call(ctx context.Context, req remote.Request) (*remote.Response, error) {
	method, path, q, body, err := c.route(req)
	if err != nil {
		return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Err: err}
	}

	u := *c.base
	u.Path += path
	if c.token != "" {
		q.Set(c.tokenParam, c.token)
	}
	u.RawQuery = q.Encode()

	resp, err := c.Do(ctx, method, u.String(), body)
	if err != nil {
		return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(req, resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return decode(req, raw)
}

// route maps req to method, path relative to the base URL, query and body.
func (c *Client) route(req remote.Request) (method, path string, q url.Values, body []byte, err error) {
	q = url.Values{}
	ent := url.PathEscape(req.Entity)
	if len(req.Fields) > 0 {
		q.Set("fields", strings.Join(req.Fields, ","))
	}
	paged := func() {
		q.Set("start", strconv.Itoa(req.Start))
		q.Set("count", strconv.Itoa(req.Count))
	}

	switch req.Op {
	case remote.OpMeta:
		q.Set("meta", "full")
		return http.MethodGet, "meta/" + ent, q, nil, nil
	case remote.OpSearch:
		q.Set("query", req.Filter)
		q.Set("showTotalMatched", "true")
		paged()
		return http.MethodGet, "search/" + ent, q, nil, nil
	case remote.OpQuery:
		q.Set("where", req.Filter)
		q.Set("showTotalMatched", "true")
		paged()
		return http.MethodGet, "query/" + ent, q, nil, nil
	case remote.OpInsert:
		body, err = json.Marshal(req.Data)
		return http.MethodPut, "entity/" + ent, q, body, err
	case remote.OpUpdate:
		body, err = json.Marshal(req.Data)
		return http.MethodPost, fmt.Sprintf("entity/%s/%d", ent, req.ID), q, body, err
	case remote.OpDelete:
		return http.MethodDelete, fmt.Sprintf("entity/%s/%d", ent, req.ID), q, nil, nil
	case remote.OpAssociations:
		paged()
		return http.MethodGet, fmt.Sprintf("entity/%s/%d/%s", ent, req.ID, url.PathEscape(req.Relation)), q, nil, nil
	case remote.OpAssociate, remote.OpDisassociate:
		if len(req.IDs) == 0 {
			return "", "", nil, nil, errors.New("no ids")
		}
		ids := make([]string, len(req.IDs))
		for i, id := range req.IDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		method = http.MethodPut
		if req.Op == remote.OpDisassociate {
			method = http.MethodDelete
		}
		return method, fmt.Sprintf("entity/%s/%d/%s/%s", ent, req.ID, url.PathEscape(req.Relation), strings.Join(ids, ",")), q, nil, nil
	case remote.OpByExternalID:
		q.Set("entity", req.Entity)
		q.Set("externalId", req.ExternalID)
		return http.MethodGet, "services/dataLoader/getByExternalID", q, nil, nil
	case remote.OpComplete:
		body, err = json.Marshal(req.Data)
		return http.MethodPost, "services/dataLoader/complete", q, body, err
	}
	return "", "", nil, nil, fmt.Errorf("unsupported op %q", req.Op)
}

// decode turns a 2xx body into a Response. Application errors carried in a
// 2xx body are returned as *remote.CallError.
func decode(req remote.Request, raw []byte) (*remote.Response, error) {
	out := &remote.Response{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}

	if req.Op == remote.OpMeta {
		var m meta.RawEntity
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Err: fmt.Errorf("decode meta: %w", err)}
		}
		out.Meta = &m
		return out, nil
	}

	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Err: fmt.Errorf("decode response: %w", err)}
	}
	if w.ErrorMessage != "" {
		return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, ChangeType: w.ChangeType, Messages: w.Messages, Err: errors.New(w.ErrorMessage)}
	}

	data, err := decodeData(w.Data)
	if err != nil {
		return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Err: fmt.Errorf("decode data: %w", err)}
	}
	out.Data = data
	out.Total = w.Total
	out.Start = w.Start
	out.Count = w.Count
	out.ChangedEntityID = w.ChangedEntityID
	out.ChangeType = w.ChangeType
	out.Messages = w.Messages
	return out, nil
}

// decodeData accepts a list of records or a single record.
func decodeData(raw json.RawMessage) ([]map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		var one map[string]any
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, err
		}
		return []map[string]any{one}, nil
	}
	var many []map[string]any
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// statusError builds the CallError for a non-2xx response, keeping whatever
// error payload the body carries.
func statusError(req remote.Request, resp *http.Response) error {
	ce := &remote.CallError{Op: req.Op, Entity: req.Entity, Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var w wireResponse
	if json.Unmarshal(raw, &w) == nil {
		ce.ChangeType = w.ChangeType
		ce.Messages = w.Messages
		if w.ErrorMessage != "" {
			ce.Err = errors.New(w.ErrorMessage)
		}
	}
	if ce.Err == nil {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		ce.Err = errors.New(msg)
	}
	return ce
}

// Do sends an HTTP request with the given method, URL, and optional body,
// applying retry and backoff on transient errors. The body is supplied as a
// byte slice so that it can be safely re-sent on retry.
//
// The returned *http.Response has a non-nil Body which the caller must close.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	attempts := c.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("restapi: build request: %w", err)
		}
		for k, vs := range c.baseHeaders {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			if !isRetryableStatus(resp.StatusCode) || attempt+1 >= attempts {
				return resp, nil
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("restapi: retryable status %d from %s", resp.StatusCode, method)
		}

		if attempt+1 >= attempts {
			return nil, lastErr
		}
		if err := sleepWithContext(ctx, c.sleep, backoffDuration(c.initialBackoff, attempt, c.maxBackoff)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// isRetryableStatus reports whether the given HTTP status code should trigger
// a retry: 5xx and 429 are transient, everything else is final.
func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// backoffDuration returns the exponential backoff duration for the given
// attempt number (0-based retry index), clamped to max.
func backoffDuration(initial time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial > max {
			return max
		}
		return initial
	}
	d := initial << attempt
	if d > max || d <= 0 {
		return max
	}
	return d
}

// sleepWithContext waits for d through sleep, aborting early if ctx is
// canceled.
func sleepWithContext(ctx context.Context, sleep func(time.Duration), d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	go func() {
		sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
