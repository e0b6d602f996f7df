package index

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
	"strconv"
	"time"

	"presence/internal/identity/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/circuit"
	"presence/pkg/platform/sentinel"
)

// HTTPClient calls a REST identity index:
//
//	POST   /v1/collections/{c}/bindings                 enroll
//	POST   /v1/collections/{c}/bindings/{id}:verify     1:1 compare
//	GET    /v1/collections/{c}/bindings?page_token=...  list
//	POST   /v1/collections/{c}/bindings:batchDelete     delete
//
// Calls go through a circuit breaker; an open circuit fails fast with
// sentinel.ErrUnavailable.
type HTTPClient struct {
	baseURL      string
	collection   string
	apiKey       string
	pageSize     int
	maxBatchSize int
	client       *http.Client
	breaker      *circuit.Breaker
	logger       *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) { c.apiKey = key }
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(c *HTTPClient) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithListPageSize(n int) HTTPOption {
	return func(c *HTTPClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func WithBatchLimit(n int) HTTPOption {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxBatchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewHTTPClient(baseURL, collection string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:      baseURL,
		collection:   collection,
		pageSize:     defaultPageSize,
		maxBatchSize: defaultMaxBatchSize,
		client:       &http.Client{Timeout: 5 * time.Second},
		breaker:      circuit.New("identity-index"),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type enrollRequest struct {
	ExternalID string `json:"external_id"`
	Sample     []byte `json:"sample"`
}

type enrollResponse struct {
	BindingID string `json:"binding_id"`
}

func (c *HTTPClient) Enroll(ctx context.Context, sample models.Sample, externalID id.EmployeeID) (id.BindingID, error) {
	var resp enrollResponse
	err := c.do(ctx, http.MethodPost, c.bindingsURL(""), enrollRequest{
		ExternalID: externalID.String(),
		Sample:     sample,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("enroll: %w", err)
	}
	if resp.BindingID == "" {
		return "", fmt.Errorf("enroll: empty binding id in response: %w", sentinel.ErrUnavailable)
	}
	return id.BindingID(resp.BindingID), nil
}

type verifyRequest struct {
	Sample []byte `json:"sample"`
}

type verifyResponse struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
}

func (c *HTTPClient) Verify1to1(ctx context.Context, sample models.Sample, bindingID id.BindingID) (models.Match, error) {
	var resp verifyResponse
	err := c.do(ctx, http.MethodPost, c.bindingsURL("/"+url.PathEscape(bindingID.String())+":verify"), verifyRequest{Sample: sample}, &resp)
	if err != nil {
		return models.Match{}, fmt.Errorf("verify: %w", err)
	}
	return models.Match{Matched: resp.Matched, Confidence: resp.Confidence}, nil
}

type listResponse struct {
	Bindings      []models.Entry `json:"bindings"`
	NextPageToken string         `json:"next_page_token"`
}

func (c *HTTPClient) ListPage(ctx context.Context, cursor string) (*models.Page, error) {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("page_token", cursor)
	}
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, c.bindingsURL("")+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return &models.Page{Entries: resp.Bindings, NextCursor: resp.NextPageToken}, nil
}

type batchDeleteRequest struct {
	BindingIDs []id.BindingID `json:"binding_ids"`
}

type batchDeleteResponse struct {
	Deleted int `json:"deleted"`
}

func (c *HTTPClient) BatchDelete(ctx context.Context, ids []id.BindingID) (int, error) {
	if len(ids) > c.maxBatchSize {
		return 0, fmt.Errorf("batch of %d exceeds max %d: %w", len(ids), c.maxBatchSize, sentinel.ErrInvalidState)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	var resp batchDeleteResponse
	if err := c.do(ctx, http.MethodPost, c.bindingsURL(":batchDelete"), batchDeleteRequest{BindingIDs: ids}, &resp); err != nil {
		return 0, fmt.Errorf("batch delete: %w", err)
	}
	return resp.Deleted, nil
}

func (c *HTTPClient) MaxBatchSize() int { return c.maxBatchSize }

func (c *HTTPClient) bindingsURL(suffix string) string {
	return c.baseURL + "/v1/collections/" + url.PathEscape(c.collection) + "/bindings" + suffix
}

// do sends one request and decodes a 2xx JSON body into out. Non-2xx statuses
// map to sentinel errors.
func (c *HTTPClient) do(ctx context.Context, method, target string, body, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("circuit %s open: %w", c.breaker.Name(), sentinel.ErrUnavailable)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.recordFailure(ctx, err)
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			c.recordFailure(ctx, err)
		} else {
			c.breaker.RecordSuccess()
		}
		return err
	}
	c.breaker.RecordSuccess()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (c *HTTPClient) recordFailure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "identity index circuit opened",
			"breaker", c.breaker.Name(),
			"error", err,
		)
	}
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return sentinel.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return sentinel.ErrConflict
	case resp.StatusCode == http.StatusTooManyRequests:
		return sentinel.ErrThrottled
	case resp.StatusCode >= 500:
		return fmt.Errorf("identity index status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("identity index status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
}
