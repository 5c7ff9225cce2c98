package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iksnae/querychat/internal"
)

// maxEventSize bounds a single server-sent event
const maxEventSize = 4 << 20

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the query service (e.g. "http://localhost:8000").
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// HTTPClient is an optional custom HTTP client. Its transport is also used
	// for streams, without the client timeout.
	HTTPClient *http.Client

	// Timeout applies to individual non-streaming requests. Defaults to 60 seconds.
	Timeout time.Duration
}

// Client talks to the query service over HTTP. It implements internal.Backend.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	stream  *http.Client
}

var _ internal.Backend = (*Client)(nil)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type submitBody struct {
	Query        string `json:"query"`
	QueryID      string `json:"query_id"`
	SessionID    string `json:"session_id,omitempty"`
	DatabaseType string `json:"database_type,omitempty"`
}

type approveBody struct {
	Approved    bool                  `json:"approved"`
	ModifiedSQL string                `json:"modified_sql,omitempty"`
	Constraints *internal.Constraints `json:"constraints,omitempty"`
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty or not an absolute http(s) URL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("querychat: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("querychat: invalid BaseURL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = internal.DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
		stream:  &http.Client{Transport: httpClient.Transport},
	}, nil
}

// Submit starts a query and returns its terminal or gated response.
func (c *Client) Submit(ctx context.Context, req internal.SubmitRequest) (internal.Response, error) {
	body := submitBody{
		Query:        req.Query,
		QueryID:      req.QueryID,
		SessionID:    req.SessionID,
		DatabaseType: req.DatabaseType,
	}
	var resp internal.Response
	if err := c.post(ctx, "/api/v1/query", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Approve resumes a gated query, optionally with edited SQL and constraints.
func (c *Client) Approve(ctx context.Context, req internal.ApprovalRequest) (internal.Response, error) {
	body := approveBody{
		Approved:    req.Approved,
		ModifiedSQL: req.ModifiedSQL,
		Constraints: req.Constraints,
	}
	var resp internal.Response
	if err := c.post(ctx, queryPath(req.QueryID, "approve"), body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Reject declines a gated query.
func (c *Client) Reject(ctx context.Context, queryID string) error {
	return c.post(ctx, queryPath(queryID, "reject"), struct{}{}, nil)
}

// Cancel asks the service to stop a running query.
func (c *Client) Cancel(ctx context.Context, queryID string) error {
	return c.post(ctx, queryPath(queryID, "cancel"), struct{}{}, nil)
}

// Health checks that the service is reachable.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		resp.Status = "ok"
	}
	return &resp, nil
}

// Subscribe reads the query's event stream and calls fn for each update
// until the stream ends or ctx is cancelled. Comment lines are keepalives.
// A "done" event, a "[DONE]" payload or a clean EOF end the stream and
// return nil; a 404 means the service has no stream for the query and also
// returns nil. Read failures are returned so the caller can report a lost
// connection.
func (c *Client) Subscribe(ctx context.Context, queryID string, fn func(internal.StreamUpdate)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+queryPath(queryID, "stream"), nil)
	if err != nil {
		return fmt.Errorf("querychat: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("querychat: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		internal.LogDebug("no event stream for query %s", queryID)
		return nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
		return parseErrorResponse(resp.StatusCode, body)
	}

	err = readEvents(resp.Body, func(event, data string) bool {
		if event == "done" || strings.TrimSpace(data) == "[DONE]" {
			return false
		}
		var u internal.StreamUpdate
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			internal.LogWarn("skipping malformed stream event for query %s: %v", queryID, err)
			return true
		}
		fn(u)
		return true
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// readEvents parses a text/event-stream body. handle is called with the
// event name and joined data lines of each event; returning false stops reading.
func readEvents(r io.Reader, handle func(event, data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var event string
	var data []string
	dispatch := func() bool {
		defer func() {
			event, data = "", nil
		}()
		if len(data) == 0 {
			return event != "done"
		}
		return handle(event, strings.Join(data, "\n"))
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if !dispatch() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("querychat: read event stream: %w", err)
	}
	if len(data) > 0 || event != "" {
		dispatch()
	}
	return nil
}

func queryPath(queryID, action string) string {
	return "/api/v1/query/" + url.PathEscape(queryID) + "/" + action
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("querychat: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("querychat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("querychat: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("querychat: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("querychat: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("querychat: decode response: %w", err)
	}
	return nil
}

// parseErrorResponse understands {"error": {"code", "message"}},
// {"error": "..."} and {"detail": "..."} bodies.
func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode, Code: http.StatusText(statusCode)}

	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err == nil {
		r := internal.Response(envelope)
		if e := r.Map("error"); e != nil {
			er := internal.Response(e)
			if code := er.String("code"); code != "" {
				apiErr.Code = code
			}
			apiErr.Message = er.String("message", "detail")
		}
		if apiErr.Message == "" {
			apiErr.Message = r.String("error", "detail", "message")
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
