package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"sealgate/internal/errs"
	"sealgate/internal/ledger"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	httpTimeoutEnvKey  = "SEALGATE_HTTP_TIMEOUT"
	apiTokenEnvKey     = "SEALGATE_API_TOKEN"
)

// Client is an HTTP client for the sealgate ledger API. It satisfies
// ledger.Ledger so the policy layer can run against a remote node.
type Client struct {
	baseURL   string
	http      *http.Client
	authToken string
}

var _ ledger.Ledger = (*Client)(nil)

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: httpTimeoutFromEnv()},
		authToken: strings.TrimSpace(os.Getenv(apiTokenEnvKey)),
	}
}

// BaseURL is the server address; it also serves the blob publisher and
// aggregator routes.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient exposes the configured transport for blob traffic.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// AuthToken is the bearer token sent with API requests, if any.
func (c *Client) AuthToken() string {
	return c.authToken
}

// Timeout is the per-request timeout taken from SEALGATE_HTTP_TIMEOUT.
func (c *Client) Timeout() time.Duration {
	return c.http.Timeout
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) GetInfo(ctx context.Context) (InfoResponse, error) {
	var resp InfoResponse
	err := c.do(ctx, http.MethodGet, "/v1/info", nil, nil, &resp)
	return resp, err
}

func (c *Client) GetObject(ctx context.Context, id string) (ledger.Object, error) {
	var resp ledger.Object
	if strings.TrimSpace(id) == "" {
		return resp, errs.New(errs.InvalidInput, "object id is required")
	}
	err := c.do(ctx, http.MethodGet, "/v1/objects/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) GetOwnedObjectsByType(ctx context.Context, owner string, typ ledger.TypeTag) ([]ledger.Object, error) {
	var resp []ledger.Object
	query := url.Values{}
	query.Set("type", string(typ))
	err := c.do(ctx, http.MethodGet, "/v1/owners/"+url.PathEscape(owner)+"/objects", query, nil, &resp)
	return resp, err
}

func (c *Client) SubmitTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Effects, error) {
	var resp ledger.Effects
	err := c.do(ctx, http.MethodPost, "/v1/transactions", nil, tx, &resp)
	return resp, err
}

// KeyServers lists the key server registrations recorded on the ledger.
func (c *Client) KeyServers(ctx context.Context) ([]ledger.Object, error) {
	var resp []ledger.Object
	err := c.do(ctx, http.MethodGet, "/v1/keyservers", nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errs.Wrap(errs.ServiceUnavailable, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.ServiceUnavailable, fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		return newAPIError(resp.StatusCode, errResp)
	}
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	if resp.StatusCode >= 500 {
		apiErr.err = errs.Wrap(errs.ServiceUnavailable, errors.New(resp.Status))
	}
	return apiErr
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.authToken == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
