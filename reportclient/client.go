// Package reportclient talks to the OAuth token endpoint and the reporting
// service. It provides the three calls a token cycle is made of:
//
//   - FetchAccessToken exchanges client credentials for a bearer token
//   - FetchEmbedURL resolves the embed URL of a report
//   - FetchEmbedToken mints an embed token scoped to one dataset/report pair
//
// Each call performs exactly one HTTP request and never retries. Any failure
// is returned as an *errorreport.Report.
//
// Example usage:
//
//	client, err := reportclient.New(tokenURL, apiBaseURL, reportclient.WithLogger(logger))
//	token, err := client.FetchAccessToken(ctx, creds)
package reportclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nomis52/embedflow/buildinfo"
	"github.com/nomis52/embedflow/errorreport"
)

const (
	defaultTimeout      = 30 * time.Second
	maxResponseBodySize = 1 << 20

	grantTypeClientCredentials = "client_credentials"
)

// Descriptive first lines of the error report for each call.
const (
	DescribeAccessToken = "Error occurred while fetching the access token of the report"
	DescribeEmbedURL    = "Error occurred while fetching the embed URL of the report"
	DescribeEmbedToken  = "Error occurred while fetching the embed token of the report"
)

// HTTPDoer is the subset of *http.Client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client represents a reporting service client.
// Use New() to create one.
type Client struct {
	tokenURL     string
	apiBaseURL   string
	httpClient   HTTPDoer
	timeout      time.Duration
	logger       *slog.Logger
	newRequestID func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.httpClient = doer
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "reportclient")
	}
}

// WithRequestIDFunc overrides how client request ids are generated.
func WithRequestIDFunc(f func() string) Option {
	return func(c *Client) {
		if f != nil {
			c.newRequestID = f
		}
	}
}

// New creates a Client for the given token endpoint and reporting API base URL.
func New(tokenURL, apiBaseURL string, opts ...Option) (*Client, error) {
	if err := validateURL(tokenURL); err != nil {
		return nil, fmt.Errorf("invalid token URL: %w", err)
	}
	if err := validateURL(apiBaseURL); err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	c := &Client{
		tokenURL:     tokenURL,
		apiBaseURL:   strings.TrimRight(apiBaseURL, "/"),
		timeout:      defaultTimeout,
		logger:       slog.Default().With("component", "reportclient"),
		newRequestID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// FetchAccessToken exchanges the client credentials for an access token.
func (c *Client) FetchAccessToken(ctx context.Context, creds Credentials) (string, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeClientCredentials)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("scope", creds.Scope)

	req, err := c.newRequest(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errorreport.Network(DescribeAccessToken, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.fetchField(req, DescribeAccessToken, "accessToken")
}

// FetchEmbedURL resolves the embed URL of a report in a workspace.
func (c *Client) FetchEmbedURL(ctx context.Context, accessToken, workspaceID, reportID string) (string, error) {
	endpoint := fmt.Sprintf("%s/groups/%s/reports/%s",
		c.apiBaseURL, url.PathEscape(workspaceID), url.PathEscape(reportID))

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errorreport.Network(DescribeEmbedURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return c.fetchField(req, DescribeEmbedURL, "embedUrl")
}

// FetchEmbedToken mints an embed token restricted to datasetID and reportID.
func (c *Client) FetchEmbedToken(ctx context.Context, accessToken, datasetID, reportID string) (string, error) {
	body, err := generateTokenBody(datasetID, reportID)
	if err != nil {
		return "", errorreport.Network(DescribeEmbedToken, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.apiBaseURL+"/GenerateToken", strings.NewReader(string(body)))
	if err != nil {
		return "", errorreport.Network(DescribeEmbedToken, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	return c.fetchField(req, DescribeEmbedToken, "embedToken")
}

// generateTokenBody declares the single dataset and report the token may access.
func generateTokenBody(datasetID, reportID string) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if datasetID != "" {
		body, err = sjson.SetBytes(body, "datasets", []idRef{{ID: datasetID}})
		if err != nil {
			return nil, fmt.Errorf("setting datasets: %w", err)
		}
	}
	body, err = sjson.SetBytes(body, "reports", []idRef{{ID: reportID}})
	if err != nil {
		return nil, fmt.Errorf("setting reports: %w", err)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("client-request-id", c.newRequestID())
	return req, nil
}

// fetchField performs req and extracts a single string field from the JSON body.
func (c *Client) fetchField(req *http.Request, description, field string) (string, error) {
	ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	logger := c.logger.With("method", req.Method, "path", req.URL.Path, "client_request_id", req.Header.Get("client-request-id"))
	logger.Debug("sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("request failed", "error", err)
		return "", errorreport.Network(description, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		logger.Error("reading response failed", "status", resp.StatusCode, "error", err)
		return "", errorreport.FromResponse(description, resp, nil)
	}

	requestID := errorreport.RequestID(resp.Header)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		r := errorreport.FromResponse(description, resp, body)
		logger.Warn("unexpected status", "status", resp.StatusCode, "request_id", requestID, "error_code", r.ErrorCode)
		return "", r
	}

	if !gjson.ValidBytes(body) {
		logger.Warn("unparseable response body", "status", resp.StatusCode, "request_id", requestID)
		return "", errorreport.FromResponse(description, resp, body)
	}
	value := gjson.GetBytes(body, field)
	if value.Type != gjson.String || value.String() == "" {
		logger.Warn("response missing field", "field", field, "status", resp.StatusCode, "request_id", requestID)
		return "", errorreport.FromResponse(description, resp, body)
	}

	logger.Debug("request succeeded", "status", resp.StatusCode, "request_id", requestID)
	return value.String(), nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL %q must include scheme and host", raw)
	}
	return nil
}
