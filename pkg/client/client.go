// Package client talks to a running catalogd daemon over its HTTP API.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// Client provides HTTP client functionality to communicate with catalogd daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool   // Skip TLS verification
	Token    string // bearer token for daemons with auth enabled
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

const DefaultBaseURL = "http://localhost:3000/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new catalogd API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		token:   config.Token,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// SetToken replaces the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges client credentials for a bearer token and uses it for
// later requests.
func (c *Client) Login(ctx context.Context, clientID, secret string) (TokenResponse, error) {
	var out TokenResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", nil)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(clientID, secret)
	if err := c.send(req, &out); err != nil {
		return out, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// HTTPClient exposes the underlying client, e.g. to swap its transport.
func (c *Client) HTTPClient() *http.Client { return c.client }

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Extract asks the daemon to start a run. A run already in flight is not an
// error: the response has Success false.
func (c *Client) Extract(ctx context.Context) (ExtractResponse, error) {
	var out ExtractResponse
	err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/extract", &out)
	return out, err
}

// Test asks the daemon to connect and log in without scraping. A failed
// step comes back as an *APIError together with the step results.
func (c *Client) Test(ctx context.Context) (TestResponse, error) {
	var out TestResponse
	err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/test", &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
		_ = json.Unmarshal(apiErr.Body, &out)
	}
	return out, err
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/status", &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out StatsResponse
	err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/stats", &out)
	return out.Data, err
}

// Products fetches one page of products.
func (c *Client) Products(ctx context.Context, q ProductQuery) (ProductsResponse, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	setIf(v, "search", q.Search)
	setIf(v, "category", q.Category)
	setIf(v, "brand", q.Brand)

	var out ProductsResponse
	err := c.doRequest(ctx, http.MethodGet, c.endpoint("/products", v), &out)
	return out, err
}

func (c *Client) Search(ctx context.Context, q SearchQuery) (SearchResponse, error) {
	v := url.Values{}
	setIf(v, "q", q.Q)
	setIf(v, "category", q.Category)
	setIf(v, "brand", q.Brand)
	setIf(v, "sort", q.Sort)
	if q.Desc {
		v.Set("order", "desc")
	}
	var out SearchResponse
	err := c.doRequest(ctx, http.MethodGet, c.endpoint("/search", v), &out)
	return out, err
}

// Runs lists recent runs, newest first.
func (c *Client) Runs(ctx context.Context) ([]Run, error) {
	var out struct {
		Data []Run `json:"data"`
	}
	err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/runs", &out)
	return out.Data, err
}

func (c *Client) Run(ctx context.Context, id string) (Run, error) {
	var out struct {
		Data Run `json:"data"`
	}
	err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/runs/"+url.PathEscape(id), &out)
	return out.Data, err
}

func setIf(v url.Values, key, val string) {
	if val != "" {
		v.Set(key, val)
	}
}

func (c *Client) endpoint(path string, v url.Values) string {
	u := c.baseURL + path
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	return u
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

// doRequest performs the request and decodes a 200 body into out.
func (c *Client) doRequest(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", req.URL.String())
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("HTTP %d: read body: %w", resp.StatusCode, err)
	}
	var errorResp ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	msg := errorResp.Error
	if msg == "" {
		msg = errorResp.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	c.logger.Error("API request failed", "error", msg, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: msg, Body: body}
}

// APIError is a non-200 answer from the daemon. Body is the raw JSON.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string { return fmt.Sprintf("API error (%d): %s", e.Status, e.Message) }
