package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
)

// Provider error classification. API errors are definitive answers from the
// marketplace and are never retried; connection errors are transient and
// retried with a linear backoff.
var (
	ErrProviderRateLimited = errors.New("proxy provider rate limit reached")
)

// ProviderAPIError is a non-2xx response from the proxy marketplace
type ProviderAPIError struct {
	StatusCode int
	Body       string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("proxy provider API error: status %d: %s", e.StatusCode, e.Body)
}

// ProviderConnectionError wraps transport-level failures reaching the marketplace
type ProviderConnectionError struct {
	Err error
}

func (e *ProviderConnectionError) Error() string {
	return fmt.Sprintf("proxy provider connection error: %v", e.Err)
}

func (e *ProviderConnectionError) Unwrap() error {
	return e.Err
}

// IsProviderConnectionError reports whether err is a transient transport failure
func IsProviderConnectionError(err error) bool {
	var connErr *ProviderConnectionError
	return errors.As(err, &connErr)
}

// CreateProxyRequest describes the proxy to purchase from the marketplace
type CreateProxyRequest struct {
	Type         string   `json:"type"`
	Country      string   `json:"country"`
	Locations    []string `json:"locations,omitempty"`
	DurationDays int      `json:"duration_days"`
	BandwidthGB  int      `json:"bandwidth_gb"`
	Reference    string   `json:"reference"`
}

// ProxyDetails is the marketplace's description of a purchased proxy
type ProxyDetails struct {
	ProviderProxyID string  `json:"id"`
	Host            string  `json:"host"`
	Port            int     `json:"port"`
	Username        string  `json:"username"`
	Password        string  `json:"password"`
	Protocol        string  `json:"protocol"`
	Country         string  `json:"country"`
	City            string  `json:"city"`
	MonthlyCostUSD  float64 `json:"monthly_cost_usd"`
}

// ConnectionTestResult is the outcome of a round trip through a proxy
type ConnectionTestResult struct {
	Success        bool
	ExitIP         string
	ResponseTimeMs int
	Err            string
}

// Geolocation describes where an IP appears to be located
type Geolocation struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ISP         string  `json:"isp"`
}

// ReputationResult describes an IP's standing on abuse and blacklist feeds
type ReputationResult struct {
	IP            string   `json:"ip"`
	Score         float64  `json:"score"` // 0..100, higher is cleaner
	IsResidential bool     `json:"is_residential"`
	Blacklists    []string `json:"blacklists"`
}

// ProxyProviderClient talks to the residential proxy marketplace
type ProxyProviderClient interface {
	CreateProxy(ctx context.Context, req *CreateProxyRequest) (*ProxyDetails, error)
	DeleteProxy(ctx context.Context, providerProxyID string) error
	TestConnection(ctx context.Context, creds *ProxyCredentials) (*ConnectionTestResult, error)
	GetGeolocation(ctx context.Context, ip string) (*Geolocation, error)
	CheckReputation(ctx context.Context, ip string) (*ReputationResult, error)
}

// ProxyProviderClientImpl implements ProxyProviderClient
type ProxyProviderClientImpl struct {
	cfg         *config.ProxyProviderConfig
	httpClient  *http.Client
	redisClient *redis.Client
	limitPrefix string
}

// NewProxyProviderClient creates a new proxy marketplace client
func NewProxyProviderClient(cfg *config.ProxyProviderConfig, redisClient *redis.Client, redisPrefix string) ProxyProviderClient {
	return &ProxyProviderClientImpl{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		redisClient: redisClient,
		limitPrefix: redisPrefix + "ratelimit:proxy_provider",
	}
}

// checkRateLimit enforces a sliding window over provider calls using a redis
// sorted set of call timestamps. When redis is unavailable the call is
// allowed through; the provider enforces its own limit as the backstop.
func (c *ProxyProviderClientImpl) checkRateLimit(ctx context.Context) error {
	if c.redisClient == nil {
		return nil
	}

	now := time.Now()
	windowStart := now.Add(-c.cfg.RateLimitWindow)

	pipe := c.redisClient.TxPipeline()
	pipe.ZRemRangeByScore(ctx, c.limitPrefix, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, c.limitPrefix)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil
	}

	if countCmd.Val() >= int64(c.cfg.RateLimitMax) {
		return ErrProviderRateLimited
	}

	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.New().String(),
	}
	addPipe := c.redisClient.TxPipeline()
	addPipe.ZAdd(ctx, c.limitPrefix, member)
	addPipe.Expire(ctx, c.limitPrefix, c.cfg.RateLimitWindow)
	_, _ = addPipe.Exec(ctx)

	return nil
}

// doRequest performs one provider API call with rate limiting and retries.
// Only connection errors are retried; a definitive API answer, good or bad,
// is returned as-is.
func (c *ProxyProviderClientImpl) doRequest(ctx context.Context, method, path string, body, out any) error {
	if err := c.checkRateLimit(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * c.cfg.RetryBackoff
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := c.doRequestOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !IsProviderConnectionError(err) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

func (c *ProxyProviderClientImpl) doRequestOnce(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to serialize request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderConnectionError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderConnectionError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderAPIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse provider response: %w", err)
		}
	}

	return nil
}

// CreateProxy purchases a residential proxy in the requested country
func (c *ProxyProviderClientImpl) CreateProxy(ctx context.Context, req *CreateProxyRequest) (*ProxyDetails, error) {
	if req.Type == "" {
		req.Type = c.cfg.DefaultType
	}
	if req.Country == "" {
		req.Country = c.cfg.RequiredCountry
	}
	if len(req.Locations) == 0 {
		req.Locations = c.cfg.DefaultLocations
	}
	if req.DurationDays == 0 {
		req.DurationDays = c.cfg.DurationDays
	}
	if req.BandwidthGB == 0 {
		req.BandwidthGB = c.cfg.BandwidthGB
	}

	var details ProxyDetails
	if err := c.doRequest(ctx, http.MethodPost, "/proxies", req, &details); err != nil {
		return nil, err
	}

	return &details, nil
}

// DeleteProxy releases a proxy back to the marketplace. A 404 is treated as
// success so release stays idempotent.
func (c *ProxyProviderClientImpl) DeleteProxy(ctx context.Context, providerProxyID string) error {
	err := c.doRequest(ctx, http.MethodDelete, "/proxies/"+url.PathEscape(providerProxyID), nil, nil)
	if err != nil {
		var apiErr *ProviderAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// TestConnection performs a round trip through the proxy against the
// configured test endpoint and reports the observed exit IP and latency.
// A failed round trip is a result, not an error; errors are reserved for
// being unable to run the test at all.
func (c *ProxyProviderClientImpl) TestConnection(ctx context.Context, creds *ProxyCredentials) (*ConnectionTestResult, error) {
	if creds == nil {
		return nil, fmt.Errorf("credentials are nil")
	}

	proxyURL := &url.URL{
		Scheme: creds.Protocol,
		User:   url.UserPassword(creds.Username, creds.Password),
		Host:   net.JoinHostPort(creds.Host, fmt.Sprintf("%d", creds.Port)),
	}

	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   c.cfg.Timeout,
	}
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.TestEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create test request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		return &ConnectionTestResult{
			Success:        false,
			ResponseTimeMs: int(elapsed.Milliseconds()),
			Err:            err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ConnectionTestResult{
			Success:        false,
			ResponseTimeMs: int(elapsed.Milliseconds()),
			Err:            fmt.Sprintf("test endpoint returned status %d", resp.StatusCode),
		}, nil
	}

	var ipResp struct {
		IP string `json:"ip"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil {
		_ = json.Unmarshal(body, &ipResp)
	}

	return &ConnectionTestResult{
		Success:        true,
		ExitIP:         ipResp.IP,
		ResponseTimeMs: int(elapsed.Milliseconds()),
	}, nil
}

// GetGeolocation resolves where an IP is located
func (c *ProxyProviderClientImpl) GetGeolocation(ctx context.Context, ip string) (*Geolocation, error) {
	var geo Geolocation
	if err := c.doRequest(ctx, http.MethodGet, "/geolocation/"+url.PathEscape(ip), nil, &geo); err != nil {
		return nil, err
	}
	return &geo, nil
}

// CheckReputation queries the marketplace's abuse and blacklist feeds for an IP
func (c *ProxyProviderClientImpl) CheckReputation(ctx context.Context, ip string) (*ReputationResult, error) {
	var rep ReputationResult
	if err := c.doRequest(ctx, http.MethodGet, "/reputation/"+url.PathEscape(ip), nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// MockProxyProviderClient is a mock implementation for testing
type MockProxyProviderClient struct {
	CreateProxyFunc     func(ctx context.Context, req *CreateProxyRequest) (*ProxyDetails, error)
	DeleteProxyFunc     func(ctx context.Context, providerProxyID string) error
	TestConnectionFunc  func(ctx context.Context, creds *ProxyCredentials) (*ConnectionTestResult, error)
	GetGeolocationFunc  func(ctx context.Context, ip string) (*Geolocation, error)
	CheckReputationFunc func(ctx context.Context, ip string) (*ReputationResult, error)

	CreateCalls    int
	DeleteCalls    int
	TestCalls      int
	GeoCalls       int
	RepCalls       int
	DeletedProxies []string
}

func (m *MockProxyProviderClient) CreateProxy(ctx context.Context, req *CreateProxyRequest) (*ProxyDetails, error) {
	m.CreateCalls++
	if m.CreateProxyFunc != nil {
		return m.CreateProxyFunc(ctx, req)
	}
	return &ProxyDetails{
		ProviderProxyID: "mock-proxy-" + uuid.New().String()[:8],
		Host:            "203.0.113.10",
		Port:            8080,
		Username:        "mockuser",
		Password:        "mockpass",
		Protocol:        "http",
		Country:         req.Country,
		City:            "Manila",
		MonthlyCostUSD:  15.00,
	}, nil
}

func (m *MockProxyProviderClient) DeleteProxy(ctx context.Context, providerProxyID string) error {
	m.DeleteCalls++
	m.DeletedProxies = append(m.DeletedProxies, providerProxyID)
	if m.DeleteProxyFunc != nil {
		return m.DeleteProxyFunc(ctx, providerProxyID)
	}
	return nil
}

func (m *MockProxyProviderClient) TestConnection(ctx context.Context, creds *ProxyCredentials) (*ConnectionTestResult, error) {
	m.TestCalls++
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx, creds)
	}
	return &ConnectionTestResult{Success: true, ExitIP: "203.0.113.10", ResponseTimeMs: 120}, nil
}

func (m *MockProxyProviderClient) GetGeolocation(ctx context.Context, ip string) (*Geolocation, error) {
	m.GeoCalls++
	if m.GetGeolocationFunc != nil {
		return m.GetGeolocationFunc(ctx, ip)
	}
	return &Geolocation{IP: ip, CountryCode: "PH", Region: "NCR", City: "Manila", ISP: "Mock ISP"}, nil
}

func (m *MockProxyProviderClient) CheckReputation(ctx context.Context, ip string) (*ReputationResult, error) {
	m.RepCalls++
	if m.CheckReputationFunc != nil {
		return m.CheckReputationFunc(ctx, ip)
	}
	return &ReputationResult{IP: ip, Score: 95, IsResidential: true}, nil
}
