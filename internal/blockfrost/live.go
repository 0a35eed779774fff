package blockfrost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/Adacracker/MintTrail/internal/apperr"
	"github.com/Adacracker/MintTrail/internal/retry"
)

// ErrCircuitOpen is returned while the breaker rejects outbound calls.
var ErrCircuitOpen = errors.New("blockfrost: circuit breaker open")

// ---------------------------------------------------------------------------
// Live Client: Blockfrost REST with pacing, retry and circuit breaking
// ---------------------------------------------------------------------------

// LiveClient talks to a real Blockfrost endpoint.
type LiveClient struct {
	config   Config
	http     *resty.Client
	policy   retry.Policy
	observer Observer

	// Outbound token bucket.
	limiter       chan struct{}
	limiterCancel context.CancelFunc

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	// Stats.
	requestCount  atomic.Int64
	errorCount    atomic.Int64
	retryCount    atomic.Int64
	latencySum    atomic.Int64 // cumulative microseconds
	lastRequestAt atomic.Int64
}

// Option customises a LiveClient.
type Option func(*LiveClient)

// WithObserver attaches a telemetry sink.
func WithObserver(o Observer) Option {
	return func(c *LiveClient) { c.observer = o }
}

// WithHTTPClient replaces the transport, mainly for httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *LiveClient) {
		c.http = resty.NewWithClient(hc)
	}
}

// WithSleep overrides the retry backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *LiveClient) { c.policy.Sleep = fn }
}

// NewLiveClient creates a Blockfrost client. Call Close to stop the
// token bucket refill goroutine.
func NewLiveClient(config Config, opts ...Option) *LiveClient {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BaseBackoff == 0 {
		config.BaseBackoff = def.BaseBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = def.RateLimitRPS
	}
	if config.CircuitThreshold == 0 {
		config.CircuitThreshold = def.CircuitThreshold
	}
	if config.CircuitCooldown == 0 {
		config.CircuitCooldown = def.CircuitCooldown
	}

	c := &LiveClient{
		config: config,
		http:   resty.New(),
		policy: retry.Policy{
			MaxAttempts: config.MaxAttempts,
			BaseDelay:   config.BaseBackoff,
			MaxDelay:    config.MaxBackoff,
			Jitter:      config.Jitter,
			Classify:    Classify,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http.
		SetBaseURL(config.BaseURL).
		SetHeader("project_id", config.ProjectID).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{})

	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	c.limiter = make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		c.limiter <- struct{}{}
	}

	limiterCtx, cancel := context.WithCancel(context.Background())
	c.limiterCancel = cancel

	go func() {
		interval := time.Duration(float64(time.Second) / config.RateLimitRPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-limiterCtx.Done():
				return
			case <-ticker.C:
				select {
				case c.limiter <- struct{}{}:
				default: // bucket full
				}
			}
		}
	}()

	return c
}

// Close stops background work.
func (c *LiveClient) Close() {
	c.limiterCancel()
}

// Classify decides whether a failed request may be retried: transport
// errors, timeouts, 429 and 5xx are retryable; other 4xx, malformed
// payloads, caller cancellation and an open breaker are not.
func Classify(err error) retry.Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return retry.Fatal
	}
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindUpstream {
		return retry.Fatal
	}
	switch {
	case e.Status == 0:
		return retry.Retryable
	case e.Status == http.StatusTooManyRequests, e.Status >= 500:
		return retry.Retryable
	default:
		return retry.Fatal
	}
}

type request struct {
	endpoint string // metrics label
	path     string
	pathArgs map[string]string
	page     Page
}

type errorBody struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// get issues a paced, retried GET and decodes the payload into out.
func (c *LiveClient) get(ctx context.Context, req request, out any) error {
	if c.circuitOpen.Load() {
		return apperr.Upstream(0, "", fmt.Errorf("%w (%s)", ErrCircuitOpen, req.endpoint))
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.retryCount.Add(1)
		if c.observer != nil {
			c.observer.ObserveRetry(req.endpoint)
		}
		log.Warn().
			Err(err).
			Str("endpoint", req.endpoint).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("blockfrost: retrying request")
	}

	var body []byte
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		b, err := c.fetch(ctx, req)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			err = apperr.Upstream(0, "", fmt.Errorf("%s: %w", req.endpoint, err))
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Upstream(0, "", fmt.Errorf("decode %s: %w", req.endpoint, err))
	}
	return nil
}

// fetch performs a single attempt.
func (c *LiveClient) fetch(ctx context.Context, req request) ([]byte, error) {
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(attemptCtx).
		SetPathParams(req.pathArgs).
		SetQueryParams(req.page.params()).
		Get(req.path)
	latency := time.Since(start)

	c.requestCount.Add(1)
	c.latencySum.Add(latency.Microseconds())
	c.lastRequestAt.Store(time.Now().UnixMilli())

	if err != nil {
		c.errorCount.Add(1)
		c.recordError()
		c.observe(req.endpoint, 0, latency)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Upstream(0, "", fmt.Errorf("%s: %w", req.endpoint, err))
	}

	status := resp.StatusCode()
	c.observe(req.endpoint, status, latency)

	if status >= 300 {
		c.errorCount.Add(1)
		switch {
		case status == http.StatusTooManyRequests:
			// Throttling is not an upstream fault.
		case status >= 500:
			c.recordError()
		default:
			c.resetErrors()
		}
		upErr := apperr.Upstream(status, http.StatusText(status), nil)
		var eb errorBody
		if json.Unmarshal(resp.Body(), &eb) == nil && eb.Message != "" {
			upErr.Details = eb.Message
		}
		return nil, upErr
	}

	c.resetErrors()
	return resp.Body(), nil
}

func (c *LiveClient) observe(endpoint string, status int, latency time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, status, latency)
	}
}

// recordError increments consecutive errors and opens the breaker if needed.
func (c *LiveClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count < int64(c.config.CircuitThreshold) {
		return
	}
	if c.circuitOpen.CompareAndSwap(false, true) {
		log.Error().Int64("errors", count).Msg("blockfrost: CIRCUIT BREAKER OPEN - too many consecutive errors")
		if c.observer != nil {
			c.observer.ObserveCircuitOpen()
		}
		cooldown := c.config.CircuitCooldown
		go func() {
			time.Sleep(cooldown)
			c.circuitOpen.Store(false)
			c.consecutiveErrors.Store(0)
			log.Info().Msg("blockfrost: circuit breaker reset")
		}()
	}
}

func (c *LiveClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// ---------------------------------------------------------------------------
// Client interface implementation
// ---------------------------------------------------------------------------

// GetAsset fetches /assets/{asset}.
func (c *LiveClient) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	var out Asset
	err := c.get(ctx, request{
		endpoint: "asset",
		path:     "/assets/{asset}",
		pathArgs: map[string]string{"asset": assetID},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAssetHistory fetches /assets/{asset}/history.
func (c *LiveClient) GetAssetHistory(ctx context.Context, assetID string, page Page) ([]AssetHistoryEvent, error) {
	var out []AssetHistoryEvent
	err := c.get(ctx, request{
		endpoint: "asset_history",
		path:     "/assets/{asset}/history",
		pathArgs: map[string]string{"asset": assetID},
		page:     page,
	}, &out)
	return out, err
}

// GetPolicyAssets fetches /assets/policy/{policy}.
func (c *LiveClient) GetPolicyAssets(ctx context.Context, policyID string, page Page) ([]PolicyAsset, error) {
	var out []PolicyAsset
	err := c.get(ctx, request{
		endpoint: "policy_assets",
		path:     "/assets/policy/{policy}",
		pathArgs: map[string]string{"policy": policyID},
		page:     page,
	}, &out)
	return out, err
}

// GetAssetAddresses fetches /assets/{asset}/addresses.
func (c *LiveClient) GetAssetAddresses(ctx context.Context, assetID string, page Page) ([]AssetAddress, error) {
	var out []AssetAddress
	err := c.get(ctx, request{
		endpoint: "asset_addresses",
		path:     "/assets/{asset}/addresses",
		pathArgs: map[string]string{"asset": assetID},
		page:     page,
	}, &out)
	return out, err
}

// GetTransaction fetches /txs/{hash}.
func (c *LiveClient) GetTransaction(ctx context.Context, txHash string) (*Transaction, error) {
	var out Transaction
	err := c.get(ctx, request{
		endpoint: "tx",
		path:     "/txs/{hash}",
		pathArgs: map[string]string{"hash": txHash},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransactionUTXOs fetches /txs/{hash}/utxos.
func (c *LiveClient) GetTransactionUTXOs(ctx context.Context, txHash string) (*TransactionUTXOs, error) {
	var out TransactionUTXOs
	err := c.get(ctx, request{
		endpoint: "tx_utxos",
		path:     "/txs/{hash}/utxos",
		pathArgs: map[string]string{"hash": txHash},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAddressTransactions fetches /addresses/{address}/transactions.
func (c *LiveClient) GetAddressTransactions(ctx context.Context, address string, page Page) ([]AddressTransaction, error) {
	var out []AddressTransaction
	err := c.get(ctx, request{
		endpoint: "address_txs",
		path:     "/addresses/{address}/transactions",
		pathArgs: map[string]string{"address": address},
		page:     page,
	}, &out)
	return out, err
}

// Health checks /health.
func (c *LiveClient) Health(ctx context.Context) error {
	var out struct {
		IsHealthy bool `json:"is_healthy"`
	}
	if err := c.get(ctx, request{endpoint: "health", path: "/health"}, &out); err != nil {
		return err
	}
	if !out.IsHealthy {
		return apperr.Upstream(0, "", errors.New("health: upstream reports unhealthy"))
	}
	return nil
}

// Stats returns request counters.
func (c *LiveClient) Stats() Stats {
	reqCount := c.requestCount.Load()
	avgLatency := int64(0)
	if reqCount > 0 {
		avgLatency = c.latencySum.Load() / reqCount
	}
	return Stats{
		RequestCount:  reqCount,
		ErrorCount:    c.errorCount.Load(),
		RetryCount:    c.retryCount.Load(),
		AvgLatencyUs:  avgLatency,
		LastRequestAt: c.lastRequestAt.Load(),
		CircuitOpen:   c.circuitOpen.Load(),
		ConsecErrors:  c.consecutiveErrors.Load(),
	}
}

// restyLogger routes resty's internal warnings through zerolog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	log.Error().Msgf("blockfrost: "+format, v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Msgf("blockfrost: "+format, v...)
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Msgf("blockfrost: "+format, v...)
}
