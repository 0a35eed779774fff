// Package blockfrost is the upstream data source client: asset, transaction
// and address reads against the Blockfrost REST API.
package blockfrost

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Client Interface
// ---------------------------------------------------------------------------

// Client is the read surface the tracer and the bundle analyzer depend on.
// Implementations: LiveClient (Blockfrost over HTTPS), StubClient (testing).
type Client interface {
	// GetAsset fetches asset metadata.
	GetAsset(ctx context.Context, assetID string) (*Asset, error)

	// GetAssetHistory lists mint and burn events of an asset.
	GetAssetHistory(ctx context.Context, assetID string, page Page) ([]AssetHistoryEvent, error)

	// GetPolicyAssets lists assets minted under a policy.
	GetPolicyAssets(ctx context.Context, policyID string, page Page) ([]PolicyAsset, error)

	// GetAssetAddresses lists addresses currently holding an asset.
	GetAssetAddresses(ctx context.Context, assetID string, page Page) ([]AssetAddress, error)

	// GetTransaction fetches transaction metadata.
	GetTransaction(ctx context.Context, txHash string) (*Transaction, error)

	// GetTransactionUTXOs fetches the inputs and outputs of a transaction.
	GetTransactionUTXOs(ctx context.Context, txHash string) (*TransactionUTXOs, error)

	// GetAddressTransactions lists transactions touching an address.
	GetAddressTransactions(ctx context.Context, address string, page Page) ([]AddressTransaction, error)

	// Health checks upstream reachability.
	Health(ctx context.Context) error
}

// Observer receives per-request telemetry from LiveClient.
type Observer interface {
	ObserveRequest(endpoint string, status int, latency time.Duration)
	ObserveRetry(endpoint string)
	ObserveCircuitOpen()
}

// Config configures the Blockfrost client.
type Config struct {
	BaseURL          string        `yaml:"base_url"`   // e.g. https://cardano-mainnet.blockfrost.io/api/v0
	ProjectID        string        `yaml:"project_id"` // sent as the project_id header
	Timeout          time.Duration `yaml:"timeout"`    // per attempt
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseBackoff      time.Duration `yaml:"base_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	Jitter           time.Duration `yaml:"jitter"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps"` // outbound requests per second
	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitCooldown  time.Duration `yaml:"circuit_cooldown"`
}

// MainnetURL is the default Blockfrost endpoint.
const MainnetURL = "https://cardano-mainnet.blockfrost.io/api/v0"

// DefaultConfig returns mainnet defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:          MainnetURL,
		Timeout:          10 * time.Second,
		MaxAttempts:      3,
		BaseBackoff:      time.Second,
		MaxBackoff:       4 * time.Second,
		Jitter:           250 * time.Millisecond,
		RateLimitRPS:     10,
		CircuitThreshold: 10,
		CircuitCooldown:  30 * time.Second,
	}
}
