// Package bundle estimates holder concentration under a token policy and
// turns it into a bundle risk report.
package bundle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Adacracker/MintTrail/internal/apperr"
	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/cardano"
)

// Holder sample sources.
const (
	SourceNone           = "none"
	SourceHistory        = "transaction_history"
	SourceAddressListing = "address_listing"
)

// AnalyzerConfig bounds the upstream work of one analysis.
type AnalyzerConfig struct {
	HistoryCount      int           `yaml:"history_count"`       // history events fetched
	MaxInspectedTxs   int           `yaml:"max_inspected_txs"`   // of those, transactions inspected
	PacingDelay       time.Duration `yaml:"pacing_delay"`        // wait between transaction fetches
	UseAddressListing bool          `yaml:"use_address_listing"` // try /assets/{asset}/addresses first
}

// DefaultAnalyzerConfig returns production defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		HistoryCount:    50,
		MaxInspectedTxs: 20,
		PacingDelay:     100 * time.Millisecond,
	}
}

// HolderRecord is an address and the quantity it received. The quantity
// is the total ever received across inspected transactions; later spends
// are never subtracted, so it is not a current balance.
type HolderRecord struct {
	Address  string          `json:"address"`
	Quantity decimal.Decimal `json:"quantity"`
}

// HolderSample is the analyzer output for one policy.
type HolderSample struct {
	PolicyAssetCount      int            `json:"policyAssetCount"`
	SampleAsset           string         `json:"sampleAsset,omitempty"`
	Holders               []HolderRecord `json:"holders"`
	TransactionsInspected int            `json:"transactionsInspected"`
	TransactionsFailed    int            `json:"transactionsFailed"`
	Source                string         `json:"source"`
}

// HolderAnalyzer derives approximate holders from transaction history.
type HolderAnalyzer struct {
	client blockfrost.Client
	config AnalyzerConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// AnalyzerOption customises a HolderAnalyzer.
type AnalyzerOption func(*HolderAnalyzer)

// WithPacer replaces the pacing wait.
func WithPacer(fn func(ctx context.Context, d time.Duration) error) AnalyzerOption {
	return func(a *HolderAnalyzer) { a.sleep = fn }
}

// NewHolderAnalyzer creates an analyzer; zero config fields take defaults.
func NewHolderAnalyzer(client blockfrost.Client, config AnalyzerConfig, opts ...AnalyzerOption) *HolderAnalyzer {
	def := DefaultAnalyzerConfig()
	if config.HistoryCount <= 0 {
		config.HistoryCount = def.HistoryCount
	}
	if config.MaxInspectedTxs <= 0 {
		config.MaxInspectedTxs = def.MaxInspectedTxs
	}
	if config.PacingDelay < 0 {
		config.PacingDelay = 0
	}
	a := &HolderAnalyzer{client: client, config: config, sleep: sleepCtx}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze samples the first asset under policyID. Listing the policy is
// required; every later step degrades to a smaller or empty sample.
func (a *HolderAnalyzer) Analyze(ctx context.Context, policyID string) (*HolderSample, error) {
	sample := &HolderSample{Source: SourceNone}

	assets, err := a.client.GetPolicyAssets(ctx, policyID, blockfrost.Page{})
	if err != nil {
		if apperr.IsNotFound(err) {
			log.Info().Str("policy", policyID).Msg("bundle: policy has no assets")
			return sample, nil
		}
		return nil, fmt.Errorf("bundle: policy assets: %w", err)
	}
	sample.PolicyAssetCount = len(assets)
	if len(assets) == 0 {
		return sample, nil
	}

	ref, err := cardano.ParseAssetID(assets[0].Asset)
	if err != nil {
		ref = cardano.NewAssetRef(policyID, strings.TrimPrefix(assets[0].Asset, policyID))
	}
	sample.SampleAsset = ref.AssetID

	if a.config.UseAddressListing {
		if holders, ok := a.fromAddressListing(ctx, ref); ok {
			sample.Holders = holders
			sample.Source = SourceAddressListing
			return sample, nil
		}
	}

	history, err := a.client.GetAssetHistory(ctx, ref.AssetID, blockfrost.Page{
		Count: a.config.HistoryCount,
		Order: blockfrost.OrderDesc,
	})
	if err != nil {
		log.Warn().Err(err).Str("asset", ref.AssetID).Msg("bundle: asset history unavailable")
		return sample, nil
	}
	if len(history) > a.config.MaxInspectedTxs {
		history = history[:a.config.MaxInspectedTxs]
	}

	acc := newAccumulator()
	for i, ev := range history {
		if i > 0 && a.config.PacingDelay > 0 {
			if err := a.sleep(ctx, a.config.PacingDelay); err != nil {
				return nil, err
			}
		}
		sample.TransactionsInspected++

		utxos, err := a.client.GetTransactionUTXOs(ctx, ev.TxHash)
		if err != nil {
			sample.TransactionsFailed++
			log.Debug().Err(err).Str("tx", ev.TxHash).Msg("bundle: skipping transaction")
			continue
		}
		for _, out := range utxos.Outputs {
			if qty, ok := out.AssetQuantity(ref); ok {
				acc.add(out.Address, qty)
			}
		}
	}

	sample.Holders = acc.records()
	sample.Source = SourceHistory
	return sample, nil
}

func (a *HolderAnalyzer) fromAddressListing(ctx context.Context, ref cardano.AssetRef) ([]HolderRecord, bool) {
	listing, err := a.client.GetAssetAddresses(ctx, ref.AssetID, blockfrost.Page{})
	if err != nil {
		log.Debug().Err(err).Str("asset", ref.AssetID).Msg("bundle: address listing unavailable, falling back to history")
		return nil, false
	}
	holders := make([]HolderRecord, 0, len(listing))
	for _, h := range listing {
		if h.Quantity.IsPositive() {
			holders = append(holders, HolderRecord{Address: h.Address, Quantity: h.Quantity})
		}
	}
	return holders, len(holders) > 0
}

// accumulator sums received quantities per address in first-seen order.
type accumulator struct {
	index map[string]int
	out   []HolderRecord
}

func newAccumulator() *accumulator {
	return &accumulator{index: make(map[string]int)}
}

func (acc *accumulator) add(addr string, qty decimal.Decimal) {
	if i, ok := acc.index[addr]; ok {
		acc.out[i].Quantity = acc.out[i].Quantity.Add(qty)
		return
	}
	acc.index[addr] = len(acc.out)
	acc.out = append(acc.out, HolderRecord{Address: addr, Quantity: qty})
}

func (acc *accumulator) records() []HolderRecord {
	return acc.out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
