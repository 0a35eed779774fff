// Package trace resolves a token to its mint transaction and reconstructs
// the earliest funds flow around it.
package trace

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Adacracker/MintTrail/internal/apperr"
	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/cardano"
)

// directLookupMinLength is the input length above which the input is
// treated as a literal asset id.
const directLookupMinLength = 50

// KnownToken maps a ticker symbol to its asset id.
type KnownToken struct {
	Symbol  string `yaml:"symbol"`
	AssetID string `yaml:"asset_id"`
}

// DefaultKnownTokens is the built-in symbol table.
var DefaultKnownTokens = []KnownToken{
	{Symbol: "HOSKY", AssetID: "a0028f350aaabe0545fdcb56b039bfb08e4bb4d8c4d7c3c7d481c235484f534b59"},
	{Symbol: "SNEK", AssetID: "279c909f348e533da5808898f87f9a14bb2c3dfbbacccd631d927a3f534e454b"},
	{Symbol: "BOOK", AssetID: "f0ff48bbb7bbe9d59a40f1ce90e9e9d0f5194811de4fcb09ad4c628473426f6f6b"},
	{Symbol: "MIN", AssetID: "29d222ce763455e3d7a09a665ce554f00ac89d2e99a1a83d267170c64d494e"},
}

// Resolver turns user input (symbol, asset id or policy id) into an asset.
type Resolver struct {
	client  blockfrost.Client
	known   map[string]string
	symbols []string
}

// NewResolver builds a resolver over the default table plus extra entries.
// Extra entries override defaults with the same symbol.
func NewResolver(client blockfrost.Client, extra []KnownToken) *Resolver {
	r := &Resolver{
		client: client,
		known:  make(map[string]string),
	}
	for _, kt := range append(append([]KnownToken(nil), DefaultKnownTokens...), extra...) {
		sym := strings.ToUpper(strings.TrimSpace(kt.Symbol))
		if sym == "" || kt.AssetID == "" {
			continue
		}
		if _, seen := r.known[sym]; !seen {
			r.symbols = append(r.symbols, sym)
		}
		r.known[sym] = kt.AssetID
	}
	return r
}

// Suggestion lists the accepted input forms.
func (r *Resolver) Suggestion() string {
	return fmt.Sprintf("Try using: %s, or full asset ID / policy ID", strings.Join(r.symbols, ", "))
}

type strategy struct {
	name string
	fn   func(ctx context.Context, input string) (*blockfrost.Asset, bool)
}

// Resolve tries each strategy in order; the first confirmed asset wins.
// Strategy failures are soft misses; only exhausting all of them fails.
func (r *Resolver) Resolve(ctx context.Context, input string) (cardano.AssetRef, *blockfrost.Asset, error) {
	strategies := []strategy{
		{"known_token", r.byKnownSymbol},
		{"direct_asset_id", r.byAssetID},
		{"policy_id", r.byPolicyID},
	}

	for _, s := range strategies {
		asset, ok := s.fn(ctx, input)
		if !ok {
			continue
		}
		ref := asset.Ref()
		if ref.PolicyID == "" {
			parsed, err := cardano.ParseAssetID(ref.AssetID)
			if err != nil {
				log.Warn().Err(err).Str("strategy", s.name).Msg("trace: resolved asset has no policy id")
				continue
			}
			ref = parsed
		}
		log.Debug().
			Str("input", input).
			Str("strategy", s.name).
			Str("asset", ref.AssetID).
			Msg("trace: asset resolved")
		return ref, asset, nil
	}

	return cardano.AssetRef{}, nil, apperr.NotFound(fmt.Sprintf("Token %q not found", input), r.Suggestion())
}

func (r *Resolver) byKnownSymbol(ctx context.Context, input string) (*blockfrost.Asset, bool) {
	assetID, ok := r.known[strings.ToUpper(input)]
	if !ok {
		return nil, false
	}
	return r.lookup(ctx, "known_token", assetID)
}

func (r *Resolver) byAssetID(ctx context.Context, input string) (*blockfrost.Asset, bool) {
	if len(input) <= directLookupMinLength {
		return nil, false
	}
	return r.lookup(ctx, "direct_asset_id", input)
}

// byPolicyID takes the first asset minted under a policy.
func (r *Resolver) byPolicyID(ctx context.Context, input string) (*blockfrost.Asset, bool) {
	if !cardano.IsPolicyID(input) {
		return nil, false
	}
	assets, err := r.client.GetPolicyAssets(ctx, input, blockfrost.Page{Count: 1})
	if err != nil {
		log.Debug().Err(err).Str("policy", input).Msg("trace: policy lookup missed")
		return nil, false
	}
	if len(assets) == 0 {
		return nil, false
	}
	return r.lookup(ctx, "policy_id", assets[0].Asset)
}

func (r *Resolver) lookup(ctx context.Context, strategy, assetID string) (*blockfrost.Asset, bool) {
	asset, err := r.client.GetAsset(ctx, assetID)
	if err != nil {
		log.Debug().Err(err).Str("strategy", strategy).Str("asset", assetID).Msg("trace: asset lookup missed")
		return nil, false
	}
	if asset.Asset == "" {
		asset.Asset = assetID
	}
	return asset, true
}
