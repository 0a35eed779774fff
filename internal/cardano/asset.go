// Package cardano holds the ledger primitives shared by the tracer and the
// bundle scorer: asset identifiers, units and display formatting.
package cardano

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// PolicyIDLength is the hex length of a minting policy hash.
	PolicyIDLength = 56

	// LovelaceUnit is the unit string of the native currency.
	LovelaceUnit = "lovelace"

	// UnknownAddress marks a wallet that could not be determined.
	UnknownAddress = "Unknown"
)

var lovelacePerADA = decimal.NewFromInt(1_000_000)

// AssetRef identifies one native token.
type AssetRef struct {
	PolicyID     string `json:"policyId"`
	AssetNameHex string `json:"assetNameHex"`
	AssetID      string `json:"assetId"`
}

// NewAssetRef builds an AssetRef from a policy and a hex asset name.
func NewAssetRef(policyID, assetNameHex string) AssetRef {
	return AssetRef{
		PolicyID:     policyID,
		AssetNameHex: assetNameHex,
		AssetID:      policyID + assetNameHex,
	}
}

// ParseAssetID splits a concatenated asset id into policy and name.
func ParseAssetID(assetID string) (AssetRef, error) {
	if len(assetID) < PolicyIDLength || !isHex(assetID) {
		return AssetRef{}, fmt.Errorf("cardano: invalid asset id %q", assetID)
	}
	return NewAssetRef(assetID[:PolicyIDLength], assetID[PolicyIDLength:]), nil
}

// MatchesUnit reports whether a value unit belongs to this asset, either as
// the exact asset id or as any unit under the same policy.
func (a AssetRef) MatchesUnit(unit string) bool {
	if unit == a.AssetID {
		return true
	}
	return a.PolicyID != "" && strings.HasPrefix(unit, a.PolicyID)
}

// Name returns the printable asset name, or "" when the asset is nameless.
func (a AssetRef) Name() string {
	if a.AssetNameHex == "" {
		return ""
	}
	return HexToASCII(a.AssetNameHex)
}

// IsPolicyID reports whether s has the shape of a policy id.
func IsPolicyID(s string) bool {
	return len(s) == PolicyIDLength && isHex(s)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Display formatting
// ---------------------------------------------------------------------------

// FormatAddress shortens a long address to its first and last 8 characters.
func FormatAddress(addr string) string {
	if len(addr) < 16 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-8:]
}

// FormatLovelace renders a lovelace quantity as "x.xx ADA".
func FormatLovelace(lovelace decimal.Decimal) string {
	return lovelace.Div(lovelacePerADA).StringFixed(2) + " ADA"
}

// HexToASCII decodes a hex asset name keeping only printable ASCII bytes.
// The input is returned unchanged when nothing printable remains.
func HexToASCII(h string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(h); i += 2 {
		b, err := hex.DecodeString(h[i : i+2])
		if err != nil {
			continue
		}
		if b[0] >= 32 && b[0] <= 126 {
			sb.WriteByte(b[0])
		}
	}
	if sb.Len() == 0 {
		return h
	}
	return sb.String()
}
