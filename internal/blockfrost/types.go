package blockfrost

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/Adacracker/MintTrail/internal/cardano"
)

// ActionMinted is the history action recorded for a mint event.
const ActionMinted = "minted"

// Amount is one value entry of a UTXO: lovelace or a native asset.
type Amount struct {
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Asset is the /assets/{asset} payload.
type Asset struct {
	Asset             string          `json:"asset"`
	PolicyID          string          `json:"policy_id"`
	AssetName         string          `json:"asset_name"`
	Fingerprint       string          `json:"fingerprint"`
	Quantity          decimal.Decimal `json:"quantity"`
	InitialMintTxHash string          `json:"initial_mint_tx_hash"`
	MintOrBurnCount   int             `json:"mint_or_burn_count"`
}

// Ref converts the payload into an AssetRef. The asset id from the payload
// wins over a recomputed one.
func (a *Asset) Ref() cardano.AssetRef {
	ref := cardano.NewAssetRef(a.PolicyID, a.AssetName)
	if a.Asset != "" {
		ref.AssetID = a.Asset
	}
	return ref
}

// AssetHistoryEvent is one entry of /assets/{asset}/history.
type AssetHistoryEvent struct {
	TxHash string          `json:"tx_hash"`
	Action string          `json:"action"` // minted|burned
	Amount decimal.Decimal `json:"amount"`
}

// PolicyAsset is one entry of /assets/policy/{policy}.
type PolicyAsset struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
}

// AssetAddress is one entry of /assets/{asset}/addresses.
type AssetAddress struct {
	Address  string          `json:"address"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Transaction is the /txs/{hash} payload.
type Transaction struct {
	Hash                 string `json:"hash"`
	Block                string `json:"block"`
	BlockHeight          int64  `json:"block_height"`
	BlockTime            int64  `json:"block_time"` // unix seconds
	Slot                 int64  `json:"slot"`
	Index                int    `json:"index"`
	Fees                 string `json:"fees"`
	UTXOCount            int    `json:"utxo_count"`
	AssetMintOrBurnCount int    `json:"asset_mint_or_burn_count"`
}

// UTXO is one input or output of a transaction.
type UTXO struct {
	Address     string   `json:"address"`
	Amount      []Amount `json:"amount"`
	TxHash      string   `json:"tx_hash,omitempty"`
	OutputIndex int      `json:"output_index"`
}

// Lovelace returns the lovelace carried by the UTXO, zero when absent.
func (u UTXO) Lovelace() (decimal.Decimal, bool) {
	for _, a := range u.Amount {
		if a.Unit == cardano.LovelaceUnit {
			return a.Quantity, true
		}
	}
	return decimal.Zero, false
}

// AssetQuantity returns the first positive amount belonging to ref.
func (u UTXO) AssetQuantity(ref cardano.AssetRef) (decimal.Decimal, bool) {
	for _, a := range u.Amount {
		if ref.MatchesUnit(a.Unit) && a.Quantity.IsPositive() {
			return a.Quantity, true
		}
	}
	return decimal.Zero, false
}

// Carries reports whether any unit of the UTXO belongs to ref.
func (u UTXO) Carries(ref cardano.AssetRef) bool {
	for _, a := range u.Amount {
		if ref.MatchesUnit(a.Unit) {
			return true
		}
	}
	return false
}

// TransactionUTXOs is the /txs/{hash}/utxos payload.
type TransactionUTXOs struct {
	Hash    string `json:"hash"`
	Inputs  []UTXO `json:"inputs"`
	Outputs []UTXO `json:"outputs"`
}

// AddressTransaction is one entry of /addresses/{address}/transactions.
type AddressTransaction struct {
	TxHash      string `json:"tx_hash"`
	TxIndex     int    `json:"tx_index"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

// Order is the sort direction of a paged listing.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Page selects a slice of a paged listing. Zero fields are omitted.
type Page struct {
	Count int
	Page  int
	Order Order
}

func (p Page) params() map[string]string {
	out := make(map[string]string, 3)
	if p.Count > 0 {
		out["count"] = strconv.Itoa(p.Count)
	}
	if p.Page > 0 {
		out["page"] = strconv.Itoa(p.Page)
	}
	if p.Order != "" {
		out["order"] = string(p.Order)
	}
	return out
}

// Stats summarises client activity.
type Stats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	RetryCount    int64 `json:"retry_count"`
	AvgLatencyUs  int64 `json:"avg_latency_us"`
	LastRequestAt int64 `json:"last_request_at"` // unix ms
	CircuitOpen   bool  `json:"circuit_open"`
	ConsecErrors  int64 `json:"consecutive_errors"`
}
