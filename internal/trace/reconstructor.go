package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Adacracker/MintTrail/internal/apperr"
	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/cardano"
)

// Hop actions.
const (
	ActionTokenMinted = "Token Minted"
	ActionLPActivity  = "Token/LP Activity"
	ActionADATransfer = "ADA Transfer"
)

// Labels used on the mint hop in place of addresses.
const (
	LabelFundingWallet   = "Funding Wallet"
	LabelReceivingWallet = "Receiving Wallet"
)

// Config tunes the reconstructor.
type Config struct {
	// NextTxLookahead is how many receiving-wallet transactions are
	// scanned for the second hop.
	NextTxLookahead int `yaml:"next_tx_lookahead"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{NextTxLookahead: 5}
}

// FlowHop is one step of the reconstructed funds flow.
type FlowHop struct {
	Step           int             `json:"step"`
	Action         string          `json:"action"`
	TxHash         string          `json:"tx"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Amount         string          `json:"amount"` // "x.xx ADA"
	AmountLovelace decimal.Decimal `json:"amountLovelace"`
	Timestamp      string          `json:"timestamp"` // RFC 3339, UTC
}

// MintFlow is the outcome of a reconstruction.
type MintFlow struct {
	Asset           cardano.AssetRef
	MintTx          string
	MintBlock       int64
	MintTime        time.Time
	FundingWallet   string
	ReceivingWallet string
	Flow            []FlowHop
}

// Reconstructor rebuilds the mint transaction and the hop after it.
type Reconstructor struct {
	client blockfrost.Client
	config Config
}

// NewReconstructor creates a reconstructor.
func NewReconstructor(client blockfrost.Client, config Config) *Reconstructor {
	if config.NextTxLookahead <= 0 {
		config.NextTxLookahead = DefaultConfig().NextTxLookahead
	}
	return &Reconstructor{client: client, config: config}
}

// Reconstruct locates the mint of ref and the flow around it. Locating the
// mint, its inputs and its outputs is required; the second hop is not.
func (r *Reconstructor) Reconstruct(ctx context.Context, ref cardano.AssetRef) (*MintFlow, error) {
	history, err := r.client.GetAssetHistory(ctx, ref.AssetID, blockfrost.Page{})
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("Mint transaction not found", "")
		}
		return nil, fmt.Errorf("trace: asset history: %w", err)
	}

	mint, ok := FindMintEvent(history)
	if !ok {
		return nil, apperr.NotFound("Mint transaction not found", "")
	}

	tx, err := r.client.GetTransaction(ctx, mint.TxHash)
	if err != nil {
		return nil, fmt.Errorf("trace: mint transaction: %w", err)
	}
	utxos, err := r.client.GetTransactionUTXOs(ctx, mint.TxHash)
	if err != nil {
		return nil, fmt.Errorf("trace: mint utxos: %w", err)
	}

	funding, ok := SelectFundingInput(utxos.Inputs)
	if !ok {
		return nil, apperr.NotFound("No inputs found in mint transaction", "")
	}
	receiving := SelectReceivingWallet(utxos.Outputs, ref)

	flow := &MintFlow{
		Asset:           ref,
		MintTx:          mint.TxHash,
		MintBlock:       tx.BlockHeight,
		MintTime:        blockTime(tx.BlockTime),
		FundingWallet:   funding.Address,
		ReceivingWallet: receiving,
	}

	mintAmount := firstOutputLovelace(utxos.Outputs)
	flow.Flow = append(flow.Flow, FlowHop{
		Step:           1,
		Action:         ActionTokenMinted,
		TxHash:         mint.TxHash,
		From:           LabelFundingWallet,
		To:             LabelReceivingWallet,
		Amount:         cardano.FormatLovelace(mintAmount),
		AmountLovelace: mintAmount,
		Timestamp:      formatTime(flow.MintTime),
	})

	if hop, ok := r.nextHop(ctx, tx, receiving); ok {
		flow.Flow = append(flow.Flow, hop)
	}

	return flow, nil
}

// nextHop finds the first transaction of the receiving wallet after the
// mint. Any failure yields no hop.
func (r *Reconstructor) nextHop(ctx context.Context, mintTx *blockfrost.Transaction, receiving string) (FlowHop, bool) {
	if receiving == cardano.UnknownAddress {
		return FlowHop{}, false
	}

	txs, err := r.client.GetAddressTransactions(ctx, receiving, blockfrost.Page{
		Count: r.config.NextTxLookahead,
		Order: blockfrost.OrderAsc,
	})
	if err != nil {
		log.Warn().Err(err).Str("address", receiving).Msg("trace: could not list receiving wallet transactions")
		return FlowHop{}, false
	}

	var next *blockfrost.AddressTransaction
	for i := range txs {
		if txs[i].TxHash != mintTx.Hash && txs[i].BlockHeight > mintTx.BlockHeight {
			next = &txs[i]
			break
		}
	}
	if next == nil {
		return FlowHop{}, false
	}

	tx, err := r.client.GetTransaction(ctx, next.TxHash)
	if err != nil {
		log.Warn().Err(err).Str("tx", next.TxHash).Msg("trace: could not fetch next transaction")
		return FlowHop{}, false
	}
	utxos, err := r.client.GetTransactionUTXOs(ctx, next.TxHash)
	if err != nil {
		log.Warn().Err(err).Str("tx", next.TxHash).Msg("trace: could not fetch next transaction utxos")
		return FlowHop{}, false
	}

	action := ActionADATransfer
	for _, out := range utxos.Outputs {
		if len(out.Amount) > 1 {
			action = ActionLPActivity
			break
		}
	}

	amount := decimal.Zero
	to := cardano.UnknownAddress
	if len(utxos.Outputs) > 0 {
		amount, _ = utxos.Outputs[0].Lovelace()
		if utxos.Outputs[0].Address != "" {
			to = utxos.Outputs[0].Address
		}
	}

	return FlowHop{
		Step:           2,
		Action:         action,
		TxHash:         next.TxHash,
		From:           cardano.FormatAddress(receiving),
		To:             cardano.FormatAddress(to),
		Amount:         cardano.FormatLovelace(amount),
		AmountLovelace: amount,
		Timestamp:      formatTime(blockTime(tx.BlockTime)),
	}, true
}

// FindMintEvent returns the first minted event of an asset history.
func FindMintEvent(history []blockfrost.AssetHistoryEvent) (blockfrost.AssetHistoryEvent, bool) {
	for _, ev := range history {
		if ev.Action == blockfrost.ActionMinted {
			return ev, true
		}
	}
	return blockfrost.AssetHistoryEvent{}, false
}

// SelectFundingInput returns the input carrying the most lovelace. Ties
// keep the earliest input.
func SelectFundingInput(inputs []blockfrost.UTXO) (blockfrost.UTXO, bool) {
	if len(inputs) == 0 {
		return blockfrost.UTXO{}, false
	}
	best := inputs[0]
	bestAmount, _ := best.Lovelace()
	for _, in := range inputs[1:] {
		amount, _ := in.Lovelace()
		if amount.GreaterThan(bestAmount) {
			best, bestAmount = in, amount
		}
	}
	return best, true
}

// SelectReceivingWallet returns the address of the first output carrying
// the asset, or cardano.UnknownAddress.
func SelectReceivingWallet(outputs []blockfrost.UTXO, ref cardano.AssetRef) string {
	for _, out := range outputs {
		if out.Carries(ref) {
			return out.Address
		}
	}
	return cardano.UnknownAddress
}

func firstOutputLovelace(outputs []blockfrost.UTXO) decimal.Decimal {
	for _, out := range outputs {
		if amount, ok := out.Lovelace(); ok {
			return amount
		}
	}
	return decimal.Zero
}

func blockTime(unix int64) time.Time {
	return time.Unix(unix, 0).UTC()
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
