package trace

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adacracker/MintTrail/internal/apperr"
	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/cardano"
)

const (
	hoskyID = "a0028f350aaabe0545fdcb56b039bfb08e4bb4d8c4d7c3c7d481c235484f534b59"
	snekID  = "279c909f348e533da5808898f87f9a14bb2c3dfbbacccd631d927a3f534e454b"

	receivingAddr = "addr1q9receivingwallet000000000000000000000000000000xyz"
	destAddr      = "addr1qxdestinationwallet0000000000000000000000000000abc"
)

func lovelace(n int64) blockfrost.Amount {
	return blockfrost.Amount{Unit: cardano.LovelaceUnit, Quantity: decimal.NewFromInt(n)}
}

func units(unit string, n int64) blockfrost.Amount {
	return blockfrost.Amount{Unit: unit, Quantity: decimal.NewFromInt(n)}
}

// seedSnek registers SNEK with a single mint transaction.
func seedSnek(stub *blockfrost.StubClient) {
	stub.AddAsset(blockfrost.Asset{Asset: snekID, PolicyID: snekID[:56], AssetName: snekID[56:]})
	stub.AddHistory(snekID, []blockfrost.AssetHistoryEvent{
		{TxHash: "mint1", Action: blockfrost.ActionMinted, Amount: decimal.NewFromInt(1)},
	})
	stub.AddTransaction(
		blockfrost.Transaction{Hash: "mint1", BlockHeight: 100, BlockTime: 1700000000},
		blockfrost.TransactionUTXOs{
			Inputs: []blockfrost.UTXO{
				{Address: "addr_big", Amount: []blockfrost.Amount{lovelace(900000000)}},
				{Address: "addr_small", Amount: []blockfrost.Amount{lovelace(100000000)}},
			},
			Outputs: []blockfrost.UTXO{
				{Address: receivingAddr, Amount: []blockfrost.Amount{lovelace(2000000), units(snekID, 1)}},
			},
		},
	)
}

func TestTrace_SnekEndToEnd(t *testing.T) {
	stub := blockfrost.NewStubClient()
	seedSnek(stub)
	svc := NewService(stub, DefaultConfig(), nil)

	res, err := svc.Trace(context.Background(), "SNEK")
	require.NoError(t, err)

	assert.Equal(t, "SNEK", res.TokenName)
	assert.Equal(t, snekID[:56], res.PolicyID)
	assert.Equal(t, snekID, res.AssetID)
	assert.Equal(t, "mint1", res.MintTx)
	assert.Equal(t, int64(100), res.MintBlock)
	assert.Equal(t, "2023-11-14T22:13:20Z", res.MintTime)
	assert.Equal(t, "addr_big", res.FundingWallet)
	assert.Equal(t, receivingAddr, res.ReceivingWallet)

	require.Len(t, res.AdaFlow, 1)
	hop := res.AdaFlow[0]
	assert.Equal(t, 1, hop.Step)
	assert.Equal(t, ActionTokenMinted, hop.Action)
	assert.Equal(t, "2.00 ADA", hop.Amount)
	assert.Equal(t, LabelFundingWallet, hop.From)
	assert.Equal(t, LabelReceivingWallet, hop.To)
}

func TestTrace_SecondHop(t *testing.T) {
	stub := blockfrost.NewStubClient()
	seedSnek(stub)
	stub.AddAddressTransactions(receivingAddr, []blockfrost.AddressTransaction{
		{TxHash: "mint1", BlockHeight: 100},
		{TxHash: "older", BlockHeight: 90},
		{TxHash: "next1", BlockHeight: 120},
		{TxHash: "later", BlockHeight: 130},
	})
	stub.AddTransaction(
		blockfrost.Transaction{Hash: "next1", BlockHeight: 120, BlockTime: 1700000600},
		blockfrost.TransactionUTXOs{
			Outputs: []blockfrost.UTXO{
				{Address: destAddr, Amount: []blockfrost.Amount{lovelace(5000000), units(snekID, 1)}},
			},
		},
	)
	svc := NewService(stub, DefaultConfig(), nil)

	res, err := svc.Trace(context.Background(), "snek")
	require.NoError(t, err)
	require.Len(t, res.AdaFlow, 2)

	hop := res.AdaFlow[1]
	assert.Equal(t, 2, hop.Step)
	assert.Equal(t, "next1", hop.TxHash)
	assert.Equal(t, ActionLPActivity, hop.Action)
	assert.Equal(t, "5.00 ADA", hop.Amount)
	assert.Equal(t, cardano.FormatAddress(receivingAddr), hop.From)
	assert.Equal(t, cardano.FormatAddress(destAddr), hop.To)
	assert.Equal(t, "2023-11-14T22:23:20Z", hop.Timestamp)
}

func TestTrace_SecondHopADATransfer(t *testing.T) {
	stub := blockfrost.NewStubClient()
	seedSnek(stub)
	stub.AddAddressTransactions(receivingAddr, []blockfrost.AddressTransaction{{TxHash: "next1", BlockHeight: 101}})
	stub.AddTransaction(
		blockfrost.Transaction{Hash: "next1", BlockHeight: 101},
		blockfrost.TransactionUTXOs{
			Outputs: []blockfrost.UTXO{{Address: destAddr, Amount: []blockfrost.Amount{lovelace(1500000)}}},
		},
	)

	res, err := NewService(stub, DefaultConfig(), nil).Trace(context.Background(), "SNEK")
	require.NoError(t, err)
	require.Len(t, res.AdaFlow, 2)
	assert.Equal(t, ActionADATransfer, res.AdaFlow[1].Action)
	assert.Equal(t, "1.50 ADA", res.AdaFlow[1].Amount)
}

func TestTrace_SecondHopFailureIsSwallowed(t *testing.T) {
	stub := blockfrost.NewStubClient()
	seedSnek(stub)
	stub.FailEndpoint("address_txs", apperr.Upstream(http.StatusServiceUnavailable, "Service Unavailable", nil))

	res, err := NewService(stub, DefaultConfig(), nil).Trace(context.Background(), "SNEK")
	require.NoError(t, err)
	assert.Len(t, res.AdaFlow, 1)
}

func TestTrace_RequiredStepFailureSurfaces(t *testing.T) {
	stub := blockfrost.NewStubClient()
	seedSnek(stub)
	stub.FailEndpoint("tx_utxos", apperr.Upstream(http.StatusServiceUnavailable, "Service Unavailable", nil))

	_, err := NewService(stub, DefaultConfig(), nil).Trace(context.Background(), "SNEK")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestTrace_EmptyInput(t *testing.T) {
	_, err := NewService(blockfrost.NewStubClient(), DefaultConfig(), nil).Trace(context.Background(), "   ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestTrace_MintNotFound(t *testing.T) {
	stub := blockfrost.NewStubClient()
	stub.AddAsset(blockfrost.Asset{Asset: snekID, PolicyID: snekID[:56], AssetName: snekID[56:]})
	stub.AddHistory(snekID, []blockfrost.AssetHistoryEvent{{TxHash: "burn", Action: "burned"}})

	_, err := NewService(stub, DefaultConfig(), nil).Trace(context.Background(), "SNEK")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, e.Kind)
	assert.Equal(t, "Mint transaction not found", e.Message)
}

func TestTrace_NoInputs(t *testing.T) {
	stub := blockfrost.NewStubClient()
	stub.AddAsset(blockfrost.Asset{Asset: snekID, PolicyID: snekID[:56], AssetName: snekID[56:]})
	stub.AddHistory(snekID, []blockfrost.AssetHistoryEvent{{TxHash: "mint1", Action: blockfrost.ActionMinted}})
	stub.AddTransaction(blockfrost.Transaction{Hash: "mint1"}, blockfrost.TransactionUTXOs{})

	_, err := NewService(stub, DefaultConfig(), nil).Trace(context.Background(), "SNEK")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "No inputs found in mint transaction", e.Message)
}

func TestResolver_KnownTokenFirst(t *testing.T) {
	stub := blockfrost.NewStubClient()
	stub.AddAsset(blockfrost.Asset{Asset: hoskyID, PolicyID: hoskyID[:56], AssetName: hoskyID[56:]})

	ref, _, err := NewResolver(stub, nil).Resolve(context.Background(), "hOsKy")
	require.NoError(t, err)
	assert.Equal(t, hoskyID, ref.AssetID)
	assert.Equal(t, "HOSKY", ref.Name())
	assert.Equal(t, []string{hoskyID}, stub.AssetLookups())
}

func TestResolver_DirectAssetID(t *testing.T) {
	stub := blockfrost.NewStubClient()
	stub.AddAsset(blockfrost.Asset{Asset: snekID, PolicyID: snekID[:56], AssetName: snekID[56:]})

	ref, _, err := NewResolver(stub, nil).Resolve(context.Background(), snekID)
	require.NoError(t, err)
	assert.Equal(t, snekID, ref.AssetID)
	assert.Equal(t, []string{snekID}, stub.AssetLookups())
}

func TestResolver_PolicyID(t *testing.T) {
	policy := snekID[:56]
	stub := blockfrost.NewStubClient()
	stub.AddAsset(blockfrost.Asset{PolicyID: policy, AssetName: "4142"})

	ref, _, err := NewResolver(stub, nil).Resolve(context.Background(), policy)
	require.NoError(t, err)
	assert.Equal(t, policy+"4142", ref.AssetID)
	assert.Equal(t, policy, ref.PolicyID)
	// Direct lookup of the bare policy misses first.
	assert.Equal(t, []string{policy, policy + "4142"}, stub.AssetLookups())
}

func TestResolver_NotFound(t *testing.T) {
	stub := blockfrost.NewStubClient()

	_, _, err := NewResolver(stub, nil).Resolve(context.Background(), "NOPE")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, e.Kind)
	assert.Equal(t, `Token "NOPE" not found`, e.Message)
	assert.Equal(t, "Try using: HOSKY, SNEK, BOOK, MIN, or full asset ID / policy ID", e.Suggestion)
	assert.Empty(t, stub.AssetLookups())
}

func TestResolver_KnownTokenMissFallsThrough(t *testing.T) {
	stub := blockfrost.NewStubClient()
	stub.FailEndpoint("asset", apperr.Upstream(http.StatusInternalServerError, "Internal Server Error", nil))

	_, _, err := NewResolver(stub, nil).Resolve(context.Background(), "HOSKY")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, 1, stub.Calls("asset"))
}

func TestResolver_ExtraKnownTokens(t *testing.T) {
	r := NewResolver(blockfrost.NewStubClient(), []KnownToken{{Symbol: "wmt", AssetID: "1d7f33bd23d85e1a25d87d86fac4f199c3197a2f7afeb662a0f34e1e776f726c646d6f62696c65746f6b656e"}})
	assert.Equal(t, "Try using: HOSKY, SNEK, BOOK, MIN, WMT, or full asset ID / policy ID", r.Suggestion())
}

func TestSelectFundingInput_FirstSeenTieBreak(t *testing.T) {
	inputs := []blockfrost.UTXO{
		{Address: "A", Amount: []blockfrost.Amount{lovelace(100)}},
		{Address: "B", Amount: []blockfrost.Amount{lovelace(100)}},
		{Address: "C", Amount: []blockfrost.Amount{lovelace(50)}},
	}
	in, ok := SelectFundingInput(inputs)
	require.True(t, ok)
	assert.Equal(t, "A", in.Address)

	_, ok = SelectFundingInput(nil)
	assert.False(t, ok)
}

func TestSelectFundingInput_LargestWins(t *testing.T) {
	inputs := []blockfrost.UTXO{
		{Address: "A", Amount: []blockfrost.Amount{units(snekID, 5)}},
		{Address: "B", Amount: []blockfrost.Amount{lovelace(10)}},
	}
	in, _ := SelectFundingInput(inputs)
	assert.Equal(t, "B", in.Address)
}

func TestSelectReceivingWallet(t *testing.T) {
	ref, err := cardano.ParseAssetID(snekID)
	require.NoError(t, err)

	outputs := []blockfrost.UTXO{
		{Address: "X", Amount: []blockfrost.Amount{lovelace(1)}},
		{Address: "Y", Amount: []blockfrost.Amount{lovelace(1), units(snekID, 1)}},
	}
	assert.Equal(t, "Y", SelectReceivingWallet(outputs, ref))

	// Policy prefix match.
	outputs = []blockfrost.UTXO{{Address: "Z", Amount: []blockfrost.Amount{units(snekID[:56]+"00", 1)}}}
	assert.Equal(t, "Z", SelectReceivingWallet(outputs, ref))

	assert.Equal(t, cardano.UnknownAddress, SelectReceivingWallet(outputs[:0], ref))
}
