package blockfrost

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adacracker/MintTrail/internal/apperr"
)

func TestStub_UnknownKeysAre404(t *testing.T) {
	stub := NewStubClient()
	ctx := context.Background()

	_, err := stub.GetAsset(ctx, "nope")
	assert.True(t, apperr.IsNotFound(err))
	_, err = stub.GetTransactionUTXOs(ctx, "nope")
	assert.True(t, apperr.IsNotFound(err))
	_, err = stub.GetAddressTransactions(ctx, "addr", Page{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestStub_AddAssetListsUnderPolicy(t *testing.T) {
	stub := NewStubClient()
	stub.AddAsset(Asset{PolicyID: "pol", AssetName: "01", Quantity: decimal.NewFromInt(5)})
	stub.AddAsset(Asset{PolicyID: "pol", AssetName: "01", Quantity: decimal.NewFromInt(5)})
	stub.AddAsset(Asset{PolicyID: "pol", AssetName: "02"})

	assets, err := stub.GetPolicyAssets(context.Background(), "pol", Page{})
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "pol01", assets[0].Asset)
}

func TestStub_Pagination(t *testing.T) {
	stub := NewStubClient()
	stub.AddAddressTransactions("addr", []AddressTransaction{
		{TxHash: "a", BlockHeight: 1},
		{TxHash: "b", BlockHeight: 2},
		{TxHash: "c", BlockHeight: 3},
	})

	asc, err := stub.GetAddressTransactions(context.Background(), "addr", Page{Count: 2, Order: OrderAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, hashes(asc))

	desc, err := stub.GetAddressTransactions(context.Background(), "addr", Page{Count: 2, Order: OrderDesc})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, hashes(desc))
}

func TestStub_FailureInjection(t *testing.T) {
	stub := NewStubClient()
	stub.AddAsset(Asset{PolicyID: "pol", AssetName: "01"})

	stub.SetFailNext()
	_, err := stub.GetAsset(context.Background(), "pol01")
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	_, err = stub.GetAsset(context.Background(), "pol01")
	assert.NoError(t, err)

	boom := errors.New("boom")
	stub.FailEndpoint("asset", boom)
	_, err = stub.GetAsset(context.Background(), "pol01")
	assert.ErrorIs(t, err, boom)

	stub.FailEndpoint("asset", nil)
	_, err = stub.GetAsset(context.Background(), "pol01")
	assert.NoError(t, err)

	assert.Equal(t, 4, stub.Calls("asset"))
	assert.Equal(t, []string{"pol01", "pol01", "pol01", "pol01"}, stub.AssetLookups())
}

func hashes(txs []AddressTransaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.TxHash
	}
	return out
}
