package cardano

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snekPolicy = "279c909f348e533da5808898f87f9a14bb2c3dfbbacccd631d927a3f"

func TestParseAssetID(t *testing.T) {
	ref, err := ParseAssetID(snekPolicy + "534e454b")
	require.NoError(t, err)
	assert.Equal(t, snekPolicy, ref.PolicyID)
	assert.Equal(t, "534e454b", ref.AssetNameHex)
	assert.Equal(t, snekPolicy+"534e454b", ref.AssetID)
	assert.Equal(t, "SNEK", ref.Name())

	_, err = ParseAssetID("abc")
	assert.Error(t, err)
	_, err = ParseAssetID(strings.Repeat("z", 60))
	assert.Error(t, err)
}

func TestMatchesUnit(t *testing.T) {
	ref := NewAssetRef(snekPolicy, "534e454b")
	assert.True(t, ref.MatchesUnit(ref.AssetID))
	assert.True(t, ref.MatchesUnit(snekPolicy+"00"))
	assert.False(t, ref.MatchesUnit(LovelaceUnit))
	assert.False(t, ref.MatchesUnit(strings.Repeat("a", 56)))
}

func TestIsPolicyID(t *testing.T) {
	assert.True(t, IsPolicyID(snekPolicy))
	assert.False(t, IsPolicyID(snekPolicy[:55]))
	assert.False(t, IsPolicyID(strings.Repeat("g", 56)))
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "short", FormatAddress("short"))
	assert.Equal(t, "addr1qxy...9z8w7v6u", FormatAddress("addr1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh9z8w7v6u"))
	assert.Equal(t, "", FormatAddress(""))
}

func TestFormatLovelace(t *testing.T) {
	assert.Equal(t, "2.00 ADA", FormatLovelace(decimal.NewFromInt(2_000_000)))
	assert.Equal(t, "0.00 ADA", FormatLovelace(decimal.Zero))
	assert.Equal(t, "1234.57 ADA", FormatLovelace(decimal.NewFromInt(1_234_567_890)))
}

func TestHexToASCII(t *testing.T) {
	assert.Equal(t, "HOSKY", HexToASCII("484f534b59"))
	// Non-printable bytes are dropped.
	assert.Equal(t, "Book", HexToASCII("00426f6f6b"))
	// Nothing printable falls back to the hex.
	assert.Equal(t, "0001", HexToASCII("0001"))
}
