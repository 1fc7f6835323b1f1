package chain

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSelectors(t *testing.T) {
	require.NoError(t, ValidateSelectors())
}

func TestKnownSelectors(t *testing.T) {
	tests := []struct {
		fn   Function
		want string
	}{
		{FnTotalSupply, "0x18160ddd"},
		{FnMaxSupply, "0xd5abeb01"},
		{FnCost, "0x13faede6"},
		{FnWalletOfOwner, "0x438b6300"},
		{FnBalanceOf, "0x70a08231"},
		{FnAllowance, "0xdd62ed3e"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.fn.Selector(), tt.fn.Signature())
	}
}

func TestDecodeUint(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0x", 0},
		{"", 0},
		{"0x1a", 26},
		{"0x0", 0},
		{"0x0000000000000000000000000000000000000000000000000000000000000005", 5},
	}
	for _, tt := range tests {
		got, err := DecodeUint(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.Int64(), tt.in)
	}

	_, err := DecodeUint("0xzz")
	assert.Error(t, err)
}

func TestEncodeCall(t *testing.T) {
	owner := common.HexToAddress("0x5872286f932E5b015Ef74B2f9c8723022D1B5e1B")

	data, err := EncodeCall(FnWalletOfOwner, PadAddress(owner))
	require.NoError(t, err)
	assert.Equal(t,
		"0x438b6300"+
			"0000000000000000000000005872286f932e5b015ef74b2f9c8723022d1b5e1b",
		data)

	// No-arg calls are just the selector.
	data, err = EncodeCall(FnTotalSupply)
	require.NoError(t, err)
	assert.Equal(t, "0x18160ddd", data)

	// Arity is enforced.
	_, err = EncodeCall(FnAllowance, PadAddress(owner))
	assert.Error(t, err)
}

func TestEncodePurchaseTickets(t *testing.T) {
	referrer := common.HexToAddress("0x5872286f932E5b015Ef74B2f9c8723022D1B5e1B")
	recipient := common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")

	data, err := EncodePurchaseTickets(referrer, 1.0, recipient)
	require.NoError(t, err)

	// selector + 3 words
	require.Len(t, data, 2+8+3*64)
	// 1.0 USD -> 1_000_000 raw USDC units
	valueWord := data[2+8+64 : 2+8+128]
	v, ok := new(big.Int).SetString(valueWord, 16)
	require.True(t, ok)
	assert.Equal(t, int64(1_000_000), v.Int64())

	_, err = EncodePurchaseTickets(referrer, -1, recipient)
	assert.Error(t, err)
}

func TestDecodeUintArray(t *testing.T) {
	// offset 0x20, length 3, elements 7, 8, 11305
	data := "0x" +
		fmt.Sprintf("%064x", 0x20) +
		fmt.Sprintf("%064x", 3) +
		fmt.Sprintf("%064x", 7) +
		fmt.Sprintf("%064x", 8) +
		fmt.Sprintf("%064x", 11305)

	ids, err := DecodeUintArray(data)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, int64(7), ids[0].Int64())
	assert.Equal(t, int64(8), ids[1].Int64())
	assert.Equal(t, int64(11305), ids[2].Int64())
}

func TestDecodeUintArrayEmpty(t *testing.T) {
	data := "0x" + fmt.Sprintf("%064x", 0x20) + fmt.Sprintf("%064x", 0)
	ids, err := DecodeUintArray(data)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// "0x" decodes to an empty array, consistent with DecodeUint.
	ids, err = DecodeUintArray("0x")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDecodeUintArrayTruncated(t *testing.T) {
	// length 2 but only one element word present
	data := "0x" +
		fmt.Sprintf("%064x", 0x20) +
		fmt.Sprintf("%064x", 2) +
		fmt.Sprintf("%064x", 7)
	_, err := DecodeUintArray(data)
	assert.Error(t, err)
}

func TestDecodeAddressArray(t *testing.T) {
	a := common.HexToAddress("0x5872286f932E5b015Ef74B2f9c8723022D1B5e1B")
	b := common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")

	data := "0x" +
		fmt.Sprintf("%064x", 0x20) +
		fmt.Sprintf("%064x", 2) +
		PadAddress(a) +
		PadAddress(b)

	addrs, err := DecodeAddressArray(data)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, a, addrs[0])
	assert.Equal(t, b, addrs[1])
}

func TestUnitToFloat(t *testing.T) {
	wei := new(big.Int).SetUint64(2_000_000_000_000_000) // 0.002 ETH
	assert.InDelta(t, 0.002, UnitWei.ToFloat(wei), 1e-12)

	usdc := big.NewInt(1_500_000)
	assert.InDelta(t, 1.5, UnitUSDC.ToFloat(usdc), 1e-12)

	assert.Equal(t, float64(42), UnitRaw.ToFloat(big.NewInt(42)))
	assert.Equal(t, float64(0), UnitWei.ToFloat(nil))
}

func TestUintWordRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("pad then decode returns the value", prop.ForAll(
		func(v uint64) bool {
			word, err := PadUint(new(big.Int).SetUint64(v))
			if err != nil {
				return false
			}
			got, err := DecodeUint("0x" + word)
			if err != nil {
				return false
			}
			return got.Uint64() == v
		},
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func TestAddressArrayRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("encoded address array decodes to the same addresses", prop.ForAll(
		func(raw [][20]byte) bool {
			data := "0x" + fmt.Sprintf("%064x", 0x20) + fmt.Sprintf("%064x", len(raw))
			addrs := make([]common.Address, 0, len(raw))
			for _, r := range raw {
				addr := common.BytesToAddress(r[:])
				addrs = append(addrs, addr)
				data += PadAddress(addr)
			}

			got, err := DecodeAddressArray(data)
			if err != nil {
				return false
			}
			if len(got) != len(addrs) {
				return false
			}
			for i := range addrs {
				if got[i] != addrs[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.ArrayOfN(20, gen.UInt8()).Map(func(bs [20]uint8) [20]byte {
			return [20]byte(bs)
		})),
	))

	properties.TestingRun(t)
}
