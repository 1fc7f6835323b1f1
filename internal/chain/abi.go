package chain

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Function identifies one of the contract functions this service calls.
// The set is closed: no dynamic signature lookup, no silent fallback on
// unknown names.
type Function int

const (
	FnTotalSupply Function = iota
	FnMaxSupply
	FnCost
	FnWalletOfOwner
	FnBalanceOf
	FnAllowance
	FnPurchaseTickets
)

// Unit describes the fixed-point conversion applied to a decoded value.
type Unit int

const (
	// UnitRaw leaves the value unconverted.
	UnitRaw Unit = iota
	// UnitWei divides by 10^18 (ETH-denominated values).
	UnitWei
	// UnitUSDC divides by 10^6 (USDC-denominated values).
	UnitUSDC
)

// ToFloat converts a raw on-chain integer into the unit's display value.
func (u Unit) ToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	switch u {
	case UnitWei:
		f.Quo(f, big.NewFloat(1e18))
	case UnitUSDC:
		f.Quo(f, big.NewFloat(1e6))
	}
	out, _ := f.Float64()
	return out
}

// funcSpec binds a canonical signature to its 4-byte selector, expected
// argument count, and the unit of its decoded result.
type funcSpec struct {
	signature string
	selector  string // 8 hex chars, no 0x prefix
	argWords  int
	unit      Unit
}

var funcTable = map[Function]funcSpec{
	FnTotalSupply:     {signature: "totalSupply()", selector: "18160ddd", argWords: 0, unit: UnitRaw},
	FnMaxSupply:       {signature: "maxSupply()", selector: "d5abeb01", argWords: 0, unit: UnitRaw},
	FnCost:            {signature: "cost()", selector: "13faede6", argWords: 0, unit: UnitWei},
	FnWalletOfOwner:   {signature: "walletOfOwner(address)", selector: "438b6300", argWords: 1, unit: UnitRaw},
	FnBalanceOf:       {signature: "balanceOf(address)", selector: "70a08231", argWords: 1, unit: UnitRaw},
	FnAllowance:       {signature: "allowance(address,address)", selector: "dd62ed3e", argWords: 2, unit: UnitUSDC},
	FnPurchaseTickets: {signature: "purchaseTickets(address,uint256,address)", selector: "", argWords: 3, unit: UnitUSDC},
}

func init() {
	// Selectors without a pinned constant are derived from the signature.
	for fn, spec := range funcTable {
		if spec.selector == "" {
			spec.selector = hex.EncodeToString(crypto.Keccak256([]byte(spec.signature))[:4])
			funcTable[fn] = spec
		}
	}
}

// ValidateSelectors recomputes every pinned selector from its canonical
// signature and fails on any mismatch. Called once at startup so a typo in
// the table is a boot error, not a silent wrong call.
func ValidateSelectors() error {
	for _, spec := range funcTable {
		want := hex.EncodeToString(crypto.Keccak256([]byte(spec.signature))[:4])
		if spec.selector != want {
			return fmt.Errorf("selector mismatch for %s: table has %s, keccak gives %s",
				spec.signature, spec.selector, want)
		}
	}
	return nil
}

// Signature returns the canonical signature for a function.
func (f Function) Signature() string {
	return funcTable[f].signature
}

// Selector returns the 0x-prefixed 4-byte selector for a function.
func (f Function) Selector() string {
	return "0x" + funcTable[f].selector
}

// ResultUnit returns the fixed-point unit of the function's return value.
func (f Function) ResultUnit() Unit {
	return funcTable[f].unit
}

const wordHexLen = 64

// PadAddress encodes an address as a left-padded 32-byte ABI word.
func PadAddress(addr common.Address) string {
	return fmt.Sprintf("%064x", new(big.Int).SetBytes(addr.Bytes()))
}

// PadUint encodes a non-negative integer as a left-padded 32-byte ABI word.
func PadUint(v *big.Int) (string, error) {
	if v == nil || v.Sign() < 0 {
		return "", fmt.Errorf("abi: uint word must be non-negative")
	}
	if v.BitLen() > 256 {
		return "", fmt.Errorf("abi: value exceeds 256 bits")
	}
	return fmt.Sprintf("%064x", v), nil
}

// EncodeCall builds the call data for a function from pre-encoded 32-byte
// argument words. Only static argument types are supported.
func EncodeCall(fn Function, words ...string) (string, error) {
	spec, ok := funcTable[fn]
	if !ok {
		return "", fmt.Errorf("abi: unknown function %d", fn)
	}
	if len(words) != spec.argWords {
		return "", fmt.Errorf("abi: %s expects %d argument words, got %d",
			spec.signature, spec.argWords, len(words))
	}
	var b strings.Builder
	b.WriteString("0x")
	b.WriteString(spec.selector)
	for _, w := range words {
		if len(w) != wordHexLen {
			return "", fmt.Errorf("abi: argument word must be %d hex chars, got %d", wordHexLen, len(w))
		}
		b.WriteString(w)
	}
	return b.String(), nil
}

// EncodePurchaseTickets builds purchaseTickets(address,uint256,address)
// call data. valueUSD is converted to USDC's 6-decimal fixed point.
func EncodePurchaseTickets(referrer common.Address, valueUSD float64, recipient common.Address) (string, error) {
	if valueUSD < 0 {
		return "", fmt.Errorf("abi: ticket value must be non-negative")
	}
	raw := new(big.Int).SetUint64(uint64(math.Floor(valueUSD * 1e6)))
	value, err := PadUint(raw)
	if err != nil {
		return "", err
	}
	return EncodeCall(FnPurchaseTickets, PadAddress(referrer), value, PadAddress(recipient))
}

// DecodeUint parses a hex string as a big-endian unsigned integer.
// "0x", "" and null-ish inputs decode to zero.
func DecodeUint(hexStr string) (*big.Int, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(hexStr), "0x")
	if clean == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(clean, 16)
	if !ok {
		return nil, fmt.Errorf("abi: invalid hex %q", hexStr)
	}
	return v, nil
}

// decodeWords splits return data into 32-byte words.
func decodeWords(hexStr string) ([]string, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(hexStr), "0x")
	if clean == "" {
		return nil, nil
	}
	if len(clean)%wordHexLen != 0 {
		return nil, fmt.Errorf("abi: return data length %d is not word-aligned", len(clean))
	}
	words := make([]string, 0, len(clean)/wordHexLen)
	for i := 0; i < len(clean); i += wordHexLen {
		words = append(words, clean[i:i+wordHexLen])
	}
	return words, nil
}

// decodeDynamicArray walks the one dynamic layout this service decodes:
// word 0 holds the offset to the array head, the word at that offset holds
// the length, and the elements follow as 32-byte words.
func decodeDynamicArray(hexStr string) ([]string, error) {
	words, err := decodeWords(hexStr)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, nil
	}
	offset, ok := new(big.Int).SetString(words[0], 16)
	if !ok || !offset.IsInt64() || offset.Int64()%32 != 0 {
		return nil, fmt.Errorf("abi: invalid array offset word %q", words[0])
	}
	lenIdx := int(offset.Int64() / 32)
	if lenIdx >= len(words) {
		return nil, fmt.Errorf("abi: array offset %d beyond return data", offset.Int64())
	}
	length, ok := new(big.Int).SetString(words[lenIdx], 16)
	if !ok || !length.IsInt64() {
		return nil, fmt.Errorf("abi: invalid array length word %q", words[lenIdx])
	}
	n := int(length.Int64())
	if lenIdx+1+n > len(words) {
		return nil, fmt.Errorf("abi: array length %d exceeds return data", n)
	}
	return words[lenIdx+1 : lenIdx+1+n], nil
}

// DecodeUintArray decodes a dynamic uint256[] return value.
func DecodeUintArray(hexStr string) ([]*big.Int, error) {
	words, err := decodeDynamicArray(hexStr)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, 0, len(words))
	for _, w := range words {
		v, ok := new(big.Int).SetString(w, 16)
		if !ok {
			return nil, fmt.Errorf("abi: invalid uint word %q", w)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeAddressArray decodes a dynamic address[] return value; each element
// word is the low 20 bytes of a 32-byte word.
func DecodeAddressArray(hexStr string) ([]common.Address, error) {
	words, err := decodeDynamicArray(hexStr)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(words))
	for _, w := range words {
		raw, err := hex.DecodeString(w)
		if err != nil {
			return nil, fmt.Errorf("abi: invalid address word %q", w)
		}
		out = append(out, common.BytesToAddress(raw))
	}
	return out, nil
}
