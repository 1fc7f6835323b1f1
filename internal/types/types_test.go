package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAddress(t *testing.T) {
	tests := []struct {
		address string
		want    bool
	}{
		{"0x5872286f932E5b015Ef74B2f9c8723022D1B5e1B", true},
		{"0x5872286f932e5b015ef74b2f9c8723022d1b5e1b", true},
		{"5872286f932E5b015Ef74B2f9c8723022D1B5e1B", false},
		{"0x5872286f932E5b015Ef74B2f9c8723022D1B5e1", false},
		{"0x5872286f932E5b015Ef74B2f9c8723022D1B5e1Bff", false},
		{"0xZZ72286f932E5b015Ef74B2f9c8723022D1B5e1B", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAddress(tt.address), tt.address)
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0x5872286f932e5b015ef74b2f9c8723022d1b5e1b",
		NormalizeAddress("  0x5872286f932E5b015Ef74B2f9c8723022D1B5e1B "))
}

func TestComputeAnimated(t *testing.T) {
	assert.False(t, ComputeAnimated(nil))
	assert.False(t, ComputeAnimated([]Attribute{
		{TraitType: "HYPE TYPE", Value: "CALM AF (STILL)"},
	}))
	assert.True(t, ComputeAnimated([]Attribute{
		{TraitType: "BACKGROUND", Value: "BLUE"},
		{TraitType: "HYPE TYPE", Value: "HYPED AF (ANIMATED)"},
	}))
	// The marker value on a different trait does not count.
	assert.False(t, ComputeAnimated([]Attribute{
		{TraitType: "MOOD", Value: "HYPED AF (ANIMATED)"},
	}))
}

func TestDefaultSettings(t *testing.T) {
	assert.Equal(t, UserSettings{NewMints: true, Airdrops: true, Updates: false}, DefaultSettings())
}
