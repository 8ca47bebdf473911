package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListing_RevenueFollowsPriceAndSold(t *testing.T) {
	l := NewListing("https://katalog.test/p/1", 2)
	assert.Equal(t, UnknownSeller, l.SellerName)

	l.SetPrice("Rp 25.000", 25000)
	assert.Zero(t, l.Revenue)

	l.SetSold("Terjual 1,2rb", 1200)
	assert.Equal(t, int64(30_000_000), l.Revenue)

	l.SetPrice("Rp 0", 0)
	assert.Zero(t, l.Revenue)
}

func TestListing_RevenueSaturates(t *testing.T) {
	l := NewListing("https://katalog.test/p/2", 1)
	l.SetPrice("Rp 900.000.000.000.000.000", 900_000_000_000_000_000)
	l.SetSold("Terjual 100", 100)

	assert.Equal(t, int64(math.MaxInt64), l.Revenue)
}

func TestMulAmount(t *testing.T) {
	tests := []struct {
		name     string
		a, b     int64
		expected int64
	}{
		{"Plain", 25000, 40, 1_000_000},
		{"Zero", 0, 99, 0},
		{"Negative treated as zero", -5, 10, 0},
		{"Exact limit", math.MaxInt64, 1, math.MaxInt64},
		{"Overflow", math.MaxInt64 / 2, 3, math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MulAmount(tt.a, tt.b))
		})
	}
}

func TestAddAmount(t *testing.T) {
	assert.Equal(t, int64(30), AddAmount(10, 20))
	assert.Equal(t, int64(10), AddAmount(10, 0))
	assert.Equal(t, int64(math.MaxInt64), AddAmount(math.MaxInt64-1, 2))
	assert.Equal(t, int64(math.MaxInt64), AddAmount(math.MaxInt64, math.MaxInt64))
}

func TestRawListing_IsValid(t *testing.T) {
	assert.True(t, RawListing{DisplayText: "Rp 5.000", Link: "/p/1"}.IsValid())
	assert.False(t, RawListing{DisplayText: "Rp 5.000"}.IsValid())
	assert.False(t, RawListing{Link: "/p/1"}.IsValid())
}
