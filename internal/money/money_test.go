package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFullAmount(t *testing.T) {
	n := DefaultNormalizer

	tests := []struct {
		name   string
		stored float64
		expect float64
	}{
		{"small value scaled to millions", 50, 50_000_000},
		{"threshold boundary scaled", 100, 100_000_000},
		{"just above threshold untouched", 100.5, 100.5},
		{"large value untouched", 2_500_000, 2_500_000},
		{"zero untouched", 0, 0},
		{"negative untouched", -5, -5},
		{"fractional storage value", 1.5, 1_500_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, n.ToFullAmount(tt.stored))
		})
	}
}

func TestToStorageFormat(t *testing.T) {
	n := DefaultNormalizer

	tests := []struct {
		name   string
		full   float64
		expect float64
	}{
		{"million compacted", 1_000_000, 1},
		{"fifty million compacted", 50_000_000, 50},
		{"below scale untouched", 999_999, 999_999},
		{"zero untouched", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, n.ToStorageFormat(tt.full))
		})
	}
}

func TestNormalizerRoundTrips(t *testing.T) {
	n := DefaultNormalizer

	// storage -> full -> storage holds on [1, 100]: the widened value is
	// at least the scale, so compaction recovers it
	for _, x := range []float64{1, 42, 99.99, 100} {
		assert.Equal(t, x, n.ToStorageFormat(n.ToFullAmount(x)), "stored %v", x)
	}

	// full -> storage -> full holds on [1e6, 1e8]: the compacted value is
	// at most the threshold, so widening recovers it
	for _, x := range []float64{1_000_000, 12_345_678, 100_000_000} {
		assert.Equal(t, x, n.ToFullAmount(n.ToStorageFormat(x)), "full %v", x)
	}

	// outside those ranges the heuristic is lossy. A stored 0.5 widens to
	// 500,000, which sits in the dead zone and compacts to itself:
	assert.Equal(t, 500_000.0, n.ToStorageFormat(n.ToFullAmount(0.5)))
	// and a full 900,000,000 compacts to 900, which is in the dead zone
	// and never re-widens:
	assert.Equal(t, 900.0, n.ToStorageFormat(900_000_000))
	assert.Equal(t, 900.0, n.ToFullAmount(n.ToStorageFormat(900_000_000)))
}

func TestFormatForInput(t *testing.T) {
	v := func(f float64) *float64 { return &f }

	tests := []struct {
		name   string
		value  *float64
		expect string
	}{
		{"nil renders empty", nil, ""},
		{"nan renders empty", v(math.NaN()), ""},
		{"plain integer", v(1500), "1,500"},
		{"millions", v(2_500_000), "2,500,000"},
		{"decimals preserved", v(1234.56), "1,234.56"},
		{"small value ungrouped", v(999), "999"},
		{"zero", v(0), "0"},
		{"negative", v(-1234567), "-1,234,567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, FormatForInput(tt.value))
		})
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect float64
	}{
		{"grouped amount", "1,234,567", 1234567},
		{"plain amount", "42.5", 42.5},
		{"whitespace tolerated", " 1,000 ", 1000},
		{"empty degrades to zero", "", 0},
		{"garbage degrades to zero", "abc", 0},
		{"partial number degrades to zero", "12a", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ParseInput(tt.input))
		})
	}
}

func TestParseInputRoundTrip(t *testing.T) {
	for _, x := range []float64{0, 1, 999, 1500, 1234.56, 2_500_000, 987_654_321.125} {
		assert.Equal(t, x, ParseInput(FormatForInput(&x)), "value %v", x)
	}
}

func TestFormatCurrency(t *testing.T) {
	v := func(f float64) *float64 { return &f }

	assert.Equal(t, "1,500,000 SAR", FormatCurrency(v(1_500_000), "SAR", true))
	assert.Equal(t, "1,500,000", FormatCurrency(v(1_500_000), "SAR", false))
	assert.Equal(t, "0 SAR", FormatCurrency(nil, "SAR", true))
	assert.Equal(t, "0", FormatCurrency(nil, "", true))
	assert.Equal(t, "0 SAR", FormatCurrency(v(math.NaN()), "SAR", true))
}
