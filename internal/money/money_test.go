package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"50", 50_000_000, false},
		{"50.00", 50_000_000, false},
		{"0.003", 3_000, false},
		{"0.000001", 1, false},
		{"", 0, false},
		{"10.123456", 10_123_456, false},
		{"-1.50", -1_500_000, false},
		{".5", 500_000, false},
		{"0.0000001", 0, true}, // too many decimals
		{"abc", 0, true},
		{"1.2.3", 0, true},
		{".", 0, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "Parse(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "Parse(%q)", tt.in)
		assert.Equal(t, tt.want, got, "Parse(%q)", tt.in)
	}
}

func TestParsePositive(t *testing.T) {
	_, err := ParsePositive("0")
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ParsePositive("-5")
	assert.ErrorIs(t, err, ErrNegativeAmount)

	units, err := ParsePositive("0.003")
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), units)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "50.000000", Format(50_000_000))
	assert.Equal(t, "0.003000", Format(3_000))
	assert.Equal(t, "0.000000", Format(0))
	assert.Equal(t, "-1.500000", Format(-1_500_000))
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, units := range []int64{0, 1, 999_999, 1_000_000, 50_000_000, -42} {
		got, err := Parse(Format(units))
		require.NoError(t, err)
		assert.Equal(t, units, got)
	}
}

func TestCmp(t *testing.T) {
	assert.Equal(t, -1, Cmp("10", "35.00"))
	assert.Equal(t, 1, Cmp("40", "35"))
	assert.Equal(t, 0, Cmp("35.00", "35"))
}

func TestIsPositive(t *testing.T) {
	assert.True(t, IsPositive("0.01"))
	assert.False(t, IsPositive("0"))
	assert.False(t, IsPositive("-3"))
	assert.False(t, IsPositive("nope"))
}
