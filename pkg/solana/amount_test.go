package solana

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in       string
		decimals int
		want     uint64
	}{
		{"0.001", 9, 1_000_000},
		{"1", 9, LamportsPerSOL},
		{"1.", 9, LamportsPerSOL},
		{".5", 6, 500_000},
		{"0.000000001", 9, 1},
		{"0", 9, 0},
		{" 2.5 ", 6, 2_500_000},
		{"42", 0, 42},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", ".", "-1", "+1", "abc", "1.2.3", "0.0000000001", "1e9", "99999999999999999999"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAmount(in, 9)
			assert.Error(t, err)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.001", FormatAmount(1_000_000, 9))
	assert.Equal(t, "1", FormatAmount(LamportsPerSOL, 9))
	assert.Equal(t, "0.000000001", FormatAmount(1, 9))
	assert.Equal(t, "0", FormatAmount(0, 9))
	assert.Equal(t, "12.5", FormatAmount(12_500_000, 6))
	assert.Equal(t, "7", FormatAmount(7, 0))
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, uint64(3), SaturatingAdd(1, 2))
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAdd(math.MaxUint64-1, 5))
}

func TestValidateKeys(t *testing.T) {
	assert.NoError(t, ValidatePublicKey(testPayer))
	assert.NoError(t, ValidatePublicKey(SystemProgramID))
	assert.NoError(t, ValidateSignature(testSig))

	assert.Error(t, ValidatePublicKey(""))
	assert.Error(t, ValidatePublicKey(testSig))
	assert.Error(t, ValidateSignature(testPayer))
	assert.Error(t, ValidatePublicKey("0OIl"))
}
