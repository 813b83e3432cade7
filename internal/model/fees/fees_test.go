package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsedData(t *testing.T) {
	data, err := RecommendedFees{EconomyFee: 2, HourFee: 3, HalfHourFee: 4, FastestFee: 5, MinimumFee: 1}.ParsedData()
	require.NoError(t, err)

	want := "{\n  \"economyFee\": 2,\n  \"hourFee\": 3,\n  \"halfHourFee\": 4,\n  \"fastestFee\": 5,\n  \"minimumFee\": 1\n}"
	assert.Equal(t, want, data)
}

func TestIsZero(t *testing.T) {
	assert.True(t, RecommendedFees{}.IsZero())
	assert.False(t, RecommendedFees{MinimumFee: 1}.IsZero())
}
