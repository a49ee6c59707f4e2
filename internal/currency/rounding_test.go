package currency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRound(t *testing.T) {
	rnd := Rounding{Places: 2}
	require.InDelta(t, 10.56, rnd.Round(10.555), 0.0001)
	require.InDelta(t, -10.56, rnd.Round(-10.555), 0.0001)
	require.InDelta(t, 10.55, rnd.Round(10.554), 0.0001)

	whole := Rounding{Places: 0}
	require.InDelta(t, 11, whole.Round(10.5), 0.0001)
	require.InDelta(t, -11, whole.Round(-10.5), 0.0001)
}

func TestIsZero(t *testing.T) {
	rnd := Rounding{Places: 2}
	require.True(t, rnd.IsZero(0))
	require.True(t, rnd.IsZero(0.004))
	require.True(t, rnd.IsZero(-0.004))
	require.False(t, rnd.IsZero(0.005))
	require.False(t, rnd.IsZero(-0.01))

	whole := Rounding{Places: 0}
	require.True(t, whole.IsZero(0.4))
	require.False(t, whole.IsZero(0.6))
}

func TestCmp(t *testing.T) {
	rnd := Rounding{Places: 2}
	require.Equal(t, 0, rnd.Cmp(10.001, 10.004))
	require.Equal(t, -1, rnd.Cmp(10.00, 10.01))
	require.Equal(t, 1, rnd.Cmp(10.01, 10.00))
}

func TestByCode(t *testing.T) {
	require.Equal(t, int32(2), ByCode("USD").Places)
	require.Equal(t, int32(2), ByCode("EUR").Places)
	require.Equal(t, int32(0), ByCode("IDR").Places)
	require.Equal(t, int32(0), ByCode("JPY").Places)
	require.Equal(t, int32(2), ByCode("XYZ").Places)
}
