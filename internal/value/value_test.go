package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, math.MaxInt32, -math.MaxInt32, 1 << 40, -(1 << 40)} {
		v := FromInt(n)
		require.True(t, IsFixnum(v))
		require.Equal(t, n, AsInt(v))
	}
}

func TestFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1.5, -1.5, 3.14159, 1e300, -1e-300} {
		v := FromFloat(f)
		require.True(t, IsFloat(v))
		require.Equal(t, f, AsFloat(v))
	}
}

func TestFloatNaN(t *testing.T) {
	v := FromFloat(math.NaN())
	require.True(t, IsFloat(v))
	got := AsFloat(v)
	require.True(t, math.IsNaN(got))
	require.False(t, got == math.NaN()) //nolint:all // exercising ordered-comparison semantics
}

func TestTruthiness(t *testing.T) {
	require.False(t, IsTruthy(NilValue))
	require.False(t, IsTruthy(FalseValue))
	require.True(t, IsTruthy(TrueValue))
	require.True(t, IsTruthy(FromInt(0)))
	require.True(t, IsTruthy(FromFloat(0)))
}

func TestAlwaysFrozen(t *testing.T) {
	require.True(t, IsAlwaysFrozen(ClassInteger))
	require.True(t, IsAlwaysFrozen(ClassNilClass))
	require.False(t, IsAlwaysFrozen(ClassID(999)))
}
