package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRound2HalfUp(t *testing.T) {
	require.Equal(t, 33.33, Round2(100.0/3))
	require.Equal(t, 33.34, Round2(33.336))
	require.Equal(t, 33.33, Round2(33.332))
	require.Equal(t, 100.0, Round2(99.999))
	require.Equal(t, 0.01, Round2(0.006))
}

func TestRound4(t *testing.T) {
	require.Equal(t, 0.9091, Round4(1.0/1.1))
	require.Equal(t, 0.1235, Round4(0.123456))
}

func TestAmountsEqual(t *testing.T) {
	require.True(t, AmountsEqual(100.00, 100.01))
	require.True(t, AmountsEqual(100.01, 100.00))
	require.False(t, AmountsEqual(100.00, 100.02))
}
