package session

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoll_Basic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	res, err := Roll(rng, "2d6+3")
	require.NoError(t, err)
	assert.Len(t, res.Rolls, 2)
	assert.Equal(t, 3, res.Modifier)
	sum := res.Modifier
	for _, v := range res.Rolls {
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, 6)
		sum += v
	}
	assert.Equal(t, sum, res.Total)
}

func TestRoll_NegativeModifier(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	res, err := Roll(rng, "1d20-2")
	require.NoError(t, err)
	assert.Equal(t, -2, res.Modifier)
	assert.Equal(t, res.Rolls[0]-2, res.Total)
}

func TestRoll_Deterministic(t *testing.T) {
	a, err := Roll(rand.New(rand.NewSource(42)), "4d8")
	require.NoError(t, err)
	b, err := Roll(rand.New(rand.NewSource(42)), "4d8")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRoll_Invalid(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, spec := range []string{"", "d6", "2d", "2x6", "2d6+", "1d1", "0d6", "101d6", "1d1001", "-1d6"} {
		_, err := Roll(rng, spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestRollResult_String(t *testing.T) {
	res := RollResult{Spec: "2d6+1", Rolls: []int{3, 5}, Modifier: 1, Total: 9}
	assert.Equal(t, "2d6+1: [3 5] +1 = 9", res.String())

	res = RollResult{Spec: "1d20", Rolls: []int{17}, Total: 17}
	assert.Equal(t, "1d20: [17] = 17", res.String())
}
