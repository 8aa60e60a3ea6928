package snowflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsMonotonic(t *testing.T) {
	gen, err := NewGenerator(1)
	require.NoError(t, err)

	var prev int64
	for i := 0; i < 5000; i++ {
		id, err := gen.Next()
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestParseRoundTrip(t *testing.T) {
	gen, err := NewGenerator(42)
	require.NoError(t, err)

	id, err := gen.Next()
	require.NoError(t, err)

	ts, nodeID, seq := Parse(id)
	assert.Equal(t, 42, nodeID)
	assert.GreaterOrEqual(t, seq, 0)
	assert.False(t, ts.IsZero())
}

func TestNewGeneratorRejectsBadNodeID(t *testing.T) {
	_, err := NewGenerator(-1)
	assert.Error(t, err)

	_, err = NewGenerator(1024)
	assert.Error(t, err)
}

func TestNextRejectsClockRegression(t *testing.T) {
	gen, err := NewGenerator(0)
	require.NoError(t, err)

	now := int64(2000000000000)
	gen.now = func() int64 { return now }

	_, err = gen.Next()
	require.NoError(t, err)

	now -= 5
	_, err = gen.Next()
	assert.ErrorContains(t, err, "clock moved backwards")
}

func TestSequenceIncrementsWithinSameMillisecond(t *testing.T) {
	gen, err := NewGenerator(0)
	require.NoError(t, err)
	gen.now = func() int64 { return 2000000000000 }

	first, err := gen.Next()
	require.NoError(t, err)
	second, err := gen.Next()
	require.NoError(t, err)

	_, _, seq1 := Parse(first)
	_, _, seq2 := Parse(second)
	assert.Equal(t, seq1+1, seq2)
}
