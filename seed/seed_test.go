package seed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterIDs struct {
	next uint64
	fail bool
}

func (c *counterIDs) NextID() (uint64, error) {
	if c.fail {
		return 0, errors.New("clock moved backwards")
	}
	c.next++
	return c.next, nil
}

// repeatIDs returns the same id forever, forcing the duplicate guard.
type repeatIDs struct{}

func (repeatIDs) NextID() (uint64, error) { return 7, nil }

func TestGenerateSeedsDistinctAndBounded(t *testing.T) {
	g := NewGenerator(&counterIDs{})
	seeds, err := g.GenerateSeeds(500)
	require.NoError(t, err)
	require.Len(t, seeds, 500)

	seen := map[int64]bool{}
	for _, s := range seeds {
		assert.GreaterOrEqual(t, s, int64(0))
		assert.LessOrEqual(t, s, MaxSeed)
		assert.False(t, seen[s], "duplicate seed %d", s)
		seen[s] = true
	}
}

func TestSuccessiveCallsDiffer(t *testing.T) {
	g := NewSnowflakeGenerator()
	a, err := g.GenerateSeeds(1)
	require.NoError(t, err)
	b, err := g.GenerateSeeds(1)
	require.NoError(t, err)
	assert.NotEqual(t, a[0], b[0])
}

func TestGenerateSeedsErrors(t *testing.T) {
	_, err := NewGenerator(&counterIDs{fail: true}).GenerateSeeds(1)
	assert.Error(t, err)

	_, err = NewGenerator(&counterIDs{}).GenerateSeeds(-1)
	assert.Error(t, err)

	g := NewGenerator(repeatIDs{})
	first, err := g.GenerateSeeds(1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	_, err = g.GenerateSeeds(1)
	assert.Error(t, err, "a repeated id cannot yield a fresh seed")

	empty, err := NewGenerator(&counterIDs{}).GenerateSeeds(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
