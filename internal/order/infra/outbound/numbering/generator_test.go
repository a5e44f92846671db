package numbering

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator(0)

	first, err := g.Generate(context.Background())
	require.NoError(t, err)
	second, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ORD-0001", first.String())
	assert.Equal(t, "ORD-0002", second.String())
}

func TestUUIDGenerator_IsUnique(t *testing.T) {
	g := NewUUIDGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n, err := g.Generate(context.Background())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(n.String(), "ORD-"))
		assert.False(t, seen[n.String()])
		seen[n.String()] = true
	}
}
