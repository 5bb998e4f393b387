package clients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLoader_Load(t *testing.T) {
	loader := NewMemoryLoader([]Client{
		{ClientID: "alice", AccessToken: "secret-token", Scopes: []string{"read:tables"}},
	})

	t.Run("known client", func(t *testing.T) {
		c, err := loader.Load(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "secret-token", c.AccessToken)
		assert.Equal(t, []string{"read:tables"}, c.Scopes)
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := loader.Load(context.Background(), "bob")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGenerateAccessToken(t *testing.T) {
	a, err := GenerateAccessToken()
	require.NoError(t, err)
	b, err := GenerateAccessToken()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b, "tokens must be generated from fresh randomness")
}
