package embedding

import (
	"context"
	"testing"

	"Steward/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEmbedder []float32

func (s staticEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s, nil
}

func TestWithDimension(t *testing.T) {
	ctx := context.Background()

	vec, err := WithDimension(staticEmbedder{1, 2, 3}, 3).Embed(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	_, err = WithDimension(staticEmbedder{1, 2}, 3).Embed(ctx, "x")
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	vec, err = WithDimension(staticEmbedder{1}, 0).Embed(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, vec, 1)
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(context.Background(), config.EmbeddingConfig{Provider: "huggingface", Dimension: 3})
	assert.Error(t, err)
}
