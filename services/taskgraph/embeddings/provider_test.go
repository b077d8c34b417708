// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

func TestDeterministicProvider_StableAcrossNormalization(t *testing.T) {
	p := NewDeterministicProvider()
	ctx := context.Background()

	a, err := p.Embed(ctx, "Build the API")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "  build   the API ")
	require.NoError(t, err)

	assert.Equal(t, a, b, "normalization-equivalent texts embed identically")
	assert.Len(t, a, graph.EmbeddingDimensions)
}

func TestDeterministicProvider_DistinctTexts(t *testing.T) {
	p := NewDeterministicProvider()
	ctx := context.Background()

	a, err := p.Embed(ctx, "build the api")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "write the marketing copy")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDeterministicProvider_UnitNorm(t *testing.T) {
	p := NewDeterministicProvider()

	vec, err := p.Embed(context.Background(), "deploy to production")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestDeterministicProvider_Cancellation(t *testing.T) {
	p := NewDeterministicProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Embed(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
