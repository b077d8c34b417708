// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embeddings generates fixed-length vectors for task texts.
//
// Embeddings are used only for duplicate detection; the dependency
// graph never depends on them structurally. The production provider
// calls the OpenAI embeddings API; DeterministicProvider serves tests
// and offline runs.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

// ErrMissingAPIKey is returned when no OpenAI credential can be found.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

// Provider turns a task text into a graph.EmbeddingDimensions vector.
//
// Implementations must be safe for concurrent use; the insertion
// transaction embeds the tasks of a batch concurrently.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIProvider generates embeddings via the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
	log    *slog.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider with an explicit API key. An
// empty model selects text-embedding-3-small, whose 1536 dimensions
// match graph.EmbeddingDimensions.
func NewOpenAIProvider(apiKey string, model openai.EmbeddingModel, log *slog.Logger) *OpenAIProvider {
	if model == "" {
		model = openai.SmallEmbedding3
	}
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    log,
	}
}

// NewOpenAIProviderFromEnv reads OPENAI_API_KEY from the environment,
// falling back to the container secret path.
func NewOpenAIProviderFromEnv(log *slog.Logger) (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		data, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, ErrMissingAPIKey
		}
		apiKey = strings.TrimSpace(string(data))
	}
	return NewOpenAIProvider(apiKey, "", log), nil
}

// Embed requests a single embedding from the API.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: p.model,
	})
	if err != nil {
		p.log.Error("embedding request failed", "error", err)
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != graph.EmbeddingDimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, want %d",
			len(vec), graph.EmbeddingDimensions)
	}
	return vec, nil
}

// DeterministicProvider derives a unit vector from a hash of the
// normalized text. The same text always embeds identically, and
// distinct texts almost surely differ, which is all duplicate-detection
// tests need.
type DeterministicProvider struct{}

var _ Provider = (*DeterministicProvider)(nil)

// NewDeterministicProvider returns the hash-based provider.
func NewDeterministicProvider() *DeterministicProvider {
	return &DeterministicProvider{}
}

// Embed produces a pseudo-random unit vector seeded by the normalized
// text hash.
func (p *DeterministicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := sha256.Sum256([]byte(graph.NormalizeText(text)))
	vec := make([]float32, graph.EmbeddingDimensions)

	// Stretch the 32-byte seed into 1536 values by re-hashing with a
	// counter, then normalize to unit length.
	var block [sha256.Size]byte = seed
	var norm float64
	for i := 0; i < graph.EmbeddingDimensions; i++ {
		if i%8 == 0 && i > 0 {
			var counter [8]byte
			binary.BigEndian.PutUint64(counter[:], uint64(i))
			block = sha256.Sum256(append(block[:], counter[:]...))
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		v := float64(int32(bits)) / float64(math.MaxInt32)
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
