// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomworks-ai/taskloom/pkg/logging"
	"github.com/loomworks-ai/taskloom/services/taskgraph/config"
	"github.com/loomworks-ai/taskloom/services/taskgraph/embeddings"
	"github.com/loomworks-ai/taskloom/services/taskgraph/similarity"
	"github.com/loomworks-ai/taskloom/services/taskgraph/store"
)

// runtime bundles the wired collaborators a command needs. Build with
// newRuntime and always defer close.
type runtime struct {
	cfg      config.Config
	logger   *logging.Logger
	store    store.GraphStore
	index    similarity.Index
	embedder embeddings.Provider

	closers []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("shutdown error", "error", err)
		}
	}
}

// newRuntime loads config and wires logger, store, similarity index,
// and embedding provider per the configuration.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadConfig(flagConfig, nil)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		LogDir:  cfg.Logging.LogDir,
		Service: "taskloom",
		JSON:    cfg.Logging.JSON,
		Quiet:   flagQuiet || cfg.Logging.Quiet,
	})

	rt := &runtime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, logger.Close)

	switch cfg.Store.Backend {
	case "memory":
		rt.store = store.NewMemoryStore()
	case "badger":
		bcfg := store.DefaultBadgerConfig(cfg.Store.Path)
		bcfg.SyncWrites = cfg.Store.SyncWrites
		bcfg.Logger = logger.Slog()
		bs, err := store.OpenBadger(bcfg)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		rt.store = bs
		rt.closers = append(rt.closers, bs.Close)
	default:
		rt.close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if cfg.Weaviate.Host != "" {
		idx, err := similarity.NewWeaviateIndex(ctx,
			cfg.Weaviate.Scheme+"://"+cfg.Weaviate.Host, logger.Slog())
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("connect weaviate: %w", err)
		}
		rt.index = idx
	} else {
		logger.Warn("no weaviate host configured, using in-process similarity index")
		rt.index = similarity.NewMemoryIndex()
	}

	switch cfg.Embeddings.Provider {
	case "deterministic":
		rt.embedder = embeddings.NewDeterministicProvider()
	case "openai":
		if cfg.Embeddings.APIKey != "" {
			rt.embedder = embeddings.NewOpenAIProvider(
				cfg.Embeddings.APIKey,
				openai.EmbeddingModel(cfg.Embeddings.Model),
				logger.Slog())
		} else {
			provider, err := embeddings.NewOpenAIProviderFromEnv(logger.Slog())
			if err != nil {
				rt.close()
				return nil, err
			}
			rt.embedder = provider
		}
	default:
		rt.close()
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}

	return rt, nil
}
