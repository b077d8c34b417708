// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

// Key layout inside BadgerDB. Task ids are lowercase hex, so "/" is a
// safe separator.
const (
	nodePrefix = "node/"
	edgePrefix = "edge/"
	docPrefix  = "doc/"
)

// BadgerConfig holds configuration for a badger-backed store.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Used by
	// tests and dry runs.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives badger's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: durable writes at
// the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is a GraphStore backed by an embedded BadgerDB instance.
// Safe for concurrent use; each method runs in its own badger
// transaction.
type BadgerStore struct {
	db *badger.DB
}

var _ GraphStore = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// GetNodes returns nodes for the requested ids, re-deriving missing
// ones from stored document extractions where possible. Recovered
// nodes are persisted before being returned.
func (s *BadgerStore) GetNodes(ctx context.Context, ids []string) ([]graph.TaskNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []graph.TaskNode
	missing := make(map[string]struct{})

	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get([]byte(nodePrefix + id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missing[id] = struct{}{}
				continue
			}
			if err != nil {
				return err
			}
			var node graph.TaskNode
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &node) }); err != nil {
				return fmt.Errorf("decode node %s: %w", id, err)
			}
			result = append(result, node)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get nodes: %w", err)
	}

	if len(missing) == 0 {
		return result, nil
	}

	docs, err := s.allExtractions()
	if err != nil {
		return nil, err
	}
	recovered := recoverFromExtractions(missing, docs)
	if len(recovered) == 0 {
		return result, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for i := range recovered {
			recovered[i].CreatedAt = time.Now().UTC()
			data, err := json.Marshal(recovered[i])
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(nodePrefix+recovered[i].ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist recovered nodes: %w", err)
	}
	return append(result, recovered...), nil
}

// GetEdges returns all edges, or only those touching a requested id.
func (s *BadgerStore) GetEdges(ctx context.Context, ids []string) ([]graph.DependencyEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var want map[string]struct{}
	if len(ids) > 0 {
		want = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			want[id] = struct{}{}
		}
	}

	var result []graph.DependencyEdge
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(edgePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var edge graph.DependencyEdge
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &edge) }); err != nil {
				return fmt.Errorf("decode edge %s: %w", it.Item().Key(), err)
			}
			if want != nil {
				_, src := want[edge.SourceID]
				_, dst := want[edge.TargetID]
				if !src && !dst {
					continue
				}
			}
			result = append(result, edge)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get edges: %w", err)
	}
	return result, nil
}

// InsertNodes writes new nodes, failing on id collision.
func (s *BadgerStore) InsertNodes(ctx context.Context, nodes []graph.TaskNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, node := range nodes {
			key := []byte(nodePrefix + node.ID)
			if _, err := txn.Get(key); err == nil {
				return fmt.Errorf("insert node %s: %w", node.ID, ErrNodeExists)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			data, err := json.Marshal(node)
			if err != nil {
				return fmt.Errorf("encode node %s: %w", node.ID, err)
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertEdges writes new edges, requiring both endpoints to exist.
func (s *BadgerStore) InsertEdges(ctx context.Context, edges []graph.DependencyEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, edge := range edges {
			for _, endpoint := range []string{edge.SourceID, edge.TargetID} {
				if _, err := txn.Get([]byte(nodePrefix + endpoint)); err != nil {
					if errors.Is(err, badger.ErrKeyNotFound) {
						return fmt.Errorf("insert edge %s->%s: %w", edge.SourceID, edge.TargetID, ErrMissingEndpoint)
					}
					return err
				}
			}
			data, err := json.Marshal(edge)
			if err != nil {
				return fmt.Errorf("encode edge: %w", err)
			}
			key := []byte(edgePrefix + edge.SourceID + "/" + edge.TargetID)
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteEdge removes an edge; absent edges are a no-op.
func (s *BadgerStore) DeleteEdge(ctx context.Context, sourceID, targetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(edgePrefix + sourceID + "/" + targetID))
	})
}

// DeleteNodes removes nodes; absent nodes are a no-op.
func (s *BadgerStore) DeleteNodes(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete([]byte(nodePrefix + id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutDocumentExtraction records a document's raw extracted task texts.
func (s *BadgerStore) PutDocumentExtraction(ctx context.Context, documentID string, texts []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(texts)
	if err != nil {
		return fmt.Errorf("encode extraction for %s: %w", documentID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(docPrefix+documentID), data)
	})
}

// allExtractions loads every stored document extraction.
func (s *BadgerStore) allExtractions() (map[string][]string, error) {
	docs := make(map[string][]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(docPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			docID := string(it.Item().Key()[len(docPrefix):])
			var texts []string
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &texts) }); err != nil {
				return fmt.Errorf("decode extraction %s: %w", docID, err)
			}
			docs[docID] = texts
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load extractions: %w", err)
	}
	return docs, nil
}
