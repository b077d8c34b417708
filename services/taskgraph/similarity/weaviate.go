// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package similarity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// TaskClass is the Weaviate class holding task embeddings.
const TaskClass = "TaskEmbedding"

// WeaviateIndex is an Index backed by a Weaviate instance. Vectors are
// supplied by the caller (vectorizer "none"); Weaviate only stores and
// searches them.
type WeaviateIndex struct {
	client *weaviate.Client
	log    *slog.Logger
}

var _ Index = (*WeaviateIndex)(nil)

// NewWeaviateIndex connects to the Weaviate instance at rawURL (e.g.
// "http://localhost:8080") and ensures the TaskEmbedding class exists.
func NewWeaviateIndex(ctx context.Context, rawURL string, log *slog.Logger) (*WeaviateIndex, error) {
	if log == nil {
		log = slog.Default()
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	idx := &WeaviateIndex{client: client, log: log}
	if err := idx.ensureClass(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureClass creates the TaskEmbedding class if it does not exist.
func (w *WeaviateIndex) ensureClass(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(TaskClass).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", TaskClass, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      TaskClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "task_id", DataType: []string{"text"}},
			{Name: "text", DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", TaskClass, err)
	}
	w.log.Info("created weaviate class", "class", TaskClass)
	return nil
}

// taskQueryResponse mirrors the GraphQL shape of a TaskEmbedding query.
type taskQueryResponse struct {
	Get struct {
		TaskEmbedding []struct {
			TaskID     string `json:"task_id"`
			Text       string `json:"text"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"TaskEmbedding"`
	} `json:"Get"`
}

// parseGraphQLResponse converts Weaviate's dynamic response into a
// typed struct via a marshal/unmarshal round trip.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal response data: %w", err)
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response data: %w", err)
	}
	return &result, nil
}

// Search runs a nearVector query. Weaviate reports certainty in [0, 1];
// it is mapped back to cosine similarity (2c - 1) so thresholds mean
// the same thing across Index implementations.
func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, threshold float64, limit int) ([]Match, error) {
	certainty := float32((threshold + 1) / 2)

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(certainty)

	fields := []graphql.Field{
		{Name: "task_id"},
		{Name: "text"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	resp, err := w.client.GraphQL().Get().
		WithClassName(TaskClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}

	parsed, err := parseGraphQLResponse[taskQueryResponse](resp)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(parsed.Get.TaskEmbedding))
	for _, hit := range parsed.Get.TaskEmbedding {
		matches = append(matches, Match{
			TaskID:     hit.TaskID,
			Similarity: 2*hit.Additional.Certainty - 1,
			Text:       hit.Text,
		})
	}
	return matches, nil
}

// objectID maps a task id to a stable Weaviate object UUID.
func objectID(taskID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(taskID)).String()
}

// Upsert replaces the object for a task id. Weaviate object ids are
// derived deterministically from the task id, so re-indexing the same
// task overwrites rather than duplicates.
func (w *WeaviateIndex) Upsert(ctx context.Context, taskID, text string, vector []float32) error {
	id := objectID(taskID)

	// Delete-then-create keeps the call idempotent; a missing object is
	// the common case and not an error.
	if err := w.client.Data().Deleter().WithClassName(TaskClass).WithID(id).Do(ctx); err != nil {
		w.log.Debug("weaviate delete before upsert", "task_id", taskID, "error", err)
	}

	_, err := w.client.Data().Creator().
		WithClassName(TaskClass).
		WithID(id).
		WithProperties(map[string]interface{}{
			"task_id": taskID,
			"text":    text,
		}).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate upsert %s: %w", taskID, err)
	}
	return nil
}
