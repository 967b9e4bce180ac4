package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"codeintel/internal/dbstore"
	"codeintel/internal/logging"
	"codeintel/internal/protocol"
)

// embeddedEvidence is the optional embedding carried in a relationship's
// evidence document. Relationships without one are skipped by similarity
// search rather than treated as a zero vector.
type embeddedEvidence struct {
	Embedding []float64 `json:"embedding,omitempty"`
}

// SimilarRelationship pairs a concept relationship with its similarity
// score against a query embedding, highest first.
type SimilarRelationship struct {
	Relationship protocol.ConceptRelationship
	Score        float64
}

// SimilarConcepts ranks concept_relationships rows by similarity of their
// evidence embedding to query. When store has a sqlite-vec virtual table
// module loaded (store.VectorCapable()), the ranking is pushed down to a
// vec_distance_cosine SQL query; otherwise it falls back to an in-process
// cosine-similarity scan.
func SimilarConcepts(ctx context.Context, store *dbstore.Store, query []float64, limit int) ([]SimilarRelationship, error) {
	if limit <= 0 {
		limit = 10
	}

	if store.VectorCapable() {
		results, err := similarConceptsViaVec(ctx, store, query, limit)
		if err == nil {
			return results, nil
		}
		logging.Get(logging.CategoryDB).Warnw("vec0 similarity query failed, falling back to in-process scan", "error", err)
	}

	return similarConceptsViaScan(ctx, store, query, limit)
}

func similarConceptsViaVec(ctx context.Context, store *dbstore.Store, query []float64, limit int) ([]SimilarRelationship, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("ontology: marshal query embedding: %w", err)
	}

	rows, err := store.Query(ctx, `
		SELECT source_concept_id, target_concept_id, relationship_type, confidence, evidence,
		       vec_distance_cosine(json_extract(evidence, '$.embedding'), ?) AS distance
		FROM concept_relationships
		WHERE json_extract(evidence, '$.embedding') IS NOT NULL
		ORDER BY distance ASC
		LIMIT ?`, string(queryJSON), limit)
	if err != nil {
		return nil, err
	}

	results := make([]SimilarRelationship, 0, len(rows))
	for _, row := range rows {
		rel, ok := relationshipFromRow(row)
		if !ok {
			continue
		}
		distance := floatField(row, "distance")
		results = append(results, SimilarRelationship{Relationship: rel, Score: 1 - distance})
	}
	return results, nil
}

func similarConceptsViaScan(ctx context.Context, store *dbstore.Store, query []float64, limit int) ([]SimilarRelationship, error) {
	rows, err := store.Query(ctx, `
		SELECT source_concept_id, target_concept_id, relationship_type, confidence, evidence
		FROM concept_relationships
		WHERE evidence IS NOT NULL`)
	if err != nil {
		return nil, err
	}

	scored := make([]SimilarRelationship, 0, len(rows))
	for _, row := range rows {
		rel, ok := relationshipFromRow(row)
		if !ok {
			continue
		}
		var evidence embeddedEvidence
		if err := json.Unmarshal(rel.Evidence, &evidence); err != nil || len(evidence.Embedding) == 0 {
			continue
		}
		scored = append(scored, SimilarRelationship{Relationship: rel, Score: cosineSimilarity(query, evidence.Embedding)})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func relationshipFromRow(row dbstore.Row) (protocol.ConceptRelationship, bool) {
	evidence, _ := row["evidence"].(string)
	if evidence == "" {
		return protocol.ConceptRelationship{}, false
	}
	return protocol.ConceptRelationship{
		SourceConceptID:  stringField(row, "source_concept_id"),
		TargetConceptID:  stringField(row, "target_concept_id"),
		RelationshipType: stringField(row, "relationship_type"),
		Confidence:       floatField(row, "confidence"),
		Evidence:         protocol.Opaque(evidence),
	}, true
}

func stringField(row dbstore.Row, key string) string {
	v, _ := row[key].(string)
	return v
}

func floatField(row dbstore.Row, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
