package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oogalieboogalie/ThinkSpace/internal/wama"
)

// DefaultVectorSize matches the text-embedding-3-small output dimension.
const DefaultVectorSize = 1536

// Node type tags attached to stored memories.
const (
	NodeFact       = "FACT"
	NodeConcept    = "CONCEPT"
	NodeMemory     = "MEMORY"
	NodeLearning   = "LEARNING"
	NodeInsight    = "INSIGHT"
	NodeUserInput  = "USER_INPUT"
	NodeAIResponse = "AI_RESPONSE"
)

// Embedder converts text into a vector. Satisfied by embeddings.Client.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Config holds the vector store connection settings. The store is
// constructed explicitly from this at startup and passed to whoever
// needs it; there is no process-wide instance.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	UserID     string
	VectorSize int
}

// Store is the semantic memory service: WAMA admission, embedding, and
// vector-store persistence behind one handle.
type Store struct {
	qdrant   *qdrantClient
	embedder Embedder
	scorer   *wama.Scorer
	userID   string
	vecSize  int
	logger   *slog.Logger
}

// New creates a knowledge store.
func New(cfg Config, embedder Embedder, scorer *wama.Scorer, logger *slog.Logger) *Store {
	if cfg.Collection == "" {
		cfg.Collection = "thinkspace_knowledge"
	}
	if cfg.VectorSize <= 0 {
		cfg.VectorSize = DefaultVectorSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		qdrant:   newQdrantClient(cfg.URL, cfg.APIKey, cfg.Collection),
		embedder: embedder,
		scorer:   scorer,
		userID:   cfg.UserID,
		vecSize:  cfg.VectorSize,
		logger:   logger,
	}
}

// Connect verifies the collection exists, creating it (and the user_id
// payload index) when missing.
func (s *Store) Connect(ctx context.Context) error {
	return s.qdrant.ensureCollection(ctx, s.vecSize)
}

// SaveResult reports the outcome of an admission attempt.
type SaveResult struct {
	Stored   bool          `json:"stored"`
	Decision wama.Decision `json:"-"`
	Score    float64       `json:"score"`
	PointID  string        `json:"point_id,omitempty"`
	Message  string        `json:"message"`
}

// Save runs the admission pipeline for one piece of content: score
// first, and only when the scorer admits it, embed and upsert. A
// LetFade rejection is a normal outcome, not an error — the embedding
// provider is never called for rejected content.
func (s *Store) Save(ctx context.Context, content, nodeType string, importance float64) (*SaveResult, error) {
	decision, score := s.scorer.Score(content)

	if decision == wama.LetFade {
		s.logger.Debug("memory rejected", "score", score)
		return &SaveResult{
			Stored:   false,
			Decision: decision,
			Score:    score,
			Message:  fmt.Sprintf("not worth saving (%s, score %.2f)", decision, score),
		}, nil
	}
	if decision == wama.Consider {
		s.logger.Warn("memory admission borderline", "score", score, "content_len", len(content))
	}

	vector, err := s.embedder.Generate(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	if nodeType == "" {
		nodeType = NodeMemory
	}
	pointID := uuid.NewString()
	point := qdrantPoint{
		ID:     pointID,
		Vector: vector,
		Payload: map[string]any{
			"content":       content,
			"node_type":     nodeType,
			"importance":    importance,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
			"wama_decision": decision.String(),
			"wama_score":    score,
			"user_id":       s.userID,
		},
	}

	if err := s.qdrant.upsert(ctx, []qdrantPoint{point}); err != nil {
		return nil, err
	}

	s.logger.Info("memory stored",
		"decision", decision.String(),
		"score", score,
		"node_type", nodeType,
		"point_id", pointID,
	)

	return &SaveResult{
		Stored:   true,
		Decision: decision,
		Score:    score,
		PointID:  pointID,
		Message:  fmt.Sprintf("stored (%s, score %.2f)", decision, score),
	}, nil
}

// Match is one semantic search hit.
type Match struct {
	Content    string  `json:"content"`
	NodeType   string  `json:"node_type,omitempty"`
	Importance float64 `json:"importance,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
	Score      float64 `json:"score"`
}

// Search embeds the query and returns the store's closest memories for
// this store's user, ranked by similarity.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}

	vector, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.qdrant.search(ctx, vector, limit, s.userID)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		m := Match{Score: h.Score}
		m.Content, _ = h.Payload["content"].(string)
		m.NodeType, _ = h.Payload["node_type"].(string)
		m.Importance, _ = h.Payload["importance"].(float64)
		m.Timestamp, _ = h.Payload["timestamp"].(string)
		matches = append(matches, m)
	}
	return matches, nil
}
