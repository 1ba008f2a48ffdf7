package openai

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
)

// ScorerConfig holds embedding scorer configuration
type ScorerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Window is how many of the most recent ideas are compared against
	Window int
	// Limit caps the number of candidates returned
	Limit int
}

// DefaultScorerConfig returns defaults for everything but the API key
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Model:  string(openai.SmallEmbedding3),
		Window: 200,
		Limit:  10,
	}
}

// SimilarityScorer implements port.SimilarityScorer with OpenAI embeddings
// and cosine similarity.
type SimilarityScorer struct {
	client   *openai.Client
	ideaRepo port.IdeaRepository
	config   ScorerConfig
	logger   *zap.Logger
}

// NewSimilarityScorer creates an embeddings-backed scorer
func NewSimilarityScorer(cfg ScorerConfig, ideaRepo port.IdeaRepository, logger *zap.Logger) *SimilarityScorer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	defaults := DefaultScorerConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}

	return &SimilarityScorer{
		client:   openai.NewClientWithConfig(clientCfg),
		ideaRepo: ideaRepo,
		config:   cfg,
		logger:   logger,
	}
}

// Candidates embeds the idea together with recent ideas and returns the
// closest ones, best first.
func (s *SimilarityScorer) Candidates(ctx context.Context, ideaID int64) ([]port.SimilarityCandidate, error) {
	target, err := s.ideaRepo.GetByID(ctx, ideaID)
	if err != nil {
		return nil, fmt.Errorf("failed to load idea: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("idea %d not found", ideaID)
	}

	recent, err := s.ideaRepo.Latest(ctx, s.config.Window+1)
	if err != nil {
		return nil, fmt.Errorf("failed to load comparison ideas: %w", err)
	}
	others := make([]*entity.Idea, 0, len(recent))
	for _, idea := range recent {
		if idea.ID != ideaID {
			others = append(others, idea)
		}
	}
	if len(others) == 0 {
		return []port.SimilarityCandidate{}, nil
	}

	inputs := make([]string, 0, len(others)+1)
	inputs = append(inputs, embeddingText(target))
	for _, idea := range others {
		inputs = append(inputs, embeddingText(idea))
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(s.config.Model),
	})
	if err != nil {
		s.logger.Error("OpenAI embeddings call failed", zap.Int64("idea_id", ideaID), zap.Error(err))
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data))
	}

	vectors := make([][]float32, len(inputs))
	for _, e := range resp.Data {
		if e.Index < 0 || e.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", e.Index)
		}
		vectors[e.Index] = e.Embedding
	}

	candidates := make([]port.SimilarityCandidate, 0, len(others))
	for i, idea := range others {
		candidates = append(candidates, port.SimilarityCandidate{
			IdeaID: idea.ID,
			Score:  clamp01(Cosine(vectors[0], vectors[i+1])),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > s.config.Limit {
		candidates = candidates[:s.config.Limit]
	}

	s.logger.Debug("Similarity candidates scored",
		zap.Int64("idea_id", ideaID),
		zap.Int("compared", len(others)),
		zap.Int("returned", len(candidates)))
	return candidates, nil
}

func embeddingText(idea *entity.Idea) string {
	text := strings.TrimSpace(idea.Title + "\n" + idea.RawInput)
	if idea.Category != "" {
		text = idea.Category + ": " + text
	}
	return text
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector is
// zero or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
