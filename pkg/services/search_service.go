package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/search"
)

// SearchService exposes hybrid retrieval directly, without the rest of the
// query pipeline. Results reflect the committed corpus; after a commit they
// may trail it by one bounded indexing interval.
type SearchService struct {
	hybrid *search.Hybrid
	cfg    *config.SearchConfig
}

// NewSearchService creates a new SearchService.
func NewSearchService(hybrid *search.Hybrid, cfg *config.SearchConfig) *SearchService {
	if hybrid == nil {
		panic("NewSearchService: hybrid must not be nil")
	}
	return &SearchService{hybrid: hybrid, cfg: cfg}
}

// Search runs one fused vector+lexical retrieval and returns at most TopK
// ranked pairs. Caller-supplied filters are explicit and therefore trusted
// at full confidence, unlike the advisory intent-classifier filter inside
// the pipeline.
func (s *SearchService) Search(ctx context.Context, req models.SearchRequest) ([]models.ScoredPair, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, NewValidationError("query", "required")
	}
	if req.TopK < 0 {
		return nil, NewValidationError("top_k", "must not be negative")
	}

	topK := req.TopK
	if topK == 0 {
		topK = s.cfg.TopK
	}
	if topK > s.cfg.RerankTopN {
		topK = s.cfg.RerankTopN
	}

	docs, err := s.hybrid.Search(ctx, search.Input{
		Queries:          []string{query},
		Filter:           req.Filter,
		FilterConfidence: 1,
		TopK:             topK,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: hybrid search: %v", ErrUpstream, err)
	}
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}
