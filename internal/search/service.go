package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the retrieval facade handed to the API. backend may be nil when
// no search server is configured.
type Service struct {
	backend Retriever
	health  interface{ Healthy() bool }
	logger  *zap.Logger
}

func NewService(backend *Meili, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{logger: logger.Named("search")}
	if backend != nil {
		s.backend = backend
		s.health = backend
	}
	return s
}

func (s *Service) Healthy() bool {
	return s.health != nil && s.health.Healthy()
}

// Retrieve never returns a nil slice. ErrUnavailable is returned when there
// is no healthy backend.
func (s *Service) Retrieve(ctx context.Context, query string, limit int) ([]Hit, error) {
	if s.backend == nil || !s.Healthy() {
		return []Hit{}, ErrUnavailable
	}
	hits, err := s.backend.Retrieve(ctx, query, limit)
	if err != nil {
		s.logger.Error("retrieve failed", zap.String("query", query), zap.Error(err))
		return []Hit{}, err
	}
	if hits == nil {
		hits = []Hit{}
	}
	return hits, nil
}
