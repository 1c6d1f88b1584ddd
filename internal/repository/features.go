package repository

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/storage"
)

type FeatureRepository struct {
	*Collection[models.FeatureSuggestion]
	now func() time.Time
}

func NewFeatureRepository(store storage.Store, logger *zap.Logger) *FeatureRepository {
	return &FeatureRepository{
		Collection: NewCollection[models.FeatureSuggestion](store, logger),
		now:        models.Now,
	}
}

func (r *FeatureRepository) GetByStatus(ctx context.Context, status models.FeatureStatus) ([]models.FeatureSuggestion, error) {
	return r.Find(ctx, storage.Record{"status": status})
}

func (r *FeatureRepository) GetByUser(ctx context.Context, userEmail string) ([]models.FeatureSuggestion, error) {
	return r.Find(ctx, storage.Record{"user_email": userEmail})
}

func (r *FeatureRepository) GetOpen(ctx context.Context) ([]models.FeatureSuggestion, error) {
	return r.GetByStatus(ctx, models.FeatureOpen)
}

// GetTopVoted returns up to limit suggestions by votes, ties kept in
// insertion order. A non-positive limit returns all of them.
func (r *FeatureRepository) GetTopVoted(ctx context.Context, limit int) ([]models.FeatureSuggestion, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Votes > all[j].Votes })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *FeatureRepository) Upvote(ctx context.Context, id string) (models.FeatureSuggestion, error) {
	return r.Modify(ctx, id, 0, func(f *models.FeatureSuggestion) error {
		f.Upvote(r.now())
		return nil
	})
}

func (r *FeatureRepository) AddComment(ctx context.Context, id, userEmail, comment string) (models.FeatureSuggestion, error) {
	return r.Modify(ctx, id, 0, func(f *models.FeatureSuggestion) error {
		f.AddComment(userEmail, comment, r.now())
		return nil
	})
}

func (r *FeatureRepository) UpdateStatus(ctx context.Context, id string, status models.FeatureStatus) (models.FeatureSuggestion, error) {
	return r.Modify(ctx, id, 0, func(f *models.FeatureSuggestion) error {
		return f.UpdateStatus(status, r.now())
	})
}
