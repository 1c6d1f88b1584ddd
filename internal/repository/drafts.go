package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/storage"
)

type DraftRepository struct {
	*Collection[models.DraftUpdate]
	now func() time.Time
}

func NewDraftRepository(store storage.Store, logger *zap.Logger) *DraftRepository {
	return &DraftRepository{
		Collection: NewCollection[models.DraftUpdate](store, logger),
		now:        models.Now,
	}
}

func (r *DraftRepository) GetByStatus(ctx context.Context, status models.DraftStatus) ([]models.DraftUpdate, error) {
	return r.Find(ctx, storage.Record{"status": status})
}

func (r *DraftRepository) GetByUser(ctx context.Context, userEmail string) ([]models.DraftUpdate, error) {
	return r.Find(ctx, storage.Record{"user_email": userEmail})
}

func (r *DraftRepository) GetPending(ctx context.Context) ([]models.DraftUpdate, error) {
	return r.GetByStatus(ctx, models.DraftPending)
}

func (r *DraftRepository) CountPending(ctx context.Context) (int, error) {
	pending, err := r.GetPending(ctx)
	return len(pending), err
}

// Approve moves a pending draft to approved. A positive expectedVersion must
// match the stored version.
func (r *DraftRepository) Approve(ctx context.Context, id, admin string, expectedVersion int64) (models.DraftUpdate, error) {
	return r.Modify(ctx, id, expectedVersion, func(d *models.DraftUpdate) error {
		return d.Approve(admin, r.now())
	})
}

func (r *DraftRepository) Reject(ctx context.Context, id, reason string, expectedVersion int64) (models.DraftUpdate, error) {
	return r.Modify(ctx, id, expectedVersion, func(d *models.DraftUpdate) error {
		return d.Reject(reason, r.now())
	})
}

func (r *DraftRepository) MarkApplied(ctx context.Context, id string) (models.DraftUpdate, error) {
	return r.Modify(ctx, id, 0, func(d *models.DraftUpdate) error {
		return d.MarkApplied(r.now())
	})
}
