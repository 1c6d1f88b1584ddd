package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/storage"
)

// QueueRepository holds questions escalated to admins.
type QueueRepository struct {
	*Collection[models.PendingQuestion]
	now func() time.Time
}

func NewQueueRepository(store storage.Store, logger *zap.Logger) *QueueRepository {
	return &QueueRepository{
		Collection: NewCollection[models.PendingQuestion](store, logger),
		now:        models.Now,
	}
}

func (r *QueueRepository) GetByStatus(ctx context.Context, status models.QuestionStatus) ([]models.PendingQuestion, error) {
	return r.Find(ctx, storage.Record{"status": status})
}

func (r *QueueRepository) GetByUser(ctx context.Context, userEmail string) ([]models.PendingQuestion, error) {
	return r.Find(ctx, storage.Record{"user_email": userEmail})
}

func (r *QueueRepository) GetByPlatform(ctx context.Context, platform string) ([]models.PendingQuestion, error) {
	return r.Find(ctx, storage.Record{"platform": platform})
}

// GetPending returns questions still waiting for an admin.
func (r *QueueRepository) GetPending(ctx context.Context) ([]models.PendingQuestion, error) {
	return r.GetByStatus(ctx, models.QuestionEscalated)
}

func (r *QueueRepository) GetOnHold(ctx context.Context) ([]models.PendingQuestion, error) {
	return r.GetByStatus(ctx, models.QuestionOnHold)
}

func (r *QueueRepository) CountPending(ctx context.Context) (int, error) {
	pending, err := r.GetPending(ctx)
	return len(pending), err
}

func (r *QueueRepository) Respond(ctx context.Context, id, admin, response string) (models.PendingQuestion, error) {
	return r.Modify(ctx, id, 0, func(q *models.PendingQuestion) error {
		return q.Respond(admin, response, r.now())
	})
}

func (r *QueueRepository) PutOnHold(ctx context.Context, id string) (models.PendingQuestion, error) {
	return r.Modify(ctx, id, 0, func(q *models.PendingQuestion) error {
		return q.PutOnHold(r.now())
	})
}
