package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/storage"
)

var created = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func fileStore(t *testing.T, name, collection string) storage.Store {
	t.Helper()
	s, err := storage.NewFileStore(filepath.Join(t.TempDir(), name), collection, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestAddThenGetReturnsEqualEntity(t *testing.T) {
	ctx := context.Background()
	drafts := NewDraftRepository(fileStore(t, "drafts.json", "drafts"), nil)
	queue := NewQueueRepository(fileStore(t, "question_queue.json", "questions"), nil)
	features := NewFeatureRepository(fileStore(t, "feature_suggestions.json", "features"), nil)

	draft := models.NewDraftUpdate("u@example.com", "u", "content", "guide.md", "desc", models.LangEN, created)
	draft.Metadata = map[string]any{"origin": "api"}
	addedDraft, err := drafts.Add(ctx, draft)
	require.NoError(t, err)
	gotDraft, err := drafts.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, addedDraft, gotDraft)
	draft.Version = 1 // store-assigned
	assert.Equal(t, draft, gotDraft)

	question := models.NewPendingQuestion("u@example.com", "u", "q?", "a.", "incomplete", "discord", models.LangHU, created)
	_, err = queue.Add(ctx, question)
	require.NoError(t, err)
	gotQuestion, err := queue.Get(ctx, question.ID)
	require.NoError(t, err)
	question.Version = 1
	assert.Equal(t, question, gotQuestion)

	feature := models.NewFeatureSuggestion("u@example.com", "u", "t", "d", models.LangEN, created)
	_, err = features.Add(ctx, feature)
	require.NoError(t, err)
	gotFeature, err := features.Get(ctx, feature.ID)
	require.NoError(t, err)
	feature.Version = 1
	assert.Equal(t, feature, gotFeature)
}

func TestGetUnknownIDIsNotFound(t *testing.T) {
	drafts := NewDraftRepository(fileStore(t, "drafts.json", "drafts"), nil)
	_, err := drafts.Get(context.Background(), "DRAFT-DEADBEEF")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = drafts.Approve(context.Background(), "DRAFT-DEADBEEF", "admin@example.com", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDraftRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	drafts := NewDraftRepository(fileStore(t, "drafts.json", "drafts"), nil)

	a, err := drafts.Add(ctx, models.NewDraftUpdate("a@example.com", "", "a", "a.md", "", models.LangEN, created))
	require.NoError(t, err)
	b, err := drafts.Add(ctx, models.NewDraftUpdate("b@example.com", "", "b", "b.md", "", models.LangEN, created))
	require.NoError(t, err)

	n, err := drafts.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	approved, err := drafts.Approve(ctx, a.ID, "admin@example.com", a.Version)
	require.NoError(t, err)
	assert.Equal(t, models.DraftApproved, approved.Status)
	assert.Equal(t, int64(2), approved.Version)

	applied, err := drafts.MarkApplied(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftApplied, applied.Status)
	require.NoError(t, applied.CheckInvariants())

	_, err = drafts.Reject(ctx, a.ID, "late", 0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	rejected, err := drafts.Reject(ctx, b.ID, "duplicate", 0)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", rejected.RejectionReason)

	_, err = drafts.Approve(ctx, b.ID, "admin@example.com", 0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	pending, err := drafts.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	mine, err := drafts.GetByUser(ctx, "b@example.com")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.DraftRejected, mine[0].Status)

	got, err := drafts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftApplied, got.Status, "rejected/applied drafts never move")
}

func TestStaleVersionSurfacesConflict(t *testing.T) {
	ctx := context.Background()
	drafts := NewDraftRepository(fileStore(t, "drafts.json", "drafts"), nil)
	d, err := drafts.Add(ctx, models.NewDraftUpdate("a@example.com", "", "a", "a.md", "", models.LangEN, created))
	require.NoError(t, err)

	held := d // a second admin still holds version 1
	_, err = drafts.Approve(ctx, d.ID, "admin@example.com", d.Version)
	require.NoError(t, err)

	_, err = drafts.Reject(ctx, held.ID, "stale", held.Version)
	require.ErrorIs(t, err, storage.ErrConflict)

	held.Content = "overwrite"
	_, err = drafts.Update(ctx, held)
	require.ErrorIs(t, err, storage.ErrConflict)

	got, err := drafts.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftApproved, got.Status)
	assert.Equal(t, "a", got.Content)
}

func TestQueueRepositoryPendingAndRespond(t *testing.T) {
	ctx := context.Background()
	queue := NewQueueRepository(fileStore(t, "question_queue.json", "questions"), nil)

	q1, err := queue.Add(ctx, models.NewPendingQuestion("u@example.com", "", "one", "", "", "api", models.LangEN, created))
	require.NoError(t, err)
	q2, err := queue.Add(ctx, models.NewPendingQuestion("u@example.com", "", "two", "", "", "discord", models.LangEN, created))
	require.NoError(t, err)

	_, err = queue.PutOnHold(ctx, q2.ID)
	require.NoError(t, err)

	pending, err := queue.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, q1.ID, pending[0].ID)

	onHold, err := queue.GetOnHold(ctx)
	require.NoError(t, err)
	require.Len(t, onHold, 1)

	discord, err := queue.GetByPlatform(ctx, "discord")
	require.NoError(t, err)
	require.Len(t, discord, 1)
	assert.Equal(t, q2.ID, discord[0].ID)

	answered, err := queue.Respond(ctx, q2.ID, "admin@example.com", "here you go")
	require.NoError(t, err)
	assert.Equal(t, models.QuestionAnswered, answered.Status)
	assert.Equal(t, "admin@example.com", answered.RespondedBy)

	onHold, err = queue.GetOnHold(ctx)
	require.NoError(t, err)
	assert.Empty(t, onHold)
}

func TestFeatureRepositoryVotes(t *testing.T) {
	ctx := context.Background()
	features := NewFeatureRepository(fileStore(t, "feature_suggestions.json", "features"), nil)

	a, err := features.Add(ctx, models.NewFeatureSuggestion("u@example.com", "", "a", "", models.LangEN, created))
	require.NoError(t, err)
	b, err := features.Add(ctx, models.NewFeatureSuggestion("u@example.com", "", "b", "", models.LangEN, created))
	require.NoError(t, err)

	_, err = features.Upvote(ctx, b.ID)
	require.NoError(t, err)
	voted, err := features.Upvote(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, voted.Votes)

	top, err := features.GetTopVoted(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, b.ID, top[0].ID)

	commented, err := features.AddComment(ctx, a.ID, "v@example.com", "nice")
	require.NoError(t, err)
	require.Len(t, commented.Comments, 1)

	_, err = features.UpdateStatus(ctx, a.ID, models.FeaturePlanned)
	require.NoError(t, err)
	open, err := features.GetOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
}

func TestConcurrentUpvotesAreNotLost(t *testing.T) {
	ctx := context.Background()
	features := NewFeatureRepository(fileStore(t, "feature_suggestions.json", "features"), nil)
	f, err := features.Add(ctx, models.NewFeatureSuggestion("u@example.com", "", "a", "", models.LangEN, created))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := features.Upvote(ctx, f.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := features.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Votes)
}
