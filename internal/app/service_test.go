package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/gitrepo"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/handlers"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/language"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/permission"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/repository"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/storage"
)

const (
	adminEmail = "admin@example.com"
	userEmail  = "user@example.com"
)

var fixedNow = time.Date(2026, 5, 1, 12, 30, 45, 0, time.UTC)

type fakeSyncer struct {
	mu     sync.Mutex
	reqs   []gitrepo.SyncRequest
	result gitrepo.SyncResult
}

func (f *fakeSyncer) Sync(_ context.Context, req gitrepo.SyncRequest) gitrepo.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	r := f.result
	r.Branch = req.Branch
	return r
}

// flakyWriter fails MergeContent while mergeErr is set.
type flakyWriter struct {
	*DiskWriter
	mergeErr error
}

func (w *flakyWriter) MergeContent(path, content string) error {
	if w.mergeErr != nil {
		return w.mergeErr
	}
	return w.DiskWriter.MergeContent(path, content)
}

type fixture struct {
	svc    *Service
	kb     string
	drafts *repository.DraftRepository
	queue  *repository.QueueRepository
	bus    *events.Bus
	writer *flakyWriter
	git    *fakeSyncer

	mu      sync.Mutex
	emitted []events.Event
}

func (f *fixture) events(t events.EventType) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.emitted {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newFixture(t *testing.T, git Syncer) *fixture {
	t.Helper()
	dir := t.TempDir()
	kb := filepath.Join(dir, "kb")
	store := func(name, collection string) storage.Store {
		s, err := storage.NewFileStore(filepath.Join(dir, "data", name), collection, zap.NewNop())
		require.NoError(t, err)
		return s
	}

	f := &fixture{
		kb:     kb,
		drafts: repository.NewDraftRepository(store("drafts.json", "drafts"), nil),
		queue:  repository.NewQueueRepository(store("question_queue.json", "questions"), nil),
		bus:    events.NewBus(zap.NewNop()),
		writer: &flakyWriter{DiskWriter: NewDiskWriter()},
	}
	if fs, ok := git.(*fakeSyncer); ok {
		f.git = fs
	}
	f.bus.SubscribeMany(events.Types(), events.HandlerFunc{HandlerName: "recorder", Fn: func(_ context.Context, e events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.emitted = append(f.emitted, e)
		return nil
	}})

	f.svc = NewService(Dependencies{
		Drafts:   f.drafts,
		Queue:    f.queue,
		Features: repository.NewFeatureRepository(store("feature_suggestions.json", "features"), nil),
		Gate:     permission.NewGate([]string{adminEmail}, []string{"boss"}, nil),
		Bus:      f.bus,
		Lang:     language.NewService(kb, filepath.Join(kb, "docs"), nil),
		Writer:   f.writer,
		Git:      git,
		Now:      func() time.Time { return fixedNow },
	})
	return f
}

func requireDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var de *DomainError
	require.True(t, errors.As(err, &de), "expected DomainError, got %v", err)
	assert.Equal(t, status, de.Status)
	assert.Equal(t, code, de.Code)
	return de
}

func TestAcceptQARoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.svc.AcceptQA(ctx, AcceptQAInput{Question: "How do I deploy?", Answer: "Run make deploy.", UserEmail: userEmail})
	require.NoError(t, err)
	second, err := f.svc.AcceptQA(ctx, AcceptQAInput{Question: strings.Repeat("long question ", 10), Answer: "yes", UserEmail: userEmail})
	require.NoError(t, err)

	path := filepath.Join(f.kb, "qa", "accepted_qa_en.md")
	assert.Equal(t, path, first.FilePath)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Accepted Q&A (English)"))
	assert.Equal(t, 1, strings.Count(string(data), "# Accepted Q&A"), "header written once")

	got, err := f.svc.GetAcceptedQA(ctx, strings.ToLower(strings.TrimPrefix(first.QAID, "QA-")), "")
	require.NoError(t, err)
	assert.Equal(t, "How do I deploy?", got.Question)
	assert.Equal(t, "Run make deploy.", got.Answer)
	assert.Equal(t, "2026-05-01", got.AcceptedOn)

	list, err := f.svc.ListAcceptedQA(ctx, "en", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.QAID, list[0].ID, "most recent first")
	assert.True(t, strings.HasSuffix(list[0].Question, "..."))
	assert.Empty(t, list[0].Answer)

	_, err = f.svc.GetAcceptedQA(ctx, "QA-00000000", "en")
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	updates := f.events(events.DocUpdated)
	require.Len(t, updates, 2)
	assert.Equal(t, first.QAID, updates[0].Meta("qa_id"))
	assert.Equal(t, path, updates[0].FilePath)
}

func TestAcceptQAValidation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.AcceptQA(context.Background(), AcceptQAInput{Question: "q"})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	list, err := f.svc.ListAcceptedQA(context.Background(), "hu", 5)
	require.NoError(t, err)
	assert.Empty(t, list, "missing file lists nothing")
}

func TestEscalateThenRespond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	escalated, err := f.svc.EscalateQuestion(ctx, EscalateInput{
		Question:        "Hogyan telepítem a rendszert és mi a teendő?",
		BotAnswer:       "nem tudom",
		UserEmail:       userEmail,
		RejectionReason: "incomplete",
		Platform:        "discord",
	})
	require.NoError(t, err)
	assert.False(t, escalated.Notified, "no notification handler subscribed")

	q, err := f.queue.Get(ctx, escalated.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionEscalated, q.Status)
	assert.Equal(t, models.LangHU, q.Language)

	created := f.events(events.QuestionCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "discord", created[0].Meta("platform"))
	assert.Equal(t, "incomplete", created[0].Meta("rejection_reason"))

	_, err = f.svc.RespondToQuestion(ctx, RespondInput{QuestionID: escalated.QuestionID, AdminEmail: userEmail, Response: "x"})
	requireDomainError(t, err, http.StatusForbidden, CodePermissionDenied)

	_, err = f.svc.RespondToQuestion(ctx, RespondInput{QuestionID: escalated.QuestionID, AdminEmail: adminEmail})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	f.bus.Subscribe(events.QuestionAnswered, events.HandlerFunc{HandlerName: notificationHandler, Fn: func(context.Context, events.Event) error { return nil }})
	answered, err := f.svc.RespondToQuestion(ctx, RespondInput{
		QuestionID: strings.ToLower(escalated.QuestionID),
		AdminEmail: "Boss@discord.user",
		Response:   "Use the installer.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.QuestionAnswered, answered.Status)
	assert.True(t, answered.Notified)

	answeredEvents := f.events(events.QuestionAnswered)
	require.Len(t, answeredEvents, 1)
	assert.Equal(t, userEmail, answeredEvents[0].Meta("original_user"))
	assert.Equal(t, "Use the installer.", answeredEvents[0].AnswerText)

	_, err = f.svc.RespondToQuestion(ctx, RespondInput{QuestionID: escalated.QuestionID, AdminEmail: adminEmail, Action: ActionOnHold})
	requireDomainError(t, err, http.StatusConflict, CodeConflict)

	_, err = f.svc.RespondToQuestion(ctx, RespondInput{QuestionID: escalated.QuestionID, AdminEmail: adminEmail, Action: "archive"})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)
}

func TestRespondCloseAndHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	escalated, err := f.svc.EscalateQuestion(ctx, EscalateInput{Question: "What is the deploy process?", UserEmail: userEmail, Language: "en"})
	require.NoError(t, err)

	held, err := f.svc.RespondToQuestion(ctx, RespondInput{QuestionID: escalated.QuestionID, AdminEmail: adminEmail, Action: ActionOnHold})
	require.NoError(t, err)
	assert.Equal(t, models.QuestionOnHold, held.Status)

	closed, err := f.svc.RespondToQuestion(ctx, RespondInput{QuestionID: escalated.QuestionID, AdminEmail: adminEmail, Action: ActionClose})
	require.NoError(t, err)
	assert.Equal(t, models.QuestionAnswered, closed.Status)
	assert.Empty(t, f.events(events.QuestionAnswered), "closing does not announce an answer")

	_, err = f.svc.RespondToQuestion(ctx, RespondInput{QuestionID: "Q-00000000", AdminEmail: adminEmail, Response: "x"})
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	pending, err := f.svc.PendingQuestions(ctx, adminEmail)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.svc.PendingQuestions(ctx, userEmail)
	requireDomainError(t, err, http.StatusForbidden, CodePermissionDenied)
}

func TestAcceptDraftAppliesAndCommits(t *testing.T) {
	ctx := context.Background()
	git := &fakeSyncer{result: gitrepo.SyncResult{Success: true, CommitSHA: "abc123", PRURL: "https://gitlab.example.com/mr/1"}}
	f := newFixture(t, git)

	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "## Deploy\n\nRun it.", TargetSection: "guide.md", Description: "Deploy docs", UserEmail: userEmail, Language: "en"})
	require.NoError(t, err)
	assert.True(t, created.FileWritten)
	mirror, err := os.ReadFile(filepath.Join(f.kb, "drafts", "draft_updates.md"))
	require.NoError(t, err)
	assert.Contains(t, string(mirror), created.DraftID+": guide.md")
	require.Len(t, f.events(events.DraftCreated), 1)
	assert.Equal(t, "## Deploy\n\nRun it.", f.events(events.DraftCreated)[0].DraftContent)

	result, err := f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, ApplyImmediately: true, CommitChanges: true})
	require.NoError(t, err)
	target := filepath.Join(f.kb, "docs", "en", "guide.md")
	assert.True(t, result.Approved)
	assert.True(t, result.Applied)
	assert.Equal(t, target, result.FilePath)
	assert.Equal(t, "abc123", result.GitCommit)
	assert.Equal(t, "https://gitlab.example.com/mr/1", result.PRURL)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "## Deploy\n\nRun it.", string(data))

	require.Len(t, git.reqs, 1)
	assert.Equal(t, []string{target}, git.reqs[0].Files)
	assert.Equal(t, "docs/draft-"+strings.ToLower(created.DraftID), git.reqs[0].Branch)
	assert.Equal(t, "Apply draft "+created.DraftID+": Deploy docs", git.reqs[0].Message)

	d, err := f.drafts.Get(ctx, created.DraftID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftApplied, d.Status)
	require.NoError(t, d.CheckInvariants())

	updated := f.events(events.DocUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, created.DraftID, updated[0].DraftID)
	approved := f.events(events.DraftApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, target, approved[0].FilePath)
	assert.Equal(t, true, approved[0].Metadata["applied"])
}

func TestAcceptDraftWithHandlersCommitsOnce(t *testing.T) {
	ctx := context.Background()
	git := &fakeSyncer{result: gitrepo.SyncResult{Success: true, CommitSHA: "abc123"}}
	f := newFixture(t, git)

	docs := filepath.Join(f.kb, "docs")
	mkdocs := filepath.Join(docs, "mkdocs.yml")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(mkdocs, []byte("site_name: Docs\nnav:\n  - Home: en/index.md\n"), 0o644))

	nav := handlers.NewNavigation(docs, nil)
	handlers.Register(f.bus, handlers.Set{
		Navigation: nav,
		VCS:        handlers.NewVCS(git, f.bus, handlers.VCSConfig{Enabled: true, MkDocsPath: nav.MkDocsPath()}, nil),
	})

	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "Steps", TargetSection: "setup_guide.md", UserEmail: userEmail, Language: "en"})
	require.NoError(t, err)
	result, err := f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, ApplyImmediately: true, CommitChanges: true})
	require.NoError(t, err)
	assert.Equal(t, "abc123", result.GitCommit)

	require.Len(t, git.reqs, 1, "the workflow commit is the only one")
	assert.Equal(t, []string{result.FilePath, mkdocs}, git.reqs[0].Files)

	data, err := os.ReadFile(mkdocs)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Setup Guide: en/setup_guide.md")
}

func TestAcceptDraftApplyFailureKeepsDraftApproved(t *testing.T) {
	ctx := context.Background()
	git := &fakeSyncer{result: gitrepo.SyncResult{Success: true}}
	f := newFixture(t, git)
	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "c", TargetSection: "docs/en/faq.md", UserEmail: userEmail})
	require.NoError(t, err)

	f.writer.mergeErr = errors.New("disk full")
	result, err := f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, ApplyImmediately: true, CommitChanges: true})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.False(t, result.Applied)
	assert.Empty(t, git.reqs, "nothing to commit")

	d, err := f.drafts.Get(ctx, created.DraftID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftApproved, d.Status)

	f.writer.mergeErr = nil
	retry, err := f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, ApplyImmediately: true})
	require.NoError(t, err)
	assert.True(t, retry.Applied)
	assert.Equal(t, filepath.Join(f.kb, "docs", "en", "faq.md"), retry.FilePath)

	_, err = f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, ApplyImmediately: true})
	requireDomainError(t, err, http.StatusConflict, CodeConflict)
}

func TestAcceptDraftRetryDoesNotDuplicateWrittenContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "## Rollback\n\nRevert the tag.", TargetSection: "ops.md", UserEmail: userEmail})
	require.NoError(t, err)
	_, err = f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail})
	require.NoError(t, err)

	// content on disk, draft still approved
	d, err := f.drafts.Get(ctx, created.DraftID)
	require.NoError(t, err)
	path, err := f.svc.applyDraft(ctx, d, false)
	require.NoError(t, err)

	retry, err := f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, ApplyImmediately: true})
	require.NoError(t, err)
	assert.True(t, retry.Applied)
	assert.Equal(t, path, retry.FilePath)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "Revert the tag."))
	assert.Len(t, f.events(events.DocUpdated), 1)

	d, err = f.drafts.Get(ctx, created.DraftID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftApplied, d.Status)
}

func TestAcceptDraftReportsWrittenPathWhenMarkFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "c", TargetSection: "gone.md", UserEmail: userEmail})
	require.NoError(t, err)
	f.bus.Subscribe(events.DocUpdated, events.HandlerFunc{HandlerName: "remover", Fn: func(ctx context.Context, e events.Event) error {
		_, err := f.drafts.Delete(ctx, e.DraftID)
		return err
	}})

	result, err := f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, ApplyImmediately: true})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, filepath.Join(f.kb, "docs", "en", "gone.md"), result.FilePath)
	assert.Contains(t, result.Message, "could not be marked applied")
}

func TestAcceptDraftWithoutApply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "c", TargetSection: "a.md", UserEmail: userEmail})
	require.NoError(t, err)

	result, err := f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, CommitChanges: true})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.False(t, result.Applied)
	assert.Empty(t, f.events(events.DocUpdated))
	_, err = os.Stat(filepath.Join(f.kb, "docs", "en", "a.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestAcceptDraftPermissionAndVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "c", TargetSection: "a.md", UserEmail: userEmail})
	require.NoError(t, err)

	_, err = f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: userEmail})
	requireDomainError(t, err, http.StatusForbidden, CodePermissionDenied)
	d, err := f.drafts.Get(ctx, created.DraftID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftPending, d.Status, "denied calls change nothing")

	_, err = f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail, ExpectedVersion: d.Version + 5})
	de := requireDomainError(t, err, http.StatusConflict, CodeConflict)
	assert.Equal(t, map[string]any{"expected_version": d.Version + 5, "current_version": d.Version}, de.Details)

	_, err = f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: "DRAFT-00000000", AdminEmail: adminEmail})
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestRejectDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "c", TargetSection: "a.md", UserEmail: userEmail})
	require.NoError(t, err)

	result, err := f.svc.RejectDraft(ctx, RejectDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail})
	require.NoError(t, err)
	assert.Contains(t, result.Message, "No reason provided")

	rejected := f.events(events.DraftRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "No reason provided", rejected[0].Meta("reason"))

	_, err = f.svc.AcceptDraft(ctx, AcceptDraftInput{DraftID: created.DraftID, AdminEmail: adminEmail})
	requireDomainError(t, err, http.StatusConflict, CodeConflict)
}

func TestDraftsVisibleToAuthorOrAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	mine, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "a", TargetSection: "a.md", UserEmail: userEmail})
	require.NoError(t, err)
	_, err = f.svc.CreateDraft(ctx, CreateDraftInput{Content: "b", TargetSection: "b.md", UserEmail: "other@example.com"})
	require.NoError(t, err)

	list, err := f.svc.Drafts(ctx, userEmail, "")
	require.NoError(t, err)
	require.Len(t, list.Drafts, 1)
	assert.Equal(t, mine.DraftID, list.Drafts[0].ID)
	assert.Zero(t, list.PendingCount)

	list, err = f.svc.Drafts(ctx, userEmail, "approved")
	require.NoError(t, err)
	assert.Empty(t, list.Drafts)

	list, err = f.svc.Drafts(ctx, adminEmail, "pending")
	require.NoError(t, err)
	assert.Len(t, list.Drafts, 2)
	assert.Equal(t, 2, list.PendingCount)

	_, err = f.svc.Drafts(ctx, adminEmail, "bogus")
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)
}

func TestResolveTarget(t *testing.T) {
	f := newFixture(t, nil)
	got, err := f.svc.resolveTarget("guide.md", models.LangHU)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.kb, "docs", "hu", "guide.md"), got)

	got, err = f.svc.resolveTarget(`docs\en\setup.md`, models.LangHU)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.kb, "docs", "en", "setup.md"), got)

	_, err = f.svc.resolveTarget("../../etc/passwd", models.LangEN)
	assert.Error(t, err)
	_, err = f.svc.resolveTarget("..", models.LangEN)
	assert.Error(t, err)
}

func TestGitSync(t *testing.T) {
	ctx := context.Background()

	disabled := newFixture(t, nil)
	result, err := disabled.svc.GitSync(ctx, GitSyncInput{AdminEmail: adminEmail})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, gitDisabledMessage, result.Error)

	git := &fakeSyncer{result: gitrepo.SyncResult{Success: true, CommitSHA: "def"}}
	f := newFixture(t, git)
	for name, body := range map[string]string{
		"docs/en/a.md":     "a",
		"notes.txt":        "n",
		"docs/img.png":     "png",
		".git/config":      "x",
		".git/HEAD.md":     "x",
		"qa/accepted.md":   "q",
		"docs/en/sub/b.MD": "b",
	} {
		p := filepath.Join(f.kb, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	_, err = f.svc.GitSync(ctx, GitSyncInput{AdminEmail: userEmail})
	requireDomainError(t, err, http.StatusForbidden, CodePermissionDenied)
	assert.Empty(t, git.reqs)

	result, err = f.svc.GitSync(ctx, GitSyncInput{AdminEmail: adminEmail, CreatePR: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "docs/update-20260501-123045", result.Branch)

	require.Len(t, git.reqs, 1)
	req := git.reqs[0]
	assert.Equal(t, "Documentation update by "+adminEmail, req.Message)
	assert.True(t, req.CreatePR)
	assert.ElementsMatch(t, []string{
		filepath.Join(f.kb, "docs", "en", "a.md"),
		filepath.Join(f.kb, "docs", "en", "sub", "b.MD"),
		filepath.Join(f.kb, "notes.txt"),
		filepath.Join(f.kb, "qa", "accepted.md"),
	}, req.Files)

	requested := f.events(events.GitSyncRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, "docs/update-20260501-123045", requested[0].BranchName)
}

func TestFeatureWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	suggested, err := f.svc.SuggestFeature(ctx, SuggestFeatureInput{Title: "Dark mode", Description: "Please", UserEmail: userEmail})
	require.NoError(t, err)
	assert.True(t, suggested.FileWritten)
	data, err := os.ReadFile(filepath.Join(f.kb, "suggestions", "suggested_features.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "## "+suggested.FeatureID+": Dark mode")

	_, err = f.svc.SuggestFeature(ctx, SuggestFeatureInput{UserEmail: userEmail})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	voted, err := f.svc.UpvoteFeature(ctx, strings.ToLower(suggested.FeatureID))
	require.NoError(t, err)
	assert.Equal(t, 1, voted.Votes)

	commented, err := f.svc.CommentFeature(ctx, suggested.FeatureID, userEmail, "+1")
	require.NoError(t, err)
	require.Len(t, commented.Comments, 1)

	_, err = f.svc.UpdateFeatureStatus(ctx, userEmail, suggested.FeatureID, "planned")
	requireDomainError(t, err, http.StatusForbidden, CodePermissionDenied)
	_, err = f.svc.UpdateFeatureStatus(ctx, adminEmail, suggested.FeatureID, "someday")
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)
	planned, err := f.svc.UpdateFeatureStatus(ctx, adminEmail, suggested.FeatureID, "planned")
	require.NoError(t, err)
	assert.Equal(t, models.FeaturePlanned, planned.Status)

	open, err := f.svc.Features(ctx, "open")
	require.NoError(t, err)
	assert.Empty(t, open)
	_, err = f.svc.UpvoteFeature(ctx, "FEAT-00000000")
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestLanguagePreferenceAppliesToDrafts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.SetLanguage(ctx, userEmail, "klingon")
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	lang, err := f.svc.SetLanguage(ctx, userEmail, "magyar")
	require.NoError(t, err)
	assert.Equal(t, models.LangHU, lang)

	created, err := f.svc.CreateDraft(ctx, CreateDraftInput{Content: "c", TargetSection: "a.md", UserEmail: userEmail})
	require.NoError(t, err)
	d, err := f.drafts.Get(ctx, created.DraftID)
	require.NoError(t, err)
	assert.Equal(t, models.LangHU, d.Language)
}

func TestSearchWithoutRetriever(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Search(context.Background(), "deploy", 3)
	requireDomainError(t, err, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE")
	_, err = f.svc.Search(context.Background(), " ", 3)
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)
}
