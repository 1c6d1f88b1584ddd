package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/gitrepo"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/language"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/permission"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/repository"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/search"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/util"
)

const (
	eventSource         = "workflow_service"
	notificationHandler = "notification"
	closingNote         = "Closed by an administrator without a written answer."
	gitDisabledMessage  = "Git operations are disabled. Set DOCS_GIT_ENABLED=true."
	defaultQAListLimit  = 10
)

// Syncer commits and publishes knowledge base files. Implemented by
// *gitrepo.Syncer.
type Syncer interface {
	Sync(ctx context.Context, req gitrepo.SyncRequest) gitrepo.SyncResult
}

// Dependencies are the collaborators of the orchestrator, built once by the
// composition root. Git and Retriever may be nil.
type Dependencies struct {
	Drafts    *repository.DraftRepository
	Queue     *repository.QueueRepository
	Features  *repository.FeatureRepository
	Gate      *permission.Gate
	Bus       *events.Bus
	Lang      *language.Service
	Writer    FileWriter
	Git       Syncer
	Retriever search.Retriever
	// Checks are run by Ready, keyed by component name.
	Checks map[string]func(context.Context) error
	Logger *zap.Logger
	Now    func() time.Time
}

// Service runs the documentation workflows: a user action becomes a
// persisted state transition followed by the events that drive its side
// effects. Admin-only transitions are checked before anything is written.
type Service struct {
	drafts    *repository.DraftRepository
	queue     *repository.QueueRepository
	features  *repository.FeatureRepository
	gate      *permission.Gate
	bus       *events.Bus
	lang      *language.Service
	writer    FileWriter
	git       Syncer
	retriever search.Retriever
	checks    map[string]func(context.Context) error
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = models.Now
	}
	if deps.Writer == nil {
		deps.Writer = NewDiskWriter()
	}
	return &Service{
		drafts:    deps.Drafts,
		queue:     deps.Queue,
		features:  deps.Features,
		gate:      deps.Gate,
		bus:       deps.Bus,
		lang:      deps.Lang,
		writer:    deps.Writer,
		git:       deps.Git,
		retriever: deps.Retriever,
		checks:    deps.Checks,
		logger:    deps.Logger.Named("workflow"),
		now:       deps.Now,
	}
}

// emit publishes e and waits for every handler.
func (s *Service) emit(ctx context.Context, e events.Event) []events.HandlerResult {
	results := s.bus.Emit(ctx, e)
	if failed := events.Failed(results); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, r.Handler)
		}
		s.logger.Warn("event handlers failed", zap.String("event_type", e.Type.String()), zap.Strings("handlers", names))
	}
	return results
}

func notified(results []events.HandlerResult) bool {
	for _, r := range results {
		if r.Handler == notificationHandler && r.Outcome == events.OutcomeSucceeded {
			return true
		}
	}
	return false
}

func newEvent(t events.EventType, user string) events.Event {
	e := events.New(t, eventSource)
	e.UserEmail = user
	return e
}

// ---- Q&A acceptance ----

type AcceptQAInput struct {
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	UserEmail string   `json:"user_email"`
	Language  string   `json:"language"`
	Sources   []string `json:"sources"`
}

type AcceptQAResult struct {
	QAID     string `json:"qa_id"`
	FilePath string `json:"file_path"`
	Message  string `json:"message"`
}

// AcceptQA appends an accepted question and answer to the language's Q&A
// document.
func (s *Service) AcceptQA(ctx context.Context, in AcceptQAInput) (AcceptQAResult, error) {
	if strings.TrimSpace(in.Question) == "" || strings.TrimSpace(in.Answer) == "" {
		return AcceptQAResult{}, validationError("question and answer are required")
	}
	lang := s.lang.Resolve(in.Language, in.UserEmail)
	sources := in.Sources
	if sources == nil {
		sources = []string{}
	}
	qa := models.NewAcceptedQA(in.Question, in.Answer, in.UserEmail, lang, sources, s.now())

	path := s.lang.QAFilePath(lang)
	if err := s.writer.AppendEntry(path, qaHeader(lang), qa.Markdown()); err != nil {
		return AcceptQAResult{}, fmt.Errorf("save accepted qa: %w", err)
	}
	s.logger.Info("qa accepted", zap.String("qa_id", qa.ID), zap.String("language", string(lang)))

	e := newEvent(events.DocUpdated, in.UserEmail)
	e.FilePath = path
	e.Metadata["qa_id"] = qa.ID
	e.Metadata["language"] = string(lang)
	s.emit(ctx, e)

	return AcceptQAResult{
		QAID:     qa.ID,
		FilePath: path,
		Message:  fmt.Sprintf("Q&A saved to %s", filepath.Base(path)),
	}, nil
}

func (s *Service) readAcceptedQA(lang models.Language) ([]AcceptedQAEntry, string, error) {
	path := s.lang.QAFilePath(lang)
	data, err := s.writer.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, path, nil
	}
	if err != nil {
		return nil, path, fmt.Errorf("read %s: %w", path, err)
	}
	return parseAcceptedQA(string(data), lang), path, nil
}

// GetAcceptedQA finds an accepted Q&A pair by id. The id may omit the QA-
// prefix.
func (s *Service) GetAcceptedQA(ctx context.Context, id, lang string) (AcceptedQAEntry, error) {
	id = util.NormalizeID(util.PrefixQA, id)
	l, ok := language.Parse(lang)
	if !ok {
		l = language.Default
	}
	entries, path, err := s.readAcceptedQA(l)
	if err != nil {
		return AcceptedQAEntry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			e.FilePath = path
			return e, nil
		}
	}
	return AcceptedQAEntry{}, notFound("Q&A", id)
}

// ListAcceptedQA returns the most recently accepted pairs first. Questions
// are shortened and answers left out.
func (s *Service) ListAcceptedQA(ctx context.Context, lang string, limit int) ([]AcceptedQAEntry, error) {
	if limit <= 0 {
		limit = defaultQAListLimit
	}
	l, ok := language.Parse(lang)
	if !ok {
		l = language.Default
	}
	entries, _, err := s.readAcceptedQA(l)
	if err != nil {
		return nil, err
	}
	out := make([]AcceptedQAEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := entries[i]
		e.Answer = ""
		if r := []rune(e.Question); len(r) > listQuestionLen {
			e.Question = string(r[:listQuestionLen]) + "..."
		}
		out = append(out, e)
	}
	return out, nil
}

// ---- escalation ----

type EscalateInput struct {
	Question        string `json:"question"`
	BotAnswer       string `json:"bot_answer"`
	UserEmail       string `json:"user_email"`
	UserName        string `json:"user_name"`
	RejectionReason string `json:"rejection_reason"`
	Platform        string `json:"platform"`
	ConversationID  string `json:"conversation_id"`
	Language        string `json:"language"`
}

type EscalateResult struct {
	QuestionID string `json:"question_id"`
	Notified   bool   `json:"notified"`
	Message    string `json:"message"`
}

// EscalateQuestion queues a question whose bot answer the user rejected.
func (s *Service) EscalateQuestion(ctx context.Context, in EscalateInput) (EscalateResult, error) {
	if strings.TrimSpace(in.Question) == "" {
		return EscalateResult{}, validationError("question is required")
	}
	lang, ok := language.Parse(in.Language)
	if !ok {
		lang = language.Detect(in.Question)
	}
	q := models.NewPendingQuestion(in.UserEmail, in.UserName, in.Question, in.BotAnswer, in.RejectionReason, in.Platform, lang, s.now())
	q.ConversationID = in.ConversationID
	q, err := s.queue.Add(ctx, q)
	if err != nil {
		return EscalateResult{}, fmt.Errorf("queue question: %w", err)
	}

	e := newEvent(events.QuestionCreated, in.UserEmail)
	e.QuestionID = q.ID
	e.QuestionText = q.Question
	e.Metadata["platform"] = q.Platform
	e.Metadata["rejection_reason"] = in.RejectionReason
	e.Metadata["language"] = string(lang)
	results := s.emit(ctx, e)

	s.logger.Info("question escalated", zap.String("question_id", q.ID), zap.String("platform", q.Platform))
	return EscalateResult{
		QuestionID: q.ID,
		Notified:   notified(results),
		Message:    "Question escalated to admin queue. An administrator will review it shortly.",
	}, nil
}

// Respond actions.
const (
	ActionAnswer = "answer"
	ActionOnHold = "on_hold"
	ActionClose  = "close"
)

type RespondInput struct {
	QuestionID string `json:"question_id"`
	AdminEmail string `json:"admin_email"`
	Response   string `json:"response"`
	Action     string `json:"action"`
}

type RespondResult struct {
	QuestionID string                `json:"question_id"`
	Action     string                `json:"action"`
	Status     models.QuestionStatus `json:"status"`
	Notified   bool                  `json:"notified"`
	Message    string                `json:"message"`
}

// RespondToQuestion lets an admin answer, hold or close an escalated
// question.
func (s *Service) RespondToQuestion(ctx context.Context, in RespondInput) (RespondResult, error) {
	id := util.NormalizeID(util.PrefixQuestion, in.QuestionID)
	if err := s.gate.RequireAdmin(in.AdminEmail, permission.ActionRespondQuestion); err != nil {
		return RespondResult{}, classify("question", id, err)
	}
	action := strings.ToLower(strings.TrimSpace(in.Action))
	if action == "" {
		action = ActionAnswer
	}

	var (
		q   models.PendingQuestion
		err error
	)
	switch action {
	case ActionAnswer:
		if strings.TrimSpace(in.Response) == "" {
			return RespondResult{}, validationError("response is required")
		}
		q, err = s.queue.Respond(ctx, id, in.AdminEmail, in.Response)
	case ActionOnHold:
		q, err = s.queue.PutOnHold(ctx, id)
	case ActionClose:
		q, err = s.queue.Respond(ctx, id, in.AdminEmail, closingNote)
	default:
		return RespondResult{}, validationError(fmt.Sprintf("unknown action %q", in.Action))
	}
	if err != nil {
		return RespondResult{}, classify("question", id, err)
	}

	result := RespondResult{QuestionID: id, Action: action, Status: q.Status}
	if action == ActionAnswer {
		e := newEvent(events.QuestionAnswered, in.AdminEmail)
		e.QuestionID = id
		e.QuestionText = q.Question
		e.AnswerText = in.Response
		e.Metadata["original_user"] = q.UserEmail
		e.Metadata["platform"] = q.Platform
		result.Notified = notified(s.emit(ctx, e))
	}
	result.Message = fmt.Sprintf("Question %s: %s", id, q.Status)
	s.logger.Info("question responded", zap.String("question_id", id), zap.String("action", action), zap.String("admin", in.AdminEmail))
	return result, nil
}

func (s *Service) PendingQuestions(ctx context.Context, adminEmail string) ([]models.PendingQuestion, error) {
	if err := s.gate.RequireAdmin(adminEmail, permission.ActionViewQueue); err != nil {
		return nil, classify("queue", "", err)
	}
	return s.queue.GetPending(ctx)
}

// ---- feature suggestions ----

type SuggestFeatureInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	UserEmail   string `json:"user_email"`
	UserName    string `json:"user_name"`
	Language    string `json:"language"`
}

type SuggestFeatureResult struct {
	FeatureID   string `json:"feature_id"`
	FilePath    string `json:"file_path"`
	FileWritten bool   `json:"file_written"`
	Message     string `json:"message"`
}

func (s *Service) SuggestFeature(ctx context.Context, in SuggestFeatureInput) (SuggestFeatureResult, error) {
	if strings.TrimSpace(in.Title) == "" {
		return SuggestFeatureResult{}, validationError("title is required")
	}
	lang := s.lang.Resolve(in.Language, in.UserEmail)
	f, err := s.features.Add(ctx, models.NewFeatureSuggestion(in.UserEmail, in.UserName, in.Title, in.Description, lang, s.now()))
	if err != nil {
		return SuggestFeatureResult{}, fmt.Errorf("save feature: %w", err)
	}

	path := s.lang.SuggestionsFilePath()
	result := SuggestFeatureResult{
		FeatureID: f.ID,
		FilePath:  path,
		Message:   fmt.Sprintf("Feature suggestion '%s' submitted successfully.", f.Title),
	}
	if err := s.writer.AppendEntry(path, suggestionsHeader, suggestionEntry(f)); err != nil {
		s.logger.Error("suggestions file write failed", zap.String("feature_id", f.ID), zap.Error(err))
	} else {
		result.FileWritten = true
	}
	s.logger.Info("feature suggested", zap.String("feature_id", f.ID), zap.String("user", in.UserEmail))
	return result, nil
}

// Features lists suggestions, optionally filtered by status.
func (s *Service) Features(ctx context.Context, status string) ([]models.FeatureSuggestion, error) {
	if status == "" {
		return s.features.GetAll(ctx)
	}
	st, err := models.ParseFeatureStatus(status)
	if err != nil {
		return nil, validationError(err.Error())
	}
	return s.features.GetByStatus(ctx, st)
}

func (s *Service) TopFeatures(ctx context.Context, limit int) ([]models.FeatureSuggestion, error) {
	return s.features.GetTopVoted(ctx, limit)
}

func (s *Service) UpvoteFeature(ctx context.Context, id string) (models.FeatureSuggestion, error) {
	id = util.NormalizeID(util.PrefixFeature, id)
	f, err := s.features.Upvote(ctx, id)
	return f, classify("feature", id, err)
}

func (s *Service) CommentFeature(ctx context.Context, id, userEmail, comment string) (models.FeatureSuggestion, error) {
	id = util.NormalizeID(util.PrefixFeature, id)
	if strings.TrimSpace(comment) == "" {
		return models.FeatureSuggestion{}, validationError("comment is required")
	}
	f, err := s.features.AddComment(ctx, id, userEmail, comment)
	return f, classify("feature", id, err)
}

// UpdateFeatureStatus is the admin moderation path for suggestions.
func (s *Service) UpdateFeatureStatus(ctx context.Context, adminEmail, id, status string) (models.FeatureSuggestion, error) {
	id = util.NormalizeID(util.PrefixFeature, id)
	if err := s.gate.RequireAdmin(adminEmail, permission.ActionModerateFeature); err != nil {
		return models.FeatureSuggestion{}, classify("feature", id, err)
	}
	st, err := models.ParseFeatureStatus(status)
	if err != nil {
		return models.FeatureSuggestion{}, validationError(err.Error())
	}
	f, err := s.features.UpdateStatus(ctx, id, st)
	return f, classify("feature", id, err)
}

// ---- drafts ----

type CreateDraftInput struct {
	Content       string `json:"content"`
	TargetSection string `json:"target_section"`
	Description   string `json:"description"`
	UserEmail     string `json:"user_email"`
	UserName      string `json:"user_name"`
	Language      string `json:"language"`
}

type CreateDraftResult struct {
	DraftID     string `json:"draft_id"`
	FilePath    string `json:"file_path"`
	FileWritten bool   `json:"file_written"`
	Notified    bool   `json:"notified"`
	Message     string `json:"message"`
}

// CreateDraft stores a proposed documentation change for admin review.
func (s *Service) CreateDraft(ctx context.Context, in CreateDraftInput) (CreateDraftResult, error) {
	if strings.TrimSpace(in.Content) == "" || strings.TrimSpace(in.TargetSection) == "" {
		return CreateDraftResult{}, validationError("content and target_section are required")
	}
	lang := s.lang.Resolve(in.Language, in.UserEmail)
	d, err := s.drafts.Add(ctx, models.NewDraftUpdate(in.UserEmail, in.UserName, in.Content, in.TargetSection, in.Description, lang, s.now()))
	if err != nil {
		return CreateDraftResult{}, fmt.Errorf("save draft: %w", err)
	}

	path := s.lang.DraftsFilePath()
	result := CreateDraftResult{
		DraftID:  d.ID,
		FilePath: path,
		Message:  fmt.Sprintf("Draft update '%s' created successfully and submitted for review.", d.ID),
	}
	if err := s.writer.AppendEntry(path, draftsHeader, draftEntry(d)); err != nil {
		s.logger.Error("drafts file write failed", zap.String("draft_id", d.ID), zap.Error(err))
	} else {
		result.FileWritten = true
	}

	e := newEvent(events.DraftCreated, in.UserEmail)
	e.DraftID = d.ID
	e.DraftContent = d.Content
	e.TargetSection = d.TargetSection
	e.Metadata["description"] = d.Description
	e.Metadata["language"] = string(lang)
	result.Notified = notified(s.emit(ctx, e))

	s.logger.Info("draft created", zap.String("draft_id", d.ID), zap.String("target", d.TargetSection))
	return result, nil
}

// Drafts lists drafts, optionally filtered by status.
type DraftList struct {
	Drafts []models.DraftUpdate
	// PendingCount is only reported to admins.
	PendingCount int
}

// Drafts lists drafts visible to viewer. Admins see every draft, everyone
// else only their own.
func (s *Service) Drafts(ctx context.Context, viewer, status string) (DraftList, error) {
	var st models.DraftStatus
	filtered := status != ""
	if filtered {
		parsed, err := models.ParseDraftStatus(status)
		if err != nil {
			return DraftList{}, validationError(err.Error())
		}
		st = parsed
	}

	if !s.gate.IsAdmin(viewer) {
		mine, err := s.drafts.GetByUser(ctx, viewer)
		if err != nil {
			return DraftList{}, err
		}
		out := make([]models.DraftUpdate, 0, len(mine))
		for _, d := range mine {
			if !filtered || d.Status == st {
				out = append(out, d)
			}
		}
		return DraftList{Drafts: out}, nil
	}

	var (
		drafts []models.DraftUpdate
		err    error
	)
	if !filtered {
		drafts, err = s.drafts.GetAll(ctx)
	} else {
		drafts, err = s.drafts.GetByStatus(ctx, st)
	}
	if err != nil {
		return DraftList{}, err
	}
	pending, err := s.drafts.CountPending(ctx)
	if err != nil {
		return DraftList{}, err
	}
	return DraftList{Drafts: drafts, PendingCount: pending}, nil
}

type AcceptDraftInput struct {
	DraftID          string
	AdminEmail       string
	ApplyImmediately bool
	CommitChanges    bool
	// ExpectedVersion, when positive, must match the stored draft.
	ExpectedVersion int64
}

type AcceptDraftResult struct {
	DraftID   string `json:"draft_id"`
	Approved  bool   `json:"approved"`
	Applied   bool   `json:"applied"`
	FilePath  string `json:"file_path,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	GitError  string `json:"git_error,omitempty"`
	Notified  bool   `json:"notified"`
	Message   string `json:"message"`
}

// AcceptDraft approves a draft and optionally applies and commits it. A
// failed apply leaves the draft approved so it can be applied again later;
// the retry does not write content the target already holds.
func (s *Service) AcceptDraft(ctx context.Context, in AcceptDraftInput) (AcceptDraftResult, error) {
	id := util.NormalizeID(util.PrefixDraft, in.DraftID)
	if err := s.gate.RequireAdmin(in.AdminEmail, permission.ActionAcceptDraft); err != nil {
		return AcceptDraftResult{}, classify("draft", id, err)
	}
	d, err := s.drafts.Get(ctx, id)
	if err != nil {
		return AcceptDraftResult{}, classify("draft", id, err)
	}
	retry := d.Status == models.DraftApproved
	if !retry {
		d, err = s.drafts.Approve(ctx, id, in.AdminEmail, in.ExpectedVersion)
		if err != nil {
			return AcceptDraftResult{}, classify("draft", id, err)
		}
	}

	result := AcceptDraftResult{
		DraftID:  id,
		Approved: true,
		Message:  fmt.Sprintf("Draft %s approved by %s", id, in.AdminEmail),
	}

	if in.ApplyImmediately {
		path, err := s.applyDraft(ctx, d, retry)
		if err != nil {
			s.logger.Error("draft application failed", zap.String("draft_id", id), zap.Error(err))
		} else if _, err := s.drafts.MarkApplied(ctx, id); err != nil {
			result.FilePath = path
			result.Message = fmt.Sprintf("Draft %s approved and written to %s, but could not be marked applied.", id, path)
			s.logger.Error("mark applied failed", zap.String("draft_id", id), zap.String("file", path), zap.Error(err))
		} else {
			result.Applied = true
			result.FilePath = path
			result.Message = fmt.Sprintf("Draft %s approved and applied to documentation.", id)
		}
	}

	e := newEvent(events.DraftApproved, in.AdminEmail)
	e.DraftID = id
	e.DraftContent = d.Content
	e.TargetSection = d.TargetSection
	e.FilePath = result.FilePath
	e.Metadata["applied"] = result.Applied
	// Navigation runs on this event, so the commit below follows it.
	e.Metadata[events.MetaCommitted] = in.CommitChanges
	result.Notified = notified(s.emit(ctx, e))

	if result.Applied && in.CommitChanges && s.git != nil {
		subject := d.Description
		if strings.TrimSpace(subject) == "" {
			subject = d.TargetSection
		}
		files := []string{result.FilePath}
		if mkdocs := filepath.Join(s.lang.DocsRoot(), "mkdocs.yml"); fileExists(mkdocs) {
			files = append(files, mkdocs)
		}
		sync := s.git.Sync(ctx, gitrepo.SyncRequest{
			Files:    files,
			Message:  fmt.Sprintf("Apply draft %s: %s", id, subject),
			Branch:   "docs/draft-" + strings.ToLower(id),
			CreatePR: true,
		})
		result.GitCommit = sync.CommitSHA
		result.PRURL = sync.PRURL
		if !sync.Success {
			result.GitError = sync.Error
			s.logger.Warn("draft commit failed", zap.String("draft_id", id), zap.String("error", sync.Error))
		}
	}

	s.logger.Info("draft accepted", zap.String("draft_id", id), zap.String("admin", in.AdminEmail), zap.Bool("applied", result.Applied))
	return result, nil
}

// applyDraft writes the draft content to its target and announces the
// changed file. When resuming, a target that already contains the content is
// left alone.
func (s *Service) applyDraft(ctx context.Context, d models.DraftUpdate, resume bool) (string, error) {
	path, err := s.resolveTarget(d.TargetSection, d.Language)
	if err != nil {
		return "", err
	}
	if resume && s.holdsContent(path, d.Content) {
		s.logger.Info("draft content already written", zap.String("draft_id", d.ID), zap.String("file", path))
		return path, nil
	}
	if err := s.writer.MergeContent(path, d.Content); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Info("draft applied", zap.String("draft_id", d.ID), zap.String("file", path))

	e := newEvent(events.DocUpdated, "")
	e.FilePath = path
	e.DraftID = d.ID
	e.Metadata["language"] = string(d.Language)
	// AcceptDraft decides about the commit once navigation has caught up.
	e.Metadata[events.MetaCommitted] = false
	s.emit(ctx, e)
	return path, nil
}

func (s *Service) holdsContent(path, content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	data, err := s.writer.ReadFile(path)
	return err == nil && strings.Contains(string(data), content)
}

// resolveTarget maps a draft target to a file. Targets containing a path
// separator are relative to the knowledge base root; bare names live in the
// language's docs folder.
func (s *Service) resolveTarget(target string, lang models.Language) (string, error) {
	var base, path string
	if strings.ContainsAny(target, `/\`) {
		base = s.lang.KnowledgeBasePath()
		path = filepath.Join(base, filepath.FromSlash(strings.ReplaceAll(target, `\`, "/")))
	} else {
		if !language.IsSupported(lang) {
			lang = language.Default
		}
		base = s.lang.DocsPath(lang)
		path = filepath.Join(base, target)
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("target %q resolves outside the knowledge base", target)
	}
	return path, nil
}

type RejectDraftInput struct {
	DraftID         string `json:"draft_id"`
	AdminEmail      string `json:"admin_email"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

type RejectDraftResult struct {
	DraftID  string `json:"draft_id"`
	Notified bool   `json:"notified"`
	Message  string `json:"message"`
}

func (s *Service) RejectDraft(ctx context.Context, in RejectDraftInput) (RejectDraftResult, error) {
	id := util.NormalizeID(util.PrefixDraft, in.DraftID)
	if err := s.gate.RequireAdmin(in.AdminEmail, permission.ActionRejectDraft); err != nil {
		return RejectDraftResult{}, classify("draft", id, err)
	}
	d, err := s.drafts.Reject(ctx, id, in.Reason, in.ExpectedVersion)
	if err != nil {
		return RejectDraftResult{}, classify("draft", id, err)
	}

	e := newEvent(events.DraftRejected, in.AdminEmail)
	e.DraftID = id
	e.TargetSection = d.TargetSection
	e.Metadata["reason"] = d.RejectionReason
	results := s.emit(ctx, e)

	s.logger.Info("draft rejected", zap.String("draft_id", id), zap.String("admin", in.AdminEmail))
	return RejectDraftResult{
		DraftID:  id,
		Notified: notified(results),
		Message:  fmt.Sprintf("Draft %s rejected: %s", id, d.RejectionReason),
	}, nil
}

// ---- git ----

type GitSyncInput struct {
	AdminEmail    string `json:"admin_email"`
	CommitMessage string `json:"commit_message"`
	BranchName    string `json:"branch_name"`
	CreatePR      bool   `json:"create_pr"`
}

// GitSync commits every markdown and text file of the knowledge base.
func (s *Service) GitSync(ctx context.Context, in GitSyncInput) (gitrepo.SyncResult, error) {
	if err := s.gate.RequireAdmin(in.AdminEmail, permission.ActionGitSync); err != nil {
		return gitrepo.SyncResult{}, classify("git", "", err)
	}
	return s.syncAll(ctx, in), nil
}

// ScheduledSync is the unattended variant of GitSync run by the scheduler.
func (s *Service) ScheduledSync(ctx context.Context) gitrepo.SyncResult {
	return s.syncAll(ctx, GitSyncInput{CommitMessage: "docs: Scheduled documentation sync", CreatePR: true})
}

func (s *Service) syncAll(ctx context.Context, in GitSyncInput) gitrepo.SyncResult {
	if s.git == nil {
		return gitrepo.SyncResult{Success: false, Error: gitDisabledMessage}
	}
	branch := in.BranchName
	if branch == "" {
		branch = "docs/update-" + s.now().UTC().Format("20060102-150405")
	}
	message := in.CommitMessage
	if message == "" {
		message = "Documentation update by " + in.AdminEmail
	}

	files, err := knowledgeBaseFiles(s.lang.KnowledgeBasePath())
	if err != nil {
		s.logger.Error("collect knowledge base files failed", zap.Error(err))
		return gitrepo.SyncResult{Branch: branch, Error: "Failed to collect files"}
	}

	e := newEvent(events.GitSyncRequested, in.AdminEmail)
	e.BranchName = branch
	e.Metadata["commit_message"] = message
	e.Metadata["create_pr"] = in.CreatePR
	s.emit(ctx, e)

	result := s.git.Sync(ctx, gitrepo.SyncRequest{Files: files, Message: message, Branch: branch, CreatePR: in.CreatePR})
	s.logger.Info("git sync finished", zap.String("admin", in.AdminEmail), zap.Bool("success", result.Success), zap.String("branch", result.Branch))
	return result
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// knowledgeBaseFiles lists *.md and *.txt files under root, skipping hidden
// directories such as .git.
func knowledgeBaseFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	sort.Strings(files)
	return files, err
}

// ---- misc ----

// SetLanguage stores a user's preferred documentation language.
func (s *Service) SetLanguage(ctx context.Context, userEmail, lang string) (models.Language, error) {
	if strings.TrimSpace(userEmail) == "" {
		return "", validationError("user is required")
	}
	l, ok := language.Parse(lang)
	if !ok {
		return "", validationError(fmt.Sprintf("unsupported language %q", lang))
	}
	s.lang.SetPreference(userEmail, l)
	return l, nil
}

// Search retrieves knowledge base chunks for a query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]search.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, validationError("query is required")
	}
	if s.retriever == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	hits, err := s.retriever.Retrieve(ctx, query, limit)
	if errors.Is(err, search.ErrUnavailable) {
		return nil, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search backend unavailable", nil)
	}
	return hits, err
}

// Ready runs the readiness checks and reports each one.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ok := true
	report := make(map[string]any, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			ok = false
			report[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		report[name] = map[string]any{"status": "ok"}
	}
	return ok, report
}
