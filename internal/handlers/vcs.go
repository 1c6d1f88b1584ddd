package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/gitrepo"
)

// Syncer runs a git sync. Implemented by *gitrepo.Syncer.
type Syncer interface {
	Sync(ctx context.Context, req gitrepo.SyncRequest) gitrepo.SyncResult
}

// Emitter publishes follow-up events. Implemented by *events.Bus.
type Emitter interface {
	Emit(ctx context.Context, e events.Event) []events.HandlerResult
}

// VCS commits changed knowledge base files to a review branch, records the
// attempt in the git action log and announces successful syncs.
type VCS struct {
	syncer     Syncer
	enabled    bool
	mkdocsPath string
	actions    *gitrepo.ActionLog
	emitter    Emitter
	now        func() time.Time
	logger     *zap.Logger
}

type VCSConfig struct {
	Enabled bool
	// MkDocsPath is committed alongside approved drafts and answers when it
	// exists.
	MkDocsPath string
	ActionLog  *gitrepo.ActionLog
}

func NewVCS(syncer Syncer, emitter Emitter, cfg VCSConfig, logger *zap.Logger) *VCS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VCS{
		syncer:     syncer,
		enabled:    cfg.Enabled && syncer != nil,
		mkdocsPath: cfg.MkDocsPath,
		actions:    cfg.ActionLog,
		emitter:    emitter,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.Named("vcs"),
	}
}

func (v *VCS) Name() string { return "vcs" }

func (v *VCS) Handle(ctx context.Context, e events.Event) error {
	if !v.enabled {
		return events.ErrSkipped
	}
	if _, done := e.Metadata[events.MetaCommitted]; done {
		return events.ErrSkipped
	}

	var files []string
	if e.FilePath != "" {
		files = append(files, e.FilePath)
	}
	if e.Type == events.DraftApproved || e.Type == events.QuestionAnswered {
		if v.mkdocsPath != "" {
			if _, err := os.Stat(v.mkdocsPath); err == nil {
				files = append(files, v.mkdocsPath)
			}
		}
	}
	if len(files) == 0 {
		v.logger.Debug("no files to sync", zap.String("event_type", e.Type.String()))
		return events.ErrSkipped
	}

	branch := BranchName(e, v.now())
	result := v.syncer.Sync(ctx, gitrepo.SyncRequest{
		Files:    files,
		Message:  CommitMessage(e),
		Branch:   branch,
		CreatePR: true,
	})

	entry := gitrepo.ActionEntry{
		Time:      v.now(),
		Action:    "sync",
		Success:   result.Success,
		EventType: e.Type.String(),
		User:      e.UserEmail,
		Branch:    branch,
		Files:     files,
	}
	if result.Success {
		entry.Branch = result.Branch
		entry.CommitSHA = result.CommitSHA
		entry.PRURL = result.PRURL
	} else {
		entry.Error = result.Error
	}
	v.record(entry)

	if !result.Success {
		return fmt.Errorf("git sync on %s: %s", branch, result.Error)
	}

	v.logger.Info("git sync completed",
		zap.String("event_type", e.Type.String()),
		zap.String("branch", result.Branch),
		zap.String("commit", result.CommitSHA),
	)
	if v.emitter != nil {
		done := events.New(events.GitSyncCompleted, "vcs_handler")
		done.UserEmail = e.UserEmail
		done.CommitSHA = result.CommitSHA
		done.BranchName = result.Branch
		done.FilePath = e.FilePath
		done.Metadata["pr_url"] = result.PRURL
		done.Metadata["original_event"] = e.Type.String()
		v.emitter.Emit(ctx, done)
	}
	return nil
}

func (v *VCS) record(entry gitrepo.ActionEntry) {
	if v.actions == nil {
		return
	}
	if err := v.actions.Append(entry); err != nil {
		v.logger.Error("git action log write failed", zap.String("path", v.actions.Path()), zap.Error(err))
	}
}

// CommitMessage describes the change an event represents.
func CommitMessage(e events.Event) string {
	var msg string
	switch e.Type {
	case events.DraftApproved:
		msg = "docs: Apply approved draft " + orUnknown(e.DraftID)
	case events.QuestionAnswered:
		msg = "docs: Add answer for question " + orUnknown(e.QuestionID)
	case events.GitSyncRequested:
		user := e.UserEmail
		if user == "" {
			user = "system"
		}
		msg = "docs: Manual sync requested by " + user
	default:
		msg = "docs: Update documentation"
	}
	if e.TargetSection != "" {
		msg += " - " + e.TargetSection
	}
	return msg
}

// BranchName picks the review branch for an event.
func BranchName(e events.Event, now time.Time) string {
	switch {
	case e.DraftID != "":
		return "docs/draft-" + strings.ToLower(e.DraftID)
	case e.QuestionID != "":
		return "docs/qa-" + strings.ToLower(e.QuestionID)
	default:
		return "docs/update-" + now.UTC().Format("20060102-150405")
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
