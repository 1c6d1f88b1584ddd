package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const maxReviewTitle = 80

// Syncer runs branch, commit, push and review as one serialized sequence.
type Syncer struct {
	mu         sync.Mutex
	repo       Repo
	reviewer   Reviewer
	baseBranch string
	logger     *zap.Logger
}

// NewSyncer returns a Syncer. reviewer may be nil, in which case no review
// requests are opened.
func NewSyncer(repo Repo, reviewer Reviewer, baseBranch string, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{repo: repo, reviewer: reviewer, baseBranch: baseBranch, logger: logger.Named("git")}
}

func (s *Syncer) Sync(ctx context.Context, req SyncRequest) SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := SyncResult{Branch: req.Branch}
	if result.Branch == "" {
		current, err := s.repo.CurrentBranch(ctx)
		if err != nil {
			current = "unknown"
		}
		result.Branch = current
	}

	if req.Branch != "" {
		if err := s.repo.CreateBranch(ctx, req.Branch, s.baseBranch); err != nil {
			s.logger.Error("branch creation failed", zap.String("branch", req.Branch), zap.Error(err))
			result.Error = fmt.Sprintf("Failed to create branch %s", req.Branch)
			return result
		}
	}

	sha, err := s.repo.Commit(ctx, req.Files, req.Message)
	if err != nil {
		if errors.Is(err, ErrNothingToCommit) {
			s.logger.Info("nothing to commit", zap.Strings("files", req.Files))
		} else {
			s.logger.Error("commit failed", zap.Error(err))
		}
		result.Error = "Failed to commit changes"
		return result
	}
	result.CommitSHA = sha

	if err := s.repo.Push(ctx, req.Branch); err != nil {
		s.logger.Error("push failed", zap.String("branch", result.Branch), zap.Error(err))
		result.Error = "Failed to push changes"
		return result
	}

	if req.CreatePR && req.Branch != "" && s.reviewer != nil {
		url, err := s.reviewer.OpenReview(ctx, reviewTitle(req.Message), req.Message, req.Branch)
		if err != nil {
			// The commit is already pushed; a missing review request does not
			// undo the sync.
			s.logger.Error("review request failed", zap.String("branch", req.Branch), zap.Error(err))
		}
		result.PRURL = url
	}

	result.Success = true
	s.logger.Info("git sync complete",
		zap.String("branch", result.Branch),
		zap.String("commit", shortSHA(sha)),
		zap.String("pr_url", result.PRURL),
	)
	return result
}

func reviewTitle(message string) string {
	title, _, _ := strings.Cut(message, "\n")
	if r := []rune(title); len(r) > maxReviewTitle {
		title = string(r[:maxReviewTitle])
	}
	return title
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
