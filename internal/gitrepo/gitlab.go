package gitrepo

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"go.uber.org/zap"
)

// GitLabReviewer opens merge requests against a fixed target branch.
type GitLabReviewer struct {
	client       *gitlab.Client
	project      string
	targetBranch string
	logger       *zap.Logger
}

func NewGitLabReviewer(baseURL, token, project, targetBranch string, logger *zap.Logger) (*GitLabReviewer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []gitlab.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	return &GitLabReviewer{
		client:       client,
		project:      project,
		targetBranch: targetBranch,
		logger:       logger.Named("gitlab"),
	}, nil
}

func (r *GitLabReviewer) OpenReview(ctx context.Context, title, description, branch string) (string, error) {
	mr, _, err := r.client.MergeRequests.CreateMergeRequest(r.project, &gitlab.CreateMergeRequestOptions{
		Title:              gitlab.Ptr(title),
		Description:        gitlab.Ptr(description),
		SourceBranch:       gitlab.Ptr(branch),
		TargetBranch:       gitlab.Ptr(r.targetBranch),
		RemoveSourceBranch: gitlab.Ptr(true),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create merge request: %w", err)
	}
	r.logger.Info("merge request opened", zap.Int64("iid", mr.IID), zap.String("url", mr.WebURL))
	return mr.WebURL, nil
}
