// Package gitrepo commits knowledge base changes and publishes them for
// review.
package gitrepo

import (
	"context"
	"errors"
)

var (
	ErrNothingToCommit = errors.New("nothing to commit")
	ErrNoRemote        = errors.New("remote not configured")
	ErrOutsideRepo     = errors.New("path outside repository")
)

// Repo is a working tree that can be branched, committed and pushed.
type Repo interface {
	CurrentBranch(ctx context.Context) (string, error)
	CreateBranch(ctx context.Context, name, from string) error
	// Commit stages files and commits them, returning the full commit hash.
	Commit(ctx context.Context, files []string, message string) (string, error)
	Push(ctx context.Context, branch string) error
}

// Reviewer opens a review request (merge request) for a pushed branch.
type Reviewer interface {
	OpenReview(ctx context.Context, title, description, branch string) (string, error)
}

type SyncRequest struct {
	Files    []string
	Message  string
	Branch   string
	CreatePR bool
}

// SyncResult reports how far a sync got. Error is set whenever Success is
// false.
type SyncResult struct {
	Success   bool   `json:"success"`
	Branch    string `json:"branch,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	Error     string `json:"error,omitempty"`
}
