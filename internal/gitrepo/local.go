package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"go.uber.org/zap"
)

type LocalConfig struct {
	Path        string
	BaseBranch  string
	RemoteName  string
	SSHKeyPath  string
	HTTPToken   string
	AuthorName  string
	AuthorEmail string
	PushRetries uint64
}

// Local drives a working tree on disk with go-git. Branch switches never
// rewrite the working tree: it is the live knowledge base.
type Local struct {
	mu      sync.Mutex
	repo    *git.Repository
	cfg     LocalConfig
	auth    transport.AuthMethod
	logger  *zap.Logger
	nowFunc func() time.Time
}

// OpenLocal opens the repository at cfg.Path, initializing it with an empty
// baseline commit on cfg.BaseBranch when none exists.
func OpenLocal(cfg LocalConfig, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.RemoteName == "" {
		cfg.RemoteName = git.DefaultRemoteName
	}
	if cfg.PushRetries == 0 {
		cfg.PushRetries = 3
	}
	l := &Local{cfg: cfg, logger: logger.Named("git"), nowFunc: time.Now}

	auth, err := authMethod(cfg)
	if err != nil {
		return nil, err
	}
	l.auth = auth

	repo, err := git.PlainOpen(cfg.Path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = l.initRepo()
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	l.repo = repo
	return l, nil
}

func authMethod(cfg LocalConfig) (transport.AuthMethod, error) {
	switch {
	case cfg.SSHKeyPath != "":
		keys, err := ssh.NewPublicKeysFromFile("git", cfg.SSHKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("load ssh key: %w", err)
		}
		return keys, nil
	case cfg.HTTPToken != "":
		return &githttp.BasicAuth{Username: "oauth2", Password: cfg.HTTPToken}, nil
	default:
		return nil, nil
	}
}

func (l *Local) initRepo() (*git.Repository, error) {
	if err := os.MkdirAll(l.cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(l.cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	base := plumbing.NewBranchReferenceName(l.cfg.BaseBranch)
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, base)); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", l.cfg.BaseBranch, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Commit("Initialize knowledge base", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            l.signature(),
	}); err != nil {
		return nil, fmt.Errorf("commit baseline: %w", err)
	}
	l.logger.Info("initialized repository", zap.String("path", l.cfg.Path), zap.String("branch", l.cfg.BaseBranch))
	return repo, nil
}

func (l *Local) Root() string { return l.cfg.Path }

func (l *Local) CurrentBranch(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	head, err := l.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Name().Short(), nil
}

// CreateBranch checks out name, creating it from the tip of from (local, then
// remote-tracking) or HEAD when from is empty. An existing branch is checked
// out as is.
func (l *Local) CreateBranch(ctx context.Context, name, from string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	worktree, err := l.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := l.repo.Reference(branchRef, true); err == nil {
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Keep: true}); err != nil {
			return fmt.Errorf("checkout branch %s: %w", name, err)
		}
		return nil
	}

	base, err := l.resolveBase(from)
	if err != nil {
		return err
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: base, Branch: branchRef, Create: true, Keep: true}); err != nil {
		return fmt.Errorf("create branch checkout %s: %w", name, err)
	}
	l.logger.Info("branch created", zap.String("branch", name), zap.String("from", from))
	return nil
}

func (l *Local) resolveBase(from string) (plumbing.Hash, error) {
	if from == "" {
		head, err := l.repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
		}
		return head.Hash(), nil
	}
	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(from),
		plumbing.NewRemoteReferenceName(l.cfg.RemoteName, from),
	}
	for _, name := range candidates {
		ref, err := l.repo.Reference(name, true)
		if err == nil {
			return ref.Hash(), nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("resolve branch %s: %w", from, err)
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("resolve branch %s: %w", from, plumbing.ErrReferenceNotFound)
}

// Commit stages files (absolute or relative to the repository root) and
// commits them. Files that no longer exist are staged as removals.
func (l *Local) Commit(ctx context.Context, files []string, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	worktree, err := l.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	for _, file := range files {
		rel, err := l.relative(file)
		if err != nil {
			return "", err
		}
		if _, statErr := os.Stat(filepath.Join(l.cfg.Path, rel)); errors.Is(statErr, os.ErrNotExist) {
			if _, err := worktree.Remove(rel); err != nil {
				l.logger.Warn("git rm failed", zap.String("file", rel), zap.Error(err))
			}
			continue
		}
		if _, err := worktree.Add(rel); err != nil {
			l.logger.Warn("git add failed", zap.String("file", rel), zap.Error(err))
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	if !hasStagedChanges(status) {
		return "", ErrNothingToCommit
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{Author: l.signature()})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	l.logger.Info("commit created", zap.String("sha", hash.String()[:8]), zap.Int("files", len(files)))
	return hash.String(), nil
}

// Push pushes branch (HEAD's branch when empty) to the configured remote,
// retrying transient failures with exponential backoff.
func (l *Local) Push(ctx context.Context, branch string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.repo.Remote(l.cfg.RemoteName); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return fmt.Errorf("push %s: %w", l.cfg.RemoteName, ErrNoRemote)
		}
		return fmt.Errorf("push: %w", err)
	}
	if branch == "" {
		head, err := l.repo.Head()
		if err != nil {
			return fmt.Errorf("resolve HEAD: %w", err)
		}
		branch = head.Name().Short()
	}
	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))

	op := func() error {
		err := l.repo.PushContext(ctx, &git.PushOptions{
			RemoteName: l.cfg.RemoteName,
			RefSpecs:   []config.RefSpec{refSpec},
			Auth:       l.auth,
		})
		switch {
		case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
			return nil
		case errors.Is(err, transport.ErrAuthenticationRequired),
			errors.Is(err, transport.ErrAuthorizationFailed),
			errors.Is(err, transport.ErrRepositoryNotFound):
			return backoff.Permanent(err)
		default:
			return err
		}
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), l.cfg.PushRetries), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		l.logger.Warn("push failed, retrying", zap.String("branch", branch), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	l.logger.Info("push successful", zap.String("branch", branch))
	return nil
}

func (l *Local) relative(file string) (string, error) {
	rel := file
	if filepath.IsAbs(file) {
		root, err := filepath.Abs(l.cfg.Path)
		if err != nil {
			return "", fmt.Errorf("resolve repo root: %w", err)
		}
		rel, err = filepath.Rel(root, file)
		if err != nil {
			return "", fmt.Errorf("%s: %w", file, ErrOutsideRepo)
		}
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s: %w", file, ErrOutsideRepo)
	}
	return rel, nil
}

func (l *Local) signature() *object.Signature {
	email := l.cfg.AuthorEmail
	if email == "" {
		email = fmt.Sprintf("%s@repeatnomore.local", sanitizeEmail(l.cfg.AuthorName))
	}
	name := l.cfg.AuthorName
	if name == "" {
		name = "RepeatNoMore"
	}
	return &object.Signature{Name: name, Email: email, When: l.nowFunc()}
}

func hasStagedChanges(status git.Status) bool {
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			return true
		}
	}
	return false
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "bot"
	}
	return string(out)
}
