// Package vcs replicates review state through git branches. Each reviewer
// commits their review tree to reviews/{packageId}/{username} and pushes it;
// sibling trees are fetched and read straight from branch commits, so
// document content in the working tree is never merged.
package vcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"reviewhub/internal/review"
)

// ErrNoRemote reports that the repository has no remote to replicate to.
// Local-only operation is a supported mode, so callers downgrade this to a
// sync warning.
var ErrNoRemote = errors.New("no remote configured")

const remoteName = "origin"

// Branch describes a discovered replication branch.
type Branch struct {
	Name      string `json:"name"`
	PackageID string `json:"packageId"`
	Username  string `json:"username"`
	Remote    bool   `json:"remote"`
}

// ReviewTree is one branch's review state, keyed by normalized requirement
// directory name.
type ReviewTree struct {
	Threads  map[string][]review.Thread
	Requests map[string][]review.StatusRequest
	Flags    map[string]review.ReviewFlag
}

// Service wraps a single git repository holding both the documents and the
// review tree. All worktree mutations run under one lock; remote operations
// run through the shared pool with an explicit timeout so a hung transport
// surfaces as a sync failure instead of a stuck request.
type Service struct {
	repoPath string
	relDir   string
	author   string
	pool     *Pool
	timeout  time.Duration
	mu       sync.Mutex
}

// New returns a Service for the repository at repoPath whose review tree
// lives at relDir (a path relative to the worktree root).
func New(repoPath, relDir, author string, pool *Pool, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		repoPath: repoPath,
		relDir:   filepath.ToSlash(relDir),
		author:   author,
		pool:     pool,
		timeout:  timeout,
	}
}

// EnsureRepo opens the repository, initializing it with an empty baseline
// commit on main when none exists yet.
func (s *Service) EnsureRepo() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := git.PlainOpen(s.repoPath); err == nil {
		return nil
	} else if !errors.Is(err, git.ErrRepositoryNotExists) {
		return fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(s.repoPath, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(s.repoPath, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	keep := filepath.Join(s.repoPath, filepath.FromSlash(s.relDir), ".gitkeep")
	if err := os.MkdirAll(filepath.Dir(keep), 0o755); err != nil {
		return fmt.Errorf("create review dir: %w", err)
	}
	if err := os.WriteFile(keep, nil, 0o644); err != nil {
		return fmt.Errorf("write review dir marker: %w", err)
	}
	if _, err := worktree.Add(s.relDir); err != nil {
		return fmt.Errorf("git add review dir: %w", err)
	}
	hash, err := worktree.Commit("Initialize review repository", &git.CommitOptions{
		Author: s.signature(),
	})
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// EnsureReviewBranch checks out the reviewer's own replication branch,
// creating it from HEAD when it does not exist yet.
func (s *Service) EnsureReviewBranch(packageID, username string) (string, error) {
	branchName, err := BranchName(packageID, username)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.repoPath)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", fmt.Errorf("resolve branch %s: %w", branchName, err)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true, Keep: true}); err != nil {
			return "", fmt.Errorf("create branch checkout %s: %w", branchName, err)
		}
		return branchName, nil
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Keep: true}); err != nil {
		return "", fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return branchName, nil
}

// CurrentBranch returns the short name of the branch HEAD points at.
func (s *Service) CurrentBranch() (string, error) {
	repo, err := git.PlainOpen(s.repoPath)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Name().Short(), nil
}

// HasRemote reports whether a replication remote is configured.
func (s *Service) HasRemote() bool {
	repo, err := git.PlainOpen(s.repoPath)
	if err != nil {
		return false
	}
	_, err = repo.Remote(remoteName)
	return err == nil
}

// CommitReviewState stages the review tree and commits it to the current
// branch. Returns the empty hash when there is nothing to commit.
func (s *Service) CommitReviewState(message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.repoPath)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Add(s.relDir); err != nil {
		return "", fmt.Errorf("git add review tree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("read worktree status: %w", err)
	}
	staged := false
	for p, fileStatus := range status {
		if !strings.HasPrefix(p, s.relDir+"/") && p != s.relDir {
			continue
		}
		if fileStatus.Staging != git.Unmodified && fileStatus.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return "", nil
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: s.signature()})
	if err != nil {
		return "", fmt.Errorf("commit review tree: %w", err)
	}
	return hash.String(), nil
}

// Push replicates the current branch to the remote. ErrNoRemote when none
// is configured; a rejected or timed-out push surfaces as an error for the
// caller to downgrade.
func (s *Service) Push(ctx context.Context) error {
	branch, err := s.CurrentBranch()
	if err != nil {
		return err
	}
	return s.pool.Run(ctx, func() error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		repo, err := git.PlainOpen(s.repoPath)
		if err != nil {
			return fmt.Errorf("open repo: %w", err)
		}
		if _, err := repo.Remote(remoteName); err != nil {
			if errors.Is(err, git.ErrRemoteNotFound) {
				return ErrNoRemote
			}
			return fmt.Errorf("resolve remote: %w", err)
		}
		refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
		err = repo.PushContext(ctx, &git.PushOptions{
			RemoteName: remoteName,
			RefSpecs:   []config.RefSpec{refSpec},
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("push %s: %w", branch, err)
		}
		return nil
	})
}

// Fetch pulls the sibling review branches for a package into remote
// tracking refs. The working tree is never touched.
func (s *Service) Fetch(ctx context.Context, packageID string) error {
	return s.pool.Run(ctx, func() error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		repo, err := git.PlainOpen(s.repoPath)
		if err != nil {
			return fmt.Errorf("open repo: %w", err)
		}
		if _, err := repo.Remote(remoteName); err != nil {
			if errors.Is(err, git.ErrRemoteNotFound) {
				return ErrNoRemote
			}
			return fmt.Errorf("resolve remote: %w", err)
		}
		refSpec := config.RefSpec(fmt.Sprintf(
			"+refs/heads/reviews/%s/*:refs/remotes/%s/reviews/%s/*",
			packageID, remoteName, packageID,
		))
		err = repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: remoteName,
			RefSpecs:   []config.RefSpec{refSpec},
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("fetch review branches: %w", err)
		}
		return nil
	})
}

// DiscoverBranches lists local and remote-tracking replication branches for
// a package. Refs that do not match the naming convention are ignored.
func (s *Service) DiscoverBranches(packageID string) ([]Branch, error) {
	repo, err := git.PlainOpen(s.repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer refs.Close()

	var branches []Branch
	seen := make(map[string]bool)
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name, remote := classifyRef(ref.Name())
		if name == "" {
			return nil
		}
		pkg, user, ok := ParseBranchName(name)
		if !ok || pkg != packageID {
			return nil
		}
		key := fmt.Sprintf("%s|%t", name, remote)
		if seen[key] {
			return nil
		}
		seen[key] = true
		branches = append(branches, Branch{Name: name, PackageID: pkg, Username: user, Remote: remote})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return branches, nil
}

// ReadTree loads one branch's review state directly from its head commit.
func (s *Service) ReadTree(branch Branch) (ReviewTree, error) {
	repo, err := git.PlainOpen(s.repoPath)
	if err != nil {
		return ReviewTree{}, fmt.Errorf("open repo: %w", err)
	}
	refName := plumbing.NewBranchReferenceName(branch.Name)
	if branch.Remote {
		refName = plumbing.NewRemoteReferenceName(remoteName, branch.Name)
	}
	ref, err := repo.Reference(refName, true)
	if err != nil {
		return ReviewTree{}, fmt.Errorf("resolve branch %s: %w", branch.Name, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return ReviewTree{}, fmt.Errorf("load commit for %s: %w", branch.Name, err)
	}
	return s.readTreeFromCommit(commit)
}

func (s *Service) readTreeFromCommit(commit *object.Commit) (ReviewTree, error) {
	tree := ReviewTree{
		Threads:  make(map[string][]review.Thread),
		Requests: make(map[string][]review.StatusRequest),
		Flags:    make(map[string]review.ReviewFlag),
	}
	files, err := commit.Files()
	if err != nil {
		return ReviewTree{}, fmt.Errorf("read commit tree: %w", err)
	}
	defer files.Close()

	prefix := s.relDir + "/reqs/"
	err = files.ForEach(func(file *object.File) error {
		if !strings.HasPrefix(file.Name, prefix) {
			return nil
		}
		rest := strings.TrimPrefix(file.Name, prefix)
		reqDir, fileName := path.Split(rest)
		reqDir = strings.TrimSuffix(reqDir, "/")
		if reqDir == "" || strings.Contains(reqDir, "/") {
			return nil
		}
		contents, err := file.Contents()
		if err != nil {
			return fmt.Errorf("read %s: %w", file.Name, err)
		}
		switch fileName {
		case "threads.json":
			var threads []review.Thread
			if err := json.Unmarshal([]byte(contents), &threads); err != nil {
				return fmt.Errorf("decode %s: %w", file.Name, err)
			}
			tree.Threads[reqDir] = threads
		case "status.json":
			var requests []review.StatusRequest
			if err := json.Unmarshal([]byte(contents), &requests); err != nil {
				return fmt.Errorf("decode %s: %w", file.Name, err)
			}
			tree.Requests[reqDir] = requests
		case "flag.json":
			var flag review.ReviewFlag
			if err := json.Unmarshal([]byte(contents), &flag); err != nil {
				return fmt.Errorf("decode %s: %w", file.Name, err)
			}
			tree.Flags[reqDir] = flag
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return ReviewTree{}, err
	}
	return tree, nil
}

// classifyRef maps a git reference onto a short branch name, reporting
// whether it is a remote-tracking ref of the replication remote. Tags and
// other ref kinds are ignored.
func classifyRef(name plumbing.ReferenceName) (string, bool) {
	switch {
	case name.IsBranch():
		return strings.TrimPrefix(string(name), "refs/heads/"), false
	case name.IsRemote():
		rest := strings.TrimPrefix(string(name), "refs/remotes/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] != remoteName {
			return "", false
		}
		return parts[1], true
	default:
		return "", false
	}
}

func (s *Service) signature() *object.Signature {
	return &object.Signature{
		Name:  s.author,
		Email: fmt.Sprintf("%s@local.reviewhub.dev", sanitizeEmail(s.author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(name string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteByte('-')
		}
	}
	if builder.Len() == 0 {
		return "reviewer"
	}
	return builder.String()
}
