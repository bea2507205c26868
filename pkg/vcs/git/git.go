package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// RemoteName is the remote used for push and pull.
const RemoteName = "origin"

// ErrNoRemote is returned by Push and Pull when no remote URL is configured.
var ErrNoRemote = errors.New("vcs: no remote configured")

// Status represents Git state following a commit attempt.
type Status struct {
	Committed bool   `json:"committed"`
	Pending   bool   `json:"pending"`
	Hash      string `json:"hash,omitempty"`
	Branch    string `json:"branch"`
	Remote    string `json:"remote,omitempty"`
}

// Repo describes the operations needed by the daemon.
type Repo interface {
	Init(ctx context.Context) error
	Commit(ctx context.Context, message string, files []string) (Status, error)
	Status(ctx context.Context) (Status, error)
	Push(ctx context.Context) error
	Pull(ctx context.Context) error
}

// FilesystemRepo keeps profile snapshots in a work tree at Path.
type FilesystemRepo struct {
	Path   string
	Branch string
	// RemoteURL is optional; Push and Pull fail with ErrNoRemote without it.
	RemoteURL string
	// CredentialRef names an environment variable holding an HTTP token.
	CredentialRef string
	Author        string

	repo *gogit.Repository
}

var _ Repo = (*FilesystemRepo)(nil)

// Init opens the repository at Path, creating it on first use, and syncs the
// origin remote with RemoteURL.
func (r *FilesystemRepo) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Branch == "" {
		r.Branch = "main"
	}
	repo, err := gogit.PlainOpen(r.Path)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInitWithOptions(r.Path, &gogit.PlainInitOptions{
			InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(r.Branch)},
		})
	}
	if err != nil {
		return fmt.Errorf("open repo %s: %w", r.Path, err)
	}
	r.repo = repo
	return r.syncRemote()
}

func (r *FilesystemRepo) syncRemote() error {
	remote, err := r.repo.Remote(RemoteName)
	switch {
	case errors.Is(err, gogit.ErrRemoteNotFound):
		if r.RemoteURL == "" {
			return nil
		}
	case err != nil:
		return err
	default:
		urls := remote.Config().URLs
		if len(urls) == 1 && urls[0] == r.RemoteURL {
			return nil
		}
		if err := r.repo.DeleteRemote(RemoteName); err != nil {
			return err
		}
		if r.RemoteURL == "" {
			return nil
		}
	}
	_, err = r.repo.CreateRemote(&gitconfig.RemoteConfig{Name: RemoteName, URLs: []string{r.RemoteURL}})
	return err
}

// Commit stages files (relative to Path or absolute inside it) and records a
// snapshot. An unchanged tree is not committed.
func (r *FilesystemRepo) Commit(ctx context.Context, message string, files []string) (Status, error) {
	if err := r.ready(ctx); err != nil {
		return Status{}, err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return Status{}, err
	}
	for _, file := range files {
		rel, err := r.relative(file)
		if err != nil {
			return Status{}, err
		}
		if _, err := wt.Add(rel); err != nil {
			return Status{}, fmt.Errorf("stage %s: %w", rel, err)
		}
	}
	st, err := wt.Status()
	if err != nil {
		return Status{}, err
	}
	if st.IsClean() {
		return r.Status(ctx)
	}
	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: r.signature()})
	if err != nil {
		return Status{}, fmt.Errorf("commit: %w", err)
	}
	return Status{Committed: true, Hash: hash.String(), Branch: r.Branch, Remote: r.RemoteURL}, nil
}

// Status reports the head commit and whether the work tree has uncommitted changes.
func (r *FilesystemRepo) Status(ctx context.Context) (Status, error) {
	if err := r.ready(ctx); err != nil {
		return Status{}, err
	}
	out := Status{Branch: r.Branch, Remote: r.RemoteURL}
	head, err := r.repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	case err != nil:
		return Status{}, err
	default:
		out.Hash = head.Hash().String()
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return Status{}, err
	}
	st, err := wt.Status()
	if err != nil {
		return Status{}, err
	}
	out.Pending = !st.IsClean()
	return out, nil
}

// Push pushes the branch to origin.
func (r *FilesystemRepo) Push(ctx context.Context) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	if r.RemoteURL == "" {
		return ErrNoRemote
	}
	ref := plumbing.NewBranchReferenceName(r.Branch)
	err := r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: RemoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
		Auth:       r.auth(),
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Pull fetches and fast-forward merges the branch from origin.
func (r *FilesystemRepo) Pull(ctx context.Context) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	if r.RemoteURL == "" {
		return ErrNoRemote
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	err = wt.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    RemoteName,
		ReferenceName: plumbing.NewBranchReferenceName(r.Branch),
		SingleBranch:  true,
		Auth:          r.auth(),
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

func (r *FilesystemRepo) ready(ctx context.Context) error {
	if r.repo == nil {
		return errors.New("vcs: repo not initialized")
	}
	return ctx.Err()
}

func (r *FilesystemRepo) relative(file string) (string, error) {
	if !filepath.IsAbs(file) {
		return filepath.ToSlash(file), nil
	}
	rel, err := filepath.Rel(r.Path, file)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", file, r.Path)
	}
	return filepath.ToSlash(rel), nil
}

func (r *FilesystemRepo) signature() *object.Signature {
	name := r.Author
	if name == "" {
		name = "topicsd"
	}
	return &object.Signature{Name: name, Email: name + "@localhost", When: time.Now()}
}

func (r *FilesystemRepo) auth() transport.AuthMethod {
	if r.CredentialRef == "" {
		return nil
	}
	token := os.Getenv(r.CredentialRef)
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "git", Password: token}
}
