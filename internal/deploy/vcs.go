package deploy

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

const shortHashLen = 7

// Revision identifies the commit being deployed.
type Revision struct {
	Short  string
	Branch string
}

// ReadRevision returns the abbreviated HEAD hash and branch of the
// repository containing dir. A detached HEAD reports the branch as "HEAD".
func ReadRevision(dir string) (rev Revision, err error) {
	var repo *git.Repository
	if repo, err = git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true}); err != nil {
		err = fmt.Errorf("failed to open repository at %s: %w", dir, err)
		return
	}

	head, err := repo.Head()
	if err != nil {
		err = fmt.Errorf("failed to resolve HEAD: %w", err)
		return
	}

	rev.Short = head.Hash().String()[:shortHashLen]
	rev.Branch = "HEAD"
	if head.Name().IsBranch() {
		rev.Branch = head.Name().Short()
	}
	return
}

// SyncResult holds the outcome of each publishing command in order.
type SyncResult struct {
	Steps []Result
}

// OK reports whether every step succeeded.
func (s SyncResult) OK() bool {
	for _, r := range s.Steps {
		if !r.Success() {
			return false
		}
	}
	return true
}

// Syncer stages, commits and pushes a working tree.
type Syncer interface {
	Sync(ctx context.Context, dir, message string) SyncResult
}

// GitSync publishes with the git command line so the user's credentials and
// remotes apply unchanged. Every step runs even if an earlier one failed.
type GitSync struct {
	Runner Runner
	Logger *zap.Logger
}

func (g *GitSync) Sync(ctx context.Context, dir, message string) (res SyncResult) {
	for _, args := range [][]string{
		{"add", "-A"},
		{"commit", "-m", message},
		{"push"},
	} {
		r := g.Runner.Run(ctx, Command{Dir: dir, Name: "git", Args: args})
		if !r.Success() {
			g.Logger.Warn("git step failed", zap.Strings("argv", r.Argv), zap.Int("code", r.ExitCode), zap.ByteString("output", r.Output), zap.Error(r.Err))
		}
		res.Steps = append(res.Steps, r)
	}
	return
}
