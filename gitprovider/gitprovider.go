// Package gitprovider abstracts the code host used to publish healed tests.
package gitprovider

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PROptions configures a new pull request.
type PROptions struct {
	Repo   string // "owner/repo"
	Branch string // source branch
	Base   string // target branch (default: the repo's default branch)
	Title  string
	Body   string
}

// Provider opens pull requests on a code host.
type Provider interface {
	CreatePR(ctx context.Context, opts PROptions) (url string, number int, err error)
	GetDefaultBranch(ctx context.Context, repoFullName string) (string, error)
}

// CommitAndPush stages everything in dir, commits with message and pushes
// branch to origin. Used after healing writes generated tests into the
// working tree.
func CommitAndPush(ctx context.Context, dir, branch, message string) error {
	steps := [][]string{
		{"git", "checkout", "-B", branch},
		{"git", "add", "-A"},
		{"git", "commit", "-m", message},
		{"git", "push", "-u", "origin", branch},
	}
	for _, step := range steps {
		cmd := exec.CommandContext(ctx, step[0], step[1:]...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", strings.Join(step, " "), err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
