// Package gitutil wraps the git CLI operations workspace lifecycle needs:
// fetching, branch creation/checkout, and branch name collision avoidance.
// Every call shells out to the system git binary, the same pattern the
// safety package uses for git plumbing.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Fetch runs "git fetch origin" in dir.
func Fetch(ctx context.Context, dir string) error {
	return run(ctx, dir, "fetch", "origin")
}

// CreateBranch creates a new branch named name off base, without checking it
// out (used when preparing a worktree separately).
func CreateBranch(ctx context.Context, dir, name, base string) error {
	return run(ctx, dir, "branch", name, "origin/"+base)
}

// CheckoutBranch checks out an existing branch name in dir.
func CheckoutBranch(ctx context.Context, dir, name string) error {
	return run(ctx, dir, "checkout", name)
}

// CurrentBranch returns the checked-out branch name in dir.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

var seqSuffix = regexp.MustCompile(`-(\d+)$`)

// MaxBranchSeqNum scans local and remote branches matching "<prefix>-<N>"
// and returns the highest N seen, or 0 if none exist. Used to pick the next
// sequence number for a new workspace branch without colliding.
func MaxBranchSeqNum(ctx context.Context, dir, prefix string) (int, error) {
	out, err := output(ctx, dir, "branch", "-a", "--list", prefix+"-*")
	if err != nil {
		return 0, err
	}
	max := 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "* "))
		m := seqSuffix.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

// ListBranches returns all local branch names in dir, most-recently
// committed first.
func ListBranches(ctx context.Context, dir string) ([]string, error) {
	out, err := output(ctx, dir, "for-each-ref", "--sort=-committerdate", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// DeleteBranch deletes branch name in dir, ignoring "not found" errors.
func DeleteBranch(ctx context.Context, dir, name string) error {
	err := run(ctx, dir, "branch", "-D", name)
	if err != nil && strings.Contains(err.Error(), "not found") {
		return nil
	}
	return err
}

// Diff returns the "git diff --numstat" output between base and head.
func Diff(ctx context.Context, dir, base, head string) (string, error) {
	return output(ctx, dir, "diff", "--numstat", "origin/"+base+"..."+head)
}

// Push pushes branch to origin, creating the upstream if absent.
func Push(ctx context.Context, dir, branch string) error {
	return run(ctx, dir, "push", "-u", "origin", branch)
}

// Pull fast-forwards branch from its upstream.
func Pull(ctx context.Context, dir, branch string) error {
	return run(ctx, dir, "pull", "origin", branch)
}

func run(ctx context.Context, dir string, args ...string) error {
	_, err := output(ctx, dir, args...)
	return err
}

func output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // args are built from internal git state, not raw user input.
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}
