// Package safety scans a workspace's diff for content that should give a
// user pause before pushing: oversized binaries and probable secret
// material in added lines.
package safety

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/mux-run/mux/backend/internal/diffstat"
)

// Issue is a single safety finding attached to a file.
type Issue struct {
	File   string `json:"file"`
	Kind   string `json:"kind"` // "large_binary" | "secret"
	Detail string `json:"detail"`
}

// maxBinarySize is the threshold above which a binary file triggers a warning.
const maxBinarySize = 500 * 1024 // 500 KB

// patterns are compiled regexps that match common secret material in diff
// added lines. Pattern strings are split so this file doesn't trip its own
// scanner when diffed.
var patterns = []*pattern{
	{regexp.MustCompile(`AK` + `IA[0-9A-Z]{16}`), "AWS access key"},
	{regexp.MustCompile(`-{5}` + `BEGIN\s+(RSA|DSA|EC|OPENSSH|PGP)\s+PRIV` + `ATE\s+KEY-{5}`), "private key"},
	{regexp.MustCompile(`gh` + `p_[A-Za-z0-9_]{36}`), "GitHub personal access token"},
	{regexp.MustCompile(`gh` + `o_[A-Za-z0-9_]{36}`), "GitHub OAuth token"},
	{regexp.MustCompile(`github` + `_pat_[A-Za-z0-9_]{22,}`), "GitHub fine-grained PAT"},
	{regexp.MustCompile(`sk` + `-[A-Za-z0-9]{20,}`), "API secret key"},
	{regexp.MustCompile(`(?i)(pass` + `word|sec` + `ret|to` + `ken|api[_-]?key)\s*[:=]\s*['"][^'"]{8,}`), "hardcoded credential"},
}

type pattern struct {
	re   *regexp.Regexp
	desc string
}

// Check scans dir's diff between baseBranch and branch for issues. A non-nil
// error indicates a git command failure, not a safety finding.
func Check(ctx context.Context, dir, branch, baseBranch string, ds diffstat.DiffStat) ([]Issue, error) {
	var issues []Issue

	for _, f := range ds {
		if !f.Binary {
			continue
		}
		size, err := blobSize(ctx, dir, branch, f.Path)
		if err != nil {
			continue // file may have been deleted
		}
		if size > maxBinarySize {
			issues = append(issues, Issue{
				File:   f.Path,
				Kind:   "large_binary",
				Detail: fmt.Sprintf("binary file is %s (limit %s)", humanSize(size), humanSize(maxBinarySize)),
			})
		}
	}

	secretIssues, err := scanForSecrets(ctx, dir, branch, baseBranch)
	if err != nil {
		return issues, err
	}
	issues = append(issues, secretIssues...)
	return issues, nil
}

func blobSize(ctx context.Context, dir, branch, path string) (int64, error) {
	cmd := exec.CommandContext(ctx, "git", "cat-file", "-s", branch+":"+path) //nolint:gosec // branch/path come from internal git state.
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
}

func scanForSecrets(ctx context.Context, dir, branch, baseBranch string) ([]Issue, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "origin/"+baseBranch+"..."+branch) //nolint:gosec // branch names come from internal git state.
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git diff for secret scan: %w: %s", err, stderr.String())
	}

	var issues []Issue
	seen := make(map[string]bool)
	var currentFile string

	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "+++ b/"); ok {
			currentFile = after
			continue
		}
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		added := line[1:]
		for _, p := range patterns {
			if !p.re.MatchString(added) {
				continue
			}
			key := currentFile + ":" + p.desc
			if seen[key] {
				continue
			}
			seen[key] = true
			slog.Warn("secret pattern matched", "file", currentFile, "pattern", p.desc)
			issues = append(issues, Issue{
				File:   currentFile,
				Kind:   "secret",
				Detail: fmt.Sprintf("possible %s detected", p.desc),
			})
		}
	}
	return issues, nil
}

func humanSize(b int64) string {
	switch {
	case b >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
	case b >= 1024:
		return fmt.Sprintf("%.0f KB", float64(b)/1024)
	default:
		return fmt.Sprintf("%d B", b)
	}
}
