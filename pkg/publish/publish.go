// Package publish commits and pushes the generated hosts file with git.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultMessage is used when no commit message template is configured.
const DefaultMessage = "Update hosts file ({entries} entries)"

// Runner executes a command in dir and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- arguments come from config, not user input.
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Options configures the git publisher.
type Options struct {
	// Repo is the working tree containing the artifact. Empty means the
	// artifact's directory.
	Repo    string
	Remote  string
	Branch  string
	Message string
	Runner  Runner
	Log     *slog.Logger
}

// Git publishes an artifact by committing and pushing it.
type Git struct {
	opts Options
}

// NewGit returns a git publisher with defaults applied.
func NewGit(opts Options) *Git {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Message == "" {
		opts.Message = DefaultMessage
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Git{opts: opts}
}

// Publish stages artifact, commits it when it changed and pushes. An unchanged
// artifact is not an error.
func (g *Git) Publish(ctx context.Context, artifact string, entries int) error {
	repo := g.opts.Repo
	if repo == "" {
		repo = filepath.Dir(artifact)
	}
	abs, err := filepath.Abs(artifact)
	if err != nil {
		return fmt.Errorf("resolve artifact path: %w", err)
	}
	absRepo, err := filepath.Abs(repo)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}
	rel, err := filepath.Rel(absRepo, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("artifact %s is outside repository %s", artifact, repo)
	}

	if err := g.git(ctx, absRepo, "add", "--", rel); err != nil {
		return err
	}

	status, err := g.opts.Runner.Run(ctx, absRepo, "git", "status", "--porcelain", "--", rel)
	if err != nil {
		return fmt.Errorf("git status: %w: %s", err, strings.TrimSpace(string(status)))
	}
	if len(bytes.TrimSpace(status)) == 0 {
		g.opts.Log.Info("hosts file unchanged, nothing to publish", "path", rel)
		return nil
	}

	message := strings.ReplaceAll(g.opts.Message, "{entries}", strconv.Itoa(entries))
	if err := g.git(ctx, absRepo, "commit", "-m", message, "--", rel); err != nil {
		return err
	}

	pushArgs := []string{"push", g.opts.Remote}
	if g.opts.Branch != "" {
		pushArgs = append(pushArgs, "HEAD:"+g.opts.Branch)
	}
	if err := g.git(ctx, absRepo, pushArgs...); err != nil {
		return err
	}

	g.opts.Log.Info("published hosts file", "path", rel, "entries", entries, "remote", g.opts.Remote)
	return nil
}

func (g *Git) git(ctx context.Context, dir string, args ...string) error {
	out, err := g.opts.Runner.Run(ctx, dir, "git", args...)
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
