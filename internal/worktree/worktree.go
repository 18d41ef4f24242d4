// internal/worktree/worktree.go

// Package worktree reads and writes files under the repository root.
// Tree paths are slash-separated and relative to the root; conversion
// to the platform's separator happens here and nowhere else.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"vcs/internal/commit"
	"vcs/internal/digest"
	"vcs/internal/logging"
	"vcs/internal/vcserr"
)

// BlobSource yields file content by digest when materializing a tree.
type BlobSource interface {
	Get(d digest.Digest) ([]byte, error)
}

type WorkTree struct {
	root   string
	logger *logging.Logger
}

func New(root string, logger *logging.Logger) *WorkTree {
	if logger == nil {
		logger = logging.Nop()
	}
	return &WorkTree{root: root, logger: logger}
}

func (w *WorkTree) Root() string { return w.root }

func (w *WorkTree) abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Rel converts a path the user typed into a slash-separated path
// relative to the repository root.
func (w *WorkTree) Rel(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", vcserr.IO("resolving path", err)
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", vcserr.New(vcserr.KindFileNotFound, fmt.Sprintf("not inside the repository: %s", path))
	}
	return filepath.ToSlash(rel), nil
}

// ReadFile returns the content of a tracked candidate file. Only
// regular files can be staged.
func (w *WorkTree) ReadFile(rel string) ([]byte, error) {
	abs := w.abs(rel)
	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vcserr.FileNotFound(rel)
		}
		return nil, vcserr.IO("inspecting file", err)
	}
	if !info.Mode().IsRegular() {
		return nil, vcserr.New(vcserr.KindFileNotFound, fmt.Sprintf("not a regular file: %s", rel))
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, vcserr.IO("reading file", err)
	}
	return content, nil
}

// Apply reshapes the working tree from the current snapshot to the
// target one: paths tracked only by current are deleted, then every
// target file is written from the blob source. Untracked files are
// never touched. There is no rollback: a failure partway through
// leaves the tree partially reshaped.
func (w *WorkTree) Apply(current, target map[string]commit.TreeEntry, blobs BlobSource) error {
	var removals []string
	for path := range current {
		if _, kept := target[path]; !kept {
			removals = append(removals, path)
		}
	}
	sort.Strings(removals)
	for _, path := range removals {
		if err := os.Remove(w.abs(path)); err != nil && !os.IsNotExist(err) {
			return vcserr.IO(fmt.Sprintf("removing %s", path), err)
		}
		w.logger.Debug("file removed", zap.String("path", path))
	}

	writes := make([]string, 0, len(target))
	for path := range target {
		writes = append(writes, path)
	}
	sort.Strings(writes)
	for _, path := range writes {
		content, err := blobs.Get(target[path].Digest)
		if err != nil {
			return err
		}
		abs := w.abs(path)
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return vcserr.IO(fmt.Sprintf("creating directory for %s", path), err)
		}
		if err := os.WriteFile(abs, content, 0644); err != nil {
			return vcserr.IO(fmt.Sprintf("writing %s", path), err)
		}
		w.logger.Debug("file written", zap.String("path", path), zap.Int("size", len(content)))
	}
	return nil
}
