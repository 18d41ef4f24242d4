// Package repo wires the object store, staging index, commit chain
// and working tree into whole-repository operations. Every operation
// loads nothing lazily and spawns nothing in the background; state
// lives in the files under the metadata directory and in this handle.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"vcs/internal/commit"
	"vcs/internal/digest"
	"vcs/internal/fsutil"
	"vcs/internal/index"
	"vcs/internal/logging"
	"vcs/internal/object"
	"vcs/internal/vcserr"
	"vcs/internal/worktree"
)

// MetaDir is the repository metadata directory, created directly
// under the repository root.
const MetaDir = ".vcs"

const (
	objectsDirName  = "objects"
	stagingFileName = "staging.json"
	commitsFileName = "commits.json"
	headFileName    = "HEAD"
)

type Repository struct {
	Root string

	meta    string
	codec   object.Codec
	objects *object.Store
	index   *index.Index
	log     *commit.Log
	tree    *worktree.WorkTree
	logger  *logging.Logger
}

// Init creates a fresh repository in dir and returns a handle to it.
// The metadata directory is laid out completely: object directory,
// empty commit chain, empty staging area and a HEAD of 0.
func Init(dir string, logger *logging.Logger) (*Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, vcserr.IO("resolving repository path", err)
	}
	meta := filepath.Join(abs, MetaDir)
	if _, err := os.Stat(meta); err == nil {
		return nil, vcserr.AlreadyInitialized(abs)
	}

	if err := os.MkdirAll(filepath.Join(meta, objectsDirName), 0755); err != nil {
		return nil, vcserr.IO("creating repository", err)
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(meta, commitsFileName), []commit.Commit{}); err != nil {
		return nil, vcserr.IO("creating repository", err)
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(meta, stagingFileName), map[string]index.Entry{}); err != nil {
		return nil, vcserr.IO("creating repository", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(meta, headFileName), []byte("0\n"), 0644); err != nil {
		return nil, vcserr.IO("creating repository", err)
	}
	return Open(abs, logger)
}

// FindRoot walks from startDir toward the filesystem root looking for
// a metadata directory, so commands work from any subdirectory.
func FindRoot(startDir string) (string, bool) {
	dir := startDir
	for {
		info, err := os.Stat(filepath.Join(dir, MetaDir))
		if err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Open locates the repository containing dir and loads its state.
func Open(dir string, logger *logging.Logger) (*Repository, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, vcserr.IO("resolving repository path", err)
	}
	root, ok := FindRoot(abs)
	if !ok {
		return nil, vcserr.NotInitialized(abs)
	}

	r := &Repository{
		Root:   root,
		meta:   filepath.Join(root, MetaDir),
		codec:  object.CodecZstd,
		tree:   worktree.New(root, logger),
		logger: logger,
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) reload() error {
	objects, err := object.Open(filepath.Join(r.meta, objectsDirName), r.logger)
	if err != nil {
		return err
	}
	idx, err := index.Load(filepath.Join(r.meta, stagingFileName))
	if err != nil {
		return err
	}
	log, err := commit.Load(r.meta)
	if err != nil {
		return err
	}
	r.objects, r.index, r.log = objects, idx, log
	return nil
}

// SetCodec changes the codec applied to newly stored objects.
func (r *Repository) SetCodec(c object.Codec) { r.codec = c }

// AddResult reports the outcome of staging one path. Err is set when
// that path failed; other paths proceed regardless.
type AddResult struct {
	Path   string
	Digest digest.Digest
	Size   int64
	Err    error
}

// Add stages the given paths: each file's content is stored as an
// object and recorded in the staging area. A failing path does not
// stop the others.
func (r *Repository) Add(paths []string, now time.Time) ([]AddResult, error) {
	results := make([]AddResult, 0, len(paths))
	staged := 0

	for _, path := range paths {
		rel, err := r.tree.Rel(path)
		if err != nil {
			results = append(results, AddResult{Path: path, Err: err})
			continue
		}
		if rel == MetaDir || strings.HasPrefix(rel, MetaDir+"/") {
			results = append(results, AddResult{
				Path: rel,
				Err:  vcserr.New(vcserr.KindFileNotFound, fmt.Sprintf("refusing to stage repository metadata: %s", rel)),
			})
			continue
		}
		content, err := r.tree.ReadFile(rel)
		if err != nil {
			results = append(results, AddResult{Path: rel, Err: err})
			continue
		}
		d, err := r.objects.Put(content, r.codec)
		if err != nil {
			results = append(results, AddResult{Path: rel, Err: err})
			continue
		}
		r.index.Stage(rel, d, int64(len(content)), now)
		staged++
		results = append(results, AddResult{Path: rel, Digest: d, Size: int64(len(content))})
		r.logger.Debug("file staged", zap.String("path", rel), zap.String("digest", d.Short()))
	}

	if staged > 0 {
		if err := r.index.Save(); err != nil {
			return results, err
		}
	}
	return results, nil
}

// Commit records the staged files as a new commit. The new tree is
// the HEAD tree overlaid with the staging area, so untouched files
// carry forward. Only an empty staging area is refused; restaging
// identical content yields a new commit whose tree matches its
// parent's, since commit identity is positional, not content-based.
func (r *Repository) Commit(message string, now time.Time) (commit.Commit, error) {
	if r.index.Len() == 0 {
		return commit.Commit{}, vcserr.NothingToCommit()
	}

	tree := r.headTree()
	for _, e := range r.index.Entries() {
		tree[e.Path] = commit.TreeEntry{Digest: e.Digest, Size: e.Size}
	}

	if message == "" {
		message = "Commit at " + now.Format("2006-01-02 15:04:05")
	}
	c, err := r.log.Append(message, tree, now)
	if err != nil {
		return commit.Commit{}, err
	}

	r.index.Clear()
	if err := r.index.Save(); err != nil {
		// The commit itself is durable at this point.
		return c, err
	}
	r.logger.Info("commit created",
		zap.Int("id", c.ID),
		zap.Int("parent", c.ParentID),
		zap.Int("files", len(c.Tree)))
	return c, nil
}

// headTree returns a mutable copy of the HEAD commit's tree, or an
// empty tree before the first commit.
func (r *Repository) headTree() map[string]commit.TreeEntry {
	head, ok := r.log.HeadCommit()
	if !ok {
		return map[string]commit.TreeEntry{}
	}
	return head.Tree
}

// Status summarizes the repository for display.
type Status struct {
	Root        string
	Head        int
	HeadMessage string
	Commits     int
	Staged      []index.Entry
}

func (r *Repository) Status() Status {
	st := Status{
		Root:    r.Root,
		Head:    r.log.Head(),
		Commits: r.log.Len(),
		Staged:  r.index.Entries(),
	}
	if head, ok := r.log.HeadCommit(); ok {
		st.HeadMessage = head.Message
	}
	return st
}

// Log returns the history reachable from HEAD, newest first.
func (r *Repository) Log(limit int) []commit.Commit {
	return r.log.List(limit)
}

// Head returns the HEAD commit.
func (r *Repository) Head() (commit.Commit, bool) {
	return r.log.HeadCommit()
}

// Get returns a commit by ID.
func (r *Repository) Get(id int) (commit.Commit, error) {
	return r.log.Get(id)
}
