// internal/commit/log.go
package commit

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vcs/internal/fsutil"
	"vcs/internal/vcserr"
)

const (
	commitsFile = "commits.json"
	headFile    = "HEAD"
)

// Log is the commit chain plus the HEAD pointer, backed by two files
// in the metadata directory. Commits are held in memory; the slice
// index of a commit is always its ID minus one.
type Log struct {
	dir     string
	commits []Commit
	head    int
}

// Load reads the chain and HEAD from dir. Missing files mean an empty
// log; present but invalid files are errors.
func Load(dir string) (*Log, error) {
	l := &Log{dir: dir}

	if err := fsutil.ReadJSON(filepath.Join(dir, commitsFile), &l.commits); err != nil {
		if !os.IsNotExist(err) {
			return nil, vcserr.IO("loading commit history", err)
		}
	}
	if err := ValidateChain(l.commits); err != nil {
		return nil, vcserr.IO("loading commit history", err)
	}

	head, err := readHead(filepath.Join(dir, headFile))
	if err != nil {
		return nil, err
	}
	if head < 0 || head > len(l.commits) {
		return nil, vcserr.IO("loading commit history", fmt.Errorf("HEAD %d outside history of %d commits", head, len(l.commits)))
	}
	l.head = head
	return l, nil
}

// ValidateChain checks the structural invariants of a commit slice:
// IDs contiguous from 1, parents earlier than children, trees well
// formed. Nil trees are normalized to empty in place.
func ValidateChain(commits []Commit) error {
	for i := range commits {
		c := &commits[i]
		if c.ID != i+1 {
			return fmt.Errorf("commit at position %d has id %d, want %d", i, c.ID, i+1)
		}
		if c.ParentID < 0 || c.ParentID >= c.ID {
			return fmt.Errorf("commit %d has invalid parent %d", c.ID, c.ParentID)
		}
		if c.Tree == nil {
			c.Tree = map[string]TreeEntry{}
		}
		for path, entry := range c.Tree {
			if err := validTreePath(path); err != nil {
				return fmt.Errorf("commit %d: %w", c.ID, err)
			}
			if !entry.Digest.Valid() {
				return fmt.Errorf("commit %d: invalid digest for %q", c.ID, path)
			}
			if entry.Size < 0 {
				return fmt.Errorf("commit %d: negative size for %q", c.ID, path)
			}
		}
	}
	return nil
}

func validTreePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty tree path")
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid tree path %q", path)
		}
	}
	return nil
}

func readHead(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, vcserr.IO("reading HEAD", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	head, err := strconv.Atoi(text)
	if err != nil {
		return 0, vcserr.IO("reading HEAD", fmt.Errorf("malformed HEAD %q", text))
	}
	return head, nil
}

// Head returns the current HEAD commit ID, 0 when there is none.
func (l *Log) Head() int { return l.head }

func (l *Log) Len() int { return len(l.commits) }

// HeadCommit returns the commit HEAD points at.
func (l *Log) HeadCommit() (Commit, bool) {
	if l.head == 0 {
		return Commit{}, false
	}
	return l.commits[l.head-1].clone(), true
}

// Get returns a commit by ID.
func (l *Log) Get(id int) (Commit, error) {
	if id < 1 || id > len(l.commits) {
		return Commit{}, vcserr.UnknownCommit(id)
	}
	return l.commits[id-1].clone(), nil
}

// List returns the history reachable from HEAD by following parent
// links, newest first. A limit above 0 caps the result. After a
// revert, commits newer than HEAD are not listed even though they
// remain in the chain.
func (l *Log) List(limit int) []Commit {
	var out []Commit
	for id := l.head; id != 0; {
		c := l.commits[id-1]
		out = append(out, c.clone())
		if limit > 0 && len(out) == limit {
			break
		}
		id = c.ParentID
	}
	return out
}

// All returns every commit in the chain in ID order, including any
// left unreachable by a revert.
func (l *Log) All() []Commit {
	out := make([]Commit, 0, len(l.commits))
	for _, c := range l.commits {
		out = append(out, c.clone())
	}
	return out
}

// Append creates a commit on top of the current HEAD and advances
// HEAD to it. The chain file is persisted before the HEAD file; a
// crash between the two leaves a valid chain with the old HEAD.
func (l *Log) Append(message string, tree map[string]TreeEntry, now time.Time) (Commit, error) {
	c := Commit{
		ID:        len(l.commits) + 1,
		Message:   message,
		CreatedAt: now,
		ParentID:  l.head,
		Tree:      maps.Clone(tree),
	}
	if c.Tree == nil {
		c.Tree = map[string]TreeEntry{}
	}

	commits := append(append([]Commit{}, l.commits...), c)
	if err := fsutil.WriteJSONAtomic(filepath.Join(l.dir, commitsFile), commits); err != nil {
		return Commit{}, vcserr.IO("writing commit history", err)
	}
	if err := l.writeHead(c.ID); err != nil {
		return Commit{}, err
	}
	l.commits = commits
	l.head = c.ID
	return c.clone(), nil
}

// SetHead moves HEAD to an existing commit.
func (l *Log) SetHead(id int) error {
	if id < 1 || id > len(l.commits) {
		return vcserr.UnknownCommit(id)
	}
	if err := l.writeHead(id); err != nil {
		return err
	}
	l.head = id
	return nil
}

func (l *Log) writeHead(id int) error {
	data := []byte(strconv.Itoa(id) + "\n")
	if err := fsutil.WriteFileAtomic(filepath.Join(l.dir, headFile), data, 0644); err != nil {
		return vcserr.IO("writing HEAD", err)
	}
	return nil
}
