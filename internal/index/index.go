// Package index holds the staging area: the set of files queued for
// the next commit, keyed by repository-relative path.
package index

import (
	"fmt"
	"os"
	"sort"
	"time"

	"vcs/internal/digest"
	"vcs/internal/fsutil"
	"vcs/internal/vcserr"
)

// Entry is one staged file.
type Entry struct {
	Path     string        `json:"-"`
	Digest   digest.Digest `json:"digest"`
	Size     int64         `json:"size"`
	StagedAt time.Time     `json:"staged_at"`
}

// Index is the staging area, backed by a single JSON file. Mutations
// happen in memory; Save persists them atomically.
type Index struct {
	path    string
	entries map[string]Entry
}

// Load reads the staging file. A missing file is an empty index; a
// file that exists but cannot be parsed is an error, never silently
// an empty index.
func Load(path string) (*Index, error) {
	idx := &Index{path: path, entries: map[string]Entry{}}

	if err := fsutil.ReadJSON(path, &idx.entries); err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, vcserr.IO("loading staging file", err)
	}
	for path, e := range idx.entries {
		if path == "" {
			return nil, vcserr.IO("loading staging file", fmt.Errorf("empty path key"))
		}
		if !e.Digest.Valid() {
			return nil, vcserr.IO("loading staging file", fmt.Errorf("invalid digest for %q", path))
		}
		e.Path = path
		idx.entries[path] = e
	}
	return idx, nil
}

// Stage records a file for the next commit, replacing any previous
// entry for the same path.
func (i *Index) Stage(path string, d digest.Digest, size int64, now time.Time) {
	i.entries[path] = Entry{Path: path, Digest: d, Size: size, StagedAt: now}
}

// Clear empties the staging area in memory.
func (i *Index) Clear() {
	i.entries = map[string]Entry{}
}

func (i *Index) Len() int { return len(i.entries) }

// Get returns the staged entry for a path, if any.
func (i *Index) Get(path string) (Entry, bool) {
	e, ok := i.entries[path]
	return e, ok
}

// Entries returns the staged files ordered by staging time, oldest
// first, with path as tiebreaker.
func (i *Index) Entries() []Entry {
	entries := make([]Entry, 0, len(i.entries))
	for _, e := range i.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(a, b int) bool {
		if !entries[a].StagedAt.Equal(entries[b].StagedAt) {
			return entries[a].StagedAt.Before(entries[b].StagedAt)
		}
		return entries[a].Path < entries[b].Path
	})
	return entries
}

// Save writes the staging area to disk.
func (i *Index) Save() error {
	if err := fsutil.WriteJSONAtomic(i.path, i.entries); err != nil {
		return vcserr.IO("writing staging file", err)
	}
	return nil
}
