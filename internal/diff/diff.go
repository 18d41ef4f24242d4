// internal/diff/diff.go

// Package diff compares the tree snapshots of two commits at file
// granularity. A file counts as modified when its digest changed;
// content is never inspected.
package diff

import (
	"sort"

	"vcs/internal/commit"
)

type ChangeType int

const (
	Added ChangeType = iota
	Deleted
	Modified
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Entry is one changed path. Size is the size on the "to" side for
// added and modified files and the size on the "from" side for
// deleted ones; SizeDelta is always to minus from.
type Entry struct {
	Path      string
	Type      ChangeType
	Size      int64
	SizeDelta int64
}

type Stats struct {
	Added    int
	Modified int
	Deleted  int
}

// Result is the comparison of two commits, entries ordered by path.
type Result struct {
	From    int
	To      int
	Entries []Entry
	Stats   Stats
}

// Empty reports whether the two trees are identical.
func (r Result) Empty() bool { return len(r.Entries) == 0 }

// Compare diffs from's tree against to's. Comparing a commit with
// itself yields an empty result.
func Compare(from, to commit.Commit) Result {
	result := Result{From: from.ID, To: to.ID}
	if from.ID == to.ID {
		return result
	}

	paths := make(map[string]struct{}, len(from.Tree)+len(to.Tree))
	for p := range from.Tree {
		paths[p] = struct{}{}
	}
	for p := range to.Tree {
		paths[p] = struct{}{}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	for _, path := range sorted {
		before, inFrom := from.Tree[path]
		after, inTo := to.Tree[path]

		switch {
		case !inFrom:
			result.Entries = append(result.Entries, Entry{
				Path:      path,
				Type:      Added,
				Size:      after.Size,
				SizeDelta: after.Size,
			})
			result.Stats.Added++

		case !inTo:
			result.Entries = append(result.Entries, Entry{
				Path:      path,
				Type:      Deleted,
				Size:      before.Size,
				SizeDelta: -before.Size,
			})
			result.Stats.Deleted++

		case before.Digest != after.Digest:
			result.Entries = append(result.Entries, Entry{
				Path:      path,
				Type:      Modified,
				Size:      after.Size,
				SizeDelta: after.Size - before.Size,
			})
			result.Stats.Modified++
		}
	}
	return result
}
