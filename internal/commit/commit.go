// Package commit models the append-only commit chain. Every commit
// carries a full tree snapshot; nothing is ever rewritten or deleted.
package commit

import (
	"maps"
	"time"

	"vcs/internal/digest"
)

// TreeEntry is one file in a commit's snapshot.
type TreeEntry struct {
	Digest digest.Digest `json:"digest"`
	Size   int64         `json:"size"`
}

// Commit is one node in the chain. IDs are assigned sequentially from
// 1 and never reused. ParentID 0 marks a root commit.
type Commit struct {
	ID        int                  `json:"id"`
	Message   string               `json:"message"`
	CreatedAt time.Time            `json:"created_at"`
	ParentID  int                  `json:"parent_id"`
	Tree      map[string]TreeEntry `json:"tree"`
}

// clone returns a copy whose tree the caller may mutate freely.
func (c Commit) clone() Commit {
	c.Tree = maps.Clone(c.Tree)
	if c.Tree == nil {
		c.Tree = map[string]TreeEntry{}
	}
	return c
}
