// internal/repo/history.go
package repo

import (
	"go.uber.org/zap"

	"vcs/internal/commit"
	"vcs/internal/diff"
	"vcs/internal/vcserr"
)

// Diff compares two commits. A toID of 0 means HEAD; a fromID of 0
// means to's parent. Defaulting fromID against a root commit fails,
// since there is no parent to compare with.
func (r *Repository) Diff(fromID, toID int) (diff.Result, error) {
	if toID == 0 {
		toID = r.log.Head()
		if toID == 0 {
			return diff.Result{}, vcserr.UnknownCommit(0)
		}
	}
	to, err := r.log.Get(toID)
	if err != nil {
		return diff.Result{}, err
	}

	if fromID == 0 {
		fromID = to.ParentID
		if fromID == 0 {
			return diff.Result{}, vcserr.UnknownCommit(0)
		}
	}
	from, err := r.log.Get(fromID)
	if err != nil {
		return diff.Result{}, err
	}
	return diff.Compare(from, to), nil
}

// Revert moves HEAD to an earlier commit and reshapes the working
// tree to that commit's snapshot: every file in the target tree is
// rewritten and files tracked only by the current HEAD are deleted.
// The commit chain is untouched, so nothing is lost. The working tree
// is reshaped before HEAD moves; a failure mid-apply leaves HEAD
// where it was.
func (r *Repository) Revert(id int) (commit.Commit, error) {
	target, err := r.log.Get(id)
	if err != nil {
		return commit.Commit{}, err
	}

	current := r.headTree()
	if err := r.tree.Apply(current, target.Tree, r.objects); err != nil {
		return commit.Commit{}, err
	}
	if err := r.log.SetHead(id); err != nil {
		return commit.Commit{}, err
	}

	r.logger.Info("reverted",
		zap.Int("head", id),
		zap.Int("files", len(target.Tree)))
	return target, nil
}
