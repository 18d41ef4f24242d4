// internal/repo/maintain.go
package repo

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"vcs/internal/digest"
	"vcs/internal/object"
)

// Compress re-encodes every stored object with the given codec.
// Digests are untouched, so history and staging stay valid; running
// it twice with the same codec changes nothing.
func (r *Repository) Compress(codec object.Codec) (object.RewriteStats, error) {
	return r.objects.Rewrite(codec)
}

// VerifyReport lists everything Verify found wrong. An empty Problems
// slice means the repository is internally consistent.
type VerifyReport struct {
	Commits  int
	Blobs    int
	Problems []string
}

// Verify checks that every object referenced by the commit chain and
// the staging area is present, uncorrupted and of the recorded size.
// It reports problems instead of failing on the first one.
func (r *Repository) Verify() VerifyReport {
	report := VerifyReport{}
	checked := map[digest.Digest]struct{}{}

	commits := r.log.All()
	report.Commits = len(commits)
	for _, c := range commits {
		paths := make([]string, 0, len(c.Tree))
		for path := range c.Tree {
			paths = append(paths, path)
		}
		slices.Sort(paths)
		for _, path := range paths {
			entry := c.Tree[path]
			content, err := r.objects.Get(entry.Digest)
			if err != nil {
				report.Problems = append(report.Problems, fmt.Sprintf("commit %d: %s: %v", c.ID, path, err))
				continue
			}
			if int64(len(content)) != entry.Size {
				report.Problems = append(report.Problems,
					fmt.Sprintf("commit %d: %s: recorded size %d, stored size %d", c.ID, path, entry.Size, len(content)))
			}
			checked[entry.Digest] = struct{}{}
		}
	}

	for _, e := range r.index.Entries() {
		content, err := r.objects.Get(e.Digest)
		if err != nil {
			report.Problems = append(report.Problems, fmt.Sprintf("staged %s: %v", e.Path, err))
			continue
		}
		if int64(len(content)) != e.Size {
			report.Problems = append(report.Problems,
				fmt.Sprintf("staged %s: recorded size %d, stored size %d", e.Path, e.Size, len(content)))
		}
		checked[e.Digest] = struct{}{}
	}

	report.Blobs = len(checked)
	return report
}

// GCStats reports an unreferenced-object sweep.
type GCStats struct {
	Scanned        int
	Removed        int
	BytesReclaimed int64
}

// GC deletes objects no commit and no staged entry references. The
// chain is append-only, so an object referenced once only becomes
// garbage through a restore that replaced history.
func (r *Repository) GC() (GCStats, error) {
	live := map[digest.Digest]struct{}{}
	for _, d := range r.referencedDigests(true) {
		live[d] = struct{}{}
	}

	digests, err := r.objects.Digests()
	if err != nil {
		return GCStats{}, err
	}

	stats := GCStats{Scanned: len(digests)}
	for _, d := range digests {
		if _, ok := live[d]; ok {
			continue
		}
		reclaimed, err := r.objects.Remove(d)
		if err != nil {
			return stats, err
		}
		stats.Removed++
		stats.BytesReclaimed += reclaimed
	}

	r.logger.Info("objects swept",
		zap.Int("scanned", stats.Scanned),
		zap.Int("removed", stats.Removed),
		zap.Int64("bytes_reclaimed", stats.BytesReclaimed))
	return stats, nil
}
