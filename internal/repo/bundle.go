// internal/repo/bundle.go
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vcs/internal/digest"
	"vcs/internal/fsutil"
	"vcs/internal/index"
	"vcs/internal/object"
	"vcs/internal/snapshot"
	"vcs/internal/vcserr"
)

// Snapshot bundles the commit chain, HEAD and every object the chain
// references into a single archive. An empty name becomes
// snapshot_<unix time>; an empty dir means the repository root.
// Staged-only objects are not bundled; restoring resets the staging
// area anyway.
func (r *Repository) Snapshot(name, dir string, now time.Time) (string, snapshot.Manifest, error) {
	if name == "" {
		name = fmt.Sprintf("snapshot_%d", now.Unix())
	}
	name = strings.TrimSuffix(name, snapshot.Extension)
	if dir == "" {
		dir = r.Root
	}

	blobs := map[digest.Digest][]byte{}
	for _, d := range r.referencedDigests(false) {
		content, err := r.objects.Get(d)
		if err != nil {
			return "", snapshot.Manifest{}, err
		}
		blobs[d] = content
	}

	st := snapshot.State{
		Manifest: snapshot.Manifest{
			FormatVersion: snapshot.FormatVersion,
			CreatedAt:     now,
			Head:          r.log.Head(),
			CommitCount:   r.log.Len(),
			ObjectCount:   len(blobs),
		},
		Commits: r.log.All(),
		Head:    r.log.Head(),
		Blobs:   blobs,
	}

	path := filepath.Join(dir, name+snapshot.Extension)
	if err := snapshot.Write(path, st); err != nil {
		return "", snapshot.Manifest{}, err
	}
	r.logger.Info("snapshot written",
		zap.String("path", path),
		zap.Int("commits", st.Manifest.CommitCount),
		zap.Int("objects", st.Manifest.ObjectCount))
	return path, st.Manifest, nil
}

// RestoreStats reports what a restore installed.
type RestoreStats struct {
	Commits int
	Objects int
	Head    int
}

// Restore replaces the repository's state with a bundle's content.
// The archive is validated in full first, then a complete replacement
// metadata directory is built beside the live one and swapped in with
// two renames, so a failure at any point leaves either the old state
// or the new state, never a mixture. The staging area is reset and
// the working tree is reshaped to the restored HEAD.
func (r *Repository) Restore(archivePath string) (RestoreStats, error) {
	st, err := snapshot.Read(archivePath)
	if err != nil {
		return RestoreStats{}, err
	}

	oldTree := r.headTree()

	staging := r.meta + ".restore"
	if err := os.RemoveAll(staging); err != nil {
		return RestoreStats{}, vcserr.IO("clearing stale restore directory", err)
	}
	store, err := object.Open(filepath.Join(staging, objectsDirName), r.logger)
	if err != nil {
		return RestoreStats{}, err
	}
	for _, content := range st.Blobs {
		if _, err := store.Put(content, r.codec); err != nil {
			return RestoreStats{}, err
		}
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(staging, commitsFileName), st.Commits); err != nil {
		return RestoreStats{}, vcserr.IO("staging restored history", err)
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(staging, stagingFileName), map[string]index.Entry{}); err != nil {
		return RestoreStats{}, vcserr.IO("staging restored staging area", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(staging, headFileName), []byte(strconv.Itoa(st.Head)+"\n"), 0644); err != nil {
		return RestoreStats{}, vcserr.IO("staging restored HEAD", err)
	}

	old := r.meta + ".old"
	if err := os.RemoveAll(old); err != nil {
		return RestoreStats{}, vcserr.IO("clearing previous restore backup", err)
	}
	if err := os.Rename(r.meta, old); err != nil {
		return RestoreStats{}, vcserr.IO("moving current state aside", err)
	}
	if err := os.Rename(staging, r.meta); err != nil {
		if back := os.Rename(old, r.meta); back != nil {
			return RestoreStats{}, vcserr.IO("restore failed and rollback failed; previous state is in "+old, err)
		}
		return RestoreStats{}, vcserr.IO("installing restored state", err)
	}
	if err := os.RemoveAll(old); err != nil {
		r.logger.Warn("could not remove restore backup", zap.String("dir", old), zap.Error(err))
	}

	if err := r.reload(); err != nil {
		return RestoreStats{}, err
	}
	if err := r.tree.Apply(oldTree, r.headTree(), r.objects); err != nil {
		return RestoreStats{}, err
	}

	stats := RestoreStats{Commits: len(st.Commits), Objects: len(st.Blobs), Head: st.Head}
	r.logger.Info("snapshot restored",
		zap.String("archive", archivePath),
		zap.Int("commits", stats.Commits),
		zap.Int("objects", stats.Objects),
		zap.Int("head", stats.Head))
	return stats, nil
}

// referencedDigests returns every object digest the commit chain, and
// optionally the staging area, refers to, sorted and deduplicated.
func (r *Repository) referencedDigests(includeStaging bool) []digest.Digest {
	set := map[digest.Digest]struct{}{}
	for _, c := range r.log.All() {
		for _, e := range c.Tree {
			set[e.Digest] = struct{}{}
		}
	}
	if includeStaging {
		for _, e := range r.index.Entries() {
			set[e.Digest] = struct{}{}
		}
	}
	out := make([]digest.Digest, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	// Deterministic order for archives and sweeps.
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
