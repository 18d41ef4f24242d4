package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcs/internal/commit"
	"vcs/internal/diff"
	"vcs/internal/digest"
	"vcs/internal/object"
	"vcs/internal/vcserr"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Init(t.TempDir(), nil)
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
	return abs
}

func addAndCommit(t *testing.T, r *Repository, msg string, files map[string]string) commit.Commit {
	t.Helper()
	paths := make([]string, 0, len(files))
	for rel, content := range files {
		paths = append(paths, writeFile(t, r.Root, rel, content))
	}
	results, err := r.Add(paths, time.Now())
	require.NoError(t, err)
	for _, res := range results {
		require.NoError(t, res.Err, "staging %s", res.Path)
	}
	c, err := r.Commit(msg, time.Now())
	require.NoError(t, err)
	return c
}

func TestInitCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, dir, r.Root)

	assert.DirExists(t, filepath.Join(dir, ".vcs", "objects"))
	assert.FileExists(t, filepath.Join(dir, ".vcs", "commits.json"))
	assert.FileExists(t, filepath.Join(dir, ".vcs", "staging.json"))

	head, err := os.ReadFile(filepath.Join(dir, ".vcs", "HEAD"))
	require.NoError(t, err)
	assert.Equal(t, "0\n", string(head))
}

func TestInitRefusesExistingRepository(t *testing.T) {
	dir := t.TempDir()
	_, err := Init(dir, nil)
	require.NoError(t, err)

	_, err = Init(dir, nil)
	assert.Equal(t, vcserr.KindAlreadyInitialized, vcserr.KindOf(err))
}

func TestOpenFromSubdirectory(t *testing.T) {
	r := newRepo(t)
	sub := filepath.Join(r.Root, "deep", "nested")
	require.NoError(t, os.MkdirAll(sub, 0755))

	opened, err := Open(sub, nil)
	require.NoError(t, err)
	assert.Equal(t, r.Root, opened.Root)
}

func TestOpenOutsideRepository(t *testing.T) {
	_, err := Open(t.TempDir(), nil)
	assert.Equal(t, vcserr.KindNotInitialized, vcserr.KindOf(err))
}

// TestBasicWorkflow walks the whole add, commit, diff, revert cycle
// on a single file.
func TestBasicWorkflow(t *testing.T) {
	r := newRepo(t)

	writeFile(t, r.Root, "a.txt", "hi")
	results, err := r.Add([]string{filepath.Join(r.Root, "a.txt")}, time.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "a.txt", results[0].Path)
	assert.Equal(t, digest.FromBytes([]byte("hi")), results[0].Digest)
	assert.Equal(t, int64(2), results[0].Size)

	first, err := r.Commit("first", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 0, first.ParentID)
	require.Contains(t, first.Tree, "a.txt")

	writeFile(t, r.Root, "a.txt", "bye")
	_, err = r.Add([]string{filepath.Join(r.Root, "a.txt")}, time.Now())
	require.NoError(t, err)

	second, err := r.Commit("second", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, second.ID)
	assert.Equal(t, 1, second.ParentID)

	result, err := r.Diff(1, 2)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, diff.Modified, result.Entries[0].Type)
	assert.Equal(t, "a.txt", result.Entries[0].Path)
	assert.Equal(t, int64(1), result.Entries[0].SizeDelta)

	reverted, err := r.Revert(1)
	require.NoError(t, err)
	assert.Equal(t, 1, reverted.ID)

	content, err := os.ReadFile(filepath.Join(r.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))

	head, ok := r.Head()
	require.True(t, ok)
	assert.Equal(t, 1, head.ID)

	// Reverting moves HEAD; it never deletes commits.
	later, err := r.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "second", later.Message)
}

func TestAddReportsPerPathFailures(t *testing.T) {
	r := newRepo(t)
	good := writeFile(t, r.Root, "good.txt", "fine")
	missing := filepath.Join(r.Root, "ghost.txt")
	meta := filepath.Join(r.Root, ".vcs", "HEAD")

	results, err := r.Add([]string{good, missing, meta}, time.Now())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, vcserr.KindFileNotFound, vcserr.KindOf(results[1].Err))
	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "repository metadata")

	// The good path stays staged despite its neighbors.
	assert.Len(t, r.Status().Staged, 1)
}

func TestAddDeduplicatesContent(t *testing.T) {
	r := newRepo(t)
	one := writeFile(t, r.Root, "one.txt", "same content")
	two := writeFile(t, r.Root, "two.txt", "same content")

	results, err := r.Add([]string{one, two}, time.Now())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Digest, results[1].Digest)

	digests, err := r.objects.Digests()
	require.NoError(t, err)
	assert.Len(t, digests, 1)
}

func TestAddRestageReplacesEntry(t *testing.T) {
	r := newRepo(t)
	p := writeFile(t, r.Root, "a.txt", "v1")
	_, err := r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	writeFile(t, r.Root, "a.txt", "v2")
	_, err = r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	staged := r.Status().Staged
	require.Len(t, staged, 1)
	assert.Equal(t, digest.FromBytes([]byte("v2")), staged[0].Digest)
}

func TestCommitNothingStaged(t *testing.T) {
	r := newRepo(t)
	_, err := r.Commit("empty", time.Now())
	assert.Equal(t, vcserr.KindNothingToCommit, vcserr.KindOf(err))
}

func TestCommitIdenticalTreeIsDistinctRecord(t *testing.T) {
	r := newRepo(t)
	p := writeFile(t, r.Root, "a.txt", "same")
	_, err := r.Add([]string{p}, time.Now())
	require.NoError(t, err)
	first, err := r.Commit("first", time.Now())
	require.NoError(t, err)

	// Restaging identical content still commits: identity is the
	// position in the chain, not the tree content.
	_, err = r.Add([]string{p}, time.Now())
	require.NoError(t, err)
	second, err := r.Commit("again", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, second.ID)
	assert.Equal(t, 1, second.ParentID)
	assert.Equal(t, first.Tree, second.Tree)

	// The successful commit clears the staging area.
	assert.Empty(t, r.Status().Staged)
}

func TestCommitCarriesForwardUntouchedFiles(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "first", map[string]string{"keep.txt": "forever", "edit.txt": "v1"})
	second := addAndCommit(t, r, "second", map[string]string{"edit.txt": "v2"})

	require.Len(t, second.Tree, 2)
	assert.Equal(t, digest.FromBytes([]byte("forever")), second.Tree["keep.txt"].Digest)
	assert.Equal(t, digest.FromBytes([]byte("v2")), second.Tree["edit.txt"].Digest)
}

func TestCommitAutoMessage(t *testing.T) {
	r := newRepo(t)
	p := writeFile(t, r.Root, "a.txt", "content")
	_, err := r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	c, err := r.Commit("", now)
	require.NoError(t, err)
	assert.Equal(t, "Commit at 2024-03-15 10:30:00", c.Message)
}

func TestDiffDefaults(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "first", map[string]string{"a.txt": "v1", "b.txt": "stays"})
	addAndCommit(t, r, "second", map[string]string{"a.txt": "v2"})

	// No ids: HEAD against its parent.
	result, err := r.Diff(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.From)
	assert.Equal(t, 2, result.To)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, diff.Modified, result.Entries[0].Type)

	// A root commit has no parent to default against.
	_, err = r.Diff(0, 1)
	assert.Equal(t, vcserr.KindUnknownCommit, vcserr.KindOf(err))
}

func TestDiffDefaultFromFollowsTarget(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "one", map[string]string{"a.txt": "v1"})
	addAndCommit(t, r, "two", map[string]string{"a.txt": "v2"})
	addAndCommit(t, r, "three", map[string]string{"a.txt": "v3"})

	// An omitted first id anchors to the given commit's parent, not
	// to HEAD's.
	result, err := r.Diff(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, result.From)
	assert.Equal(t, 2, result.To)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, diff.Modified, result.Entries[0].Type)
}

func TestDiffOnEmptyRepository(t *testing.T) {
	r := newRepo(t)
	_, err := r.Diff(0, 0)
	assert.Equal(t, vcserr.KindUnknownCommit, vcserr.KindOf(err))
}

func TestDiffUnknownCommit(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "only", map[string]string{"a.txt": "x"})

	_, err := r.Diff(9, 1)
	assert.Equal(t, vcserr.KindUnknownCommit, vcserr.KindOf(err))
	_, err = r.Diff(1, 9)
	assert.Equal(t, vcserr.KindUnknownCommit, vcserr.KindOf(err))
}

func TestDiffSameCommit(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "only", map[string]string{"a.txt": "x"})

	result, err := r.Diff(1, 1)
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestRevertRemovesFilesAddedLater(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "first", map[string]string{"a.txt": "original"})
	addAndCommit(t, r, "second", map[string]string{"b.txt": "later"})
	writeFile(t, r.Root, "untracked.txt", "not ours to touch")

	_, err := r.Revert(1)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(r.Root, "a.txt"))
	assert.NoFileExists(t, filepath.Join(r.Root, "b.txt"))
	assert.FileExists(t, filepath.Join(r.Root, "untracked.txt"))
}

func TestRevertUnknownCommit(t *testing.T) {
	r := newRepo(t)
	_, err := r.Revert(3)
	assert.Equal(t, vcserr.KindUnknownCommit, vcserr.KindOf(err))
}

func TestCommitAfterRevertBranchesHistory(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "one", map[string]string{"a.txt": "v1"})
	addAndCommit(t, r, "two", map[string]string{"a.txt": "v2"})

	_, err := r.Revert(1)
	require.NoError(t, err)

	third := addAndCommit(t, r, "three", map[string]string{"b.txt": "fresh"})
	assert.Equal(t, 3, third.ID)
	assert.Equal(t, 1, third.ParentID)

	// History from HEAD skips the abandoned commit 2.
	var messages []string
	for _, c := range r.Log(0) {
		messages = append(messages, c.Message)
	}
	assert.Equal(t, []string{"three", "one"}, messages)

	_, err = r.Get(2)
	require.NoError(t, err)
}

func TestStatus(t *testing.T) {
	r := newRepo(t)
	st := r.Status()
	assert.Zero(t, st.Head)
	assert.Zero(t, st.Commits)
	assert.Empty(t, st.Staged)

	addAndCommit(t, r, "first", map[string]string{"a.txt": "x"})
	p := writeFile(t, r.Root, "b.txt", "staged")
	_, err := r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	st = r.Status()
	assert.Equal(t, 1, st.Head)
	assert.Equal(t, "first", st.HeadMessage)
	assert.Equal(t, 1, st.Commits)
	require.Len(t, st.Staged, 1)
	assert.Equal(t, "b.txt", st.Staged[0].Path)
}

func TestStateSurvivesReopen(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "first", map[string]string{"a.txt": "hello"})
	p := writeFile(t, r.Root, "b.txt", "staged")
	_, err := r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	reopened, err := Open(r.Root, nil)
	require.NoError(t, err)
	st := reopened.Status()
	assert.Equal(t, 1, st.Commits)
	assert.Equal(t, 1, st.Head)
	assert.Len(t, st.Staged, 1)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "first", map[string]string{"a.txt": "hi", "docs/readme.md": "# docs"})

	outDir := t.TempDir()
	archive, manifest, err := r.Snapshot("checkpoint", outDir, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "checkpoint.tar.zst", filepath.Base(archive))
	assert.Equal(t, 1, manifest.CommitCount)
	assert.Equal(t, 2, manifest.ObjectCount)
	assert.Equal(t, 1, manifest.Head)

	// Diverge: another commit plus a staged-only file.
	addAndCommit(t, r, "second", map[string]string{"a.txt": "bye", "c.txt": "later"})
	p := writeFile(t, r.Root, "d.txt", "staged only")
	_, err = r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	stats, err := r.Restore(archive)
	require.NoError(t, err)
	assert.Equal(t, RestoreStats{Commits: 1, Objects: 2, Head: 1}, stats)

	st := r.Status()
	assert.Equal(t, 1, st.Commits)
	assert.Equal(t, 1, st.Head)
	assert.Equal(t, "first", st.HeadMessage)
	assert.Empty(t, st.Staged)

	// The working tree matches the restored HEAD.
	content, err := os.ReadFile(filepath.Join(r.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
	assert.FileExists(t, filepath.Join(r.Root, "docs", "readme.md"))
	assert.NoFileExists(t, filepath.Join(r.Root, "c.txt"))
	// Never committed, so never tracked, so never touched.
	assert.FileExists(t, filepath.Join(r.Root, "d.txt"))

	report := r.Verify()
	assert.Empty(t, report.Problems)
}

func TestRestoreIntoFreshRepository(t *testing.T) {
	source := newRepo(t)
	addAndCommit(t, source, "first", map[string]string{"a.txt": "carried"})
	addAndCommit(t, source, "second", map[string]string{"b.txt": "along"})

	archive, _, err := source.Snapshot("move", t.TempDir(), time.Now())
	require.NoError(t, err)

	dest := newRepo(t)
	stats, err := dest.Restore(archive)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Commits)
	assert.Equal(t, 2, stats.Head)

	content, err := os.ReadFile(filepath.Join(dest.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "carried", string(content))
	assert.FileExists(t, filepath.Join(dest.Root, "b.txt"))

	history := dest.Log(0)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Message)
}

func TestRestoreRejectsInvalidArchive(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "first", map[string]string{"a.txt": "precious"})

	bad := filepath.Join(t.TempDir(), "bad.tar.zst")
	require.NoError(t, os.WriteFile(bad, []byte("not an archive"), 0644))

	_, err := r.Restore(bad)
	assert.Equal(t, vcserr.KindInvalidArchive, vcserr.KindOf(err))

	// The repository is untouched by the failed restore.
	st := r.Status()
	assert.Equal(t, 1, st.Commits)
	content, err := os.ReadFile(filepath.Join(r.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "precious", string(content))
}

func TestRestoreMissingArchive(t *testing.T) {
	r := newRepo(t)
	_, err := r.Restore(filepath.Join(t.TempDir(), "ghost.tar.zst"))
	assert.Equal(t, vcserr.KindFileNotFound, vcserr.KindOf(err))
}

func TestSnapshotDefaultName(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "first", map[string]string{"a.txt": "x"})

	now := time.Unix(1700000000, 0)
	archive, _, err := r.Snapshot("", t.TempDir(), now)
	require.NoError(t, err)
	assert.Equal(t, "snapshot_1700000000.tar.zst", filepath.Base(archive))

	// A name already carrying the extension is not doubled.
	archive, _, err = r.Snapshot("manual.tar.zst", t.TempDir(), now)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(archive, "manual.tar.zst"))
	assert.False(t, strings.HasSuffix(archive, ".tar.zst.tar.zst"))
}

func TestCompressRewritesObjects(t *testing.T) {
	r := newRepo(t)
	r.SetCodec(object.CodecNone)
	addAndCommit(t, r, "first", map[string]string{
		"big.txt": strings.Repeat("the same line over and over\n", 300),
	})

	stats, err := r.Compress(object.CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Objects)
	assert.Less(t, stats.BytesAfter, stats.BytesBefore)

	report := r.Verify()
	assert.Empty(t, report.Problems)

	// Recompressing with the same codec is a no-op.
	again, err := r.Compress(object.CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, again.BytesBefore, again.BytesAfter)
}

func TestVerifyCleanRepository(t *testing.T) {
	r := newRepo(t)
	addAndCommit(t, r, "first", map[string]string{"a.txt": "x", "b.txt": "y"})
	p := writeFile(t, r.Root, "c.txt", "staged")
	_, err := r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	report := r.Verify()
	assert.Equal(t, 1, report.Commits)
	assert.Equal(t, 3, report.Blobs)
	assert.Empty(t, report.Problems)
}

func TestVerifyReportsMissingObject(t *testing.T) {
	r := newRepo(t)
	c := addAndCommit(t, r, "first", map[string]string{"a.txt": "went missing"})
	d := c.Tree["a.txt"].Digest
	require.NoError(t, os.Remove(filepath.Join(r.Root, ".vcs", "objects", d.String())))

	// A fresh handle so the content cache cannot mask the loss.
	reopened, err := Open(r.Root, nil)
	require.NoError(t, err)

	report := reopened.Verify()
	require.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems[0], "a.txt")
}

func TestGCRemovesUnreferencedObjects(t *testing.T) {
	r := newRepo(t)
	p := writeFile(t, r.Root, "a.txt", "version one")
	_, err := r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	// Restaging new content orphans the first object.
	writeFile(t, r.Root, "a.txt", "version two")
	_, err = r.Add([]string{p}, time.Now())
	require.NoError(t, err)
	_, err = r.Commit("only v2", time.Now())
	require.NoError(t, err)

	stats, err := r.GC()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Removed)
	assert.Greater(t, stats.BytesReclaimed, int64(0))

	report := r.Verify()
	assert.Empty(t, report.Problems)
}

func TestGCKeepsStagedObjects(t *testing.T) {
	r := newRepo(t)
	p := writeFile(t, r.Root, "a.txt", "staged but not committed")
	_, err := r.Add([]string{p}, time.Now())
	require.NoError(t, err)

	stats, err := r.GC()
	require.NoError(t, err)
	assert.Zero(t, stats.Removed)
}
