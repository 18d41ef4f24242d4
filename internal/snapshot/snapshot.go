// Package snapshot reads and writes repository bundles: a zstd
// compressed tar holding the manifest, the commit chain, the HEAD
// pointer and every referenced object as raw content. A bundle is
// self-contained; restoring one needs nothing but the archive.
package snapshot

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"vcs/internal/commit"
	"vcs/internal/digest"
	"vcs/internal/vcserr"
)

const (
	Extension     = ".tar.zst"
	FormatVersion = 1

	manifestName = "manifest.json"
	commitsName  = "commits.json"
	headName     = "HEAD"
	objectPrefix = "objects/"
)

// Manifest describes the bundle so a restore can sanity-check the
// rest of the archive against it.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	CreatedAt     time.Time `json:"created_at"`
	Head          int       `json:"head"`
	CommitCount   int       `json:"commit_count"`
	ObjectCount   int       `json:"object_count"`
}

// State is the full content of a bundle.
type State struct {
	Manifest Manifest
	Commits  []commit.Commit
	Head     int
	Blobs    map[digest.Digest][]byte
}

// Write creates the archive at path. A failure leaves no partial
// file behind.
func Write(path string, st State) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return vcserr.IO("creating archive", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return vcserr.IO("starting compressor", err)
	}
	tw := tar.NewWriter(zw)

	manifest, err := json.MarshalIndent(st.Manifest, "", "  ")
	if err != nil {
		return vcserr.IO("encoding manifest", err)
	}
	commits, err := json.MarshalIndent(st.Commits, "", "  ")
	if err != nil {
		return vcserr.IO("encoding commit history", err)
	}
	head := []byte(strconv.Itoa(st.Head) + "\n")

	entries := []struct {
		name string
		data []byte
	}{
		{manifestName, manifest},
		{commitsName, commits},
		{headName, head},
	}
	for _, e := range entries {
		if err := writeEntry(tw, e.name, e.data, st.Manifest.CreatedAt); err != nil {
			return err
		}
	}

	digests := make([]digest.Digest, 0, len(st.Blobs))
	for d := range st.Blobs {
		digests = append(digests, d)
	}
	sort.Slice(digests, func(i, j int) bool { return digests[i] < digests[j] })
	for _, d := range digests {
		if err := writeEntry(tw, objectPrefix+d.String(), st.Blobs[d], st.Manifest.CreatedAt); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return vcserr.IO("finishing archive", err)
	}
	if err := zw.Close(); err != nil {
		return vcserr.IO("finishing compressor", err)
	}
	if err := f.Close(); err != nil {
		return vcserr.IO("closing archive", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0644,
		Size:     int64(len(data)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return vcserr.IO(fmt.Sprintf("writing archive entry %s", name), err)
	}
	if _, err := tw.Write(data); err != nil {
		return vcserr.IO(fmt.Sprintf("writing archive entry %s", name), err)
	}
	return nil
}

// Read loads and fully validates a bundle. Anything structurally off
// is reported as an invalid archive before the caller touches any
// repository state.
func Read(path string) (State, error) {
	st := State{Blobs: map[digest.Digest][]byte{}}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, vcserr.New(vcserr.KindFileNotFound, fmt.Sprintf("archive not found: %s", path))
		}
		return st, vcserr.IO("opening archive", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return st, vcserr.InvalidArchive("not a zstd compressed archive", err)
	}
	defer zr.Close()

	var haveManifest, haveCommits, haveHead bool
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, vcserr.InvalidArchive("reading archive", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			return st, vcserr.InvalidArchive(fmt.Sprintf("unsupported entry type for %q", hdr.Name), nil)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return st, vcserr.InvalidArchive(fmt.Sprintf("reading archive entry %q", hdr.Name), err)
		}

		switch {
		case hdr.Name == manifestName:
			if err := json.Unmarshal(data, &st.Manifest); err != nil {
				return st, vcserr.InvalidArchive("malformed manifest", err)
			}
			haveManifest = true

		case hdr.Name == commitsName:
			if err := json.Unmarshal(data, &st.Commits); err != nil {
				return st, vcserr.InvalidArchive("malformed commit history", err)
			}
			haveCommits = true

		case hdr.Name == headName:
			head, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return st, vcserr.InvalidArchive(fmt.Sprintf("malformed HEAD %q", strings.TrimSpace(string(data))), nil)
			}
			st.Head = head
			haveHead = true

		case strings.HasPrefix(hdr.Name, objectPrefix):
			d := digest.Digest(strings.TrimPrefix(hdr.Name, objectPrefix))
			if !d.Valid() {
				return st, vcserr.InvalidArchive(fmt.Sprintf("invalid object name %q", hdr.Name), nil)
			}
			if digest.FromBytes(data) != d {
				return st, vcserr.InvalidArchive(fmt.Sprintf("object %s does not match its digest", d.Short()), nil)
			}
			st.Blobs[d] = data

		default:
			return st, vcserr.InvalidArchive(fmt.Sprintf("unexpected entry %q", hdr.Name), nil)
		}
	}

	if !haveManifest || !haveCommits || !haveHead {
		return st, vcserr.InvalidArchive("archive is missing required entries", nil)
	}
	return st, validate(st)
}

func validate(st State) error {
	if st.Manifest.FormatVersion != FormatVersion {
		return vcserr.InvalidArchive(fmt.Sprintf("unsupported format version %d", st.Manifest.FormatVersion), nil)
	}
	if err := commit.ValidateChain(st.Commits); err != nil {
		return vcserr.InvalidArchive("inconsistent commit history", err)
	}
	if st.Head < 0 || st.Head > len(st.Commits) {
		return vcserr.InvalidArchive(fmt.Sprintf("HEAD %d outside history of %d commits", st.Head, len(st.Commits)), nil)
	}
	if st.Head != st.Manifest.Head {
		return vcserr.InvalidArchive(fmt.Sprintf("manifest HEAD %d disagrees with archive HEAD %d", st.Manifest.Head, st.Head), nil)
	}
	if st.Manifest.CommitCount != len(st.Commits) {
		return vcserr.InvalidArchive(fmt.Sprintf("manifest claims %d commits, archive holds %d", st.Manifest.CommitCount, len(st.Commits)), nil)
	}
	if st.Manifest.ObjectCount != len(st.Blobs) {
		return vcserr.InvalidArchive(fmt.Sprintf("manifest claims %d objects, archive holds %d", st.Manifest.ObjectCount, len(st.Blobs)), nil)
	}
	for _, c := range st.Commits {
		for path, entry := range c.Tree {
			if _, ok := st.Blobs[entry.Digest]; !ok {
				return vcserr.InvalidArchive(fmt.Sprintf("commit %d references missing object for %q", c.ID, path), nil)
			}
		}
	}
	return nil
}
