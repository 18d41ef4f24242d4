// internal/object/store.go
package object

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"vcs/internal/digest"
	"vcs/internal/fsutil"
	"vcs/internal/logging"
	"vcs/internal/vcserr"
)

const cacheSize = 1000

// Store is a content-addressed object store. Each object lives in a
// single file named by the SHA-256 digest of its raw content, directly
// under the store directory. Writes of existing digests are no-ops.
type Store struct {
	dir    string
	cache  *lru.Cache[digest.Digest, []byte]
	logger *logging.Logger
}

// Open prepares the store directory and returns a handle to it.
func Open(dir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, vcserr.IO("creating object directory", err)
	}
	cache, err := lru.New[digest.Digest, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating object cache: %w", err)
	}
	return &Store{dir: dir, cache: cache, logger: logger}, nil
}

func (s *Store) path(d digest.Digest) string {
	return filepath.Join(s.dir, d.String())
}

// Put stores content and returns its digest. Content already present
// is not rewritten.
func (s *Store) Put(content []byte, codec Codec) (digest.Digest, error) {
	if content == nil {
		content = []byte{}
	}
	d := digest.FromBytes(content)

	if _, err := os.Stat(s.path(d)); err == nil {
		return d, nil
	}

	encoded, err := encode(content, codec)
	if err != nil {
		return "", vcserr.IO("encoding object", err)
	}
	if err := fsutil.WriteFileAtomic(s.path(d), encoded, 0644); err != nil {
		return "", vcserr.IO("writing object", err)
	}
	s.cache.Add(d, content)
	s.logger.Debug("object stored",
		zap.String("digest", d.Short()),
		zap.Int("size", len(content)),
		zap.Int("stored", len(encoded)))
	return d, nil
}

// Get returns the raw content for a digest. The content is re-hashed
// on read; a mismatch means the object file is corrupt.
func (s *Store) Get(d digest.Digest) ([]byte, error) {
	if !d.Valid() {
		return nil, vcserr.NotFound(d.String())
	}
	if content, ok := s.cache.Get(d); ok {
		return content, nil
	}

	data, err := os.ReadFile(s.path(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vcserr.NotFound(d.String())
		}
		return nil, vcserr.IO("reading object", err)
	}
	content, err := decode(data)
	if err != nil {
		return nil, vcserr.IO(fmt.Sprintf("decoding object %s", d.Short()), err)
	}
	if digest.FromBytes(content) != d {
		return nil, vcserr.IO(fmt.Sprintf("object %s is corrupt", d.Short()), fmt.Errorf("content hash mismatch"))
	}
	s.cache.Add(d, content)
	return content, nil
}

// Contains reports whether the store holds the digest.
func (s *Store) Contains(d digest.Digest) bool {
	if !d.Valid() {
		return false
	}
	if s.cache.Contains(d) {
		return true
	}
	_, err := os.Stat(s.path(d))
	return err == nil
}

// Digests lists every object in the store in lexicographic order.
// Files whose names are not valid digests are ignored.
func (s *Store) Digests() ([]digest.Digest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, vcserr.IO("listing objects", err)
	}
	digests := make([]digest.Digest, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		d := digest.Digest(e.Name())
		if !d.Valid() {
			continue
		}
		digests = append(digests, d)
	}
	sort.Slice(digests, func(i, j int) bool { return digests[i] < digests[j] })
	return digests, nil
}

// Remove deletes an object and reports the bytes reclaimed. Removing
// an absent object is not an error.
func (s *Store) Remove(d digest.Digest) (int64, error) {
	info, err := os.Stat(s.path(d))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, vcserr.IO("inspecting object", err)
	}
	if err := os.Remove(s.path(d)); err != nil {
		return 0, vcserr.IO("removing object", err)
	}
	s.cache.Remove(d)
	return info.Size(), nil
}

// RewriteStats summarizes a Rewrite pass over the store.
type RewriteStats struct {
	Objects     int
	BytesBefore int64
	BytesAfter  int64
}

// Rewrite re-encodes every object with the given codec. Objects whose
// encoding would not change are left untouched, so a second pass with
// the same codec rewrites nothing. Content digests never change; only
// the encoding around the content does.
func (s *Store) Rewrite(codec Codec) (RewriteStats, error) {
	digests, err := s.Digests()
	if err != nil {
		return RewriteStats{}, err
	}

	var stats RewriteStats
	for _, d := range digests {
		old, err := os.ReadFile(s.path(d))
		if err != nil {
			return stats, vcserr.IO("reading object", err)
		}
		content, err := decode(old)
		if err != nil {
			return stats, vcserr.IO(fmt.Sprintf("decoding object %s", d.Short()), err)
		}
		if digest.FromBytes(content) != d {
			return stats, vcserr.IO(fmt.Sprintf("object %s is corrupt", d.Short()), fmt.Errorf("content hash mismatch"))
		}

		fresh, err := encode(content, codec)
		if err != nil {
			return stats, vcserr.IO("encoding object", err)
		}
		stats.Objects++
		stats.BytesBefore += int64(len(old))
		stats.BytesAfter += int64(len(fresh))

		if bytes.Equal(old, fresh) {
			continue
		}
		if err := fsutil.WriteFileAtomic(s.path(d), fresh, 0644); err != nil {
			return stats, vcserr.IO("rewriting object", err)
		}
	}
	s.logger.Info("object store rewritten",
		zap.String("codec", codec.String()),
		zap.Int("objects", stats.Objects),
		zap.Int64("bytes_before", stats.BytesBefore),
		zap.Int64("bytes_after", stats.BytesAfter))
	return stats, nil
}
