// Package attachment implements the blob store collaborator (§4.12): a
// narrow key/value interface over attachment bytes, with one concrete
// implementation that keeps each attachment as a flat file named by its
// unique key, no subdirectories.
//
// Unlike internal/proxy's use of crawshaw.io/iox.Filer (a scratch/spill
// buffer for transient rewriting work, see htmlembed.Embed), this store
// needs permanent, keyed, re-openable files — a concern iox.Filer's
// BufferFile doesn't address since it hands back an unnamed, GC'd temp
// file rather than a stable path. No pack example provides a persistent
// content-addressable blob store, so this is built directly on os/io, the
// idiomatic stdlib choice for a flat-file-per-key store.
package attachment

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Get when key has no stored blob.
var ErrNotFound = errors.New("attachment: not found")

// Store is the narrow collaborator interface the Worker Swarm (§4.6) uses
// to persist hydrated attachment bytes, and the HTTP surface (§6) uses to
// serve them back out.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DirStore is a Store backed by a single flat directory; key must already
// be a filesystem-safe unique name (§4.6 generates one per attachment).
type DirStore struct {
	dir string
}

// NewDirStore returns a DirStore rooted at dir, creating it if absent.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key))
}

// Put writes r to key, replacing any existing blob atomically via a
// temp-file-then-rename so concurrent Get calls never see a partial write.
func (s *DirStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path(key))
}

// Get opens key for reading. Callers must Close the returned reader.
func (s *DirStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Delete removes key's blob, if any. Deleting an absent key is not an
// error (§9's attachment GC is a Non-goal; no caller deletes blobs when a
// message is deleted, so orphaned blobs are left in place).
func (s *DirStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
