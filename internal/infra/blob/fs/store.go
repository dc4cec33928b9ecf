// Package fs is the local-disk blob backend. Object bytes live under
// objects/ and a JSON index entry per object under index/; a key maps to
// the same relative path in both trees.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"clinicalcore/internal/blob/core"
)

const (
	objectsDir = "objects"
	indexDir   = "index"
	stagingDir = "staging"
	indexExt   = ".json"
)

// Store keeps blobs below one root directory. Put is create-only even with
// concurrent writers: the object appears through a hard link, which fails
// when the name is taken.
type Store struct {
	root string
}

// New prepares the directory layout under root (default ./blobdata).
func New(root string) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	for _, dir := range []string{objectsDir, indexDir, stagingDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, fmt.Errorf("prepare blob root %s: %w", root, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// indexEntry is the on-disk record next to each object.
type indexEntry struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
	Size        int64             `json:"size"`
	StoredAt    time.Time         `json:"stored_at"`
}

func (e indexEntry) toInfo(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         e.Size,
		ContentType:  e.ContentType,
		ETag:         e.SHA256,
		Metadata:     maps.Clone(e.Metadata),
		LastModified: e.StoredAt,
	}
}

// cleanKey accepts relative slash-separated keys that stay inside the root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("blob key is empty")
	}
	cleaned := path.Clean(filepath.ToSlash(key))
	if strings.HasPrefix(key, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(key, "..") {
		return "", fmt.Errorf("blob key %q escapes the store", key)
	}
	return cleaned, nil
}

func (s *Store) objectPath(key string) string {
	return filepath.Join(s.root, objectsDir, filepath.FromSlash(key))
}

func (s *Store) indexPath(key string) string {
	return filepath.Join(s.root, indexDir, filepath.FromSlash(key)+indexExt)
}

func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	key, err := cleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	staged, sum, size, err := s.stage(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("stage blob %s: %w", key, err)
	}
	defer func() { _ = os.Remove(staged) }()

	target := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return core.Info{}, err
	}
	if err := os.Link(staged, target); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
		}
		return core.Info{}, fmt.Errorf("publish blob %s: %w", key, err)
	}
	entry := indexEntry{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		SHA256:      sum,
		Size:        size,
		StoredAt:    time.Now().UTC(),
	}
	if err := s.writeIndex(key, entry); err != nil {
		_ = os.Remove(target)
		return core.Info{}, err
	}
	return entry.toInfo(key), nil
}

// stage copies r into a synced file under staging/ and hashes it on the way.
func (s *Store) stage(r io.Reader) (name, sum string, size int64, err error) {
	f, err := os.CreateTemp(filepath.Join(s.root, stagingDir), "put-*")
	if err != nil {
		return "", "", 0, err
	}
	hash := sha256.New()
	size, err = io.Copy(io.MultiWriter(f, hash), r)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", "", 0, err
	}
	return f.Name(), hex.EncodeToString(hash.Sum(nil)), size, nil
}

func (s *Store) writeIndex(key string, entry indexEntry) error {
	p := s.indexPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("index blob %s: %w", key, err)
	}
	return nil
}

func (s *Store) readIndex(key string) (indexEntry, error) {
	data, err := os.ReadFile(s.indexPath(key)) // #nosec G304 -- cleaned key under root
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return indexEntry{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return indexEntry{}, err
	}
	var entry indexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return indexEntry{}, fmt.Errorf("decode index of %s: %w", key, err)
	}
	return entry, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	key, err := cleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	entry, err := s.readIndex(key)
	if err != nil {
		return core.Info{}, err
	}
	return entry.toInfo(key), nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := os.Open(s.objectPath(info.Key)) // #nosec G304 -- cleaned key under root
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return core.Info{}, nil, err
	}
	return info, f, nil
}

// Delete drops the index entry first so a half-deleted blob is invisible.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(s.indexPath(key)); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(s.objectPath(key)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

// List reads the index tree; objects without an index entry are not listed.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	base := filepath.Join(s.root, indexDir)
	var infos []core.Info
	err := filepath.WalkDir(base, func(p string, d iofs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, indexExt) {
			return err
		}
		rel, err := filepath.Rel(base, strings.TrimSuffix(p, indexExt))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		entry, err := s.readIndex(key)
		if err != nil {
			return err
		}
		infos = append(infos, entry.toInfo(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

// PresignURL returns a file:// URL for GET; local disk has no signing.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", core.ErrUnsupported
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(s.objectPath(key))
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
