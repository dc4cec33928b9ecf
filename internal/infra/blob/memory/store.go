// Package memory is the in-process blob backend of the memory storage
// profile and of tests.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"clinicalcore/internal/blob/core"
)

type object struct {
	info core.Info
	data []byte
}

// Store holds blobs in a map with a sorted key index for prefix listing.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	keys    []string
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		objects: make(map[string]object),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("read blob %s: %w", key, err)
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	pos, taken := slices.BinarySearch(s.keys, key)
	if taken {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}
	obj := object{
		info: core.Info{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  opts.ContentType,
			ETag:         hex.EncodeToString(sum[:]),
			Metadata:     maps.Clone(opts.Metadata),
			LastModified: s.now(),
		},
		data: data,
	}
	s.objects[key] = obj
	s.keys = slices.Insert(s.keys, pos, key)
	return obj.snapshot(), nil
}

func (s *Store) lookup(key string) (object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return object{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return obj, nil
}

// Get returns a reader over the stored bytes; stored data is never mutated,
// so readers can share it.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return obj.snapshot(), io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Info{}, err
	}
	return obj.snapshot(), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := slices.BinarySearch(s.keys, key)
	if !ok {
		return false, nil
	}
	delete(s.objects, key)
	s.keys = slices.Delete(s.keys, pos, pos+1)
	return true, nil
}

// List scans the sorted keys from the first one not below prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, _ := slices.BinarySearch(s.keys, prefix)
	var out []core.Info
	for _, key := range s.keys[start:] {
		if !strings.HasPrefix(key, prefix) {
			break
		}
		out = append(out, s.objects[key].snapshot())
	}
	return out, nil
}

func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

// snapshot returns Info with its own metadata map.
func (o object) snapshot() core.Info {
	info := o.info
	info.Metadata = maps.Clone(info.Metadata)
	return info
}
