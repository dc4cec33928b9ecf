package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"clinicalcore/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	key := "dictionaries/ARGO/1.0.json"
	info, err := store.Put(ctx, key, bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"version": "1.0"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != key || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	h, err := store.Head(ctx, key)
	if err != nil || h.Metadata["version"] != "1.0" {
		t.Fatalf("head: %+v %v", h, err)
	}
	g, rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "hello" || g.ETag != h.ETag {
		t.Fatalf("unexpected get artifacts")
	}
	if _, err := store.Put(ctx, "dictionaries/ARGO/1.1.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	list, err := store.List(ctx, "dictionaries/ARGO/")
	if err != nil || len(list) != 2 || list[0].Key != key {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	url, err := store.PresignURL(ctx, key, core.SignedURLOptions{})
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("presign url: %v %s", err, url)
	}
	if _, err := store.PresignURL(ctx, key, core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported PUT presign")
	}
	if ok, err := store.Delete(ctx, key); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, key); err != nil || ok {
		t.Fatalf("second delete should be false")
	}
	if _, _, err := store.Get(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on head, got %v", err)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "../escape.txt", "/abs.txt"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestStoreConcurrentPutsCreateOnce(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Put(ctx, "migrations/m-1/report.json", strings.NewReader(strconv.Itoa(i)), core.PutOptions{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, core.ErrExists):
			t.Fatalf("unexpected put error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one winner, got %d", created)
	}
	staged, err := os.ReadDir(filepath.Join(store.root, stagingDir))
	if err != nil || len(staged) != 0 {
		t.Fatalf("staging not cleaned: %v %v", staged, err)
	}
}

func TestStoreCorruptIndex(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "a.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(store.indexPath("a.json"), []byte("{"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := store.Head(ctx, "a.json"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list decode error")
	}
}
