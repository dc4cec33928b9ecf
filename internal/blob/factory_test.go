package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"clinicalcore/internal/config"
	"clinicalcore/internal/infra/blob/s3/s3test"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []config.BlobConfig{
		{Driver: "memory"},
		{Driver: "fs", FSRoot: t.TempDir()},
	} {
		store, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("open %s: %v", cfg.Driver, err)
		}
		if string(store.Driver()) != cfg.Driver {
			t.Fatalf("expected driver %s, got %s", cfg.Driver, store.Driver())
		}
		exerciseStore(t, store)
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestS3StoreAgainstFakeBucket(t *testing.T) {
	store, _ := s3test.NewStore(t)
	exerciseStore(t, store)
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := "dictionaries/ARGO/1.0.json"
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte(`{"name":"ARGO"}`)), PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("%s put: %v", store.Driver(), err)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte(`{}`)), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("%s: expected ErrExists, got %v", store.Driver(), err)
	}
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("%s get: %v", store.Driver(), err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"name":"ARGO"}` {
		t.Fatalf("%s: unexpected body %q", store.Driver(), body)
	}
	if _, _, err := store.Get(ctx, "dictionaries/ARGO/9.9.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("%s: expected ErrNotFound, got %v", store.Driver(), err)
	}
	infos, err := store.List(ctx, "dictionaries/ARGO/")
	if err != nil || len(infos) != 1 || infos[0].Key != key {
		t.Fatalf("%s list: %v %+v", store.Driver(), err, infos)
	}
	if ok, err := store.Delete(ctx, key); err != nil || !ok {
		t.Fatalf("%s delete: %v %v", store.Driver(), ok, err)
	}
}
