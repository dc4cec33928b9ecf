package s3_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"clinicalcore/internal/blob/core"
	blobs3 "clinicalcore/internal/infra/blob/s3"
	"clinicalcore/internal/infra/blob/s3/s3test"
)

func TestStoreAgainstFakeBucket(t *testing.T) {
	ctx := context.Background()
	store, fake := s3test.NewStore(t)
	if store.Driver() != core.DriverS3 {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	key := "migrations/m-1/report.json"
	if _, err := store.Head(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found before put, got %v", err)
	}
	info, err := store.Put(ctx, key, bytes.NewReader([]byte(`{"stage":"COMPLETED"}`)), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"migration": "m-1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != key || info.ContentType != "application/json" || info.Metadata["migration"] != "m-1" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.ETag != fake.ETag(key) || info.Size != int64(len(`{"stage":"COMPLETED"}`)) {
		t.Fatalf("unexpected etag or size %+v", info)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"stage":"COMPLETED"}` {
		t.Fatalf("unexpected body %q", body)
	}
	list, err := store.List(ctx, "migrations/")
	if err != nil || len(list) != 1 || list[0].Key != key {
		t.Fatalf("list: %+v %v", list, err)
	}
	url, err := store.PresignURL(ctx, key, core.SignedURLOptions{Expiry: time.Minute})
	if err != nil || !strings.Contains(url, "report.json") {
		t.Fatalf("presign: %q %v", url, err)
	}
	if _, err := store.PresignURL(ctx, key, core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported method")
	}
	if ok, err := store.Delete(ctx, key); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, key); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, _, err := store.Get(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := blobs3.New(context.Background(), blobs3.Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}
