// Package s3test serves an in-process S3 bucket for store tests.
package s3test

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"

	blobs3 "clinicalcore/internal/infra/blob/s3"
)

// BucketName is the only bucket the fake serves.
const BucketName = "clinical-blobs"

// Bucket serves the slice of the S3 API the store uses: object HEAD, GET,
// PUT and DELETE plus ListObjectsV2.
type Bucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	etag        string
	modified    time.Time
}

// NewStore starts a fake bucket and returns a Store wired to it. The server
// stops when the test ends.
func NewStore(t testing.TB) (*blobs3.Store, *Bucket) {
	t.Helper()
	fake := &Bucket{objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := blobs3.New(t.Context(), blobs3.Config{
		Bucket:      BucketName,
		Endpoint:    srv.URL,
		PathStyle:   true,
		Credentials: credentials.NewStaticCredentialsProvider("AKIDTEST", "SECRET", ""),
	})
	if err != nil {
		t.Fatalf("s3 store: %v", err)
	}
	return store, fake
}

// ETag returns the stored ETag of key, or "" when it is absent.
func (f *Bucket) ETag(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key].etag
}

func (f *Bucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/"+BucketName)
	key := strings.TrimPrefix(path, "/")
	if key == "" && r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
		f.list(w, r.URL.Query().Get("prefix"))
		return
	}
	switch r.Method {
	case http.MethodPut:
		body, err := readPayload(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, taken := f.objects[key]; taken && r.Header.Get("If-None-Match") == "*" {
			writeError(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		sum := md5.Sum(body)
		obj := fakeObject{
			body:        body,
			contentType: r.Header.Get("Content-Type"),
			metadata:    map[string]string{},
			etag:        hex.EncodeToString(sum[:]),
			modified:    time.Now().UTC().Truncate(time.Second),
		}
		for name, values := range r.Header {
			if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-amz-meta-") {
				obj.metadata[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
			}
		}
		f.objects[key] = obj
		w.Header().Set("ETag", strconv.Quote(obj.etag))
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		h := w.Header()
		h.Set("Content-Length", strconv.Itoa(len(obj.body)))
		h.Set("Content-Type", obj.contentType)
		h.Set("ETag", strconv.Quote(obj.etag))
		h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		for k, v := range obj.metadata {
			h.Set("X-Amz-Meta-"+k, v)
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.body)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, http.StatusText(status))
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

func (f *Bucket) list(w http.ResponseWriter, prefix string) {
	res := listResult{Name: BucketName, Prefix: prefix}
	for key, obj := range f.objects {
		if strings.HasPrefix(key, prefix) {
			res.Contents = append(res.Contents, listContent{
				Key:          key,
				Size:         len(obj.body),
				ETag:         strconv.Quote(obj.etag),
				LastModified: obj.modified.Format(time.RFC3339),
			})
		}
	}
	sort.Slice(res.Contents, func(i, j int) bool { return res.Contents[i].Key < res.Contents[j].Key })
	res.KeyCount = len(res.Contents)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(res)
}

// readPayload returns the object bytes, unwrapping aws-chunked uploads.
func readPayload(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") &&
		!strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return raw, nil
	}
	var out bytes.Buffer
	br := bufio.NewReader(bytes.NewReader(raw))
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("chunk header: %w", err)
		}
		sizeField, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", sizeField, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, fmt.Errorf("chunk body: %w", err)
		}
		if _, err := br.Discard(2); err != nil {
			return nil, fmt.Errorf("chunk terminator: %w", err)
		}
	}
}
