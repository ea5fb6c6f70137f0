package r2

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	t.Parallel()

	host, secure, err := Endpoint(Config{AccountID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, "abc123.r2.cloudflarestorage.com", host)
	assert.True(t, secure)

	host, secure, err = Endpoint(Config{Endpoint: "http://127.0.0.1:9000"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", host)
	assert.False(t, secure)

	host, secure, err = Endpoint(Config{Endpoint: "s3.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, secure)

	_, _, err = Endpoint(Config{})
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{AccountID: "a", AccessKeyID: "k", SecretAccessKey: "s"})
	assert.Error(t, err, "bucket required")

	_, err = New(Config{AccountID: "a", Bucket: "b"})
	assert.Error(t, err, "credentials required")

	store, err := New(Config{AccountID: "a", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheControl, store.cacheControl)
}

type fakeS3 struct {
	mu      sync.Mutex
	headers map[string]http.Header
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPut:
		_, _ = io.Copy(io.Discard, r.Body)
		f.mu.Lock()
		f.headers[r.URL.Path] = r.Header.Clone()
		f.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead && strings.HasSuffix(r.URL.Path, "/missing.webp"):
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodHead:
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Content-Length", "0")
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2026 15:04:05 GMT")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>geohints-images</Name><Prefix>bollards/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys>
<IsTruncated>false</IsTruncated>
<Contents><Key>bollards/de/aaaaaaaa-400w.webp</Key><Size>3</Size></Contents>
<Contents><Key>bollards/de/aaaaaaaa-800w.webp</Key><Size>3</Size></Contents>
</ListBucketResult>`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFakeStore(t *testing.T) (*ObjectStore, *fakeS3) {
	t.Helper()
	fake := &fakeS3{headers: make(map[string]http.Header)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := New(Config{
		Endpoint:        srv.URL,
		Bucket:          "geohints-images",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	return store, fake
}

func TestPutFileSendsHeaders(t *testing.T) {
	t.Parallel()

	store, fake := newFakeStore(t)
	path := filepath.Join(t.TempDir(), "a.webp")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	require.NoError(t, store.PutFile(context.Background(), "bollards/de/aaaaaaaa-400w.webp", path, "image/webp"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	hdr, ok := fake.headers["/geohints-images/bollards/de/aaaaaaaa-400w.webp"]
	require.True(t, ok, "expected path-style PUT, got %v", fake.headers)
	assert.Equal(t, "image/webp", hdr.Get("Content-Type"))
	assert.Equal(t, DefaultCacheControl, hdr.Get("Cache-Control"))
}

func TestPutFileMissingLocalFile(t *testing.T) {
	t.Parallel()

	store, _ := newFakeStore(t)
	err := store.PutFile(context.Background(), "k.webp", filepath.Join(t.TempDir(), "nope"), "image/webp")
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	t.Parallel()

	store, _ := newFakeStore(t)
	ok, err := store.Exists(context.Background(), "bollards/de/present.webp")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "bollards/de/missing.webp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	t.Parallel()

	store, _ := newFakeStore(t)
	keys, err := store.List(context.Background(), "bollards/")
	require.NoError(t, err)
	assert.Equal(t, []string{"bollards/de/aaaaaaaa-400w.webp", "bollards/de/aaaaaaaa-800w.webp"}, keys)
}
