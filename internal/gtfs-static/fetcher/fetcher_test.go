package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transit-schedules-data/internal/common/logger"
)

type attempts struct{ n atomic.Int64 }

func (a *attempts) FetchAttempt() { a.n.Add(1) }

func newFetcher(t *testing.T, opts Options) (*Fetcher, *attempts) {
	t.Helper()
	rec := &attempts{}
	opts.Metrics = rec
	opts.InitialInterval = time.Millisecond
	return New(logger.Nop(), opts), rec
}

func TestFetchHTTPRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "1", r.URL.Query().Get("v"))
		w.Write([]byte("PK-archive"))
	}))
	defer srv.Close()

	f, rec := newFetcher(t, Options{Attempts: 3})
	content, err := f.Fetch(context.Background(), Source{URL: srv.URL + "/gtfs.zip?v=1", Query: map[string]string{"api_key": "secret"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("PK-archive"), content)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, int64(3), rec.n.Load())
}

func TestFetchHTTPGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, _ := newFetcher(t, Options{Attempts: 2})
	_, err := f.Fetch(context.Background(), Source{URL: srv.URL})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetchHTTPClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, _ := newFetcher(t, Options{Attempts: 5})
	_, err := f.Fetch(context.Background(), Source{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0644))

	f, rec := newFetcher(t, Options{Attempts: 3})
	content, err := f.Fetch(context.Background(), Source{URL: path})
	require.NoError(t, err)
	assert.Equal(t, []byte("zip"), content)

	_, err = f.Fetch(context.Background(), Source{URL: path + ".missing"})
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int64(2), rec.n.Load())
}

func TestFetchUnsupportedScheme(t *testing.T) {
	f, _ := newFetcher(t, Options{})
	_, err := f.Fetch(context.Background(), Source{URL: "ftp://example.com/gtfs.zip"})
	assert.ErrorContains(t, err, "unsupported source scheme")
}

type fakeObjects struct {
	objects map[string][]byte
	calls   int
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	content, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(content))}, nil
}

func TestFetchS3(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{"feeds/bay/gtfs.zip": []byte("zip")}}
	f, _ := newFetcher(t, Options{Attempts: 3})
	f.WithS3(NewS3GetterWithClient(objects))

	content, err := f.Fetch(context.Background(), Source{URL: "s3://feeds/bay/gtfs.zip"})
	require.NoError(t, err)
	assert.Equal(t, []byte("zip"), content)

	_, err = f.Fetch(context.Background(), Source{URL: "s3://feeds/missing.zip"})
	var nsk *types.NoSuchKey
	assert.ErrorAs(t, err, &nsk)
	assert.Equal(t, 2, objects.calls)
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://feeds/bay/gtfs.zip")
	require.NoError(t, err)
	assert.Equal(t, "feeds", bucket)
	assert.Equal(t, "bay/gtfs.zip", key)

	_, _, err = parseS3URL("s3://feeds")
	assert.Error(t, err)
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, _ := newFetcher(t, Options{Attempts: 3})
	_, err := f.Fetch(ctx, Source{URL: srv.URL})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestKeep(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	f, _ := newFetcher(t, Options{DownloadDir: dir})
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.FixedZone("PST", -8*3600))

	path, err := f.Keep([]byte("zip"), at, "BA", "BART")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240304T130607Z_BA_BART.zip"), path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("zip"), content)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestKeepDisabled(t *testing.T) {
	f, _ := newFetcher(t, Options{})
	path, err := f.Keep([]byte("zip"), time.Now(), "BA", "")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestFileNameWithoutAgency(t *testing.T) {
	assert.Equal(t, "20240304T050607Z_BA_all.zip", FileName(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC), "BA", ""))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://example.com/gtfs.zip", Redact("https://example.com/gtfs.zip?api_key=secret"))
}
