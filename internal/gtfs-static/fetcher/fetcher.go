// Package fetcher acquires feed archives from http(s), s3 or the local
// filesystem, retrying transient failures with exponential backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/transit-schedules-data/internal/common/logger"
)

// Source locates one feed archive.
type Source struct {
	// URL is an http(s):// URL, an s3://bucket/key or a filesystem path.
	URL string
	// Query is merged into the query string of http sources.
	Query map[string]string
}

// Getter makes a single attempt at reading a source.
type Getter interface {
	Get(ctx context.Context, src Source) ([]byte, error)
}

// Recorder counts fetch attempts.
type Recorder interface {
	FetchAttempt()
}

type Options struct {
	// Timeout bounds each http attempt.
	Timeout  time.Duration
	Attempts int
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
	// DownloadDir, when set, receives a copy of every fetched archive.
	DownloadDir string
	S3          S3Config
	Metrics     Recorder
}

type Fetcher struct {
	logger      logger.Logger
	http        Getter
	file        Getter
	s3Config    S3Config
	attempts    int
	initial     time.Duration
	downloadDir string
	metrics     Recorder

	s3Once sync.Once
	s3     Getter
	s3Err  error
}

func New(logger logger.Logger, opts Options) *Fetcher {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 2 * time.Second
	}
	return &Fetcher{
		logger:      logger,
		http:        NewHTTPGetter(opts.Timeout, logger),
		file:        FileGetter{},
		s3Config:    opts.S3,
		attempts:    opts.Attempts,
		initial:     opts.InitialInterval,
		downloadDir: opts.DownloadDir,
		metrics:     opts.Metrics,
	}
}

// WithS3 replaces the S3 getter, for tests and callers holding their own client.
func (f *Fetcher) WithS3(g Getter) *Fetcher {
	f.s3Once.Do(func() {})
	f.s3 = g
	return f
}

func (f *Fetcher) getterFor(ctx context.Context, src Source) (Getter, error) {
	switch {
	case strings.HasPrefix(src.URL, "http://"), strings.HasPrefix(src.URL, "https://"):
		return f.http, nil
	case strings.HasPrefix(src.URL, "s3://"):
		f.s3Once.Do(func() {
			f.s3, f.s3Err = NewS3Getter(ctx, f.s3Config)
		})
		return f.s3, f.s3Err
	case strings.Contains(src.URL, "://"):
		return nil, fmt.Errorf("unsupported source scheme: %s", src.URL)
	default:
		return f.file, nil
	}
}

// Fetch reads src, retrying up to the configured number of attempts.
// Client errors and missing objects are not retried.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	getter, err := f.getterFor(ctx, src)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initial
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.attempts-1)), ctx)

	attempt := 0
	content, err := backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			attempt++
			if f.metrics != nil {
				f.metrics.FetchAttempt()
			}
			return getter.Get(ctx, src)
		},
		policy,
		func(err error, d time.Duration) {
			f.logger.Warn("Fetch failed, backing off", "source", Redact(src.URL), "attempt", attempt, "retry_in", d.String(), "error", err)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("fetching %s after %d attempt(s): %w", Redact(src.URL), attempt, err)
	}
	f.logger.Info("Feed fetched", "source", Redact(src.URL), "size_bytes", len(content), "attempts", attempt)
	return content, nil
}

// FileName names a kept archive by fetch time, region and agency.
func FileName(at time.Time, region, agency string) string {
	if agency == "" {
		agency = "all"
	}
	return fmt.Sprintf("%s_%s_%s.zip", at.UTC().Format("20060102T150405Z"), region, agency)
}

// Keep writes content to the download directory. It returns "" when no
// directory is configured.
func (f *Fetcher) Keep(content []byte, at time.Time, region, agency string) (string, error) {
	if f.downloadDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(f.downloadDir, 0755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	destPath := filepath.Join(f.downloadDir, FileName(at, region, agency))
	tempFile, err := os.CreateTemp(f.downloadDir, "gtfs_download_*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	_, err = tempFile.Write(content)
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("writing archive copy: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		return "", fmt.Errorf("moving file to destination: %w", err)
	}
	f.logger.Debug("Archive kept", "path", destPath)
	return destPath, nil
}

// Redact drops the query string, which may carry api keys.
func Redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// StatusError reports a non-200 http response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// permanentStatus reports client errors that retrying will not fix.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != 408 && code != 429
}

// IsNotFound reports whether err means the source does not exist.
func IsNotFound(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 404
	}
	return errors.Is(err, os.ErrNotExist)
}
