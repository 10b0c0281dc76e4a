package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/transit-schedules-data/internal/common/logger"
)

type HTTPGetter struct {
	client *http.Client
	logger logger.Logger
}

func NewHTTPGetter(timeout time.Duration, logger logger.Logger) *HTTPGetter {
	if timeout <= 0 {
		timeout = 5 * time.Minute // Large files may take time
	}
	return &HTTPGetter{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (g *HTTPGetter) Get(ctx context.Context, src Source) ([]byte, error) {
	target, err := withQuery(src.URL, src.Query)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	g.logger.Debug("Starting download", "url", Redact(target))
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := &StatusError{Code: resp.StatusCode}
		if permanentStatus(resp.StatusCode) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	written, err := g.copyWithProgress(&buf, resp.Body, resp.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	g.logger.Debug("Download completed", "url", Redact(target), "size_bytes", written)
	return buf.Bytes(), nil
}

// withQuery merges params into rawURL's query string.
func withQuery(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing source url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (g *HTTPGetter) copyWithProgress(dst io.Writer, src io.Reader, totalSize int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	lastLog := time.Now()

	for {
		nr, err := src.Read(buf)
		if nr > 0 {
			nw, err := dst.Write(buf[0:nr])
			if err != nil {
				return written, err
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			written += int64(nw)

			// Log progress every 5 seconds
			if time.Since(lastLog) > 5*time.Second && totalSize > 0 {
				progress := float64(written) / float64(totalSize) * 100
				g.logger.Debug("Download progress",
					"progress_percent", fmt.Sprintf("%.1f", progress),
					"bytes_downloaded", written,
					"total_bytes", totalSize)
				lastLog = time.Now()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
