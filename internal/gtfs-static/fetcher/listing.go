package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// OperatorLister reads a publisher's JSON operator listing.
type OperatorLister struct {
	client *http.Client
	logger logger.Logger
}

func NewOperatorLister(timeout time.Duration, logger logger.Logger) *OperatorLister {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OperatorLister{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (l *OperatorLister) Operators(ctx context.Context, src Source) ([]models.Operator, error) {
	target, err := withQuery(src.URL, src.Query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	l.logger.Debug("Fetching operator listing", "url", Redact(target))

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request to %s: %w", Redact(target), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading operator listing: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		l.logger.Error("Listing returned error status",
			"status_code", resp.StatusCode,
			"url", Redact(target),
			"response_body", string(body))
		return nil, fmt.Errorf("listing returned status %d: %s", resp.StatusCode, string(body))
	}

	// Some publishers prefix their JSON with a byte order mark.
	var operators []models.Operator
	if err := json.Unmarshal(bytes.TrimPrefix(body, utf8BOM), &operators); err != nil {
		return nil, fmt.Errorf("decoding operator listing: %w", err)
	}

	l.logger.Info("Operator listing fetched", "url", Redact(target), "operators", len(operators))
	return operators, nil
}
