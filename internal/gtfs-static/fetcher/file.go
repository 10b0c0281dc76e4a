package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"
)

// FileGetter reads archives from the local filesystem.
type FileGetter struct{}

func (FileGetter) Get(_ context.Context, src Source) ([]byte, error) {
	content, err := os.ReadFile(src.URL)
	if err != nil {
		err = fmt.Errorf("reading %s: %w", src.URL, err)
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return content, nil
}
