package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
)

// S3Config selects the bucket endpoint. Credentials come from the default
// AWS chain.
type S3Config struct {
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
}

// ObjectAPI is the part of the S3 client the getter uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Getter struct {
	client ObjectAPI
}

func NewS3Getter(ctx context.Context, cfg S3Config) (*S3Getter, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Getter{client: client}, nil
}

// NewS3GetterWithClient wraps an existing client.
func NewS3GetterWithClient(client ObjectAPI) *S3Getter {
	return &S3Getter{client: client}
}

func (g *S3Getter) Get(ctx context.Context, src Source) ([]byte, error) {
	bucket, key, err := parseS3URL(src.URL)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		var nsb *types.NoSuchBucket
		if errors.As(err, &nsk) || errors.As(err, &nsb) {
			return nil, backoff.Permanent(fmt.Errorf("getting %s: %w", src.URL, err))
		}
		return nil, fmt.Errorf("getting %s: %w", src.URL, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src.URL, err)
	}
	return content, nil
}

// parseS3URL splits s3://bucket/key.
func parseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing s3 url: %w", err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 url must look like s3://bucket/key, got %q", raw)
	}
	return u.Host, key, nil
}
