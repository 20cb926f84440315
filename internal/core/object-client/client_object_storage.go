package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cfg "github.com/markdave123-py/kbingest/internal/config"
	"github.com/markdave123-py/kbingest/internal/core"
)

var _ core.ObjectClient = (*S3Client)(nil)

const (
	downloadAttempts = 3
	downloadTimeout  = 2 * time.Minute
)

var errPermanent = errors.New("permanent download failure")

type S3Client struct {
	client   *s3.Client
	presign  *s3.PresignClient
	http     *http.Client
	region   string
	bucket   string
	endpoint *url.URL
	delay    time.Duration
	logger   *slog.Logger
}

// NewS3Client connects to the bucket holding uploaded files. Static
// credentials are used when configured, otherwise the default AWS chain.
// S3Endpoint points the client at an S3-compatible store with path-style
// addressing.
func NewS3Client(ctx context.Context, cfg *cfg.Config, logger *slog.Logger) (*S3Client, error) {
	if cfg.AwsRegion == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name not set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AwsRegion)}
	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var endpoint *url.URL
	if cfg.S3Endpoint != "" {
		endpoint, err = url.Parse(cfg.S3Endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse S3_ENDPOINT: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// downloads are retried by GetFile
		o.RetryMaxAttempts = 1
		if endpoint != nil {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("object storage client ready", "bucket", cfg.BucketName, "region", cfg.AwsRegion, "endpoint", cfg.S3Endpoint)

	return &S3Client{
		client:   client,
		presign:  s3.NewPresignClient(client),
		http:     &http.Client{Timeout: downloadTimeout},
		region:   cfg.AwsRegion,
		bucket:   cfg.BucketName,
		endpoint: endpoint,
		delay:    500 * time.Millisecond,
		logger:   logger.With("component", "object-client"),
	}, nil
}

// location is either an object in a bucket or a plain URL.
type location struct {
	bucket string
	key    string
	url    string
}

// resolve accepts s3://bucket/key, virtual-hosted or path-style S3 URLs,
// any other http(s) URL, or a bare key in the default bucket.
func (c *S3Client) resolve(locator string) (location, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return location{}, fmt.Errorf("%w: empty file locator", core.ErrInvalidInput)
	}

	if strings.HasPrefix(locator, "s3://") {
		rest := strings.TrimPrefix(locator, "s3://")
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return location{}, fmt.Errorf("%w: bad s3 locator %q", core.ErrInvalidInput, locator)
		}
		return location{bucket: bucket, key: key}, nil
	}

	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		u, err := url.Parse(locator)
		if err != nil {
			return location{}, fmt.Errorf("%w: bad url %q", core.ErrInvalidInput, locator)
		}
		if c.endpoint != nil && u.Host == c.endpoint.Host {
			bucket, key, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
			return location{bucket: bucket, key: key}, nil
		}
		if bucket, key, ok := parseS3URL(u); ok {
			return location{bucket: bucket, key: key}, nil
		}
		return location{url: locator}, nil
	}

	return location{bucket: c.bucket, key: strings.TrimPrefix(locator, "/")}, nil
}

// parseS3URL understands bucket.s3.region.amazonaws.com/key and
// s3.region.amazonaws.com/bucket/key.
func parseS3URL(u *url.URL) (bucket, key string, ok bool) {
	host := u.Hostname()
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return "", "", false
	}
	path := strings.TrimPrefix(u.Path, "/")

	if strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") {
		bucket, key, _ = strings.Cut(path, "/")
	} else {
		i := strings.Index(host, ".s3")
		if i <= 0 {
			return "", "", false
		}
		bucket, key = host[:i], path
	}
	return bucket, key, bucket != "" && key != ""
}

// GetFile downloads the object behind locator, retrying transient failures.
func (c *S3Client) GetFile(ctx context.Context, locator string) ([]byte, error) {
	loc, err := c.resolve(locator)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = retry.Do(
		func() error {
			var err error
			data, err = c.fetch(ctx, loc)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(downloadAttempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, core.ErrNotFound) && !errors.Is(err, errPermanent)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying file download", "attempt", n+1, "locator", locator, "err", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *S3Client) fetch(ctx context.Context, loc location) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	if loc.url != "" {
		return c.fetchURL(ctxGet, loc.url)
	}

	resp, err := c.client.GetObject(ctxGet, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	if err != nil {
		return nil, classifyS3Error(loc, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *S3Client) fetchURL(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPermanent, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, target)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s returned %d", errPermanent, target, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("download %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func classifyS3Error(loc location, err error) error {
	var (
		noKey  *types.NoSuchKey
		status httpStatusError
	)
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: s3://%s/%s", core.ErrNotFound, loc.bucket, loc.key)
	}
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		switch {
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: s3://%s/%s", core.ErrNotFound, loc.bucket, loc.key)
		case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
			return fmt.Errorf("%w: s3 get failed: %v", errPermanent, err)
		}
	}
	return fmt.Errorf("s3 get failed: %w", err)
}

// PresignURL returns a time-limited GET URL. Plain http(s) locators are
// already fetchable and are returned unchanged.
func (c *S3Client) PresignURL(ctx context.Context, locator string, ttl time.Duration) (string, error) {
	loc, err := c.resolve(locator)
	if err != nil {
		return "", err
	}
	if loc.url != "" {
		return loc.url, nil
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", loc.bucket, loc.key, err)
	}
	return req.URL, nil
}
