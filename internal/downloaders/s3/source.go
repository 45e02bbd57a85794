package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tanq16/novadl/internal/utils"
)

// ObjectAPI is the subset of the S3 client the source needs.
type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source serves s3://bucket/key URLs with ranged GetObject calls. The AWS
// client is built on first use so a missing profile only matters for S3 tasks.
type Source struct {
	profile string

	once    sync.Once
	client  ObjectAPI
	initErr error
}

func NewSource(profile string) *Source {
	return &Source{profile: profile}
}

// NewSourceWithClient uses an already configured client.
func NewSourceWithClient(client ObjectAPI) *Source {
	s := &Source{client: client}
	s.once.Do(func() {})
	return s
}

func (s *Source) api(ctx context.Context) (ObjectAPI, error) {
	s.once.Do(func() {
		opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
		if s.profile != "" {
			opts = append(opts, config.WithSharedConfigProfile(s.profile))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.initErr = fmt.Errorf("%w: error loading AWS config: %v", utils.ErrOther, err)
			return
		}
		s.client = s3.NewFromConfig(cfg)
	})
	return s.client, s.initErr
}

func parseS3URL(link string) (string, string, error) {
	parsedURL, err := url.Parse(link)
	if err != nil || parsedURL.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: invalid S3 URL format %q", utils.ErrInvalidURL, link)
	}
	bucket := parsedURL.Host
	key := strings.TrimPrefix(parsedURL.Path, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: S3 URL must name an object, got %q", utils.ErrInvalidURL, link)
	}
	return bucket, key, nil
}

func (s *Source) ContentLength(ctx context.Context, link string) (int64, error) {
	bucket, key, err := parseS3URL(link)
	if err != nil {
		return 0, err
	}
	client, err := s.api(ctx)
	if err != nil {
		return 0, err
	}
	headObj, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: head s3://%s/%s: %v", utils.ErrHTTP, bucket, key, err)
	}
	if headObj.ContentLength == nil {
		return 0, fmt.Errorf("%w: no content length for s3://%s/%s", utils.ErrContentLength, bucket, key)
	}
	return *headObj.ContentLength, nil
}

func (s *Source) GetRange(ctx context.Context, link string, start, end int64) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(link)
	if err != nil {
		return nil, err
	}
	client, err := s.api(ctx)
	if err != nil {
		return nil, err
	}
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get s3://%s/%s: %v", utils.ErrHTTP, bucket, key, err)
	}
	if result.ContentRange == nil && !(start == 0 && result.ContentLength != nil && *result.ContentLength == end+1) {
		result.Body.Close()
		return nil, fmt.Errorf("%w: object store ignored bytes=%d-%d", utils.ErrRangeNotSupported, start, end)
	}
	return result.Body, nil
}
