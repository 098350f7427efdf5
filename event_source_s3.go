package mlwatch

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3EventSourceConfig configures an event source reading from S3 or an
// S3-compatible service.
type S3EventSourceConfig struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint for compatible services (MinIO etc.).
	Endpoint string
	// AccessKeyID and SecretAccessKey are optional static credentials.
	// Prefer IAM roles or the AWS_* environment variables; never commit
	// credentials to source control.
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3EventSource reads event segments from an object-store layout mirroring
// DirEventSource: one common prefix per run, segment objects below it.
type S3EventSource struct {
	client *s3.Client
	config S3EventSourceConfig
}

// NewS3EventSource creates an event source over an S3 bucket prefix.
func NewS3EventSource(ctx context.Context, cfg S3EventSourceConfig) (*S3EventSource, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3EventSource{client: client, config: cfg}, nil
}

// ParseS3ModelDir splits an "s3://bucket/prefix" model_dir into bucket and
// prefix. The second return value is false for non-S3 paths.
func ParseS3ModelDir(modelDir string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(modelDir, "s3://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.TrimSuffix(prefix, "/"), bucket != ""
}

// Runs enumerates the common prefixes one level below the configured
// prefix, plus "." when segment objects sit directly under it.
func (s *S3EventSource) Runs(ctx context.Context) ([]string, error) {
	base := s.basePrefix()
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.config.Bucket),
		Prefix:    aws.String(base),
		Delimiter: aws.String("/"),
	})

	var runs []string
	rootHasSegments := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list runs under s3://%s/%s: %w", s.config.Bucket, base, err)
		}
		for _, cp := range page.CommonPrefixes {
			run := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), base), "/")
			if run != "" {
				runs = append(runs, run)
			}
		}
		for _, obj := range page.Contents {
			if isSegment(path.Base(aws.ToString(obj.Key))) {
				rootHasSegments = true
			}
		}
	}
	if rootHasSegments {
		runs = append(runs, ".")
	}
	return runs, nil
}

// Events reads every segment object of a run in key order.
func (s *S3EventSource) Events(ctx context.Context, run string) ([]RawEvent, error) {
	prefix := s.basePrefix()
	if run != "." {
		prefix += run + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(prefix),
	})

	var events []RawEvent
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list segments under s3://%s/%s: %w", s.config.Bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !isSegment(path.Base(key)) {
				continue
			}
			data, err := s.getObject(ctx, key)
			if err != nil {
				return nil, err
			}
			segEvents, err := decodeSegment(path.Base(key), data)
			if err != nil {
				return nil, err
			}
			events = append(events, segEvents...)
		}
	}
	return events, nil
}

func (s *S3EventSource) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.config.Bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.config.Bucket, key, err)
	}
	return data, nil
}

func (s *S3EventSource) basePrefix() string {
	if s.config.Prefix == "" {
		return ""
	}
	return s.config.Prefix + "/"
}
