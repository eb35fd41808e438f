package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/paulmach/orb/maptile"
)

// ObjectGetter is the part of the S3 client the fetcher needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads tiles from an S3 bucket, e.g. s3://bucket/prefix/{z}/{x}/{y}.png.
type S3Fetcher struct {
	Client      ObjectGetter
	Bucket      string
	KeyTemplate string
}

// NewS3Fetcher builds a fetcher from an s3:// template. Static keys from
// opts are used when present, the default AWS credential chain otherwise.
// S3Endpoint may point at an S3-compatible service.
func NewS3Fetcher(template string, opts SourceOptions) (*S3Fetcher, error) {
	bucket, key, err := splitS3Template(template)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.S3Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.S3Region))
	}
	if opts.S3AccessKey != "" && opts.S3SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.S3AccessKey, opts.S3SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Fetcher{Client: client, Bucket: bucket, KeyTemplate: key}, nil
}

func splitS3Template(template string) (bucket, key string, err error) {
	u, err := url.Parse(strings.NewReplacer("{", "%7B", "}", "%7D").Replace(template))
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 tile template %q", template)
	}
	rest := strings.TrimPrefix(template, "s3://"+u.Host)
	return u.Host, strings.TrimPrefix(rest, "/"), nil
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, source string, t maptile.Tile) ([]byte, error) {
	key := TileURL(f.KeyTemplate, t)
	out, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, Permanent(fmt.Errorf("s3://%s/%s: %w", f.Bucket, key, err))
		}
		return nil, fmt.Errorf("s3://%s/%s: %w", f.Bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", f.Bucket, key, err)
	}
	return data, nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// S3-compatible services do not always return the typed errors
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "AccessDenied"
	}
	return false
}
