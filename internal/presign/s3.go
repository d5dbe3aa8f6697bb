package presign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ErrBucketRequired is returned when no bucket is configured.
var ErrBucketRequired = errors.New("presign: S3 bucket is required")

// keyTimeFormat renders UTC timestamps with microseconds and no colons.
const keyTimeFormat = "2006-01-02T15-04-05.000000Z"

// S3Config holds the configuration for S3 presigning.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
	KeyPrefix       string
	Expiry          time.Duration
}

// Compile-time check that S3Allocator implements Allocator.
var _ Allocator = (*S3Allocator)(nil)

// S3Allocator mints URL pairs locally by presigning PUT and GET requests
// for a fresh object key.
type S3Allocator struct {
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	expiry    time.Duration
	now       func() time.Time
}

// NewS3Allocator creates a new S3Allocator instance.
func NewS3Allocator(ctx context.Context, cfg S3Config) (*S3Allocator, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("presign: load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "aige"
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &S3Allocator{
		presigner: s3.NewPresignClient(s3.NewFromConfig(awsCfg, clientOpts...)),
		bucket:    cfg.Bucket,
		prefix:    prefix,
		expiry:    expiry,
		now:       time.Now,
	}, nil
}

// Allocate presigns a PUT and a GET for a new key.
func (a *S3Allocator) Allocate(ctx context.Context) (URLPair, error) {
	key := a.newKey()

	put, err := a.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.expiry))
	if err != nil {
		return URLPair{}, &AllocationError{Err: fmt.Errorf("presign put: %w", err)}
	}

	get, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.expiry))
	if err != nil {
		return URLPair{}, &AllocationError{Err: fmt.Errorf("presign get: %w", err)}
	}

	pair := URLPair{Key: key, WriteURL: put.URL, ReadURL: get.URL}
	if err := validate(pair); err != nil {
		return URLPair{}, err
	}
	return pair, nil
}

func (a *S3Allocator) newKey() string {
	return fmt.Sprintf("%s-%s-%s", a.prefix, a.now().UTC().Format(keyTimeFormat), uuid.NewString())
}
