package mount

import ("context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3")

// S3Mount is a Mount backed by an S3 bucket, grounded on
// internal/cloud/providers/s3/client.go's S3Client (auto-refreshing
// credentials via the AWS SDK's default credential chain, one *s3.Client
// shared across calls) narrowed to put/get/delete.
type S3Mount struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3MountConfig carries the values S3Client constructor
// takes from models.StorageInfo: bucket, region, and an optional static
// access key pair (falls back to the SDK's default credential chain when
// empty, exactly as NewS3Client does via aws-sdk-go-v2/config).
type S3MountConfig struct {
	Bucket string
	Region string
	Prefix string
	AccessKeyID string
	SecretAccessKey string
	SessionToken string
}

// NewS3Mount builds an S3Mount.
func NewS3Mount(ctx context.Context, cfg S3MountConfig) (*S3Mount, error) {
	var optFns []func(*config.LoadOptions) error
	optFns = append(optFns, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3 mount: load aws config: %w", err)
	}

	return &S3Mount{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (m *S3Mount) objectKey(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + "/" + key
}

// Put uploads r as a single PutObject call, mirroring pre_encrypt.go's
// single-shot upload path (the multipart path is out of scope for a
// reference mount — the engine already chunks progress at a layer above).
func (m *S3Mount) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key: aws.String(m.objectKey(key)),
		Body: r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3 mount: put %s: %w", key, err)
	}
	return nil
}

// Get mirrors S3Client.GetObject's whole-object download path.
func (m *S3Mount) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key: aws.String(m.objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 mount: get %s: %w", key, err)
	}
	return out.Body, nil
}

func (m *S3Mount) Delete(ctx context.Context, key string) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key: aws.String(m.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 mount: delete %s: %w", key, err)
	}
	return nil
}
