package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Backend persists the snapshot in an S3 (or compatible) bucket under a
// single object key.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	objectKey   string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 snapshot backend. If accessKey and secretKey
// are empty the default credential chain is used.
func NewS3Backend(bucketName, objectKey, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, objectKey, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		objectKey:   objectKey,
		log:         log,
		locationURI: uri,
	}, nil
}

// Load retrieves the snapshot object from S3.
// Returns ErrSnapshotNotFound if the object does not exist.
func (b *S3Backend) Load(ctx context.Context) ([]byte, error) {
	start := time.Now()

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to fetch snapshot from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot body: %w", err)
	}

	b.log.Debug("Loaded inventory snapshot from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", b.objectKey),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Save uploads the snapshot, replacing the previous object.
func (b *S3Backend) Save(ctx context.Context, data []byte) error {
	start := time.Now()

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(b.objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot in S3: %w", err)
	}

	b.log.Debug("Saved inventory snapshot to S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", b.objectKey),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks bucket accessibility with a HEAD request.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Debug("S3 backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}
