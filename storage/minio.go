// Package storage uploads exported result files to a MinIO or S3 bucket.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the bucket connection settings
type Config struct {
	Endpoint  string // host:port, no scheme
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store writes objects to one bucket
type Store struct {
	client     *minio.Client
	bucketName string
}

// New connects to the object store and creates the bucket if it is missing
func New(ctx context.Context, cfg Config) (*Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Store{client: cli, bucketName: cfg.Bucket}, nil
}

// Upload puts the file at localPath under key and returns the object URL
func (s *Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	// public URL; a private bucket needs a presigned URL instead
	endpoint := s.client.EndpointURL()
	return fmt.Sprintf("%s://%s/%s/%s", endpoint.Scheme, endpoint.Host, s.bucketName, key), nil
}

// ObjectKey returns a unique key such as "cmt/2020-01-01..2020-01-02/<uuid>.csv".
// An empty label is left out.
func ObjectKey(label, localPath string) string {
	name := uuid.NewString() + filepath.Ext(localPath)
	if label == "" {
		return path.Join("cmt", name)
	}
	return path.Join("cmt", strings.ReplaceAll(label, "/", "_"), name)
}

func contentType(localPath string) string {
	switch filepath.Ext(localPath) {
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
