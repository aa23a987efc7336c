// Package storage keeps the photos attached to reports.
package storage

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUnsupportedType is returned for uploads that are not images.
var ErrUnsupportedType = goerr.New("unsupported image type")

var allowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// ImageStore saves an uploaded photo and returns its object key.
type ImageStore interface {
	Save(ctx context.Context, data []byte) (string, error)
}

// DetectImage returns the MIME type and file extension of data, or
// ErrUnsupportedType when it is not an accepted image format.
func DetectImage(data []byte) (string, string, error) {
	mt := mimetype.Detect(data)
	for _, allowed := range allowedTypes {
		if mt.Is(allowed) {
			return mt.String(), mt.Extension(), nil
		}
	}
	return "", "", goerr.Wrap(ErrUnsupportedType, "rejected upload", goerr.V("detected", mt.String()))
}

// ObjectKey builds a date-partitioned key for a new photo.
func ObjectKey(now time.Time, ext string) string {
	return path.Join("issues", now.UTC().Format("2006/01/02"), uuid.NewString()+strings.ToLower(ext))
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Minio struct {
	client *minio.Client
	bucket string
}

func NewMinio(cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create minio client", goerr.V("endpoint", cfg.Endpoint))
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return goerr.Wrap(err, "failed to check bucket", goerr.V("bucket", m.bucket))
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return goerr.Wrap(err, "failed to create bucket", goerr.V("bucket", m.bucket))
	}
	return nil
}

func (m *Minio) Save(ctx context.Context, data []byte) (string, error) {
	contentType, ext, err := DetectImage(data)
	if err != nil {
		return "", err
	}

	key := ObjectKey(time.Now(), ext)
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to upload image", goerr.V("bucket", m.bucket), goerr.V("key", key))
	}
	return key, nil
}

// Discard validates uploads but does not keep them. Used when no object
// store is configured.
type Discard struct{}

func (Discard) Save(ctx context.Context, data []byte) (string, error) {
	_, ext, err := DetectImage(data)
	if err != nil {
		return "", err
	}
	return ObjectKey(time.Now(), ext), nil
}
