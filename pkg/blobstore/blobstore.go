// Package blobstore stores pipeline artifacts, generated proposals and raw
// page snapshots, in S3-compatible object storage.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Bucket names used by the pipeline.
const (
	BucketProposals = "proposals"
	BucketRawHTML   = "raw-html"
)

// DefaultPresignExpiry is how long presigned download links stay valid.
const DefaultPresignExpiry = time.Hour

// Config holds the object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store is an object storage client scoped to the pipeline's buckets.
type Store struct {
	client *minio.Client
}

// New connects to the object store.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "blobstore: connect")
	}
	return &Store{client: client}, nil
}

// EnsureBuckets creates the pipeline buckets that do not exist yet.
func (s *Store) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{BucketProposals, BucketRawHTML} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return eris.Wrapf(err, "blobstore: check bucket %s", bucket)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return eris.Wrapf(err, "blobstore: create bucket %s", bucket)
		}
		zap.L().Info("blobstore: bucket created", zap.String("bucket", bucket))
	}
	return nil
}

// Put uploads one object and returns its location.
func (s *Store) Put(ctx context.Context, bucket, objectName string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", eris.Wrapf(err, "blobstore: put %s/%s", bucket, objectName)
	}
	zap.L().Debug("blobstore: object stored",
		zap.String("bucket", bucket),
		zap.String("object", objectName),
		zap.Int("bytes", len(data)),
	)
	return fmt.Sprintf("minio://%s/%s", bucket, objectName), nil
}

// Get downloads one object.
func (s *Store) Get(ctx context.Context, bucket, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "blobstore: get %s/%s", bucket, objectName)
	}
	defer obj.Close() //nolint:errcheck

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, eris.Wrapf(err, "blobstore: read %s/%s", bucket, objectName)
	}
	return data, nil
}

// PresignedURL returns a time-limited download link for one object.
func (s *Store) PresignedURL(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	u, err := s.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
	if err != nil {
		return "", eris.Wrapf(err, "blobstore: presign %s/%s", bucket, objectName)
	}
	return u.String(), nil
}

// PutProposal stores a generated proposal document under the company's prefix.
func (s *Store) PutProposal(ctx context.Context, companyID int64, executionID string, content []byte) (string, error) {
	objectName := fmt.Sprintf("company_%d/%s.md", companyID, executionID)
	return s.Put(ctx, BucketProposals, objectName, content, "text/markdown")
}

// PutSnapshot stores a crawled page's HTML under the company's prefix. The
// page URL becomes the object name with path separators flattened.
func (s *Store) PutSnapshot(ctx context.Context, companyID int64, pageURL string, html []byte) (string, error) {
	objectName := fmt.Sprintf("company_%d/%s.html", companyID, SnapshotName(pageURL))
	return s.Put(ctx, BucketRawHTML, objectName, html, "text/html")
}

// SnapshotName flattens a URL into a single object name segment.
func SnapshotName(pageURL string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_")
	return replacer.Replace(pageURL)
}
