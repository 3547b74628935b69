package blobstore

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
)

const objectPrefix = "media/"

// ObjectStore keeps blobs in an S3 compatible bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string

	ensureMu sync.Mutex
	ensured  bool
}

func NewObjectStore(client *minio.Client, bucket string) *ObjectStore {
	return &ObjectStore{
		client: client,
		bucket: strings.TrimSpace(bucket),
	}
}

func (s *ObjectStore) Name() string   { return BackendS3 }
func (s *ObjectStore) External() bool { return false }

// EnsureBucket creates the bucket on first use. Failures are not cached; the
// next call checks again until one succeeds.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if s.bucket == "" {
		return fmt.Errorf("s3 bucket is empty")
	}

	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("ensure s3 bucket %q: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("ensure s3 bucket %q: %w", s.bucket, err)
		}
	}
	s.ensured = true
	return nil
}

func (s *ObjectStore) Upload(ctx context.Context, r io.Reader, suggestedName string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("blob body is required")
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return "", err
	}

	size := int64(-1)
	if sized, ok := r.(interface{ Len() int }); ok {
		size = int64(sized.Len())
	}

	token := newToken(suggestedName)
	contentType := mime.TypeByExtension(path.Ext(token))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectPrefix+token, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object to s3: %w", err)
	}
	return token, nil
}

func (s *ObjectStore) Download(ctx context.Context, token string, w io.Writer) error {
	if !validToken(token) {
		return ErrInvalidToken
	}
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectPrefix+token, minio.GetObjectOptions{})
	if err != nil {
		return mapObjectErr(err)
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		return mapObjectErr(err)
	}
	return nil
}

func (s *ObjectStore) Delete(ctx context.Context, token string) error {
	if !validToken(token) {
		return ErrInvalidToken
	}
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectPrefix+token, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func mapObjectErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("get object from s3: %w", err)
}
