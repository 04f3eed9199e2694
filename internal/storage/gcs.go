package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStorage keeps fragments in a Google Cloud Storage bucket under an optional prefix
type GCSStorage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCSStorage connects with application default credentials and checks that the bucket is
// reachable. projectID is only reported in errors.
func NewGCSStorage(ctx context.Context, projectID, bucketName, prefix string) (*GCSStorage, error) {
	if bucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	bucket := client.Bucket(bucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to access bucket %s (project %s): %w", bucketName, projectID, err)
	}

	return &GCSStorage{
		client: client,
		bucket: bucket,
		name:   bucketName,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *GCSStorage) object(p string) *storage.ObjectHandle {
	return s.bucket.Object(s.key(p))
}

// key maps a storage path to an object name
func (s *GCSStorage) key(p string) string {
	p = strings.TrimPrefix(p, "/")
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

// Write uploads data in one request, with content type and cache policy taken from the extension
func (s *GCSStorage) Write(ctx context.Context, p string, data []byte) error {
	w := s.object(p).NewWriter(ctx)
	w.ContentType = ContentType(p)
	w.CacheControl = CacheControl(p)
	w.ChunkSize = 0

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("gcs write %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs write %s: %w", p, err)
	}
	return nil
}

func (s *GCSStorage) Read(ctx context.Context, p string) ([]byte, error) {
	r, err := s.object(p).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", p, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", p, err)
	}
	return data, nil
}

func (s *GCSStorage) Delete(ctx context.Context, p string) error {
	err := s.object(p).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", p, err)
	}
	return nil
}

func (s *GCSStorage) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.object(p).Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("gcs stat %s: %w", p, err)
	}
	return true, nil
}

// List returns object names directly under dir. Deeper objects are reported by GCS as
// synthetic prefixes and skipped.
func (s *GCSStorage) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s.key(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	query := &storage.Query{Prefix: prefix, Delimiter: "/"}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}

	var names []string
	it := s.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s in bucket %s: %w", prefix, s.name, err)
		}
		if attrs.Prefix != "" {
			continue
		}
		if name := strings.TrimPrefix(attrs.Name, prefix); name != "" {
			names = append(names, name)
		}
	}
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}
