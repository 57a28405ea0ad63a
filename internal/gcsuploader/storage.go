// Package gcsuploader moves statement files and extraction output in and out
// of Google Cloud Storage. Local paths are accepted wherever a gs:// URI is,
// so the CLI works without a bucket.
package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Service reads and writes objects. The zero value opens a storage client per
// call; use NewService to share one.
type Service struct {
	client *storage.Client
}

// NewService creates a Service with a shared storage client.
// It assumes Application Default Credentials are configured.
func NewService(ctx context.Context) (*Service, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewService: creating storage client: %w", err)
	}
	return &Service{client: client}, nil
}

// Close releases the storage client.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Service) withClient(ctx context.Context, fn func(*storage.Client) error) error {
	if s.client != nil {
		return fn(s.client)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating storage client: %w", err)
	}
	defer client.Close()
	return fn(client)
}

// Fetch returns the bytes at uri, which is either gs://bucket/object or a
// local file path.
func (s *Service) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !IsGCSURI(uri) {
		data, err := os.ReadFile(uri)
		if err != nil {
			return nil, fmt.Errorf("Fetch: reading %s: %w", uri, err)
		}
		return data, nil
	}

	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	var data []byte
	err = s.withClient(ctx, func(c *storage.Client) error {
		rc, err := c.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
		}
		defer rc.Close()

		data, err = io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("reading bytes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return data, nil
}

// Upload writes r to bucket/object and returns its gs:// URI.
func (s *Service) Upload(ctx context.Context, bucket, object, contentType string, r io.Reader) (string, error) {
	err := s.withClient(ctx, func(c *storage.Client) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		w := c.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		if _, err := io.Copy(w, r); err != nil {
			_ = w.Close()
			return fmt.Errorf("copy to GCS writer: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("finalize upload: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Upload: %s/%s: %w", bucket, object, err)
	}
	return "gs://" + bucket + "/" + object, nil
}

// UploadFile uploads a local file.
func (s *Service) UploadFile(ctx context.Context, bucket, object, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("UploadFile: open %q: %w", filePath, err)
	}
	defer f.Close()
	return s.Upload(ctx, bucket, object, ContentType(filePath), f)
}

// IsGCSURI reports whether uri uses the gs:// scheme.
func IsGCSURI(uri string) bool {
	return strings.HasPrefix(uri, "gs://")
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Filename is the last path element of a gs:// URI or local path.
func Filename(uri string) string {
	if _, object, err := ParseURI(uri); err == nil {
		return path.Base(object)
	}
	return path.Base(strings.ReplaceAll(uri, `\`, "/"))
}

// ObjectName lays statements out per user and day:
// statements/<user>/<yyyy-mm-dd>/<checksum prefix>-<filename>.
func ObjectName(userID, filename, checksum string, at time.Time) string {
	prefix := checksum
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return path.Join("statements", userID, at.UTC().Format("2006-01-02"), prefix+"-"+path.Base(filename))
}

// ContentType guesses a content type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	}
	return "application/octet-stream"
}
