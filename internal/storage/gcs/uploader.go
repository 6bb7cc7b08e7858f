// Package gcs uploads finished crawl output files to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the destination bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader copies local files into a configured GCS bucket.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS uploader.
func New(client *storage.Client, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object path used for localPath within a run.
func (u *Uploader) ObjectName(runID, localPath string) string {
	return path.Join(u.prefix, runID, filepath.Base(localPath))
}

// UploadRun uploads every file under <prefix>/<runID>/ and returns their gs:// URIs.
func (u *Uploader) UploadRun(ctx context.Context, runID string, localPaths ...string) ([]string, error) {
	uris := make([]string, 0, len(localPaths))
	for _, p := range localPaths {
		uri, err := u.UploadFile(ctx, p, u.ObjectName(runID, p))
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// UploadFile copies one local file to object and returns its gs:// URI.
func (u *Uploader) UploadFile(ctx context.Context, localPath, object string) (string, error) {
	if strings.TrimSpace(object) == "" {
		return "", fmt.Errorf("object name is required")
	}
	file, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() {
		_ = file.Close()
	}()
	return u.PutObject(ctx, object, "text/csv", file)
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (u *Uploader) PutObject(ctx context.Context, object string, contentType string, r io.Reader) (string, error) {
	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, object), nil
}
