package mirror

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"lessonlog/internal/backup"
	"lessonlog/internal/config"
)

// GCSMirror streams snapshots into a Google Cloud Storage bucket.
type GCSMirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSMirror creates a storage client. Without gcs_credentials_file the
// client uses Application Default Credentials.
func NewGCSMirror(ctx context.Context, cfg config.MirrorConfig) (*GCSMirror, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("gcs_bucket required for gcs mirror")
	}

	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}

	return &GCSMirror{client: client, bucket: cfg.GCSBucket, prefix: cfg.GCSPrefix}, nil
}

func (m *GCSMirror) Name() string {
	return "gs://" + path.Join(m.bucket, m.prefix)
}

// Put writes r to the object <prefix><name>. The object only becomes visible
// when the writer is closed successfully.
func (m *GCSMirror) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := checkName(name); err != nil {
		return err
	}

	// Cancelling the writer's context is how a GCS upload is aborted.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := m.client.Bucket(m.bucket).Object(m.prefix + name).NewWriter(ctx)
	w.ContentType = "application/vnd.sqlite3"

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("uploading %s to gcs bucket %s: %w", name, m.bucket, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing %s in gcs bucket %s: %w", name, m.bucket, err)
	}
	return nil
}

// Close releases the storage client.
func (m *GCSMirror) Close() error {
	return m.client.Close()
}

// Compile-time check that GCSMirror implements backup.Mirror interface
var _ backup.Mirror = (*GCSMirror)(nil)
