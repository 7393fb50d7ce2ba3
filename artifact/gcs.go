package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/fabfab/survey-agent/config"
	"github.com/fabfab/survey-agent/logging"
)

type GCSStore struct {
	client    *storage.Client
	bucket    string
	cdnDomain string
	log       *logging.Logger
}

// NewGCSStore opens a client for the configured bucket. Credentials come from
// the inline JSON or file path in the config, else application defaults.
func NewGCSStore(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("artifact bucket is not configured")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	opts := clientOptions(cfg.CredentialsJSON)
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	logger.Info("artifact store initialized", "bucket", cfg.Bucket, "cdn_domain", cfg.CDNDomain)
	return &GCSStore{
		client:    client,
		bucket:    cfg.Bucket,
		cdnDomain: strings.TrimRight(cfg.CDNDomain, "/"),
		log:       logger.With("service", "GCSStore"),
	}, nil
}

func clientOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func (s *GCSStore) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s to gcs: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer for %s: %w", name, err)
	}

	s.log.Debug("artifact uploaded", "name", name, "content_type", contentType)
	return s.URL(name), nil
}

func (s *GCSStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs object %s: %w", name, err)
	}
	return rc, nil
}

func (s *GCSStore) URL(name string) string {
	return PublicURL(s.bucket, s.cdnDomain, name)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// PublicURL is the address an object is served from: the CDN domain when one
// is set, else the bucket's virtual-hosted endpoint.
func PublicURL(bucket, cdnDomain, name string) string {
	name = strings.TrimLeft(name, "/")
	if cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cdnDomain, name)
	}
	return fmt.Sprintf("https://%s.storage.googleapis.com/%s", bucket, name)
}

var _ Store = (*GCSStore)(nil)
