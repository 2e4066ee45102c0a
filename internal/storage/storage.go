// Package storage persists raw session audio blobs. Keys are flat,
// slash-separated paths such as sessions/{session_id}.raw; the snapshot
// store records the key, this package owns the bytes.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// BlobStore abstracts audio blob storage backends.
type BlobStore interface {
	// Save stores a blob under key, replacing any previous value.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the blob exists on
	// disk. Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL for the blob. Returns "" for
	// local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the blob.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if the blob exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// S3Options configures the S3 backend. A zero Bucket disables S3.
type S3Options struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Prefix        string
	PresignExpiry time.Duration

	// LocalCache keeps local disk as the primary tier with S3 as backup.
	LocalCache bool
}

// Enabled reports whether S3 is configured at all.
func (o S3Options) Enabled() bool { return o.Bucket != "" }

// New creates a BlobStore for the given options. With S3 disabled it is
// purely local; with S3 and LocalCache it is tiered. Returns an error if
// S3 is configured but unreachable.
func New(opts S3Options, blobDir string, log zerolog.Logger) (BlobStore, error) {
	if !opts.Enabled() {
		return NewLocalStore(blobDir), nil
	}

	s3store, err := NewS3Store(opts, log)
	if err != nil {
		return nil, fmt.Errorf("storage: s3 init: %w", err)
	}

	// Startup validation: verify credentials and bucket access.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("storage: s3 startup check (bucket=%q endpoint=%q): %w",
			opts.Bucket, opts.Endpoint, err)
	}
	log.Info().Str("bucket", opts.Bucket).Str("endpoint", opts.Endpoint).Msg("S3 connection verified")

	if !opts.LocalCache {
		return s3store, nil
	}

	return NewTieredStore(s3store, NewLocalStore(blobDir), log), nil
}

// SessionAudioKey is the blob key for a session's recorded audio, laid
// out as {session}/{date}/audio.raw.
func SessionAudioKey(sessionID string, when time.Time) string {
	return sessionID + "/" + when.UTC().Format("2006-01-02") + "/audio.raw"
}
