package storage

import (
	"context"
	"fmt"

	"cardtracker/config"
)

const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// NewFromConfig builds the backend selected by cfg.StorageType.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StorageType {
	case TypeLocal, "":
		return NewLocalBackend(cfg.UploadDir, cfg.UploadURLPrefix)
	case TypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required for s3 storage")
		}
		return NewS3Backend(ctx, S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			Prefix:        cfg.S3Prefix,
			PublicBaseURL: cfg.S3PublicBaseURL,
			PresignTTL:    cfg.S3PresignTTL,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}
