package storage

import (
	"errors"
	"strings"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
)

// ErrDisabled is returned by New when snapshot storage is turned off.
var ErrDisabled = errors.New("object storage disabled")

// New creates an ObjectStorage from the storage configuration.
// Parameters:
//   - cfg: storage section of the application config.
// Returns:
//   - ObjectStorage: S3-compatible client bound to cfg.Bucket.
//   - error: ErrDisabled when cfg.Enabled is false, or a client setup failure.
func New(cfg *config.StorageConfig) (ObjectStorage, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	kind := StorageType(cfg.Type)
	if kind == "" {
		kind = detectStorageType(cfg.Endpoint)
	}

	return NewS3Storage(&S3Config{
		Type:      kind,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	})
}

// detectStorageType guesses the provider from the endpoint host.
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
