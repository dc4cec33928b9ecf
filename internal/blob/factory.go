package blob

import (
	"context"
	"fmt"

	"clinicalcore/internal/config"
	"clinicalcore/internal/infra/blob/fs"
	memorystore "clinicalcore/internal/infra/blob/memory"
	infraS3 "clinicalcore/internal/infra/blob/s3"
)

// Open selects a Store implementation from configuration.
//
//	blob.driver: fs|s3|memory (default fs)
//	blob.fs_root: directory root when driver=fs
//	blob.s3.*: bucket, region, endpoint, path_style when driver=s3
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, infraS3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory Store for tests.
func NewMemory() Store { return memorystore.New() }
