// Package blob selects a blob storage backend by driver name.
package blob

import (
	"context"
	"fmt"

	"taskledger/internal/blob/core"
	"taskledger/internal/infra/blob/fs"
	"taskledger/internal/infra/blob/memory"
	"taskledger/internal/infra/blob/s3"
)

// Config selects and parameterizes a backend.
type Config struct {
	Driver core.Driver
	FSRoot string
	S3     s3.Config
}

// Open constructs the backend named by cfg.Driver. The empty driver selects
// the filesystem.
func Open(ctx context.Context, cfg Config) (core.Store, error) {
	switch cfg.Driver {
	case core.DriverFilesystem, "":
		return fs.New(cfg.FSRoot)
	case core.DriverMemory:
		return memory.New(), nil
	case core.DriverS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
