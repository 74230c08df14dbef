package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/manthysbr/inspectd/internal/adapters/filestore"
	"github.com/manthysbr/inspectd/internal/adapters/sqlstore"
	"github.com/manthysbr/inspectd/internal/config"
	"github.com/manthysbr/inspectd/internal/core/ports"
	"github.com/manthysbr/inspectd/internal/core/services"
)

// openRepository opens the configured database and brings its schema up
// to date.
func openRepository(ctx context.Context, rt *config.Runtime) (*sqlstore.Repository, error) {
	if rt.DB.Driver == sqlstore.DriverDuckDB && rt.DB.DSN != "" {
		if err := os.MkdirAll(filepath.Dir(rt.DB.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	repo, err := sqlstore.Open(rt.DB.Driver, rt.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := repo.Migrate(ctx, services.DefaultPricingRules()); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}

func openFileStore(ctx context.Context, rt *config.Runtime) (ports.FileStore, error) {
	switch rt.Storage.Backend {
	case "s3":
		s3cfg := rt.Storage.S3
		return filestore.NewS3(ctx, filestore.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			Endpoint:        s3cfg.Endpoint,
		})
	default:
		return filestore.NewLocal(rt.Storage.LocalDir)
	}
}
