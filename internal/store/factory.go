package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
)

// Backend names accepted by New.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// NopStore discards every report.
type NopStore struct{}

func (NopStore) SavePersonaReport(context.Context, string, *schemas.PersonaReport) error { return nil }

func (NopStore) SaveFocusGroupReport(context.Context, string, *schemas.FocusGroupReport) error {
	return nil
}

func (NopStore) Close() error { return nil }

// New builds the report store selected by cfg.Reports().Backend.
func New(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.ReportStore, error) {
	rc := cfg.Reports()
	switch rc.Backend {
	case BackendFile:
		return NewFileStore(rc.Dir, rc.Compress, logger)
	case BackendPostgres:
		url := cfg.Database().URL
		if url == "" {
			return nil, fmt.Errorf("reports backend %q requires database.url", rc.Backend)
		}
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case BackendNone, "":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown reports backend: %s", rc.Backend)
	}
}
