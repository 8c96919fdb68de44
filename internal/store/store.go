package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/reporting"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateSchema = `
        CREATE TABLE IF NOT EXISTS persona_reports (
            id TEXT PRIMARY KEY,
            task_id TEXT NOT NULL,
            persona TEXT NOT NULL,
            status TEXT NOT NULL,
            exit_reason TEXT NOT NULL,
            failure_reason TEXT NOT NULL DEFAULT '',
            information_coverage DOUBLE PRECISION NOT NULL,
            report JSONB NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS page_analyses (
            report_id TEXT NOT NULL REFERENCES persona_reports(id) ON DELETE CASCADE,
            step INTEGER NOT NULL,
            url TEXT NOT NULL,
            title TEXT NOT NULL,
            relevance DOUBLE PRECISION NOT NULL,
            degraded BOOLEAN NOT NULL,
            analysis JSONB NOT NULL,
            analyzed_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (report_id, step)
        );
        CREATE TABLE IF NOT EXISTS focus_group_reports (
            id TEXT PRIMARY KEY,
            task_id TEXT NOT NULL,
            url TEXT NOT NULL,
            personas INTEGER NOT NULL,
            report JSONB NOT NULL,
            generated_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS recommendations (
            report_id TEXT NOT NULL REFERENCES focus_group_reports(id) ON DELETE CASCADE,
            priority INTEGER NOT NULL,
            text TEXT NOT NULL,
            impact TEXT NOT NULL,
            effort TEXT NOT NULL,
            PRIMARY KEY (report_id, priority)
        );
    `
	sqlUpsertPersonaReport = `
        INSERT INTO persona_reports (id, task_id, persona, status, exit_reason, failure_reason, information_coverage, report, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            exit_reason = EXCLUDED.exit_reason,
            failure_reason = EXCLUDED.failure_reason,
            information_coverage = EXCLUDED.information_coverage,
            report = EXCLUDED.report,
            finished_at = EXCLUDED.finished_at;
    `
	sqlDeletePages = `DELETE FROM page_analyses WHERE report_id = $1;`

	sqlUpsertFocusGroup = `
        INSERT INTO focus_group_reports (id, task_id, url, personas, report, generated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            personas = EXCLUDED.personas,
            report = EXCLUDED.report,
            generated_at = EXCLUDED.generated_at;
    `
	sqlInsertRecommendation = `
        INSERT INTO recommendations (report_id, priority, text, impact, effort)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (report_id, priority) DO UPDATE SET
            text = EXCLUDED.text,
            impact = EXCLUDED.impact,
            effort = EXCLUDED.effort;
    `
)

var pageColumns = []string{"report_id", "step", "url", "title", "relevance", "degraded", "analysis", "analyzed_at"}

// PostgresStore persists reports to PostgreSQL. Each save runs in its own
// transaction.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ReportStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new store instance and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the report tables when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return fmt.Errorf("failed to create report schema: %w", err)
	}
	return nil
}

// SavePersonaReport writes the report row and replaces its page analyses.
func (s *PostgresStore) SavePersonaReport(ctx context.Context, taskID string, r *schemas.PersonaReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode persona report %s: %w", r.ID, err)
	}
	rows := make([][]any, len(r.Pages))
	for i, p := range r.Pages {
		analysis, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode page analysis %d: %w", p.Step, err)
		}
		rows[i] = []any{r.ID, p.Step, p.URL, p.Title, p.RelevanceScore, p.Degraded, analysis, p.AnalyzedAt.UTC()}
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sqlUpsertPersonaReport,
			r.ID, taskID, r.Persona.Name, string(r.Status), r.ExitReason, r.FailureReason,
			r.InformationCoverage, payload, r.StartedAt.UTC(), r.FinishedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to upsert persona report %s: %w", r.ID, err)
		}
		if _, err := tx.Exec(ctx, sqlDeletePages, r.ID); err != nil {
			return fmt.Errorf("failed to clear page analyses of %s: %w", r.ID, err)
		}
		if len(rows) == 0 {
			return nil
		}
		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"page_analyses"}, pageColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy page analyses: %w", err)
		}
		if int(copyCount) != len(rows) {
			return fmt.Errorf("mismatch in copied page analyses count: expected %d, got %d", len(rows), copyCount)
		}
		return nil
	})
}

// SaveFocusGroupReport writes the persisted report shape and one row per
// recommendation in a single batch.
func (s *PostgresStore) SaveFocusGroupReport(ctx context.Context, taskID string, r *schemas.FocusGroupReport) error {
	persisted := reporting.ToPersisted(r)
	payload, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("failed to encode focus group report %s: %w", r.ID, err)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(sqlUpsertFocusGroup, r.ID, taskID, r.URL, persisted.Personas, payload, r.GeneratedAt.UTC())
		for _, rec := range persisted.Recommendations {
			batch.Queue(sqlInsertRecommendation, r.ID, rec.Priority, rec.Text, string(rec.Impact), string(rec.Effort))
		}

		br := tx.SendBatch(ctx, batch)
		if br == nil {
			return fmt.Errorf("failed to send batch: batch results is nil")
		}
		defer func() {
			_ = br.Close()
		}()

		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				if i == 0 {
					return fmt.Errorf("failed to insert focus group report %s: %w", r.ID, err)
				}
				return fmt.Errorf("failed to insert recommendation %d of %s: %w", i, r.ID, err)
			}
		}
		return nil
	})
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a commit returns ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
