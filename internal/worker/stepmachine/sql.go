package stepmachine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
	"jobctl/internal/worker/resolver"
)

// SQLExecutor runs SQL steps against arbitrary job-specified Postgres
// targets (not the platform's own control-plane database) via
// database/sql + pgx, caching one *sql.DB per DSN for the life of the
// process since opening a pool per step would defeat connection reuse.
type SQLExecutor struct {
	mu   sync.Mutex
	dbs  map[string]*sql.DB
}

func NewSQLExecutor() *SQLExecutor {
	return &SQLExecutor{dbs: make(map[string]*sql.DB)}
}

func (e *SQLExecutor) dbFor(dsn string) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if db, ok := e.dbs[dsn]; ok {
		return db, nil
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	e.dbs[dsn] = db
	return db, nil
}

func (e *SQLExecutor) Execute(ctx context.Context, step domain.Step, ec *domain.ExecutionContext) (map[string]any, error) {
	cfg := step.Config.SQL
	if cfg == nil {
		return nil, fmt.Errorf("stepmachine: sql step %q missing config", step.ID)
	}

	dsn, err := resolver.Resolve(cfg.DSN, ec)
	if err != nil {
		return nil, err
	}
	query, err := resolver.Resolve(cfg.Query, ec)
	if err != nil {
		return nil, err
	}

	db, err := e.dbFor(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening target: %v", apperrors.ErrTransient, err)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query failed: %v", apperrors.ErrExternalTarget, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: reading columns: %v", apperrors.ErrExternalTarget, err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %v", apperrors.ErrExternalTarget, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating rows: %v", apperrors.ErrExternalTarget, err)
	}

	return map[string]any{
		"row_count": float64(len(out)),
		"rows":      out,
	}, nil
}
