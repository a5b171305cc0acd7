// Package postgres is the ledger store: the single durable source of
// truth for approvals, tool executions and the audit log. All state
// transitions are expressed as conditional writes whose success is
// measured by affected-row count; the package holds no locks.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/toolgate/internal/domain"
)

type Store struct {
	pool       *pgxpool.Pool
	approvals  *ApprovalRepo
	executions *ToolExecutionRepo
	audit      *AuditRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:       pool,
		approvals:  NewApprovalRepo(pool),
		executions: NewToolExecutionRepo(pool),
		audit:      NewAuditRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports store reachability, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres.Store.Ping: %w", err)
	}
	return nil
}

func (s *Store) Approvals() domain.ApprovalRepository       { return s.approvals }
func (s *Store) Executions() domain.ToolExecutionRepository { return s.executions }
func (s *Store) Audit() domain.AuditRepository              { return s.audit }
