package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-desk/internal/domain"
)

// SLAPolicyRepository reads the per-priority deadline policies.
type SLAPolicyRepository interface {
	// GetByPriority returns pgx.ErrNoRows when no policy is configured for
	// the priority; callers treat that as a configuration gap, not an error.
	GetByPriority(ctx context.Context, priority domain.TicketPriority) (*domain.SLAPolicy, error)
	List(ctx context.Context) ([]domain.SLAPolicy, error)
}

type slaPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewSLAPolicyRepository constructs repository.
func NewSLAPolicyRepository(pool *pgxpool.Pool) SLAPolicyRepository {
	return &slaPolicyRepository{pool: pool}
}

func (r *slaPolicyRepository) GetByPriority(ctx context.Context, priority domain.TicketPriority) (*domain.SLAPolicy, error) {
	const query = `
        SELECT priority, first_response_minutes, resolution_minutes, escalation_minutes
        FROM sla_policies WHERE priority=$1`
	var policy domain.SLAPolicy
	if err := r.pool.QueryRow(ctx, query, priority).Scan(
		&policy.Priority,
		&policy.FirstResponseMinutes,
		&policy.ResolutionMinutes,
		&policy.EscalationMinutes,
	); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *slaPolicyRepository) List(ctx context.Context) ([]domain.SLAPolicy, error) {
	const query = `
        SELECT priority, first_response_minutes, resolution_minutes, escalation_minutes
        FROM sla_policies ORDER BY priority`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPolicy
	for rows.Next() {
		var policy domain.SLAPolicy
		if err := rows.Scan(
			&policy.Priority,
			&policy.FirstResponseMinutes,
			&policy.ResolutionMinutes,
			&policy.EscalationMinutes,
		); err != nil {
			return nil, err
		}
		result = append(result, policy)
	}
	return result, rows.Err()
}
