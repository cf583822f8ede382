package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-desk/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	RequesterID *string
	TeamID      *string
	AssigneeID  *string
	Statuses    []domain.TicketStatus
	Priorities  []domain.TicketPriority
	Limit       int
	Offset      int
}

// SLAMetrics is the aggregate returned by the metrics endpoint.
type SLAMetrics struct {
	TotalTickets    int64
	OpenTickets     int64
	BreachedTickets int64
	ResolvedTickets int64
	RespondedInSLA  int64
	RespondedTotal  int64
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// ListEscalatable returns unbreached open/in-progress tickets whose
	// first-response or resolution deadline has passed.
	ListEscalatable(ctx context.Context, now time.Time) ([]domain.Ticket, error)
	// MarkBreached flips sla_breached once; returns false when the ticket
	// was already breached (or absent), making sweeps idempotent.
	MarkBreached(ctx context.Context, id string) (bool, error)
	Metrics(ctx context.Context) (*SLAMetrics, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, number, requester_user_id, category, team_id, assignee_agent_id,
        subject, description, status, priority, source, first_response_at,
        sla_first_response_due, sla_resolution_due, sla_breached,
        created_at, updated_at, resolved_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (number, requester_user_id, category, team_id, assignee_agent_id,
            subject, description, status, priority, source,
            sla_first_response_due, sla_resolution_due)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Number,
		ticket.RequesterID,
		ticket.Category,
		ticket.TeamID,
		ticket.AssigneeID,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Source,
		ticket.SLAFirstResponseDue,
		ticket.SLAResolutionDue,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET category=$1, team_id=$2, assignee_agent_id=$3, subject=$4,
            status=$5, priority=$6, first_response_at=$7, sla_breached=(sla_breached OR $8),
            resolved_at=$9, closed_at=$10, updated_at=NOW()
        WHERE id=$11`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Category,
		ticket.TeamID,
		ticket.AssigneeID,
		ticket.Subject,
		ticket.Status,
		ticket.Priority,
		ticket.FirstResponseAt,
		ticket.SLABreached,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE number=$1`
	return r.fetchSingle(ctx, query, number)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := scanTicket(r.pool.QueryRow(ctx, query, arg), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_user_id=$%d", len(args)))
	}
	if filter.TeamID != nil {
		args = append(args, *filter.TeamID)
		clauses = append(clauses, fmt.Sprintf("team_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_agent_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListEscalatable(ctx context.Context, now time.Time) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE status IN ('open','in_progress')
          AND sla_breached=FALSE
          AND (
              (sla_first_response_due IS NOT NULL AND first_response_at IS NULL AND sla_first_response_due < $1)
              OR
              (sla_resolution_due IS NOT NULL AND sla_resolution_due < $1)
          )
        ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) MarkBreached(ctx context.Context, id string) (bool, error) {
	const query = `
        UPDATE tickets SET sla_breached=TRUE, updated_at=NOW()
        WHERE id=$1 AND sla_breached=FALSE`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) Metrics(ctx context.Context) (*SLAMetrics, error) {
	const query = `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status IN ('open','in_progress','waiting_customer')),
               COUNT(*) FILTER (WHERE sla_breached),
               COUNT(*) FILTER (WHERE status IN ('resolved','closed')),
               COUNT(*) FILTER (WHERE first_response_at IS NOT NULL
                                  AND sla_first_response_due IS NOT NULL
                                  AND first_response_at <= sla_first_response_due),
               COUNT(*) FILTER (WHERE first_response_at IS NOT NULL)
        FROM tickets`
	var m SLAMetrics
	if err := r.pool.QueryRow(ctx, query).Scan(
		&m.TotalTickets,
		&m.OpenTickets,
		&m.BreachedTickets,
		&m.ResolvedTickets,
		&m.RespondedInSLA,
		&m.RespondedTotal,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

type ticketScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row ticketScanner, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.RequesterID,
		&ticket.Category,
		&ticket.TeamID,
		&ticket.AssigneeID,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Source,
		&ticket.FirstResponseAt,
		&ticket.SLAFirstResponseDue,
		&ticket.SLAResolutionDue,
		&ticket.SLABreached,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
	)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
