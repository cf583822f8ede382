package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-desk/internal/domain"
)

// ChatRepository persists chat sessions and their message log. Enqueue,
// claim and end all serialize on a per-team advisory lock so queue positions
// stay a contiguous 1..M sequence under concurrent calls.
type ChatRepository interface {
	// CreateSession persists a waiting session and assigns its queue position
	// atomically (position = waiting count for the team + 1).
	CreateSession(ctx context.Context, session *domain.ChatSession) error
	GetByID(ctx context.Context, id string) (*domain.ChatSession, error)
	GetByToken(ctx context.Context, token string) (*domain.ChatSession, error)
	// Claim binds an agent to a still-waiting session and shifts the queue
	// positions of every waiting session behind it in the same team.
	// Returns pgx.ErrNoRows when the session is absent or no longer waiting.
	Claim(ctx context.Context, sessionID, agentID string, acceptedAt time.Time) (*domain.ChatSession, error)
	// End terminates a waiting or active session. Returns pgx.ErrNoRows when
	// the session is absent or already ended.
	End(ctx context.Context, sessionID string, endedAt time.Time) (*domain.ChatSession, error)
	LinkTicket(ctx context.Context, sessionID, ticketID string) error
	CountWaiting(ctx context.Context, teamID *string) (int, error)
	CountActive(ctx context.Context, teamID *string) (int, error)
	ListWaiting(ctx context.Context, teamID *string) ([]domain.ChatSession, error)
	AddMessage(ctx context.Context, msg *domain.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
}

type chatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository instantiates the repository.
func NewChatRepository(pool *pgxpool.Pool) ChatRepository {
	return &chatRepository{pool: pool}
}

const chatColumns = `id, token, customer_user_id, team_id, agent_id, status, queue_position,
        ticket_id, started_at, accepted_at, ended_at, updated_at`

func (r *chatRepository) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockTeamQueue(ctx, tx, session.TeamID); err != nil {
		return err
	}

	// Counting and inserting in one statement, under the queue lock, keeps
	// positions gapless when two customers enqueue at once.
	const query = `
        INSERT INTO chat_sessions (token, customer_user_id, team_id, status, queue_position)
        SELECT $1, $2, $3, $4, COUNT(*) + 1
        FROM chat_sessions
        WHERE status='waiting' AND team_id IS NOT DISTINCT FROM $3
        RETURNING id, queue_position, started_at, updated_at`
	err = tx.QueryRow(ctx, query,
		session.Token,
		session.CustomerID,
		session.TeamID,
		session.Status,
	).Scan(&session.ID, &session.QueuePosition, &session.StartedAt, &session.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockTeamQueue takes the transaction-scoped advisory lock serializing all
// queue-position mutations (enqueue, claim, end) for one team's queue.
func lockTeamQueue(ctx context.Context, tx pgx.Tx, teamID *string) error {
	key := "chat_queue:"
	if teamID != nil {
		key += *teamID
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

func (r *chatRepository) GetByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	query := `SELECT ` + chatColumns + ` FROM chat_sessions WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *chatRepository) GetByToken(ctx context.Context, token string) (*domain.ChatSession, error) {
	query := `SELECT ` + chatColumns + ` FROM chat_sessions WHERE token=$1`
	return r.fetchSingle(ctx, query, token)
}

func (r *chatRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.ChatSession, error) {
	var session domain.ChatSession
	if err := scanChatSession(r.pool.QueryRow(ctx, query, arg), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *chatRepository) Claim(ctx context.Context, sessionID, agentID string, acceptedAt time.Time) (*domain.ChatSession, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the row while it is still waiting; losing the race surfaces as
	// ErrNoRows, which the service maps to AlreadyClaimed.
	var claimedPos *int
	var teamID *string
	err = tx.QueryRow(ctx, `
        SELECT queue_position, team_id FROM chat_sessions
        WHERE id=$1 AND status='waiting'
        FOR UPDATE`, sessionID).Scan(&claimedPos, &teamID)
	if err != nil {
		return nil, err
	}

	var session domain.ChatSession
	err = scanChatSession(tx.QueryRow(ctx, `
        UPDATE chat_sessions
        SET agent_id=$2, status='active', accepted_at=$3, queue_position=NULL, updated_at=NOW()
        WHERE id=$1
        RETURNING `+chatColumns, sessionID, agentID, acceptedAt), &session)
	if err != nil {
		return nil, err
	}

	if claimedPos != nil {
		if err := lockTeamQueue(ctx, tx, teamID); err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
            UPDATE chat_sessions
            SET queue_position = queue_position - 1, updated_at=NOW()
            WHERE status='waiting'
              AND team_id IS NOT DISTINCT FROM $1
              AND queue_position > $2`, teamID, *claimedPos)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *chatRepository) End(ctx context.Context, sessionID string, endedAt time.Time) (*domain.ChatSession, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var waitingPos *int
	var teamID *string
	err = tx.QueryRow(ctx, `
        SELECT queue_position, team_id FROM chat_sessions
        WHERE id=$1 AND status IN ('waiting','active')
        FOR UPDATE`, sessionID).Scan(&waitingPos, &teamID)
	if err != nil {
		return nil, err
	}

	var session domain.ChatSession
	err = scanChatSession(tx.QueryRow(ctx, `
        UPDATE chat_sessions
        SET status='ended', ended_at=$2, queue_position=NULL, updated_at=NOW()
        WHERE id=$1
        RETURNING `+chatColumns, sessionID, endedAt), &session)
	if err != nil {
		return nil, err
	}

	// A session abandoned while still queued leaves a gap to close.
	if waitingPos != nil {
		if err := lockTeamQueue(ctx, tx, teamID); err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
            UPDATE chat_sessions
            SET queue_position = queue_position - 1, updated_at=NOW()
            WHERE status='waiting'
              AND team_id IS NOT DISTINCT FROM $1
              AND queue_position > $2`, teamID, *waitingPos)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *chatRepository) LinkTicket(ctx context.Context, sessionID, ticketID string) error {
	const query = `UPDATE chat_sessions SET ticket_id=$2, updated_at=NOW() WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, sessionID, ticketID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *chatRepository) CountWaiting(ctx context.Context, teamID *string) (int, error) {
	return r.countByStatus(ctx, teamID, domain.ChatStatusWaiting)
}

func (r *chatRepository) CountActive(ctx context.Context, teamID *string) (int, error) {
	return r.countByStatus(ctx, teamID, domain.ChatStatusActive)
}

func (r *chatRepository) countByStatus(ctx context.Context, teamID *string, status domain.ChatStatus) (int, error) {
	var count int
	if teamID == nil {
		err := r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM chat_sessions WHERE status=$1`, status).Scan(&count)
		return count, err
	}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE status=$1 AND team_id IS NOT DISTINCT FROM $2`,
		status, teamID).Scan(&count)
	return count, err
}

func (r *chatRepository) ListWaiting(ctx context.Context, teamID *string) ([]domain.ChatSession, error) {
	query := `SELECT ` + chatColumns + `
        FROM chat_sessions
        WHERE status='waiting' AND team_id IS NOT DISTINCT FROM $1
        ORDER BY queue_position`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatSession
	for rows.Next() {
		var session domain.ChatSession
		if err := scanChatSession(rows, &session); err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

func (r *chatRepository) AddMessage(ctx context.Context, msg *domain.ChatMessage) error {
	const query = `
        INSERT INTO chat_messages (session_id, sender_id, sender_type, body)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		msg.SessionID,
		msg.SenderID,
		msg.SenderType,
		msg.Body,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *chatRepository) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	query := `
        SELECT id, session_id, sender_id, sender_type, body, created_at
        FROM chat_messages WHERE session_id=$1 ORDER BY created_at`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.SenderID,
			&msg.SenderType,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

type chatScanner interface {
	Scan(dest ...any) error
}

func scanChatSession(row chatScanner, session *domain.ChatSession) error {
	return row.Scan(
		&session.ID,
		&session.Token,
		&session.CustomerID,
		&session.TeamID,
		&session.AgentID,
		&session.Status,
		&session.QueuePosition,
		&session.TicketID,
		&session.StartedAt,
		&session.AcceptedAt,
		&session.EndedAt,
		&session.UpdatedAt,
	)
}
