package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smarthealth/clinqa/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const logCols = `audit_log_id, user_id, session_id, sequence_chat_id, document_type_id, document_number, question, created_at`

func scanLog(row pgx.Row, withResponse bool) (*Log, error) {
	var l Log
	dest := []interface{}{&l.ID, &l.UserID, &l.SessionID, &l.SequenceChatID,
		&l.DocumentTypeID, &l.DocumentNumber, &l.Question, &l.CreatedAt}
	if withResponse {
		dest = append(dest, &l.Response)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &l, nil
}

// Insert commits the row in its own transaction so a failure never touches
// the read path.
func (r *repoPG) Insert(ctx context.Context, l *Log) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO audit_logs (user_id, session_id, sequence_chat_id, document_type_id, document_number, question, response_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING audit_log_id, created_at`,
			l.UserID, l.SessionID, l.SequenceChatID, l.DocumentTypeID, l.DocumentNumber, l.Question, l.Response,
		).Scan(&l.ID, &l.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}
		return nil
	})
}

func (r *repoPG) MaxSequence(ctx context.Context, userID int64, sessionID uuid.UUID) (int, error) {
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_chat_id), 0)
		FROM audit_logs
		WHERE user_id = $1 AND session_id = $2`, userID, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return seq, nil
}

func (r *repoPG) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Log, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+logCols+`
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, audit_log_id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		l, err := scanLog(rows, false)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListBySession(ctx context.Context, userID int64, sessionID uuid.UUID) ([]*Log, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+logCols+`, response_json
		FROM audit_logs
		WHERE user_id = $1 AND session_id = $2
		ORDER BY sequence_chat_id, audit_log_id`, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session audit logs: %w", err)
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		l, err := scanLog(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
