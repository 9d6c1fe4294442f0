package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the notification inbox.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Name() string { return "inbox" }

func (s *PGStore) Deliver(ctx context.Context, n Notification) error {
	const query = `
		INSERT INTO notifications (id, receiver_id, data_type, data_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, query, n.ID, n.ReceiverID, n.DataType, n.DataID, n.Content, n.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListForReceiver returns the newest notifications of a user first.
func (s *PGStore) ListForReceiver(ctx context.Context, receiverID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT id, receiver_id, data_type, data_id, content, created_at, read_at
		FROM notifications
		WHERE receiver_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, receiverID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.ReceiverID, &n.DataType, &n.DataID, &n.Content, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate: %w", err)
	}
	return out, nil
}

// MarkRead marks a receiver's notification as read. It reports false when
// the notification does not belong to the receiver or was already read.
func (s *PGStore) MarkRead(ctx context.Context, receiverID, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read_at = $3 WHERE id = $1 AND receiver_id = $2 AND read_at IS NULL`,
		id, receiverID, at)
	if err != nil {
		return false, fmt.Errorf("notify: mark read: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
