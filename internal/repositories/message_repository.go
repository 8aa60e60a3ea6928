package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"realtime-service/internal/models"
)

var ErrAttachmentNotAvailable = errors.New("attachment is not available for messages")

// MessageRepository persists channel messages and their outbox events together.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *models.Message, attachmentIDs []int64, event *models.OutboxEvent) error
	ListChannelMessages(ctx context.Context, channelID int64, beforeID int64, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db     *sqlx.DB
	outbox OutboxAppender
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB, outbox OutboxAppender) *MessageRepo {
	return &MessageRepo{db: db, outbox: outbox}
}

// CreateMessage inserts a message, links its attachments and appends the
// MESSAGE_CREATE outbox event in one transaction. Only attachments whose status
// is exactly scanned, belonging to the same channel, may be referenced.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg *models.Message, attachmentIDs []int64, event *models.OutboxEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if len(attachmentIDs) > 0 {
		var usable int
		err := tx.GetContext(ctx, &usable,
			`SELECT COUNT(*) FROM attachments
             WHERE id = ANY($1) AND channel_id = $2 AND status = 'scanned' AND deleted_at IS NULL`,
			pq.Array(attachmentIDs), msg.ChannelID)
		if err != nil {
			return err
		}
		if usable != len(attachmentIDs) {
			return ErrAttachmentNotAvailable
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, server_id, channel_id, author_id, content)
         VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ServerID, msg.ChannelID, msg.AuthorID, msg.Content); err != nil {
		return err
	}

	for i, attID := range attachmentIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_attachments (message_id, attachment_id, position) VALUES ($1, $2, $3)`,
			msg.ID, attID, i); err != nil {
			return err
		}
	}

	if err := r.outbox.Append(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

// ListChannelMessages pages backwards through a channel using snowflake-id
// cursors; id order equals creation order.
func (r *MessageRepo) ListChannelMessages(ctx context.Context, channelID int64, beforeID int64, limit int) ([]models.Message, error) {
	query := `SELECT id, server_id, channel_id, author_id, content, created_at
        FROM messages WHERE channel_id = $1`
	args := []any{channelID}
	if beforeID > 0 {
		query += ` AND id < $2 ORDER BY id DESC LIMIT $3`
		args = append(args, beforeID, limit)
	} else {
		query += ` ORDER BY id DESC LIMIT $2`
		args = append(args, limit)
	}

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}
