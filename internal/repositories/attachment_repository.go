package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"realtime-service/internal/models"
)

var (
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrInvalidTransition  = errors.New("invalid attachment status transition")
)

// AttachmentRepository owns the attachment state machine. Claim exclusivity is
// arbitrated by the database via skip-locked reads, the same discipline the
// outbox drain uses, so scanner replicas can run side by side.
type AttachmentRepository interface {
	Create(ctx context.Context, att *models.Attachment) error
	FindByID(ctx context.Context, id int64) (*models.Attachment, error)
	CompleteUpload(ctx context.Context, id int64, uploaderID int64, event *models.OutboxEvent) error
	ClaimForScan(ctx context.Context, limit int) ([]models.Attachment, error)
	RevertStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	ReleaseToUploaded(ctx context.Context, id int64) error
	FinishScan(ctx context.Context, id int64, status models.AttachmentStatus, event *models.OutboxEvent) error
	SoftDelete(ctx context.Context, id int64) error
}

// AttachmentRepo is a sqlx-backed repository.
type AttachmentRepo struct {
	db     *sqlx.DB
	outbox OutboxAppender
}

// NewAttachmentRepo constructs AttachmentRepo.
func NewAttachmentRepo(db *sqlx.DB, outbox OutboxAppender) *AttachmentRepo {
	return &AttachmentRepo{db: db, outbox: outbox}
}

const attachmentColumns = `id, server_id, channel_id, uploader_id, object_key, filename,
    content_type, size_bytes, status, created_at, deleted_at`

// Create inserts a pending attachment record.
func (r *AttachmentRepo) Create(ctx context.Context, att *models.Attachment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attachments (id, server_id, channel_id, uploader_id, object_key, filename, content_type, size_bytes, status)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')`,
		att.ID, att.ServerID, att.ChannelID, att.UploaderID, att.ObjectKey,
		att.Filename, att.ContentType, att.SizeBytes)
	return err
}

// FindByID returns a non-deleted attachment.
func (r *AttachmentRepo) FindByID(ctx context.Context, id int64) (*models.Attachment, error) {
	var att models.Attachment
	err := r.db.GetContext(ctx, &att,
		`SELECT `+attachmentColumns+` FROM attachments WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// CompleteUpload flips pending to uploaded and records the outbox event in the
// same transaction. Only the uploader may complete, and only once.
func (r *AttachmentRepo) CompleteUpload(ctx context.Context, id int64, uploaderID int64, event *models.OutboxEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE attachments SET status = 'uploaded'
         WHERE id = $1 AND uploader_id = $2 AND status = 'pending' AND deleted_at IS NULL`,
		id, uploaderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrInvalidTransition
	}

	if err := r.outbox.Append(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

// ClaimForScan atomically moves up to limit uploaded rows to scanning. The
// skip-locked read guarantees no two workers ever claim the same attachment.
func (r *AttachmentRepo) ClaimForScan(ctx context.Context, limit int) ([]models.Attachment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var atts []models.Attachment
	err = tx.SelectContext(ctx, &atts,
		`SELECT `+attachmentColumns+`
         FROM attachments
         WHERE status = 'uploaded' AND deleted_at IS NULL
         ORDER BY created_at ASC
         LIMIT $1
         FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("select uploaded: %w", err)
	}
	if len(atts) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(atts))
	for i, att := range atts {
		ids[i] = att.ID
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE attachments SET status = 'scanning', scanning_started_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark scanning: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	for i := range atts {
		atts[i].Status = models.AttachmentScanning
	}
	return atts, nil
}

// RevertStuck returns rows stuck in scanning longer than olderThan back to
// uploaded. This is the timeout mechanism for crashed or hung scans; it must
// run before claiming so the reverted rows become eligible in the same cycle.
func (r *AttachmentRepo) RevertStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attachments SET status = 'uploaded', scanning_started_at = NULL
         WHERE status = 'scanning' AND deleted_at IS NULL
           AND scanning_started_at < NOW() - $1::interval`,
		fmt.Sprintf("%d milliseconds", olderThan.Milliseconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseToUploaded reverts a scanning row after a transient scan failure. A
// failed scan is not evidence of infection, so the row never goes to blocked here.
func (r *AttachmentRepo) ReleaseToUploaded(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE attachments SET status = 'uploaded', scanning_started_at = NULL
         WHERE id = $1 AND status = 'scanning'`, id)
	return err
}

// FinishScan records a terminal verdict (scanned or blocked) together with its
// outbox event in one transaction.
func (r *AttachmentRepo) FinishScan(ctx context.Context, id int64, status models.AttachmentStatus, event *models.OutboxEvent) error {
	if status != models.AttachmentScanned && status != models.AttachmentBlocked {
		return ErrInvalidTransition
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE attachments SET status = $1, scanning_started_at = NULL
         WHERE id = $2 AND status = 'scanning' AND deleted_at IS NULL`,
		status, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrInvalidTransition
	}

	if event != nil {
		if err := r.outbox.Append(ctx, tx, event); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SoftDelete marks an attachment deleted from any state.
func (r *AttachmentRepo) SoftDelete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attachments SET deleted_at = NOW(), status = 'deleted'
         WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrAttachmentNotFound
	}
	return nil
}
