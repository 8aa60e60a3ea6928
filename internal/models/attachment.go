package models

import "time"

// AttachmentStatus is the scan state machine:
// pending -> uploaded -> scanning -> {scanned | blocked}, with a crash-recovery
// edge scanning -> uploaded and a terminal deleted from any state.
type AttachmentStatus string

const (
	AttachmentPending  AttachmentStatus = "pending"
	AttachmentUploaded AttachmentStatus = "uploaded"
	AttachmentScanning AttachmentStatus = "scanning"
	AttachmentScanned  AttachmentStatus = "scanned"
	AttachmentBlocked  AttachmentStatus = "blocked"
	AttachmentDeleted  AttachmentStatus = "deleted"
)

// Attachment is metadata only; object bytes live in the content store under ObjectKey.
type Attachment struct {
	ID          int64            `db:"id" json:"id,string"`
	ServerID    int64            `db:"server_id" json:"server_id,string"`
	ChannelID   int64            `db:"channel_id" json:"channel_id,string"`
	UploaderID  int64            `db:"uploader_id" json:"uploader_id,string"`
	ObjectKey   string           `db:"object_key" json:"-"`
	Filename    string           `db:"filename" json:"filename"`
	ContentType string           `db:"content_type" json:"content_type"`
	SizeBytes   int64            `db:"size_bytes" json:"size_bytes"`
	Status      AttachmentStatus `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	DeletedAt   *time.Time       `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Message is a channel message. Pagination cursors are snowflake ids, so sort
// order equals creation order.
type Message struct {
	ID        int64     `db:"id" json:"id,string"`
	ServerID  int64     `db:"server_id" json:"server_id,string"`
	ChannelID int64     `db:"channel_id" json:"channel_id,string"`
	AuthorID  int64     `db:"author_id" json:"author_id,string"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
