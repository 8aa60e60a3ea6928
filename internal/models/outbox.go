package models

import (
	"encoding/json"
	"time"
)

// OutboxEvent is a pending domain event, written in the same transaction as the
// state change it announces. PublishedAt transitions null to set exactly once.
type OutboxEvent struct {
	ID            int64           `db:"id" json:"id,string"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id" json:"aggregate_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	PublishedAt   *time.Time      `db:"published_at" json:"published_at,omitempty"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
}

// EventMeta carries the scope ids embedded in an event payload, used for topic
// resolution.
type EventMeta struct {
	ServerID  string `json:"serverId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// Meta extracts the scope ids from the event payload. Unknown fields are ignored;
// a payload without scope ids yields the zero value.
func (e *OutboxEvent) Meta() EventMeta {
	var meta EventMeta
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &meta)
	}
	return meta
}

// Domain event types emitted through the outbox.
const (
	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageUpdate = "MESSAGE_UPDATE"
	EventMessageDelete = "MESSAGE_DELETE"
	EventChannelCreate = "CHANNEL_CREATE"
	EventChannelDelete = "CHANNEL_DELETE"
	EventChannelRename = "CHANNEL_RENAME"

	EventPresenceUpdate = "PRESENCE_UPDATE"
	EventTypingStart    = "TYPING_START"

	EventAttachmentUploaded = "ATTACHMENT_UPLOADED"
	EventAttachmentScanned  = "ATTACHMENT_SCANNED"
	EventAttachmentBlocked  = "ATTACHMENT_BLOCKED"
)
