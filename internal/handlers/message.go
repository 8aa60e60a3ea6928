package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realtime-service/internal/middleware"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
	"realtime-service/internal/snowflake"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxContentLen   = 4000
)

// MessageHandler manages the channel message endpoints. Delivery to connected
// clients happens through the outbox, never directly from here.
type MessageHandler struct {
	messages repositories.MessageRepository
	members  repositories.MemberRepository
	idGen    *snowflake.Generator
	log      *zap.SugaredLogger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages repositories.MessageRepository, members repositories.MemberRepository, idGen *snowflake.Generator, log *zap.SugaredLogger) *MessageHandler {
	return &MessageHandler{messages: messages, members: members, idGen: idGen, log: log}
}

type postMessageRequest struct {
	Content       string   `json:"content"`
	AttachmentIDs []string `json:"attachment_ids"`
}

// PostMessage creates a message. The MESSAGE_CREATE event is committed in the
// same transaction as the row, so it cannot be lost and cannot fire for a
// rolled-back message.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID := middleware.UserID(c)

	serverID, err := strconv.ParseInt(c.Param("server_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}
	channelID, err := strconv.ParseInt(c.Param("channel_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Content == "" && len(req.AttachmentIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}
	if len(req.Content) > maxContentLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}

	attachmentIDs := make([]int64, 0, len(req.AttachmentIDs))
	for _, raw := range req.AttachmentIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
			return
		}
		attachmentIDs = append(attachmentIDs, id)
	}

	member, err := h.members.IsMember(c.Request.Context(), serverID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this server"})
		return
	}

	id, err := h.idGen.Next()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "id allocation failed"})
		return
	}
	msg := &models.Message{
		ID:        id,
		ServerID:  serverID,
		ChannelID: channelID,
		AuthorID:  userID,
		Content:   req.Content,
	}

	event, err := h.createEvent(msg, req.AttachmentIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build event"})
		return
	}
	if err := h.messages.CreateMessage(c.Request.Context(), msg, attachmentIDs, event); err != nil {
		if errors.Is(err, repositories.ErrAttachmentNotAvailable) {
			c.JSON(http.StatusConflict, gin.H{"error": "attachment is not available"})
			return
		}
		h.log.Errorw("message create failed", "channel_id", channelID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create message"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// ListMessages pages a channel's history newest first. The cursor is the id of
// the oldest message from the previous page.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID := middleware.UserID(c)

	serverID, err := strconv.ParseInt(c.Param("server_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}
	channelID, err := strconv.ParseInt(c.Param("channel_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	member, err := h.members.IsMember(c.Request.Context(), serverID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this server"})
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = min(v, maxPageSize)
		}
	}
	var beforeID int64
	if raw := c.Query("before"); raw != "" {
		beforeID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
	}

	messages, err := h.messages.ListChannelMessages(c.Request.Context(), channelID, beforeID, limit)
	if err != nil {
		h.log.Errorw("message list failed", "channel_id", channelID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *MessageHandler) createEvent(msg *models.Message, attachmentIDs []string) (*models.OutboxEvent, error) {
	eventID, err := h.idGen.Next()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]any{
		"messageId":     strconv.FormatInt(msg.ID, 10),
		"serverId":      strconv.FormatInt(msg.ServerID, 10),
		"channelId":     strconv.FormatInt(msg.ChannelID, 10),
		"authorId":      strconv.FormatInt(msg.AuthorID, 10),
		"content":       msg.Content,
		"attachmentIds": attachmentIDs,
	})
	if err != nil {
		return nil, err
	}
	return &models.OutboxEvent{
		ID:            eventID,
		AggregateType: "channel",
		AggregateID:   strconv.FormatInt(msg.ChannelID, 10),
		EventType:     models.EventMessageCreate,
		Payload:       payload,
	}, nil
}
