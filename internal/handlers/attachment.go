package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-service/internal/middleware"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
	"realtime-service/internal/snowflake"
	"realtime-service/internal/storage"
)

const maxAttachmentBytes = 100 << 20

// AttachmentHandler manages the attachment upload and download endpoints.
// Bytes never pass through this service; clients upload and download against
// presigned object-store URLs.
type AttachmentHandler struct {
	attachments repositories.AttachmentRepository
	members     repositories.MemberRepository
	storage     storage.ObjectStorage
	idGen       *snowflake.Generator
	log         *zap.SugaredLogger
}

// NewAttachmentHandler builds an AttachmentHandler.
func NewAttachmentHandler(attachments repositories.AttachmentRepository, members repositories.MemberRepository, store storage.ObjectStorage, idGen *snowflake.Generator, log *zap.SugaredLogger) *AttachmentHandler {
	return &AttachmentHandler{
		attachments: attachments,
		members:     members,
		storage:     store,
		idGen:       idGen,
		log:         log,
	}
}

type initUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	SizeBytes   int64  `json:"size_bytes" binding:"required"`
}

// InitUpload reserves an attachment record in pending state and hands back a
// presigned upload URL.
func (h *AttachmentHandler) InitUpload(c *gin.Context) {
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

	var req initUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SizeBytes <= 0 || req.SizeBytes > maxAttachmentBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment size"})
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

	id, err := h.idGen.Next()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "id allocation failed"})
		return
	}

	att := &models.Attachment{
		ID:          id,
		ServerID:    serverID,
		ChannelID:   channelID,
		UploaderID:  userID,
		ObjectKey:   objectKey(serverID, req.Filename),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		Status:      models.AttachmentPending,
	}
	if err := h.attachments.Create(c.Request.Context(), att); err != nil {
		h.log.Errorw("attachment create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create attachment"})
		return
	}

	uploadURL, err := h.storage.GenerateUploadURL(c.Request.Context(), att.ObjectKey, att.ContentType, att.SizeBytes)
	if err != nil {
		h.log.Errorw("presign upload failed", "attachment_id", att.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to presign upload"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"attachment": att, "upload_url": uploadURL})
}

// CompleteUpload moves a pending attachment to uploaded once the client has
// finished the presigned PUT. The upload event is committed atomically with
// the status change.
func (h *AttachmentHandler) CompleteUpload(c *gin.Context) {
	userID := middleware.UserID(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}

	att, err := h.attachments.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrAttachmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachment"})
		return
	}
	if att.UploaderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the uploader"})
		return
	}

	event, err := h.uploadEvent(att)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build event"})
		return
	}
	if err := h.attachments.CompleteUpload(c.Request.Context(), id, userID, event); err != nil {
		switch {
		case errors.Is(err, repositories.ErrAttachmentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		case errors.Is(err, repositories.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "attachment is not pending"})
		default:
			h.log.Errorw("complete upload failed", "attachment_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete upload"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": models.AttachmentUploaded})
}

// GetDownloadURL returns a presigned download URL for a scanned attachment. A
// blocked attachment is reported unavailable without revealing the verdict
// details; an attachment still in the scan pipeline is a conflict.
func (h *AttachmentHandler) GetDownloadURL(c *gin.Context) {
	userID := middleware.UserID(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}

	att, err := h.attachments.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrAttachmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachment"})
		return
	}

	member, err := h.members.IsMember(c.Request.Context(), att.ServerID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this server"})
		return
	}

	switch att.Status {
	case models.AttachmentScanned:
	case models.AttachmentBlocked:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "attachment unavailable"})
		return
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "attachment has not been scanned yet"})
		return
	}

	url, err := h.storage.GenerateDownloadURL(c.Request.Context(), att.ObjectKey)
	if err != nil {
		h.log.Errorw("presign download failed", "attachment_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to presign download"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"download_url": url})
}

// Delete soft-deletes an attachment and removes its object. Only the uploader
// may delete.
func (h *AttachmentHandler) Delete(c *gin.Context) {
	userID := middleware.UserID(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}

	att, err := h.attachments.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrAttachmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachment"})
		return
	}
	if att.UploaderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the uploader"})
		return
	}

	if err := h.attachments.SoftDelete(c.Request.Context(), id); err != nil {
		h.log.Errorw("attachment delete failed", "attachment_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete attachment"})
		return
	}
	// The record is the source of truth; a leaked object is harmless and
	// cleaned up out of band if this call fails.
	if err := h.storage.DeleteObject(c.Request.Context(), att.ObjectKey); err != nil {
		h.log.Warnw("object delete failed", "attachment_id", id, "error", err)
	}

	c.Status(http.StatusNoContent)
}

func (h *AttachmentHandler) uploadEvent(att *models.Attachment) (*models.OutboxEvent, error) {
	eventID, err := h.idGen.Next()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]string{
		"attachmentId": strconv.FormatInt(att.ID, 10),
		"serverId":     strconv.FormatInt(att.ServerID, 10),
		"channelId":    strconv.FormatInt(att.ChannelID, 10),
		"objectKey":    att.ObjectKey,
	})
	if err != nil {
		return nil, err
	}
	return &models.OutboxEvent{
		ID:            eventID,
		AggregateType: "server",
		AggregateID:   strconv.FormatInt(att.ServerID, 10),
		EventType:     models.EventAttachmentUploaded,
		Payload:       payload,
	}, nil
}

// objectKey namespaces objects by server and a random segment so concurrent
// uploads of the same filename never collide.
func objectKey(serverID int64, filename string) string {
	return fmt.Sprintf("srv/%d/%s/%s", serverID, uuid.NewString(), sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
