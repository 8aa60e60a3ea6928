package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realtime-service/internal/middleware"
	"realtime-service/internal/presence"
	"realtime-service/internal/repositories"
)

// PresenceHandler serves read-only presence and typing queries. The TTL stores
// are the source of truth; nothing here mutates state.
type PresenceHandler struct {
	presence presence.Store
	typing   presence.TypingStore
	members  repositories.MemberRepository
	log      *zap.SugaredLogger
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(pres presence.Store, typing presence.TypingStore, members repositories.MemberRepository, log *zap.SugaredLogger) *PresenceHandler {
	return &PresenceHandler{presence: pres, typing: typing, members: members, log: log}
}

type presenceEntry struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// GetServerPresence lists the server's currently online members with their
// statuses. Offline members are omitted entirely.
func (h *PresenceHandler) GetServerPresence(c *gin.Context) {
	userID := middleware.UserID(c)

	serverID, err := strconv.ParseInt(c.Param("server_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
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

	memberIDs, err := h.members.ListUserIDsByServer(c.Request.Context(), serverID)
	if err != nil {
		h.log.Errorw("member list failed", "server_id", serverID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load members"})
		return
	}
	ids := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}

	online, err := h.presence.GetOnlineMembers(c.Request.Context(), ids)
	if err != nil {
		h.log.Errorw("presence lookup failed", "server_id", serverID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}

	entries := make([]presenceEntry, 0, len(online))
	for _, uid := range online {
		status, err := h.presence.GetPresence(c.Request.Context(), uid)
		if err != nil {
			h.log.Warnw("presence read failed", "user_id", uid, "error", err)
			status = presence.StatusOnline
		}
		entries = append(entries, presenceEntry{UserID: uid, Status: string(status)})
	}

	c.JSON(http.StatusOK, gin.H{"presence": entries})
}

// GetChannelTyping lists the users currently typing in a channel.
func (h *PresenceHandler) GetChannelTyping(c *gin.Context) {
	userID := middleware.UserID(c)

	serverID, err := strconv.ParseInt(c.Param("server_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}
	channelID := c.Param("channel_id")
	if _, err := strconv.ParseInt(channelID, 10, 64); err != nil {
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

	typing, err := h.typing.GetTyping(c.Request.Context(), channelID)
	if err != nil {
		h.log.Errorw("typing lookup failed", "channel_id", channelID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load typing state"})
		return
	}
	if typing == nil {
		typing = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"typing": typing})
}
