package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"realtime-service/internal/auth"
	"realtime-service/internal/broker"
	"realtime-service/internal/models"
	"realtime-service/internal/observability"
	"realtime-service/internal/presence"
	"realtime-service/internal/repositories"
	"realtime-service/internal/snowflake"
)

// Config carries the tunables of a gateway instance.
type Config struct {
	HeartbeatInterval  time.Duration
	RateLimitPerSecond int
	MaxPayloadBytes    int64
	SendBufferSize     int
}

// Handler owns the websocket endpoint: upgrade, authentication, heartbeats,
// presence and typing fan-in, and per-session teardown.
type Handler struct {
	hub      *Hub
	tokens   *auth.TokenService
	members  repositories.MemberRepository
	presence presence.Store
	typing   presence.TypingStore
	pub      broker.Publisher
	idGen    *snowflake.Generator
	log      *zap.SugaredLogger
	cfg      Config
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, tokens *auth.TokenService, members repositories.MemberRepository, pres presence.Store, typing presence.TypingStore, pub broker.Publisher, idGen *snowflake.Generator, log *zap.SugaredLogger, cfg Config) *Handler {
	return &Handler{
		hub:      hub,
		tokens:   tokens,
		members:  members,
		presence: pres,
		typing:   typing,
		pub:      pub,
		idGen:    idGen,
		log:      log,
		cfg:      cfg,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs the session until the socket closes.
// A connection without credentials is accepted and waits for GATEWAY_IDENTIFY;
// a connection with a bad credential is rejected before the upgrade.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("realtime-service/gateway").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	var userID int64
	authenticated := false
	if token != "" {
		id, err := h.tokens.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID = id
		authenticated = true
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sessionID, err := h.idGen.Next()
	if err != nil {
		h.log.Errorw("session id allocation failed", "error", err)
		_ = conn.Close()
		return
	}

	s := newSession(sessionID, conn, h.cfg.SendBufferSize)
	h.hub.Add(s)
	observability.IncWSActive()
	observability.IncWSEvent("connect")
	go s.writePump()

	h.sendLocal(s, models.GatewayHello, "", "", "", models.HelloPayload{
		HeartbeatIntervalMs: h.cfg.HeartbeatInterval.Milliseconds(),
	})

	if authenticated {
		s.setAuthenticated(userID)
		go h.bootstrap(s)
	}

	h.readLoop(s)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return header
	}
	return c.Query("token")
}

// readLoop consumes inbound frames until the socket errors or the session is
// closed. Malformed frames are logged and dropped without closing.
func (h *Handler) readLoop(s *Session) {
	defer h.teardown(s)

	s.conn.SetReadLimit(h.cfg.MaxPayloadBytes)
	readWait := 2 * h.cfg.HeartbeatInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))

		if !s.allowFrame(h.cfg.RateLimitPerSecond, time.Now()) {
			observability.IncWSEvent("rate_limited")
			s.Close(models.CloseRateLimited, "rate limit exceeded")
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			h.log.Debugw("malformed frame dropped", "session_id", s.ID)
			continue
		}

		if !h.handleFrame(s, &msg) {
			return
		}
	}
}

// handleFrame dispatches one client frame. It returns false when the session
// must stop reading.
func (h *Handler) handleFrame(s *Session, msg *models.ClientMessage) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Type {
	case models.GatewayHeartbeat:
		s.touchHeartbeat()
		if s.Authenticated() {
			if err := h.presence.Refresh(ctx, s.UserIDString()); err != nil {
				h.log.Warnw("presence refresh failed", "user_id", s.UserID(), "error", err)
			}
		}
		h.sendLocal(s, models.GatewayHeartbeatAck, "", "", "", nil)

	case models.GatewayIdentify:
		if s.Authenticated() {
			return true
		}
		var p models.IdentifyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Token == "" {
			s.Close(models.CloseGenericError, "authentication failed")
			return false
		}
		userID, err := h.tokens.ValidateToken(p.Token)
		if err != nil {
			s.Close(models.CloseGenericError, "authentication failed")
			return false
		}
		s.setAuthenticated(userID)
		go h.bootstrap(s)

	case models.GatewayPresenceStatusChange:
		if !s.Authenticated() {
			return true
		}
		var p models.StatusChangePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || !presence.ValidStatus(p.Status) {
			h.log.Debugw("invalid presence status dropped", "session_id", s.ID)
			return true
		}
		if err := h.presence.SetStatus(ctx, s.UserIDString(), presence.Status(p.Status)); err != nil {
			h.log.Warnw("presence status update failed", "user_id", s.UserID(), "error", err)
			return true
		}
		h.publishPresence(ctx, s, presence.Status(p.Status))
		observability.IncWSEvent("presence_status_change")

	case models.GatewayTypingStart:
		if !s.Authenticated() {
			return true
		}
		var p models.TypingPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.ServerID == "" || p.ChannelID == "" {
			h.log.Debugw("malformed typing frame dropped", "session_id", s.ID)
			return true
		}
		// A typing claim for a server outside the session's scopes is
		// silently ignored.
		if !s.HasScope(p.ServerID) {
			return true
		}
		if err := h.typing.SetTyping(ctx, p.ChannelID, s.UserIDString()); err != nil {
			h.log.Warnw("typing record failed", "user_id", s.UserID(), "error", err)
			return true
		}
		h.publishEvent(ctx, broker.ChannelTyping(p.ServerID, p.ChannelID), models.EventTypingStart,
			p.ServerID, p.ChannelID, s.UserIDString(), map[string]string{
				"userId":    s.UserIDString(),
				"channelId": p.ChannelID,
				"serverId":  p.ServerID,
			})
		observability.IncWSEvent("typing_start")

	default:
		h.log.Debugw("unknown frame type dropped", "session_id", s.ID, "type", msg.Type)
	}
	return true
}

// bootstrap resolves the session's scopes, subscribes it, and announces it
// online. A scope resolution failure leaves the socket open but never ready.
func (h *Handler) bootstrap(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	select {
	case <-s.done:
		return
	default:
	}

	ids, err := h.members.ListServerIDs(ctx, s.UserID())
	if err != nil {
		h.log.Errorw("scope resolution failed", "user_id", s.UserID(), "error", err)
		return
	}

	serverIDs := make([]string, 0, len(ids))
	topics := make([]string, 0, len(ids)*4+1)
	for _, id := range ids {
		sid := strconv.FormatInt(id, 10)
		serverIDs = append(serverIDs, sid)
		topics = append(topics,
			broker.ServerEvents(sid),
			broker.ServerChannelWildcard(sid),
			broker.ServerChannelTypingWildcard(sid),
			broker.ServerPresence(sid),
		)
	}
	topics = append(topics, broker.UserEvents(s.UserIDString()))
	s.setScopes(serverIDs, topics)

	h.sendLocal(s, models.GatewayReady, "", "", s.UserIDString(), models.ReadyPayload{
		SessionID: strconv.FormatInt(s.ID, 10),
		UserID:    s.UserIDString(),
		ServerIDs: serverIDs,
	})

	// teardown may run concurrently with a socket that closed right after
	// authenticating; never leave a session that is already gone marked online.
	select {
	case <-s.done:
		return
	default:
	}
	if err := h.presence.SetOnline(ctx, s.UserIDString(), serverIDs); err != nil {
		h.log.Warnw("presence online failed", "user_id", s.UserID(), "error", err)
	}
	select {
	case <-s.done:
		if err := h.presence.SetOffline(ctx, s.UserIDString()); err != nil {
			h.log.Warnw("presence offline failed", "user_id", s.UserID(), "error", err)
		}
		return
	default:
	}
	h.publishPresence(ctx, s, presence.StatusOnline)
	observability.IncWSEvent("ready")
}

// teardown runs exactly once per session when its read loop exits.
func (h *Handler) teardown(s *Session) {
	s.Close(websocket.CloseNormalClosure, "")
	h.hub.Remove(s.ID)
	observability.DecWSActive()
	observability.IncWSEvent("disconnect")

	if !s.Authenticated() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.SetOffline(ctx, s.UserIDString()); err != nil {
		h.log.Warnw("presence offline failed", "user_id", s.UserID(), "error", err)
	}
	h.publishPresence(ctx, s, presence.StatusOffline)
}

// publishPresence broadcasts a presence change to every server the session is
// scoped to.
func (h *Handler) publishPresence(ctx context.Context, s *Session, status presence.Status) {
	for _, sid := range s.Scopes() {
		h.publishEvent(ctx, broker.ServerPresence(sid), models.EventPresenceUpdate,
			sid, "", s.UserIDString(), map[string]string{
				"userId":   s.UserIDString(),
				"status":   string(status),
				"serverId": sid,
			})
	}
}

// publishEvent wraps a payload in an envelope and hands it to the broker.
func (h *Handler) publishEvent(ctx context.Context, topic, eventType, serverID, channelID, userID string, payload any) {
	env, err := h.envelope(eventType, serverID, channelID, userID, payload)
	if err != nil {
		h.log.Errorw("envelope build failed", "type", eventType, "error", err)
		return
	}
	if err := h.pub.Publish(ctx, topic, env); err != nil {
		h.log.Errorw("event publish failed", "topic", topic, "type", eventType, "error", err)
	}
}

// sendLocal delivers a gateway-originated frame to this session only.
func (h *Handler) sendLocal(s *Session, frameType, serverID, channelID, userID string, payload any) {
	env, err := h.envelope(frameType, serverID, channelID, userID, payload)
	if err != nil {
		h.log.Errorw("envelope build failed", "type", frameType, "error", err)
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Errorw("frame marshal failed", "type", frameType, "error", err)
		return
	}
	if !s.Enqueue(frame) {
		observability.IncWSDroppedFrame()
	}
}

func (h *Handler) envelope(eventType, serverID, channelID, userID string, payload any) (models.EventEnvelope, error) {
	id, err := h.idGen.Next()
	if err != nil {
		return models.EventEnvelope{}, err
	}
	env := models.EventEnvelope{
		EventID:   id,
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		ServerID:  serverID,
		ChannelID: channelID,
		UserID:    userID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return models.EventEnvelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}
