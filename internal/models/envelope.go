package models

import (
	"encoding/json"
	"time"
)

// Gateway frame types exchanged with clients.
const (
	GatewayHello        = "GATEWAY_HELLO"
	GatewayHeartbeat    = "GATEWAY_HEARTBEAT"
	GatewayHeartbeatAck = "GATEWAY_HEARTBEAT_ACK"
	GatewayIdentify     = "GATEWAY_IDENTIFY"
	GatewayReady        = "GATEWAY_READY"

	GatewayPresenceStatusChange = "PRESENCE_STATUS_CHANGE"
	GatewayTypingStart          = "TYPING_START"
)

// Abnormal close codes. Rate-limit violations are distinguishable from generic
// server-side errors.
const (
	CloseGenericError = 4000
	CloseRateLimited  = 4005
)

// EventEnvelope is the server-to-client wire format. Every broker message and
// every gateway-originated frame uses it.
type EventEnvelope struct {
	EventID   int64           `json:"eventId,string"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	ServerID  string          `json:"serverId,omitempty"`
	ChannelID string          `json:"channelId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ClientMessage is the client-to-server frame format.
type ClientMessage struct {
	Type             string          `json:"type"`
	ClientMutationID string          `json:"clientMutationId,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// IdentifyPayload carries the post-upgrade credential.
type IdentifyPayload struct {
	Token string `json:"token"`
}

// StatusChangePayload carries a presence status change request.
type StatusChangePayload struct {
	Status string `json:"status"`
}

// TypingPayload names the channel the client is typing in.
type TypingPayload struct {
	ServerID  string `json:"serverId"`
	ChannelID string `json:"channelId"`
}

// HelloPayload advertises the heartbeat interval on open.
type HelloPayload struct {
	HeartbeatIntervalMs int64 `json:"heartbeatIntervalMs"`
}

// ReadyPayload lists the session's resolved scopes.
type ReadyPayload struct {
	SessionID string   `json:"sessionId"`
	UserID    string   `json:"userId"`
	ServerIDs []string `json:"serverIds"`
}
