package broker

import (
	"fmt"
	"strings"

	"realtime-service/internal/models"
)

// Topic names are hierarchical routing keys on the topic exchange. They must be
// reproduced exactly; independent subscribers bind against these shapes.
func ServerEvents(serverID string) string {
	return fmt.Sprintf("srv.%s.events", serverID)
}

func ChannelEvents(serverID, channelID string) string {
	return fmt.Sprintf("srv.%s.chan.%s.events", serverID, channelID)
}

func ServerChannelWildcard(serverID string) string {
	return fmt.Sprintf("srv.%s.chan.*.events", serverID)
}

func ChannelTyping(serverID, channelID string) string {
	return fmt.Sprintf("srv.%s.chan.%s.typing", serverID, channelID)
}

func ServerChannelTypingWildcard(serverID string) string {
	return fmt.Sprintf("srv.%s.chan.*.typing", serverID)
}

func ServerPresence(serverID string) string {
	return fmt.Sprintf("srv.%s.presence", serverID)
}

func UserEvents(userID string) string {
	return fmt.Sprintf("user.%s.events", userID)
}

// Binding patterns covering everything a gateway instance may need to fan out.
const (
	AllServerEvents = "srv.#"
	AllUserEvents   = "user.#"
)

var channelScopedEvents = map[string]struct{}{
	models.EventMessageCreate: {},
	models.EventMessageUpdate: {},
	models.EventMessageDelete: {},
	models.EventChannelCreate: {},
	models.EventChannelDelete: {},
	models.EventChannelRename: {},
}

var presenceEvents = map[string]struct{}{
	models.EventPresenceUpdate: {},
}

// ResolveTopic maps an outbox event to exactly one topic. Precedence: channel
// scope, then presence, then server, then user, then the generic fallback.
func ResolveTopic(aggregateType, aggregateID, eventType string, meta models.EventMeta) string {
	if _, ok := channelScopedEvents[eventType]; ok && meta.ServerID != "" && meta.ChannelID != "" {
		return ChannelEvents(meta.ServerID, meta.ChannelID)
	}

	if _, ok := presenceEvents[eventType]; ok && meta.ServerID != "" {
		return ServerPresence(meta.ServerID)
	}

	if aggregateType == "server" && meta.ServerID != "" {
		return ServerEvents(meta.ServerID)
	}

	if aggregateType == "user" && meta.UserID != "" {
		return UserEvents(meta.UserID)
	}

	return fmt.Sprintf("%s.%s.%s", aggregateType, aggregateID, eventType)
}

// MatchTopic reports whether a concrete topic matches a binding pattern using
// AMQP topic semantics: "*" matches exactly one dot-separated segment, "#"
// matches zero or more trailing segments.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")

	for i, seg := range pp {
		if seg == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if seg != "*" && seg != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}
