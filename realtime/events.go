// Package realtime fans chat events out to dashboard and widget websocket subscribers.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
)

type EventType string

const (
	EventNewMessage     EventType = "NEW_MESSAGE"
	EventSessionCreated EventType = "SESSION_CREATED"
	EventSessionUpdated EventType = "SESSION_UPDATED"
	EventAgentJoined    EventType = "AGENT_JOINED"
	EventChatEnded      EventType = "CHAT_ENDED"
	EventSessionSummary EventType = "SESSION_SUMMARY"
)

// ChannelDashboard reaches every dashboard connection owning the event's project.
const ChannelDashboard = "dashboard"

// WidgetChannel is the channel of the single visitor connection for a session.
func WidgetChannel(sessionID string) string {
	return "widget:" + sessionID
}

type Event struct {
	Type      EventType       `json:"type"`
	Channel   string          `json:"channel"`
	ProjectID uint64          `json:"projectId"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent encodes payload for delivery on channel.
func NewEvent(eventType EventType, channel string, projectID uint64, sessionID string, payload any) Event {
	event := Event{
		Type:      eventType,
		Channel:   channel,
		ProjectID: projectID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Warn("realtime: encode event payload", "type", eventType, "err", err)
		} else {
			event.Payload = raw
		}
	}
	return event
}

// Broadcaster publishes events; implementations never block the caller on slow subscribers.
type Broadcaster interface {
	Publish(event Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
