package events

import (
	"time"
)

type EventType string

const (
	EventTargetCreated  EventType = "target.created"
	EventFrameNavigated EventType = "frame.navigated"
	EventResponse       EventType = "network.response"
	EventDisconnected   EventType = "browser.disconnected"

	EventAll EventType = "*"
)

// Event is a normalized browser engine event. Only the fields relevant to
// Type are populated.
type Event struct {
	Type EventType `json:"type"`

	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`

	FrameID   string `json:"frame_id,omitempty"`
	MainFrame bool   `json:"main_frame,omitempty"`

	URL         string `json:"url,omitempty"`
	Body        []byte `json:"-"`
	ContentType string `json:"content_type,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

type EventHandler func(Event)
