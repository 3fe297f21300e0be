// Package updates defines the envelopes exchanged with the operator over the
// real-time channel.
package updates

import (
	"encoding/json"
	"time"
)

type UpdateType string

const (
	// Outbound, page originated.
	TypeDOM         UpdateType = "dom"
	TypePage        UpdateType = "page"
	TypePage2       UpdateType = "page2"
	TypeConsole     UpdateType = "console"
	TypeNetwork     UpdateType = "network"
	TypeMutation    UpdateType = "mutation"
	TypeLoading     UpdateType = "loading"
	TypeAddStyle    UpdateType = "add-style"
	TypeRemoveStyle UpdateType = "remove-style"

	// Inbound, operator originated.
	TypeResize    UpdateType = "resize"
	TypeClick     UpdateType = "click"
	TypeScroll    UpdateType = "scroll"
	TypeReload    UpdateType = "reload"
	TypeNavigate  UpdateType = "navigate"
	TypeGoBack    UpdateType = "go-back"
	TypeGoForward UpdateType = "go-forward"
	TypeMouseMove UpdateType = "mousemove"
	TypeInput     UpdateType = "input"
	TypeKeyDown   UpdateType = "keydown"
)

func (t UpdateType) Valid() bool {
	switch t {
	case TypeDOM, TypePage, TypePage2, TypeConsole, TypeNetwork, TypeMutation,
		TypeLoading, TypeAddStyle, TypeRemoveStyle,
		TypeResize, TypeClick, TypeScroll, TypeReload, TypeNavigate,
		TypeGoBack, TypeGoForward, TypeMouseMove, TypeInput, TypeKeyDown:
		return true
	}
	return false
}

type ServiceUpdateType string

const (
	ServiceWebFlowStarted      ServiceUpdateType = "web-flow-started"
	ServiceWebFlowCompleted    ServiceUpdateType = "web-flow-completed"
	ServiceWebFlowFailed       ServiceUpdateType = "web-flow-failed"
	ServiceBrowserSessionEnded ServiceUpdateType = "browser-session-ended"
)

func (t ServiceUpdateType) Valid() bool {
	switch t {
	case ServiceWebFlowStarted, ServiceWebFlowCompleted, ServiceWebFlowFailed, ServiceBrowserSessionEnded:
		return true
	}
	return false
}

// Update is a page or operator event. Data holds a string, object, array,
// boolean or nothing.
type Update struct {
	Type UpdateType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ServiceUpdate struct {
	Type ServiceUpdateType `json:"type"`
	Data json.RawMessage   `json:"data,omitempty"`
}

// New builds an Update with data marshalled to JSON. A nil data leaves the
// field absent.
func New(t UpdateType, data any) (Update, error) {
	raw, err := encode(data)
	if err != nil {
		return Update{}, err
	}
	return Update{Type: t, Data: raw}, nil
}

func NewService(t ServiceUpdateType, data any) (ServiceUpdate, error) {
	raw, err := encode(data)
	if err != nil {
		return ServiceUpdate{}, err
	}
	return ServiceUpdate{Type: t, Data: raw}, nil
}

func encode(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(data)
}

// Decode unmarshals Data into v. Absent data is reported as ErrMissingData.
func (u Update) Decode(v any) error {
	if len(u.Data) == 0 || string(u.Data) == "null" {
		return ErrMissingData
	}
	return json.Unmarshal(u.Data, v)
}

// Service update payloads.

type WebFlowStarted struct {
	WebFlowRunID     string    `json:"web_flow_run_id"`
	BrowserSessionID string    `json:"browser_session_id"`
	Timestamp        time.Time `json:"timestamp"`
}

type WebFlowCompleted struct {
	WebFlowRunID     string          `json:"web_flow_run_id"`
	BrowserSessionID string          `json:"browser_session_id"`
	Timestamp        time.Time       `json:"timestamp"`
	Response         json.RawMessage `json:"response"`
}

type WebFlowFailed struct {
	WebFlowRunID     string    `json:"web_flow_run_id"`
	BrowserSessionID string    `json:"browser_session_id"`
	Timestamp        time.Time `json:"timestamp"`
	ActionID         string    `json:"action_id,omitempty"`
	Error            string    `json:"error"`
}

type SessionEnded struct {
	BrowserSessionID string    `json:"browser_session_id"`
	Timestamp        time.Time `json:"timestamp"`
	Reason           string    `json:"reason,omitempty"`
}

type Loading struct {
	Loading bool `json:"loading"`
}
