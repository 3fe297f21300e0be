// Package tasks carries session and web flow requests from an external
// scheduler to a worker over its own asynq queue.
package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/usepotato/potato/internal/webflow"
)

// Task type names
const (
	TypeSessionInitialize = "session:initialize"
	TypeSessionEnd        = "session:end"
	TypeWebFlowRun        = "webflow:run"
)

// SessionInitializePayload is the payload for session initialize tasks
type SessionInitializePayload struct {
	BrowserSessionID string `json:"browser_session_id"`
}

func (p *SessionInitializePayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *SessionInitializePayload) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewSessionInitializeTask creates a task that claims the worker for a
// session.
func NewSessionInitializeTask(payload SessionInitializePayload) (*asynq.Task, error) {
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeSessionInitialize, data), nil
}

// SessionEndPayload is the payload for session end tasks
type SessionEndPayload struct {
	BrowserSessionID string `json:"browser_session_id"`
}

func (p *SessionEndPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *SessionEndPayload) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}

func NewSessionEndTask(payload SessionEndPayload) (*asynq.Task, error) {
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeSessionEnd, data), nil
}

// WebFlowRunPayload is the payload for web flow tasks
type WebFlowRunPayload struct {
	WebFlowRunID string       `json:"web_flow_run_id"`
	WebFlow      webflow.Flow `json:"web_flow"`
}

func (p *WebFlowRunPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *WebFlowRunPayload) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}

func NewWebFlowRunTask(payload WebFlowRunPayload) (*asynq.Task, error) {
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeWebFlowRun, data), nil
}

// QueueFor returns the queue a worker consumes. Each worker has its own so
// a task always reaches the browser it was scheduled for.
func QueueFor(workerID string) string {
	return "worker:" + workerID
}
