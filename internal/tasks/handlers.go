package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/usepotato/potato/internal/orchestrator"
	"github.com/usepotato/potato/internal/webflow"
)

// Worker is the part of the orchestrator the task handlers drive.
type Worker interface {
	InitializeSession(ctx context.Context, sessionID string) (orchestrator.SessionInfo, error)
	EndSessionByID(ctx context.Context, sessionID string) error
	RunWebFlow(ctx context.Context, runID string, flow webflow.Flow) (webflow.Result, error)
}

type Handlers struct {
	worker Worker
	log    *logrus.Entry
}

func NewHandlers(w Worker) *Handlers {
	return &Handlers{
		worker: w,
		log:    logrus.WithField("component", "tasks"),
	}
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSessionInitialize, h.HandleSessionInitialize)
	mux.HandleFunc(TypeSessionEnd, h.HandleSessionEnd)
	mux.HandleFunc(TypeWebFlowRun, h.HandleWebFlowRun)
}

func (h *Handlers) HandleSessionInitialize(ctx context.Context, t *asynq.Task) error {
	var payload SessionInitializePayload
	if err := payload.Unmarshal(t.Payload()); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.log.WithField("session_id", payload.BrowserSessionID)
	log.Info("initializing session from task")

	info, err := h.worker.InitializeSession(ctx, payload.BrowserSessionID)
	if errors.Is(err, orchestrator.ErrInvalidSession) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}

	if rw := t.ResultWriter(); rw != nil {
		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal session info: %w", err)
		}
		if _, err := rw.Write(data); err != nil {
			log.WithError(err).Warn("failed to write task result")
		}
	}
	return nil
}

func (h *Handlers) HandleSessionEnd(ctx context.Context, t *asynq.Task) error {
	var payload SessionEndPayload
	if err := payload.Unmarshal(t.Payload()); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	err := h.worker.EndSessionByID(ctx, payload.BrowserSessionID)
	if errors.Is(err, orchestrator.ErrSessionMismatch) {
		h.log.WithField("session_id", payload.BrowserSessionID).Info("session already gone, nothing to end")
		return nil
	}
	return err
}

func (h *Handlers) HandleWebFlowRun(ctx context.Context, t *asynq.Task) error {
	var payload WebFlowRunPayload
	if err := payload.Unmarshal(t.Payload()); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	res, err := h.worker.RunWebFlow(ctx, payload.WebFlowRunID, payload.WebFlow)
	if err != nil {
		// web flows drive a live page; a retry would replay clicks
		return fmt.Errorf("web flow %s failed: %v: %w", payload.WebFlowRunID, err, asynq.SkipRetry)
	}

	if rw := t.ResultWriter(); rw != nil {
		data, _ := json.Marshal(res)
		if _, err := rw.Write(data); err != nil {
			h.log.WithError(err).Warn("failed to write task result")
		}
	}
	return nil
}

// NewServer builds an asynq server that consumes only queue, one task at a
// time.
func NewServer(redisURL, queue string, shutdownTimeout time.Duration) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:     1,
		Queues:          map[string]int{queue: 1},
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		ShutdownTimeout: shutdownTimeout,
		Logger:          logrus.WithField("component", "asynq"),
	}), nil
}
