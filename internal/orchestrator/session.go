package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/usepotato/potato/internal/updates"
)

const (
	ReasonEnded        = "ended"
	ReasonIdle         = "idle"
	ReasonDisconnected = "disconnected"
	ReasonShutdown     = "shutdown"
)

type SessionState int

const (
	SessionIdle SessionState = iota
	SessionUnattached
	SessionAttached
)

func (s SessionState) String() string {
	switch s {
	case SessionUnattached:
		return "active_unattached"
	case SessionAttached:
		return "active_attached"
	}
	return "idle"
}

type SessionInfo struct {
	BrowserSessionID string    `json:"browser_session_id"`
	BaseURL          string    `json:"base_url"`
	Timestamp        time.Time `json:"timestamp"`
}

type Status struct {
	WorkerID     string `json:"worker_id"`
	BaseURL      string `json:"base_url"`
	Connected    bool   `json:"connected"`
	SessionID    string `json:"browser_session_id,omitempty"`
	SubscriberID string `json:"subscriber_id,omitempty"`
	State        string `json:"state"`
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		WorkerID:     w.opts.WorkerID,
		BaseURL:      w.opts.BaseURL,
		Connected:    w.connected,
		SessionID:    w.sessionID,
		SubscriberID: w.subscriberID,
		State:        w.stateLocked().String(),
	}
}

func (w *Worker) State() SessionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *Worker) stateLocked() SessionState {
	switch {
	case w.sessionID == "":
		return SessionIdle
	case w.subscriberID == "":
		return SessionUnattached
	}
	return SessionAttached
}

func (w *Worker) updateStateGauge() {
	sessionState.Set(float64(w.State()))
}

func (w *Worker) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

func (w *Worker) SubscriberID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subscriberID
}

// SessionActive reports whether id is the session running on an attached
// browser.
func (w *Worker) SessionActive(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected && id != "" && w.sessionID == id
}

// InitializeSession claims the worker for sessionID and resets the browser
// to a single blank page. A subscriber left over from an earlier session is
// disconnected.
func (w *Worker) InitializeSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	if sessionID == "" {
		return SessionInfo{}, ErrInvalidSession
	}

	w.transition.Lock()
	defer w.transition.Unlock()

	w.mu.Lock()
	att := w.current
	w.mu.Unlock()
	if att == nil {
		return SessionInfo{}, ErrNotConnected
	}

	log := w.log.WithField("session_id", sessionID)
	if err := w.registry.MarkBusy(ctx, w.opts.WorkerID, w.opts.BaseURL); err != nil {
		log.WithError(err).Error("failed to mark worker busy")
	}

	w.mu.Lock()
	previous := w.subscriberID
	w.sessionID = sessionID
	w.subscriberID = ""
	w.lastSubscriberID = ""
	w.detachedAt = time.Time{}
	w.mu.Unlock()
	sessionsStarted.Inc()
	w.updateStateGauge()

	if previous != "" {
		if err := w.pub.Disconnect(ctx, previous); err != nil {
			log.WithError(err).WithField("subscriber_id", previous).Warn("failed to disconnect previous subscriber")
		}
	}

	log.Info("initializing browser session")

	if err := w.resetPages(ctx, att.browser, false); err != nil {
		log.WithError(err).Error("failed to reset browser for session")
		return SessionInfo{}, err
	}

	return SessionInfo{
		BrowserSessionID: sessionID,
		BaseURL:          w.opts.BaseURL,
		Timestamp:        w.opts.Now(),
	}, nil
}

// Subscribe makes id the subscriber and pushes the full page content to it.
func (w *Worker) Subscribe(ctx context.Context, id string) error {
	w.mu.Lock()
	w.subscriberID = id
	w.detachedAt = time.Time{}
	session := w.sessionID
	w.mu.Unlock()
	w.updateStateGauge()

	log := w.log.WithField("subscriber_id", id)
	if session == "" {
		log.Warn("subscriber attached without a session")
	} else {
		log.WithField("session_id", session).Info("subscriber attached")
	}

	if err := w.sendPageContent(ctx); err != nil {
		log.WithError(err).Error("failed to send page content")
		return err
	}
	return nil
}

// Unsubscribe detaches id if it is the current subscriber and starts the
// idle clock. It reports whether anything changed.
func (w *Worker) Unsubscribe(id string) bool {
	w.mu.Lock()
	if id == "" || w.subscriberID != id {
		w.mu.Unlock()
		return false
	}
	w.subscriberID = ""
	w.lastSubscriberID = id
	w.detachedAt = w.opts.Now()
	w.mu.Unlock()
	w.updateStateGauge()

	w.log.WithField("subscriber_id", id).Info("subscriber detached")
	return true
}

// EndSession tears down the current session, if any, and returns the
// worker to available when a browser is attached. The end notice goes to
// the attached subscriber, or to the last one that detached.
func (w *Worker) EndSession(ctx context.Context, reason string) error {
	w.transition.Lock()
	defer w.transition.Unlock()
	return w.endSession(ctx, reason)
}

// endSession requires w.transition.
func (w *Worker) endSession(ctx context.Context, reason string) error {
	w.mu.Lock()
	session := w.sessionID
	subscriber := w.subscriberID
	notify := subscriber
	if notify == "" {
		notify = w.lastSubscriberID
	}
	att := w.current
	connected := w.connected
	w.sessionID = ""
	w.lastSubscriberID = ""
	w.detachedAt = time.Time{}
	w.mu.Unlock()

	log := w.log.WithField("session_id", session).WithField("reason", reason)
	log.Info("ending session")

	if session != "" {
		ended, err := updates.NewService(updates.ServiceBrowserSessionEnded, updates.SessionEnded{
			BrowserSessionID: session,
			Timestamp:        w.opts.Now(),
			Reason:           reason,
		})
		if err == nil {
			err = w.emit(ctx, EventBrowserServiceUpdate, ended, notify)
		}
		if err != nil {
			log.WithError(err).Warn("failed to send session ended update")
		}
		sessionsEnded.WithLabelValues(reason).Inc()
	}

	var result error
	if connected && att != nil {
		if err := w.closePages(ctx, att.browser); err != nil {
			log.WithError(err).Warn("failed to clean up pages")
			result = err
		}
		if err := w.registry.MarkAvailable(ctx, w.opts.WorkerID, w.opts.BaseURL); err != nil {
			log.WithError(err).Error("failed to mark worker available")
		}
	}

	if subscriber != "" {
		if err := w.pub.Disconnect(ctx, subscriber); err != nil {
			log.WithError(err).WithField("subscriber_id", subscriber).Warn("failed to disconnect subscriber")
		}
		w.mu.Lock()
		if w.subscriberID == subscriber {
			w.subscriberID = ""
		}
		w.mu.Unlock()
	}

	w.updateStateGauge()
	return result
}

// EndSessionByID ends the session only when id is the one running here.
func (w *Worker) EndSessionByID(ctx context.Context, id string) error {
	w.transition.Lock()
	defer w.transition.Unlock()

	if w.SessionID() != id || id == "" {
		return fmt.Errorf("%w: %s", ErrSessionMismatch, id)
	}
	return w.endSession(ctx, ReasonEnded)
}

// endIdleSession ends the session if its subscriber has been gone longer
// than the idle timeout. It reports whether the session was ended.
func (w *Worker) endIdleSession(ctx context.Context) (bool, error) {
	w.transition.Lock()
	defer w.transition.Unlock()

	w.mu.Lock()
	expired := w.idleExpiredLocked()
	w.mu.Unlock()
	if !expired {
		return false, nil
	}
	return true, w.endSession(ctx, ReasonIdle)
}

func (w *Worker) idleExpiredLocked() bool {
	return w.sessionID != "" && w.subscriberID == "" &&
		!w.detachedAt.IsZero() && w.opts.Now().Sub(w.detachedAt) > w.opts.IdleTimeout
}

func (w *Worker) sendPageContent(ctx context.Context) error {
	page, err := w.currentPage(ctx)
	if err != nil {
		return err
	}
	if err := page.WaitElement(ctx, "body"); err != nil {
		return err
	}
	if _, err := page.Evaluate(ctx, `() => window.sendPageContent()`); err != nil {
		return fmt.Errorf("send page content: %w", err)
	}
	return nil
}
