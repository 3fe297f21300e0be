package api

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/usepotato/potato/internal/orchestrator"
	"github.com/usepotato/potato/internal/transport"
	"github.com/usepotato/potato/internal/updates"
)

// SocketHandler binds operator connections to the worker: a connection is
// the subscriber, its browser-update frames are commands.
type SocketHandler struct {
	worker Worker
	log    *logrus.Entry
}

var _ transport.Handler = (*SocketHandler)(nil)

func NewSocketHandler(w Worker) *SocketHandler {
	return &SocketHandler{worker: w, log: logrus.WithField("component", "socket")}
}

func (s *SocketHandler) OnConnect(ctx context.Context, id string) {
	if err := s.worker.Subscribe(ctx, id); err != nil {
		s.log.WithError(err).WithField("subscriber_id", id).Warn("subscribe failed")
	}
}

func (s *SocketHandler) OnMessage(ctx context.Context, id string, event string, data json.RawMessage) {
	log := s.log.WithField("subscriber_id", id)
	if event != orchestrator.EventBrowserUpdate {
		log.WithField("event", event).Debug("ignoring event")
		return
	}

	u, err := updates.ParseUpdate(data)
	if err != nil {
		log.WithError(err).Warn("ignoring malformed browser update")
		return
	}
	// errors are logged by the worker and never affect later updates
	_ = s.worker.ReceiveUpdate(ctx, u)
}

func (s *SocketHandler) OnDisconnect(ctx context.Context, id string) {
	s.worker.Unsubscribe(id)
}
