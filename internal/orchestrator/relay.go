package orchestrator

import (
	"context"
	"fmt"

	"github.com/usepotato/potato/internal/updates"
)

const relayBuffer = 256

type relayItem struct {
	to     string
	update updates.Update
}

// SendUpdate emits a browser-update to the current subscriber.
func (w *Worker) SendUpdate(ctx context.Context, u updates.Update) error {
	return w.emit(ctx, EventBrowserUpdate, u, w.SubscriberID())
}

// SendServiceUpdate emits a browser-service-update to the current
// subscriber.
func (w *Worker) SendServiceUpdate(ctx context.Context, u updates.ServiceUpdate) error {
	return w.emit(ctx, EventBrowserServiceUpdate, u, w.SubscriberID())
}

func (w *Worker) emit(ctx context.Context, event string, payload any, to string) error {
	if to == "" {
		return nil
	}
	if err := w.pub.Emit(ctx, event, payload, to); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// onBridge receives page events. It never blocks the page: events are
// parsed, addressed to the subscriber of the moment and queued in order.
func (w *Worker) onBridge(payload string) {
	u, err := updates.ParseBridgePayload(payload)
	if err != nil {
		bridgeDropped.WithLabelValues("malformed").Inc()
		w.log.WithError(err).Warnf("dropping page event: %.200q", payload)
		return
	}

	to := w.SubscriberID()
	if to == "" {
		return
	}

	select {
	case w.relay <- relayItem{to: to, update: u}:
	default:
		bridgeDropped.WithLabelValues("overflow").Inc()
		w.log.WithField("type", u.Type).Warn("relay queue full, dropping page event")
	}
}

func (w *Worker) runRelay() {
	defer close(w.relayDone)
	for {
		select {
		case item := <-w.relay:
			w.deliver(item)
		case <-w.relayQuit:
			for {
				select {
				case item := <-w.relay:
					w.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) deliver(item relayItem) {
	ctx, cancel := w.hookContext()
	defer cancel()
	if err := w.emit(ctx, EventBrowserUpdate, item.update, item.to); err != nil {
		w.log.WithError(err).WithField("subscriber_id", item.to).Warn("failed to relay page event")
	}
}

func loadingUpdate(loading bool) updates.Update {
	u, _ := updates.New(updates.TypeLoading, updates.Loading{Loading: loading})
	return u
}
