package orchestrator

import (
	"context"
	"errors"

	"github.com/usepotato/potato/internal/updates"
	"github.com/usepotato/potato/internal/webflow"
)

// RunWebFlow executes flow on the managed page and reports its progress to
// the subscriber as service updates.
func (w *Worker) RunWebFlow(ctx context.Context, runID string, flow webflow.Flow) (webflow.Result, error) {
	session := w.SessionID()
	log := w.log.WithField("web_flow_run_id", runID).WithField("session_id", session)

	w.sendService(ctx, updates.ServiceWebFlowStarted, updates.WebFlowStarted{
		WebFlowRunID:     runID,
		BrowserSessionID: session,
		Timestamp:        w.opts.Now(),
	})

	page, err := w.currentPage(ctx)
	var res webflow.Result
	if err == nil {
		res, err = w.opts.Runner.Run(ctx, page, flow)
	}

	if err != nil {
		log.WithError(err).Error("web flow failed")
		failed := updates.WebFlowFailed{
			WebFlowRunID:     runID,
			BrowserSessionID: session,
			Timestamp:        w.opts.Now(),
			Error:            err.Error(),
		}
		var ae *webflow.ActionError
		if errors.As(err, &ae) {
			failed.ActionID = ae.ActionID
		}
		w.sendService(ctx, updates.ServiceWebFlowFailed, failed)
		return res, err
	}

	w.sendService(ctx, updates.ServiceWebFlowCompleted, updates.WebFlowCompleted{
		WebFlowRunID:     runID,
		BrowserSessionID: session,
		Timestamp:        w.opts.Now(),
	})
	log.WithField("actions_run", res.ActionsRun).Info("web flow completed")
	return res, nil
}

func (w *Worker) sendService(ctx context.Context, t updates.ServiceUpdateType, data any) {
	u, err := updates.NewService(t, data)
	if err == nil {
		err = w.SendServiceUpdate(ctx, u)
	}
	if err != nil {
		w.log.WithError(err).WithField("type", t).Warn("failed to send service update")
	}
}
