// Package webflow runs recorded action sequences against a page.
package webflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/usepotato/potato/internal/engine"
)

var (
	ErrInvalidFlow = errors.New("invalid web flow")
	ErrNoElements  = errors.New("action matched no elements")
)

type ActionType string

const (
	ActionClick ActionType = "click"
	ActionInput ActionType = "input"
)

type Flow struct {
	ID       string   `json:"id"`
	StartURL string   `json:"start_url"`
	Actions  []Action `json:"actions"`
}

func (f Flow) Validate() error {
	if f.StartURL == "" {
		return fmt.Errorf("%w: start_url is required", ErrInvalidFlow)
	}
	for i, a := range f.Actions {
		if a.Parameter.Type == "" {
			return fmt.Errorf("%w: action %d has no type", ErrInvalidFlow, i)
		}
	}
	return nil
}

type Parameter struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value,omitempty"`
}

// Action targets elements either by CSS selector or by the element
// description captured when the flow was recorded.
type Action struct {
	ID        string          `json:"id"`
	Parameter Parameter       `json:"parameter"`
	Selector  string          `json:"selector,omitempty"`
	Element   json.RawMessage `json:"element,omitempty"`
}

// ActionError reports the action a flow stopped at.
type ActionError struct {
	ActionID string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s: %v", e.ActionID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Resolver maps an action to the shinpads ids of the elements it targets.
type Resolver interface {
	Resolve(ctx context.Context, page engine.Page, action Action) ([]string, error)
}

const resolveScript = `(action) => window.getElementsFromAction(action)`

// ScriptResolver asks the page helper script to find the elements.
type ScriptResolver struct{}

func (ScriptResolver) Resolve(ctx context.Context, page engine.Page, action Action) ([]string, error) {
	raw, err := page.Evaluate(ctx, resolveScript, action)
	if err != nil {
		return nil, fmt.Errorf("resolve elements: %w", err)
	}

	var ids []json.Number
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		var strs []string
		if serr := json.Unmarshal(raw, &strs); serr != nil {
			return nil, fmt.Errorf("decode element ids: %w", err)
		}
		return strs, nil
	}

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out, nil
}

type Result struct {
	ActionsRun int `json:"actions_run"`
	Clicked    int `json:"clicked"`
}

type Runner struct {
	Resolver   Resolver
	ClickDelay time.Duration

	log *logrus.Entry
}

func NewRunner(resolver Resolver) *Runner {
	if resolver == nil {
		resolver = ScriptResolver{}
	}
	return &Runner{
		Resolver:   resolver,
		ClickDelay: 500 * time.Millisecond,
		log:        logrus.WithField("component", "webflow"),
	}
}

// Run loads the flow's start page and applies its actions in order,
// stopping at the first one that fails.
func (r *Runner) Run(ctx context.Context, page engine.Page, flow Flow) (Result, error) {
	var res Result
	if err := flow.Validate(); err != nil {
		return res, err
	}

	log := r.log.WithField("web_flow_id", flow.ID)
	log.Info("processing web flow")

	if err := page.NavigateIdle(ctx, flow.StartURL); err != nil {
		return res, fmt.Errorf("load start url: %w", err)
	}

	for _, action := range flow.Actions {
		log.WithField("action_id", action.ID).Info("processing action")

		switch action.Parameter.Type {
		case ActionClick, ActionInput:
			n, err := r.apply(ctx, page, action)
			res.Clicked += n
			if err != nil {
				return res, &ActionError{ActionID: action.ID, Err: err}
			}
		default:
			log.WithField("action_type", action.Parameter.Type).Warn("skipping unsupported action")
		}
		res.ActionsRun++
	}

	log.Info("completed web flow")
	return res, nil
}

func (r *Runner) apply(ctx context.Context, page engine.Page, action Action) (int, error) {
	ids, err := r.Resolver.Resolve(ctx, page, action)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrNoElements
	}

	clicked := 0
	for _, id := range ids {
		cmd := engine.Command{Kind: engine.CommandClick, Selector: engine.ElementSelector(id)}
		if action.Parameter.Type == ActionInput {
			cmd = engine.Command{Kind: engine.CommandInput, Selector: engine.ElementSelector(id), Value: action.Parameter.Value}
		}

		r.log.WithField("element", id).Debugf("applying %s", cmd)
		if err := page.Apply(ctx, cmd); err != nil {
			return clicked, err
		}
		if cmd.Kind == engine.CommandClick {
			clicked++
		}

		if err := sleep(ctx, r.ClickDelay); err != nil {
			return clicked, err
		}
	}
	return clicked, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
