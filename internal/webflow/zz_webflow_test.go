package webflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usepotato/potato/internal/engine"
	"github.com/usepotato/potato/internal/engine/enginetest"
	"github.com/usepotato/potato/internal/events"
)

type staticResolver map[string][]string

func (s staticResolver) Resolve(ctx context.Context, page engine.Page, action Action) ([]string, error) {
	ids, ok := s[action.ID]
	if !ok {
		return nil, errors.New("resolver exploded")
	}
	return ids, nil
}

func setupPage(t *testing.T, script func(p *enginetest.Page, fn string, args []any) (json.RawMessage, error)) *enginetest.Page {
	t.Helper()
	eng := enginetest.New()
	eng.Script = script
	b, err := eng.Connect(context.Background(), "ws://fake", events.NewDispatcher(nil))
	require.NoError(t, err)
	p, err := b.NewPage(context.Background(), "")
	require.NoError(t, err)
	return p.(*enginetest.Page)
}

func newTestRunner(r Resolver) *Runner {
	runner := NewRunner(r)
	runner.ClickDelay = 0
	return runner
}

func TestRunner_ClicksInOrder(t *testing.T) {
	page := setupPage(t, nil)
	runner := newTestRunner(staticResolver{"a1": {"3", "4"}, "a2": {"9"}})

	flow := Flow{
		ID:       "flow-1",
		StartURL: "https://shop.example.com",
		Actions: []Action{
			{ID: "a1", Parameter: Parameter{Type: ActionClick}},
			{ID: "a2", Parameter: Parameter{Type: ActionClick}},
		},
	}

	res, err := runner.Run(context.Background(), page, flow)
	require.NoError(t, err)
	assert.Equal(t, Result{ActionsRun: 2, Clicked: 3}, res)

	assert.Equal(t, []string{"https://shop.example.com"}, page.Navigations())
	cmds := page.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, `[shinpads-id="3"]`, cmds[0].Selector)
	assert.Equal(t, `[shinpads-id="4"]`, cmds[1].Selector)
	assert.Equal(t, `[shinpads-id="9"]`, cmds[2].Selector)
}

func TestRunner_AbortsOnFirstFailure(t *testing.T) {
	page := setupPage(t, nil)
	runner := newTestRunner(staticResolver{"a1": {"1"}, "a3": {"2"}})

	flow := Flow{
		ID:       "flow-2",
		StartURL: "https://example.com",
		Actions: []Action{
			{ID: "a1", Parameter: Parameter{Type: ActionClick}},
			{ID: "a2", Parameter: Parameter{Type: ActionClick}},
			{ID: "a3", Parameter: Parameter{Type: ActionClick}},
		},
	}

	res, err := runner.Run(context.Background(), page, flow)
	var aerr *ActionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "a2", aerr.ActionID)
	assert.Equal(t, 1, res.ActionsRun)
	assert.Len(t, page.Commands(), 1)
}

func TestRunner_NoElements(t *testing.T) {
	page := setupPage(t, nil)
	runner := newTestRunner(staticResolver{"a1": {}})

	_, err := runner.Run(context.Background(), page, Flow{
		StartURL: "https://example.com",
		Actions:  []Action{{ID: "a1", Parameter: Parameter{Type: ActionClick}}},
	})
	assert.ErrorIs(t, err, ErrNoElements)
}

func TestRunner_ClickFailure(t *testing.T) {
	page := setupPage(t, nil)
	page.FailApply(engine.ErrElementNotFound)
	runner := newTestRunner(staticResolver{"a1": {"1"}})

	_, err := runner.Run(context.Background(), page, Flow{
		StartURL: "https://example.com",
		Actions:  []Action{{ID: "a1", Parameter: Parameter{Type: ActionClick}}},
	})
	assert.ErrorIs(t, err, engine.ErrElementNotFound)
}

func TestRunner_InputAndUnsupported(t *testing.T) {
	page := setupPage(t, nil)
	runner := newTestRunner(staticResolver{"in": {"5"}})

	res, err := runner.Run(context.Background(), page, Flow{
		StartURL: "https://example.com",
		Actions: []Action{
			{ID: "in", Parameter: Parameter{Type: ActionInput, Value: "hello"}},
			{ID: "hover", Parameter: Parameter{Type: "hover"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ActionsRun)
	assert.Equal(t, 0, res.Clicked)

	cmds := page.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, engine.CommandInput, cmds[0].Kind)
	assert.Equal(t, "hello", cmds[0].Value)
}

func TestRunner_InvalidFlow(t *testing.T) {
	page := setupPage(t, nil)
	_, err := newTestRunner(nil).Run(context.Background(), page, Flow{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidFlow)
	assert.Empty(t, page.Navigations())
}

func TestRunner_ContextCancelled(t *testing.T) {
	page := setupPage(t, nil)
	runner := NewRunner(staticResolver{"a1": {"1", "2"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx, page, Flow{
		StartURL: "https://example.com",
		Actions:  []Action{{ID: "a1", Parameter: Parameter{Type: ActionClick}}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScriptResolver(t *testing.T) {
	page := setupPage(t, func(p *enginetest.Page, fn string, args []any) (json.RawMessage, error) {
		require.Len(t, args, 1)
		action := args[0].(Action)
		switch action.ID {
		case "numbers":
			return json.RawMessage(`[1, 2]`), nil
		case "strings":
			return json.RawMessage(`["7", "8"]`), nil
		case "names":
			return json.RawMessage(`["a", "b"]`), nil
		}
		return json.RawMessage(`null`), nil
	})

	var r ScriptResolver
	ids, err := r.Resolve(context.Background(), page, Action{ID: "numbers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	ids, err = r.Resolve(context.Background(), page, Action{ID: "strings"})
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8"}, ids)

	ids, err = r.Resolve(context.Background(), page, Action{ID: "names"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = r.Resolve(context.Background(), page, Action{ID: "none"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	evals := page.Evaluations()
	require.NotEmpty(t, evals)
	assert.Equal(t, resolveScript, evals[0].Fn)
}

func TestFlowDecoding(t *testing.T) {
	var f Flow
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "wf",
		"start_url": "https://example.com",
		"actions": [{"id": "a", "parameter": {"type": "click"}, "element": {"tagName": "BUTTON"}}]
	}`), &f))
	assert.Equal(t, "https://example.com", f.StartURL)
	require.Len(t, f.Actions, 1)
	assert.Equal(t, ActionClick, f.Actions[0].Parameter.Type)
	assert.JSONEq(t, `{"tagName":"BUTTON"}`, string(f.Actions[0].Element))
}
