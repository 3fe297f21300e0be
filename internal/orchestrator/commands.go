package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/usepotato/potato/internal/engine"
	"github.com/usepotato/potato/internal/updates"
)

// elementID accepts the instrumentation's ids as numbers or strings.
type elementID string

func (id *elementID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*id = elementID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("element id must be a number or string: %s", b)
	}
	*id = elementID(s)
	return nil
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type resizeData struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type clickData struct {
	ShinpadsID elementID `json:"shinpadsId"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
}

type inputData struct {
	ShinpadsID elementID `json:"shinpadsId"`
	Value      string    `json:"value"`
}

type keyData struct {
	Key string `json:"key"`
}

// CommandFromUpdate translates an operator update into an engine command.
func CommandFromUpdate(u updates.Update) (engine.Command, error) {
	invalid := func(err error) (engine.Command, error) {
		return engine.Command{}, fmt.Errorf("%w: %s: %v", ErrInvalidUpdate, u.Type, err)
	}

	switch u.Type {
	case updates.TypeResize:
		var d resizeData
		if err := u.Decode(&d); err != nil {
			return invalid(err)
		}
		w, h := int(math.Round(d.Width)), int(math.Round(d.Height))
		if w <= 0 || h <= 0 {
			return invalid(fmt.Errorf("viewport %dx%d", w, h))
		}
		return engine.Command{Kind: engine.CommandResize, Width: w, Height: h}, nil

	case updates.TypeClick:
		var d clickData
		if err := u.Decode(&d); err != nil {
			return invalid(err)
		}
		if d.ShinpadsID == "" {
			return invalid(errors.New("missing shinpadsId"))
		}
		return engine.Command{
			Kind:     engine.CommandClick,
			Selector: engine.ElementSelector(string(d.ShinpadsID)),
			X:        d.X,
			Y:        d.Y,
		}, nil

	case updates.TypeScroll, updates.TypeMouseMove:
		var d point
		if err := u.Decode(&d); err != nil {
			return invalid(err)
		}
		kind := engine.CommandScroll
		if u.Type == updates.TypeMouseMove {
			kind = engine.CommandMouseMove
		}
		return engine.Command{Kind: kind, X: d.X, Y: d.Y}, nil

	case updates.TypeReload:
		return engine.Command{Kind: engine.CommandReload}, nil
	case updates.TypeGoBack:
		return engine.Command{Kind: engine.CommandGoBack}, nil
	case updates.TypeGoForward:
		return engine.Command{Kind: engine.CommandGoForward}, nil

	case updates.TypeNavigate:
		var url string
		if err := u.Decode(&url); err != nil {
			return invalid(err)
		}
		if url == "" {
			return invalid(errors.New("empty url"))
		}
		return engine.Command{Kind: engine.CommandNavigate, URL: url}, nil

	case updates.TypeInput:
		var d inputData
		if err := u.Decode(&d); err != nil {
			return invalid(err)
		}
		if d.ShinpadsID == "" {
			return invalid(errors.New("missing shinpadsId"))
		}
		return engine.Command{
			Kind:     engine.CommandInput,
			Selector: engine.ElementSelector(string(d.ShinpadsID)),
			Value:    d.Value,
		}, nil

	case updates.TypeKeyDown:
		var d keyData
		if err := u.Decode(&d); err != nil {
			return invalid(err)
		}
		if d.Key == "" {
			return invalid(errors.New("empty key"))
		}
		return engine.Command{Kind: engine.CommandKeyDown, Key: d.Key}, nil
	}

	return engine.Command{}, fmt.Errorf("%w: %q", ErrUnknownUpdate, u.Type)
}

// ReceiveUpdate applies one operator update to the managed page. A failure
// affects only this update.
func (w *Worker) ReceiveUpdate(ctx context.Context, u updates.Update) error {
	log := w.log.WithField("type", u.Type)

	cmd, err := CommandFromUpdate(u)
	if err != nil {
		commandFailures.WithLabelValues(string(u.Type)).Inc()
		log.WithError(err).Warn("rejecting update")
		return err
	}

	page, err := w.currentPage(ctx)
	if err != nil {
		commandFailures.WithLabelValues(string(u.Type)).Inc()
		log.WithError(err).Warn("no page for update")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.CommandTimeout)
	defer cancel()

	if err := page.Apply(ctx, cmd); err != nil {
		commandFailures.WithLabelValues(string(u.Type)).Inc()
		log.WithError(err).Errorf("failed to apply %s", cmd)
		return fmt.Errorf("apply %s: %w", cmd.Kind, err)
	}
	if cmd.Kind == engine.CommandClick {
		log.Debugf("clicked on %.0f, %.0f", cmd.X, cmd.Y)
	}
	return nil
}
