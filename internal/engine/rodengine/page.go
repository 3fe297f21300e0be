package rodengine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/usepotato/potato/internal/engine"
	"github.com/usepotato/potato/internal/events"
)

const scrollScript = `(x, y) => window.scrollTo(x, y)`

const inputScript = `(selector, value) => {
	const element = document.querySelector(selector);
	if (!element) throw new Error('no element matches ' + selector);
	element.value = value;
	element.dispatchEvent(new Event('input', { bubbles: true }));
}`

type page struct {
	b *browser
	p *rod.Page
}

func (pg *page) TargetID() string {
	return string(pg.p.TargetID)
}

func (pg *page) URL(ctx context.Context) (string, error) {
	info, err := pg.p.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (pg *page) Navigate(ctx context.Context, url string) error {
	p := pg.p.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (pg *page) NavigateIdle(ctx context.Context, url string) error {
	p := pg.p.Context(ctx)
	wait := p.WaitRequestIdle(pg.b.idle, nil, nil, nil)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()
	return ctx.Err()
}

func (pg *page) WaitElement(ctx context.Context, selector string) error {
	if _, err := pg.p.Context(ctx).Element(selector); err != nil {
		return fmt.Errorf("%w: %s: %v", engine.ErrElementNotFound, selector, err)
	}
	return nil
}

func (pg *page) Evaluate(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	res, err := pg.p.Context(ctx).Evaluate(rod.Eval(fn, args...).ByPromise())
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return json.RawMessage(res.Value.JSON("", "")), nil
}

func (pg *page) Expose(ctx context.Context, name string, fn func(payload string)) error {
	key := pg.TargetID() + "/" + name

	pg.b.mu.Lock()
	if pg.b.exposed[key] {
		pg.b.mu.Unlock()
		return nil
	}
	pg.b.exposed[key] = true
	pg.b.mu.Unlock()

	// bound to the page's own context; the binding listener must outlive ctx
	_, err := pg.p.Expose(name, func(arg gson.JSON) (interface{}, error) {
		if s, ok := arg.Val().(string); ok {
			fn(s)
		} else {
			fn(arg.JSON("", ""))
		}
		return nil, nil
	})
	if err != nil {
		pg.b.mu.Lock()
		delete(pg.b.exposed, key)
		pg.b.mu.Unlock()
		return fmt.Errorf("expose %s: %w", name, err)
	}
	return nil
}

func (pg *page) Apply(ctx context.Context, cmd engine.Command) error {
	p := pg.p.Context(ctx)

	switch cmd.Kind {
	case engine.CommandResize:
		return p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cmd.Width,
			Height:            cmd.Height,
			DeviceScaleFactor: 1,
		})
	case engine.CommandClick:
		el, err := p.Element(cmd.Selector)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", engine.ErrElementNotFound, cmd.Selector, err)
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	case engine.CommandScroll:
		_, err := p.Evaluate(rod.Eval(scrollScript, cmd.X, cmd.Y))
		return err
	case engine.CommandReload:
		return p.Reload()
	case engine.CommandNavigate:
		return p.Navigate(cmd.URL)
	case engine.CommandGoBack:
		return p.NavigateBack()
	case engine.CommandGoForward:
		return p.NavigateForward()
	case engine.CommandMouseMove:
		return p.Mouse.MoveTo(proto.NewPoint(cmd.X, cmd.Y))
	case engine.CommandInput:
		_, err := p.Evaluate(rod.Eval(inputScript, cmd.Selector, cmd.Value))
		return err
	case engine.CommandKeyDown:
		return pressKey(p, cmd.Key)
	}
	return fmt.Errorf("%w: %s", engine.ErrUnknownCommand, cmd.Kind)
}

func pressKey(p *rod.Page, key string) error {
	down := proto.InputDispatchKeyEvent{Type: proto.InputDispatchKeyEventTypeKeyDown, Key: key}
	switch {
	case utf8.RuneCountInString(key) == 1:
		down.Text = key
	case key == "Enter":
		down.Text = "\r"
	}
	if err := down.Call(p); err != nil {
		return fmt.Errorf("key down %s: %w", key, err)
	}
	up := proto.InputDispatchKeyEvent{Type: proto.InputDispatchKeyEventTypeKeyUp, Key: key}
	if err := up.Call(p); err != nil {
		return fmt.Errorf("key up %s: %w", key, err)
	}
	return nil
}

func (pg *page) ClearBrowserData(ctx context.Context) error {
	p := pg.p.Context(ctx)
	if err := (proto.NetworkClearBrowserCache{}).Call(p); err != nil {
		return fmt.Errorf("clear browser cache: %w", err)
	}
	if err := (proto.NetworkClearBrowserCookies{}).Call(p); err != nil {
		return fmt.Errorf("clear browser cookies: %w", err)
	}
	return nil
}

func (pg *page) Close(ctx context.Context) error {
	return pg.p.Context(ctx).Close()
}

// watch streams navigation and response events of p to the dispatcher.
func (b *browser) watch(p *rod.Page) {
	b.mu.Lock()
	if b.watched[p.TargetID] {
		b.mu.Unlock()
		return
	}
	b.watched[p.TargetID] = true
	b.mu.Unlock()

	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		b.log.WithError(err).Debug("network enable failed")
	}
	if err := (proto.PageEnable{}).Call(p); err != nil {
		b.log.WithError(err).Debug("page enable failed")
	}

	target := string(p.TargetID)
	pending := make(map[proto.NetworkRequestID]*proto.NetworkResponse)

	wait := p.EachEvent(
		func(e *proto.PageFrameNavigated) {
			b.d.Dispatch(events.Event{
				Type:      events.EventFrameNavigated,
				TargetID:  target,
				FrameID:   string(e.Frame.ID),
				MainFrame: e.Frame.ParentID == "",
				URL:       e.Frame.URL,
				Timestamp: time.Now(),
			})
		},
		func(e *proto.NetworkResponseReceived) {
			pending[e.RequestID] = e.Response
		},
		func(e *proto.NetworkLoadingFailed) {
			delete(pending, e.RequestID)
		},
		func(e *proto.NetworkLoadingFinished) {
			resp, ok := pending[e.RequestID]
			if !ok {
				return
			}
			delete(pending, e.RequestID)
			go b.fetchBody(p, target, e.RequestID, resp.URL, contentType(resp))
		},
	)
	go func() {
		wait()
		b.mu.Lock()
		delete(b.watched, p.TargetID)
		b.mu.Unlock()
	}()
}

func (b *browser) fetchBody(p *rod.Page, target string, id proto.NetworkRequestID, url, ct string) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p)
	if err != nil {
		return
	}

	body := []byte(res.Body)
	if res.Base64Encoded {
		body, err = base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			return
		}
	}

	b.d.Dispatch(events.Event{
		Type:        events.EventResponse,
		TargetID:    target,
		URL:         url,
		Body:        body,
		ContentType: ct,
		Timestamp:   time.Now(),
	})
}

func contentType(r *proto.NetworkResponse) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, "content-type") {
			return v.Str()
		}
	}
	return r.MIMEType
}
