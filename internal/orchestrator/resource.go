package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/usepotato/potato/internal/cache"
	"github.com/usepotato/potato/internal/engine"
)

type Resource struct {
	Body        []byte
	ContentType string
}

// GetStaticResource serves a resource the operator's replica of the page
// asks for. path is relative to the page origin unless it is an absolute
// http(s) URL.
func (w *Worker) GetStaticResource(ctx context.Context, path, accept string) (Resource, error) {
	page, err := w.currentPage(ctx)
	if err != nil {
		return Resource{}, err
	}
	pageURL, err := page.URL(ctx)
	if err != nil {
		return Resource{}, fmt.Errorf("page url: %w", err)
	}

	target, err := resolveResourceURL(pageURL, path)
	if err != nil {
		return Resource{}, err
	}
	log := w.log.WithField("url", target)

	if e, ok := w.cache.Get(target); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		log.Debug("serving resource from cache")
		return Resource{Body: e.Body, ContentType: e.ContentType}, nil
	}

	if res, ok := w.fetchInPage(ctx, page, target, accept); ok {
		cacheLookups.WithLabelValues("fetched").Inc()
		w.cache.Put(target, res.Body, res.ContentType)
		return res, nil
	}

	ticker := time.NewTicker(w.opts.ResourcePollInterval)
	defer ticker.Stop()
	for i := 0; i < w.opts.ResourcePollAttempts; i++ {
		select {
		case <-ctx.Done():
			cacheLookups.WithLabelValues("miss").Inc()
			return Resource{}, ctx.Err()
		case <-ticker.C:
		}
		if e, ok := w.cache.Get(target); ok {
			cacheLookups.WithLabelValues("hit").Inc()
			return Resource{Body: e.Body, ContentType: e.ContentType}, nil
		}
	}

	cacheLookups.WithLabelValues("miss").Inc()
	log.Warn("resource not found")
	return Resource{}, fmt.Errorf("%w: %s", ErrResourceNotFound, target)
}

// fetchInPage asks the page to read the resource itself, which reuses the
// page's cookies and cache.
func (w *Worker) fetchInPage(ctx context.Context, page engine.Page, target, accept string) (Resource, bool) {
	fns := []string{`(url) => window.getBase64FromUrl(url)`}
	if strings.Contains(accept, "text/css") {
		fns = append([]string{`(url) => window.getStyleSheetBase64FromUrl(url)`}, fns...)
	}

	for _, fn := range fns {
		raw, err := page.Evaluate(ctx, fn, target)
		if err != nil {
			w.log.WithError(err).WithField("url", target).Debug("in-page fetch failed")
			continue
		}
		var dataURL string
		if err := json.Unmarshal(raw, &dataURL); err != nil || dataURL == "" {
			continue
		}
		res, err := parseDataURL(dataURL)
		if err != nil {
			w.log.WithError(err).WithField("url", target).Debug("in-page fetch returned bad data url")
			continue
		}
		if len(res.Body) > 0 {
			return res, true
		}
	}
	return Resource{}, false
}

// resolveResourceURL maps a requested path onto the page origin. Absolute
// http(s) URLs pass through, also when the router left a leading slash.
func resolveResourceURL(pageURL, path string) (string, error) {
	if abs := strings.TrimPrefix(path, "/"); strings.HasPrefix(abs, "http://") || strings.HasPrefix(abs, "https://") {
		return abs, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("%w: page has no origin (%q)", ErrResourceNotFound, pageURL)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base.Scheme + "://" + base.Host + path, nil
}

var errBadDataURL = errors.New("malformed data url")

// parseDataURL decodes data:[<mediatype>][;base64],<data>.
func parseDataURL(s string) (Resource, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Resource{}, errBadDataURL
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return Resource{}, errBadDataURL
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta, isBase64 = m, true
	}
	contentType := meta
	if contentType == "" {
		contentType = cache.DefaultContentType
	}

	var body []byte
	if isBase64 {
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return Resource{}, fmt.Errorf("%w: %v", errBadDataURL, err)
		}
		body = b
	} else {
		b, err := url.PathUnescape(data)
		if err != nil {
			return Resource{}, fmt.Errorf("%w: %v", errBadDataURL, err)
		}
		body = []byte(b)
	}
	return Resource{Body: body, ContentType: contentType}, nil
}
