package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultMetadataURL = "http://169.254.169.254/latest/meta-data/hostname"

// ResolveBaseURL picks the URL the worker advertises. An explicit public URL
// wins; otherwise the cloud metadata hostname is tried and localhost is the
// fallback.
func ResolveBaseURL(ctx context.Context, publicURL, metadataURL string, port int) string {
	if publicURL != "" {
		return strings.TrimSuffix(publicURL, "/")
	}
	fallback := fmt.Sprintf("http://localhost:%d", port)
	if metadataURL == "" {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return fallback
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallback
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fallback
	}
	host := strings.TrimSpace(string(body))
	if host == "" {
		return fallback
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}
