package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type BrowserInfo struct {
	WebSocketURL string    `json:"web_socket_url"`
	Version      string    `json:"version"`
	UserAgent    string    `json:"user_agent"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// GetBrowserInfo reads /json/version from the browser's debug endpoint. The
// returned websocket URL is rewritten to the host of browserURL so a browser
// reporting 127.0.0.1 can be reached from elsewhere.
func GetBrowserInfo(ctx context.Context, browserURL string) (*BrowserInfo, error) {
	parsed, err := url.Parse(browserURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse browser URL: %w", err)
	}

	base := browserURL
	switch {
	case strings.HasPrefix(base, "ws:"):
		base = "http:" + base[3:]
	case strings.HasPrefix(base, "wss:"):
		base = "https:" + base[4:]
	}
	if i := strings.LastIndex(base, "/devtools/"); i != -1 {
		base = base[:i]
	}
	base = strings.TrimRight(base, "/")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/version", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build browser info request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get browser info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get browser info: HTTP %d", resp.StatusCode)
	}

	var result struct {
		Browser              string `json:"Browser"`
		UserAgent            string `json:"User-Agent"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse browser info: %w", err)
	}
	if result.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("webSocketDebuggerUrl not found in browser info response")
	}

	return &BrowserInfo{
		WebSocketURL: replaceHost(result.WebSocketDebuggerURL, parsed.Host),
		Version:      result.Browser,
		UserAgent:    result.UserAgent,
		FetchedAt:    time.Now(),
	}, nil
}

func replaceHost(rawURL, host string) string {
	u, err := url.Parse(rawURL)
	if err != nil || host == "" {
		return rawURL
	}
	u.Host = host
	return u.String()
}
