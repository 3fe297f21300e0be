package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBrowserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/version", r.URL.Path)
		w.Write([]byte(`{
			"Browser": "Chrome/126.0.6478.126",
			"User-Agent": "Mozilla/5.0",
			"webSocketDebuggerUrl": "ws://127.0.0.1:9222/devtools/browser/abc"
		}`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")

	for _, in := range []string{srv.URL, srv.URL + "/", "ws://" + host + "/devtools/browser/old"} {
		info, err := GetBrowserInfo(context.Background(), in)
		require.NoError(t, err, in)
		assert.Equal(t, "ws://"+host+"/devtools/browser/abc", info.WebSocketURL)
		assert.Equal(t, "Chrome/126.0.6478.126", info.Version)
		assert.Equal(t, "Mozilla/5.0", info.UserAgent)
	}
}

func TestGetBrowserInfo_MissingDebuggerURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Browser":"Chrome"}`))
	}))
	defer srv.Close()

	_, err := GetBrowserInfo(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webSocketDebuggerUrl")
}

func TestGetBrowserInfo_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := GetBrowserInfo(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestGetBrowserInfo_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := GetBrowserInfo(context.Background(), addr)
	assert.Error(t, err)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "resize 800x600", Command{Kind: CommandResize, Width: 800, Height: 600}.String())
	assert.Equal(t, `click [shinpads-id="12"]`, Command{Kind: CommandClick, Selector: ElementSelector("12")}.String())
	assert.Equal(t, "reload", Command{Kind: CommandReload}.String())
}
