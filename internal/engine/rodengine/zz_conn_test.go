package rodengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"
)

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer c.Close()
		for {
			mt, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
}

func TestConn_SendRead(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c, err := dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	require.NoError(t, c.Send([]byte(`{"id":1,"method":"Browser.getVersion"}`)))
	msg, err := c.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"method":"Browser.getVersion"}`, string(msg))

	require.NoError(t, c.Close())
	_, err = c.Read()
	assert.Error(t, err)
}

func TestDial_Unreachable(t *testing.T) {
	srv := echoServer(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := dial(context.Background(), u)
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	r := &proto.NetworkResponse{
		MIMEType: "text/css",
		Headers:  proto.NetworkHeaders{"Content-Type": gson.New("text/css; charset=utf-8")},
	}
	assert.Equal(t, "text/css; charset=utf-8", contentType(r))

	r = &proto.NetworkResponse{MIMEType: "image/png", Headers: proto.NetworkHeaders{}}
	assert.Equal(t, "image/png", contentType(r))
}
