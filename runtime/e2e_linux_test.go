//go:build linux

// File: runtime/e2e_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package runtime

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/control"
	"github.com/momentics/hioload-app/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAppServesOverTCP(t *testing.T) {
	app := New()
	app.Use(Middleware{
		Name: "tag",
		After: func(ctx *api.RequestContext, v any) (any, error) {
			if s, ok := v.(string); ok {
				return s + "!", nil
			}
			return v, nil
		},
	})
	app.GET("/hello/:name", func(ctx *api.RequestContext) (any, error) {
		return "hi " + ctx.Param("name"), nil
	})
	app.WebSocket("/room/:id").
		Join(func(ws api.WsContext) (any, error) {
			ws.Listen(ws.Params()["id"])
			return ws.Params()["id"], nil
		}).
		On("say", func(msg any, ws api.WsContext, state any) (any, error) {
			return nil, ws.Publish(state.(string), "said", msg)
		})

	table, err := app.Build()
	require.NoError(t, err)

	cfg := control.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.PollTimeout = 10 * time.Millisecond
	srv, err := server.New(cfg, table, app.Runtime(), server.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()
	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("Run() error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/hello/gopher")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hi gopher!", string(body))

	a, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/room/go", nil)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/room/go", nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.WriteJSON(map[string]any{"type": "say", "text": "hello"}))
	require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got map[string]any
	require.NoError(t, b.ReadJSON(&got))
	assert.Equal(t, "said", got["type"])
	assert.Equal(t, "hello", got["text"])
}
