// Command hioload-app runs a demo application on the event loop server:
// a few JSON routes and a room-based WebSocket chat.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/control"
	"github.com/momentics/hioload-app/runtime"
	"github.com/momentics/hioload-app/server"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "hioload.yaml", "Path to configuration file")
	version    = "dev"
)

func main() {
	flag.Parse()

	cfg, err := control.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := control.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting hioload-app", zap.String("version", version))

	mp := sdkmetric.NewMeterProvider()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mp.Shutdown(ctx)
	}()

	var srv *server.Server
	app := buildApp(func() map[string]any { return srv.Metrics().GetSnapshot() })
	table, err := app.Build()
	if err != nil {
		logger.Fatal("Invalid route registration", zap.Error(err))
	}

	srv, err = server.New(cfg, table, app.Runtime(),
		server.WithLogger(logger),
		server.WithMeterProvider(mp),
	)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		if errors.Is(err, server.ErrPortInUse) {
			logger.Error("Cannot start server", zap.Error(err))
		} else {
			logger.Error("Server failed", zap.Error(err))
		}
		os.Exit(1)
	}
	logger.Info("Server exited")
}

func buildApp(metrics func() map[string]any) *runtime.App {
	app := runtime.New()

	app.Use(runtime.Middleware{
		Name: "request-id",
		Before: func(ctx *api.RequestContext) (any, error) {
			ctx.Set("request_id", ctx.ConnID)
			return nil, nil
		},
	})

	app.GET("/", func(ctx *api.RequestContext) (any, error) {
		return map[string]any{"name": "hioload-app", "version": version}, nil
	})
	app.GET("/hello/:name", func(ctx *api.RequestContext) (any, error) {
		return "Hello, " + ctx.Param("name") + "!", nil
	})
	app.POST("/echo", func(ctx *api.RequestContext) (any, error) {
		var body any
		if err := ctx.JSON(&body); err != nil {
			return api.StatusMessage{Status: 400, Message: err.Error()}, nil
		}
		return api.JSON(200, body), nil
	})
	app.GET("/metrics", func(ctx *api.RequestContext) (any, error) {
		snap := metrics()
		out := make(map[string]any, len(snap))
		for k, v := range snap {
			if d, ok := v.(time.Duration); ok {
				v = d.String()
			}
			out[k] = v
		}
		return out, nil
	})

	app.WebSocket("/chat/:room").
		Join(func(ws api.WsContext) (any, error) {
			room := ws.Params()["room"]
			ws.Listen(room)
			if err := ws.Publish(room, "joined", map[string]any{"id": ws.ConnID()}); err != nil {
				return nil, err
			}
			return room, nil
		}).
		On("chat", func(msg any, ws api.WsContext, state any) (any, error) {
			room, _ := state.(string)
			return nil, ws.Publish(room, "chat", map[string]any{"from": ws.ConnID(), "message": msg})
		}).
		On("message", func(msg any, ws api.WsContext, state any) (any, error) {
			return nil, ws.Send("echo", msg)
		}).
		Leave(func(ws api.WsContext, state any) {
			if room, ok := state.(string); ok {
				_ = ws.Publish(room, "left", map[string]any{"id": ws.ConnID()})
			}
		})

	return app
}
