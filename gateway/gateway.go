// Package gateway wires the serial bridge, the PBD engine, the command router and the servers
// together and runs them under one context.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/calvinmclean/pbdgate/bridge"
	"github.com/calvinmclean/pbdgate/broadcast"
	"github.com/calvinmclean/pbdgate/commands"
	"github.com/calvinmclean/pbdgate/config"
	"github.com/calvinmclean/pbdgate/httpapi"
	"github.com/calvinmclean/pbdgate/metrics"
	"github.com/calvinmclean/pbdgate/pbd"
	"github.com/calvinmclean/pbdgate/server"
	"github.com/calvinmclean/pbdgate/sinks"
	"github.com/calvinmclean/pbdgate/trajectory"
	"github.com/calvinmclean/pbdgate/units"
)

const shutdownTimeout = 5 * time.Second

// Gateway owns every component. Create it with New and start it with Run
type Gateway struct {
	cfg    config.Config
	logger *slog.Logger

	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Bridge      *bridge.Bridge
	Engine      *pbd.Engine
	Broadcaster *broadcast.Broadcaster
	Router      *commands.Router

	CommandServer *server.CommandServer
	StateServer   *server.StateServer

	conv units.Converter
}

// New builds the gateway on an opened serial port. Sinks configured in cfg are connected here
func New(cfg config.Config, port bridge.Port, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	conv := cfg.Units.Converter()

	b := bridge.New(port,
		bridge.WithLogger(logger.With("component", "bridge")),
		bridge.WithMetrics(m),
	)

	bc := broadcast.New(
		broadcast.WithLogger(logger.With("component", "broadcast")),
		broadcast.WithMetrics(m),
		broadcast.WithQueueSize(cfg.State.QueueSize),
	)

	engine := pbd.New(trajectory.NewStore(), conv, b,
		pbd.WithLogger(logger.With("component", "pbd")),
		pbd.WithMetrics(m),
		pbd.WithRevolutionDelay(cfg.Units.RevolutionDelay()),
	)

	router := commands.NewRouter(b, engine, bc,
		commands.WithLogger(logger.With("component", "router")),
		commands.WithMetrics(m),
	)

	g := &Gateway{
		cfg:           cfg,
		logger:        logger,
		Registry:      reg,
		Metrics:       m,
		Bridge:        b,
		Engine:        engine,
		Broadcaster:   bc,
		Router:        router,
		CommandServer: server.NewCommandServer(cfg.Command.Addr, router, logger),
		StateServer:   server.NewStateServer(cfg.State.Addr, bc, cfg.State.WriteTimeout, logger),
		conv:          conv,
	}

	err := g.connectSinks()
	if err != nil {
		bc.Close()
		return nil, err
	}

	return g, nil
}

func (g *Gateway) connectSinks() error {
	if g.cfg.MQTT.Broker != "" {
		client, err := sinks.ConnectMQTT(g.cfg.MQTT, g.logger)
		if err != nil {
			return fmt.Errorf("error creating MQTT sink: %w", err)
		}
		g.Broadcaster.Subscribe(sinks.NewMQTT(client, g.cfg.MQTT, g.logger))
		g.logger.Info("mirroring state to MQTT", "broker", g.cfg.MQTT.Broker, "topic", g.cfg.MQTT.Topic)
	}

	if g.cfg.Redis.Addr != "" {
		client := sinks.NewRedisClient(g.cfg.Redis)
		g.Broadcaster.Subscribe(sinks.NewRedis(client, g.cfg.Redis, g.logger))
		g.logger.Info("mirroring state to Redis", "addr", g.cfg.Redis.Addr, "channel", g.cfg.Redis.Channel)
	}

	return nil
}

// Handler returns the admin HTTP handler
func (g *Gateway) Handler() http.Handler {
	return httpapi.NewHandler(httpapi.Config{
		Engine:       g.Engine,
		Subscribers:  g.Broadcaster,
		Router:       g.Router,
		Gatherer:     g.Registry,
		Ports:        bridge.GetSerialPorts,
		Logger:       g.logger.With("component", "http"),
		WriteTimeout: g.cfg.State.WriteTimeout,
	})
}

// Run serves until ctx is done or a server fails to start. On return every playback has been
// cancelled, subscribers are closed and the serial port is released
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.consume(ctx, g.Bridge.Receive(ctx))
		return nil
	})
	eg.Go(func() error {
		return g.CommandServer.Run(ctx)
	})
	eg.Go(func() error {
		return g.StateServer.Run(ctx)
	})
	if g.cfg.HTTP.Addr != "" {
		eg.Go(func() error {
			return httpapi.Serve(ctx, g.cfg.HTTP.Addr, g.Handler(), g.logger)
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		g.Bridge.Close()
		return nil
	})

	err := eg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Engine.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		g.logger.Warn("playbacks did not stop in time", "error", shutdownErr)
	}
	g.Broadcaster.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	g.logger.Info("gateway stopped")
	return nil
}

// consume applies every controller event in order: telemetry feeds the recording session, then
// every event is published to the state subscribers
func (g *Gateway) consume(ctx context.Context, events <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.HandleEvent(ev)
		}
	}
}

// HandleEvent processes one controller event
func (g *Gateway) HandleEvent(ev bridge.Event) {
	if ev.Kind == bridge.KindTelemetry {
		g.Engine.Observe(ev.Axis, ev.Time, ev.Position)
	}

	msg := StateMessage(ev, g.conv)
	err := g.Broadcaster.PublishJSON(msg)
	if err != nil {
		g.logger.Error("error publishing controller event", "kind", ev.Kind, "error", err)
	}
}
