// Package httpapi is the admin HTTP surface of the gateway: health, metrics, PBD state and a
// websocket view of the state stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calvinmclean/pbdgate"
	"github.com/calvinmclean/pbdgate/bridge"
	"github.com/calvinmclean/pbdgate/broadcast"
	"github.com/calvinmclean/pbdgate/pbd"
	"github.com/calvinmclean/pbdgate/trajectory"
	"github.com/calvinmclean/pbdgate/units"
)

const maxCommandBody = 64 * 1024

// Engine is the read and cancel side of the PBD engine
type Engine interface {
	Status() pbd.Status
	Tasks() []pbd.TaskInfo
	Cancel(id uint64) bool
	Store() *trajectory.Store
	Converter() units.Converter
}

var _ Engine = &pbd.Engine{}

// Subscribers is the broadcast subscriber set used by the websocket endpoint
type Subscribers interface {
	Subscribe(broadcast.Subscriber) bool
	Unsubscribe(broadcast.Subscriber) bool
}

// Router accepts command lines posted over HTTP
type Router interface {
	Route(line string) error
}

// Config holds the handler dependencies. Gatherer, Ports and Router are optional
type Config struct {
	Engine      Engine
	Subscribers Subscribers
	Router      Router
	Gatherer    prometheus.Gatherer
	Ports       func() ([]bridge.PortInfo, error)
	Logger      *slog.Logger
	// WriteTimeout bounds one websocket write
	WriteTimeout time.Duration
}

type api struct {
	Config
}

// NewHandler builds the chi router
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = broadcast.DefaultWriteTimeout
	}
	a := &api{cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/status", a.status)
	r.Get("/trajectories/{axis}", a.trajectory)
	r.Route("/playbacks", func(r chi.Router) {
		r.Get("/", a.listPlaybacks)
		r.Delete("/{id}", a.cancelPlayback)
	})
	r.Get("/ports", a.ports)
	r.Post("/commands", a.command)
	r.Get("/ws", a.stream)

	return r
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Engine.Status())
}

// Point is one recorded sample with its derived units
type Point struct {
	Time     float64 `json:"t"`
	Position int64   `json:"pos"`
	Rev      float64 `json:"rev"`
	Steps    float64 `json:"steps"`
	Degrees  float64 `json:"deg"`
}

// TrajectoryResponse is returned by GET /trajectories/{axis}
type TrajectoryResponse struct {
	Axis     pbdgate.Axis `json:"axis"`
	Playable bool         `json:"playable"`
	Samples  []Point      `json:"samples"`
}

func (a *api) trajectory(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "axis"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", pbdgate.ErrInvalidAxis, chi.URLParam(r, "axis")))
		return
	}
	axis, err := pbdgate.ParseAxis(n)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	conv := a.Engine.Converter()
	samples := a.Engine.Store().Read(axis)

	resp := TrajectoryResponse{
		Axis:     axis,
		Playable: len(samples) >= trajectory.MinPlaybackSamples,
		Samples:  make([]Point, 0, len(samples)),
	}
	for _, s := range samples {
		scaled := conv.PositionToScaled(s.Position)
		resp.Samples = append(resp.Samples, Point{
			Time:     s.Time,
			Position: s.Position,
			Rev:      scaled.Revolutions,
			Steps:    scaled.Steps,
			Degrees:  scaled.Degrees,
		})
	}

	a.writeJSON(w, http.StatusOK, resp)
}

func (a *api) listPlaybacks(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Engine.Tasks())
}

func (a *api) cancelPlayback(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid playback id: %w", err))
		return
	}

	if !a.Engine.Cancel(id) {
		a.writeError(w, http.StatusNotFound, fmt.Errorf("playback %d not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) ports(w http.ResponseWriter, _ *http.Request) {
	if a.Ports == nil {
		a.writeJSON(w, http.StatusOK, []bridge.PortInfo{})
		return
	}

	ports, err := a.Ports()
	switch {
	case errors.Is(err, bridge.ErrNoSerialPorts):
		a.writeJSON(w, http.StatusOK, []bridge.PortInfo{})
	case err != nil:
		a.writeError(w, http.StatusInternalServerError, err)
	default:
		a.writeJSON(w, http.StatusOK, ports)
	}
}

// command routes a posted command line exactly like one received on the command port
func (a *api) command(w http.ResponseWriter, r *http.Request) {
	if a.Router == nil {
		a.writeError(w, http.StatusNotFound, errors.New("commands are not accepted over HTTP"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("error reading body: %w", err))
		return
	}

	err = a.Router.Route(string(body))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *api) writeError(w http.ResponseWriter, code int, err error) {
	a.Logger.Warn("http request failed", "status", code, "error", err)
	a.writeJSON(w, code, errorResponse{err.Error()})
}

func (a *api) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		a.Logger.Error("error encoding response", "error", err)
	}
}

// Serve runs an http.Server for handler until ctx is done, then shuts it down gracefully
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("admin HTTP server listening", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("error running admin HTTP server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("error shutting down admin HTTP server: %w", err)
	}
	return nil
}
