package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-projector/internal/history"
	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the projector surface the API serves.
// *projector.Session satisfies it.
type Session interface {
	QueryPower() (projector.PowerState, error)
	ConnectionState() projector.ConnectionState
	Stats() projector.Stats
	SetPower(ctx context.Context, targetOn bool) error
	OnStateChanged(listener func(projector.PowerState))
	OnConnectionChanged(listener func(projector.ConnectionState))
}

// HistoryReader lists journal events.
type HistoryReader interface {
	List(ctx context.Context, deviceID string, limit int) ([]history.Event, error)
}

// ConnectionChecker reports whether an optional dependency is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger

	DeviceID string
	Address  string
	Session  Session

	// History is optional; /api/v1/history returns 503 without it.
	History HistoryReader
	// MetricsHandler serves Metrics.Path when set.
	MetricsHandler http.Handler
	// MQTT is optional and only reported in /api/v1/stats.
	MQTT ConnectionChecker

	Version string
}

// Server is the HTTP API server for the projector bridge.
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	metricsCfg     config.MetricsConfig
	logger         *logging.Logger
	deviceID       string
	address        string
	session        Session
	history        HistoryReader
	metricsHandler http.Handler
	mqtt           ConnectionChecker
	version        string
	startTime      time.Time

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		metricsCfg:     deps.Metrics,
		logger:         deps.Logger,
		deviceID:       deps.DeviceID,
		address:        deps.Address,
		session:        deps.Session,
		history:        deps.History,
		metricsHandler: deps.MetricsHandler,
		mqtt:           deps.MQTT,
		version:        deps.Version,
		startTime:      time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.snapshot)
	s.watchSession()
	return s, nil
}

// Start begins listening for HTTP connections.
//
// The listener is bound synchronously so a port conflict is reported here;
// serving happens in a background goroutine until Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// watchSession relays session changes to stream subscribers.
func (s *Server) watchSession() {
	s.session.OnStateChanged(func(state projector.PowerState) {
		s.hub.Publish(ChannelPowerState, s.powerEvent(state))
	})
	s.session.OnConnectionChanged(func(state projector.ConnectionState) {
		s.hub.Publish(ChannelConnectionState, s.connectionEvent(state))
	})
}

func (s *Server) snapshot(channel string) any {
	switch channel {
	case ChannelPowerState:
		power, _ := s.session.QueryPower()
		return s.powerEvent(power)
	case ChannelConnectionState:
		return s.connectionEvent(s.session.ConnectionState())
	}
	return nil
}

func (s *Server) powerEvent(state projector.PowerState) map[string]any {
	return map[string]any{"device_id": s.deviceID, "power": state.String()}
}

func (s *Server) connectionEvent(state projector.ConnectionState) map[string]any {
	return map[string]any{"device_id": s.deviceID, "connection": string(state)}
}
