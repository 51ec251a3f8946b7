// Package api provides the HTTP status surface: connection state, boolean
// channel values, and the endpoint the settings dialog uses to probe a
// candidate PLC endpoint before saving it.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// stateSource exposes the connection state snapshot.
type stateSource interface {
	State() domain.ConnectionState
}

// watchdogView exposes the monitor's current posture.
type watchdogView interface {
	State() service.MonitorState
	Interval() time.Duration
	ConsecutiveFailures() uint
}

// connectionTester probes an arbitrary endpoint without touching the
// canonical session. The connection manager satisfies it.
type connectionTester interface {
	TestConnection(ctx context.Context, params domain.ConnectionParams) error
}

// booleanView exposes the boolean channel map and values.
type booleanView interface {
	Channels() map[int]domain.BooleanChannel
	ReadAll() map[int]bool
}

// Server holds the handler dependencies.
type Server struct {
	states   stateSource
	watchdog watchdogView
	tester   connectionTester
	booleans booleanView
	logger   zerolog.Logger
}

// NewServer creates the API server.
func NewServer(states stateSource, watchdog watchdogView, tester connectionTester, booleans booleanView, logger zerolog.Logger) *Server {
	return &Server{
		states:   states,
		watchdog: watchdog,
		tester:   tester,
		booleans: booleans,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers all handlers on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/booleans", s.handleBooleans)
	mux.HandleFunc("/api/test-connection", s.handleTestConnection)
	mux.Handle("/metrics", promhttp.Handler())
}

// statusResponse is the /status payload.
type statusResponse struct {
	Connection domain.ConnectionState `json:"connection"`
	Watchdog   watchdogStatus         `json:"watchdog"`
}

type watchdogStatus struct {
	State               string `json:"state"`
	PollInterval        string `json:"poll_interval"`
	ConsecutiveFailures uint   `json:"consecutive_failures"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Connection: s.states.State(),
		Watchdog: watchdogStatus{
			State:               string(s.watchdog.State()),
			PollInterval:        s.watchdog.Interval().String(),
			ConsecutiveFailures: s.watchdog.ConsecutiveFailures(),
		},
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// booleansResponse is the /api/booleans payload.
type booleansResponse struct {
	Channels map[int]domain.BooleanChannel `json:"channels"`
	Values   map[int]bool                  `json:"values"`
}

func (s *Server) handleBooleans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, booleansResponse{
		Channels: s.booleans.Channels(),
		Values:   s.booleans.ReadAll(),
	})
}

// testConnectionRequest is the /api/test-connection body.
type testConnectionRequest struct {
	ConnectionType string `json:"connection_type"`
	Host           string `json:"host"`
	TCPPort        int    `json:"tcp_port"`
	SerialPort     string `json:"serial_port"`
	Baudrate       int    `json:"baudrate"`
	Bytesize       int    `json:"bytesize"`
	Parity         string `json:"parity"`
	Stopbits       int    `json:"stopbits"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type testConnectionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	params := domain.ConnectionParams{
		Type:    domain.ConnectionTCP,
		Host:    req.Host,
		Port:    req.TCPPort,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	}
	if req.ConnectionType == string(domain.ConnectionRTU) || req.ConnectionType == "serial" {
		params = domain.ConnectionParams{
			Type:       domain.ConnectionRTU,
			SerialPort: req.SerialPort,
			BaudRate:   req.Baudrate,
			DataBits:   req.Bytesize,
			Parity:     req.Parity,
			StopBits:   req.Stopbits,
			Timeout:    time.Duration(req.TimeoutSeconds) * time.Second,
		}
	}
	if params.Timeout <= 0 {
		params.Timeout = 3 * time.Second
	}

	if err := s.tester.TestConnection(r.Context(), params); err != nil {
		s.logger.Info().Err(err).Str("address", params.Address()).Msg("Connection test failed")
		s.writeJSON(w, http.StatusOK, testConnectionResponse{Success: false, Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, testConnectionResponse{Success: true})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
