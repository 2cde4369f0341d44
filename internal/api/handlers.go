// Package api exposes the bridge's read-only status endpoints and the
// two runtime toggles (Force-ARP mode, poll pause).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/adapter/mqtt"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/hwsock"
	"github.com/nexus-edge/plc-link/internal/service"
)

// PLCStatus is the diagnostics surface of the Modbus client.
type PLCStatus interface {
	State() domain.ConnState
	Session() modbus.SessionInfo
	Stats() modbus.ClientStats
	ARPStats() modbus.ARPStats
	SetForceARP(enabled bool)
	ForceARP() bool
	LinkState() (hwsock.LinkState, error)
	SocketStatus() (hwsock.Status, error)
}

// PollControl is the poller's status and pause surface.
type PollControl interface {
	Pause()
	Resume()
	Paused() bool
	Stats() service.PollerStats
	Points() []*domain.Point
}

// BrokerStatus is the MQTT publisher's status surface.
type BrokerStatus interface {
	IsConnected() bool
	Stats() mqtt.PublisherStats
	BufferSize() int
}

// Server serves the /api/v1 endpoints.
type Server struct {
	plc    PLCStatus
	poller PollControl
	broker BrokerStatus
	logger zerolog.Logger
}

// NewServer builds the API server over the bridge's components.
func NewServer(plc PLCStatus, poller PollControl, broker BrokerStatus, logger zerolog.Logger) *Server {
	return &Server{
		plc:    plc,
		poller: poller,
		broker: broker,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Register wires the API routes onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/points", s.handlePoints)
	mux.HandleFunc("/api/v1/arp/force-mode", s.handleForceARP)
	mux.HandleFunc("/api/v1/poll/pause", s.handlePollPause)
	mux.HandleFunc("/api/v1/poll/resume", s.handlePollResume)
}

// connectionStatus is the connection section of the status response.
type connectionStatus struct {
	State        domain.ConnState   `json:"state"`
	Session      modbus.SessionInfo `json:"session"`
	SocketStatus string             `json:"socket_status"`
	Link         *hwsock.LinkState  `json:"link,omitempty"`
	LinkError    string             `json:"link_error,omitempty"`
	ARP          modbus.ARPStats    `json:"arp"`
}

// statusResponse is the full /api/v1/status body.
type statusResponse struct {
	Connection connectionStatus    `json:"connection"`
	Client     modbus.ClientStats  `json:"client"`
	Poller     service.PollerStats `json:"poller"`
	MQTT       mqttStatus          `json:"mqtt"`
}

type mqttStatus struct {
	Connected  bool                `json:"connected"`
	BufferSize int                 `json:"buffer_size"`
	Stats      mqtt.PublisherStats `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	conn := connectionStatus{
		State:   s.plc.State(),
		Session: s.plc.Session(),
		ARP:     s.plc.ARPStats(),
	}
	if status, err := s.plc.SocketStatus(); err == nil {
		conn.SocketStatus = status.String()
	} else {
		conn.SocketStatus = "unknown"
	}
	if link, err := s.plc.LinkState(); err == nil {
		conn.Link = &link
	} else {
		conn.LinkError = err.Error()
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		Connection: conn,
		Client:     s.plc.Stats(),
		Poller:     s.poller.Stats(),
		MQTT: mqttStatus{
			Connected:  s.broker.IsConnected(),
			BufferSize: s.broker.BufferSize(),
			Stats:      s.broker.Stats(),
		},
	})
}

// pointView is the API shape of a configured point.
type pointView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Register string  `json:"register"`
	Address  uint16  `json:"address"`
	DataType string  `json:"data_type"`
	Scale    float64 `json:"scale"`
	Offset   float64 `json:"offset,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Writable bool    `json:"writable"`
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	points := s.poller.Points()
	views := make([]pointView, 0, len(points))
	for _, p := range points {
		views = append(views, pointView{
			ID:       p.ID,
			Name:     p.Name,
			Register: string(p.Register),
			Address:  p.Address,
			DataType: string(p.DataType),
			Scale:    p.Scale,
			Offset:   p.Offset,
			Unit:     p.Unit,
			Writable: p.Writable,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(views),
		"points": views,
	})
}

// forceARPRequest toggles per-attempt ARP re-resolution.
type forceARPRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleForceARP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, forceARPRequest{Enabled: s.plc.ForceARP()})
	case http.MethodPost:
		var req forceARPRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.plc.SetForceARP(req.Enabled)
		s.logger.Info().Bool("enabled", req.Enabled).Msg("force-ARP mode changed")
		s.writeJSON(w, http.StatusOK, forceARPRequest{Enabled: s.plc.ForceARP()})
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handlePollPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	s.poller.Pause()
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": s.poller.Paused()})
}

func (s *Server) handlePollResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	s.poller.Resume()
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": s.poller.Paused()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
