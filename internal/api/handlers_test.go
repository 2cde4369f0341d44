package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/adapter/mqtt"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/hwsock"
	"github.com/nexus-edge/plc-link/internal/service"
)

type fakePLC struct {
	state    domain.ConnState
	forceARP bool
	linkErr  error
}

func (f *fakePLC) State() domain.ConnState { return f.state }
func (f *fakePLC) Session() modbus.SessionInfo {
	return modbus.SessionInfo{State: f.state, SocketOpen: true, RemoteAddr: "192.168.123.10:502"}
}
func (f *fakePLC) Stats() modbus.ClientStats {
	return modbus.ClientStats{Requests: 100, Errors: 2}
}
func (f *fakePLC) ARPStats() modbus.ARPStats {
	return modbus.ARPStats{Target: "192.168.123.10", ForceMode: f.forceARP, Refreshes: 3}
}
func (f *fakePLC) SetForceARP(enabled bool) { f.forceARP = enabled }
func (f *fakePLC) ForceARP() bool           { return f.forceARP }
func (f *fakePLC) LinkState() (hwsock.LinkState, error) {
	if f.linkErr != nil {
		return hwsock.LinkState{}, f.linkErr
	}
	return hwsock.LinkState{Up: true, Speed100M: true, FullDuplex: true}, nil
}
func (f *fakePLC) SocketStatus() (hwsock.Status, error) {
	return hwsock.StatusEstablished, nil
}

type fakePoller struct {
	paused bool
	points []*domain.Point
}

func (f *fakePoller) Pause()       { f.paused = true }
func (f *fakePoller) Resume()      { f.paused = false }
func (f *fakePoller) Paused() bool { return f.paused }
func (f *fakePoller) Stats() service.PollerStats {
	return service.PollerStats{Cycles: 10, PointsGood: 20}
}
func (f *fakePoller) Points() []*domain.Point { return f.points }

type fakeBroker struct {
	connected bool
}

func (f *fakeBroker) IsConnected() bool { return f.connected }
func (f *fakeBroker) Stats() mqtt.PublisherStats {
	return mqtt.PublisherStats{Published: 40}
}
func (f *fakeBroker) BufferSize() int { return 5 }

func newTestServer(t *testing.T) (*http.ServeMux, *fakePLC, *fakePoller) {
	t.Helper()
	plc := &fakePLC{state: domain.StateConnected}
	poller := &fakePoller{points: []*domain.Point{
		{
			ID: "speed", Name: "Motor Speed", Register: domain.RegisterTypeHolding,
			Address: 100, DataType: domain.DataTypeUInt16, Scale: 1, Unit: "rpm",
			Writable: true, Enabled: true,
		},
	}}
	mux := http.NewServeMux()
	NewServer(plc, poller, &fakeBroker{connected: true}, zerolog.Nop()).Register(mux)
	return mux, plc, poller
}

func TestHandleStatus(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Connection struct {
			State        string `json:"state"`
			SocketStatus string `json:"socket_status"`
			Link         *struct {
				Up bool `json:"up"`
			} `json:"link"`
		} `json:"connection"`
		Client modbus.ClientStats `json:"client"`
		MQTT   struct {
			Connected  bool `json:"connected"`
			BufferSize int  `json:"buffer_size"`
		} `json:"mqtt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Connection.State != "connected" {
		t.Errorf("connection.state = %q, want connected", resp.Connection.State)
	}
	if resp.Connection.SocketStatus != "established" {
		t.Errorf("connection.socket_status = %q, want established", resp.Connection.SocketStatus)
	}
	if resp.Connection.Link == nil || !resp.Connection.Link.Up {
		t.Error("connection.link missing or down")
	}
	if resp.Client.Requests != 100 {
		t.Errorf("client.requests = %d, want 100", resp.Client.Requests)
	}
	if !resp.MQTT.Connected || resp.MQTT.BufferSize != 5 {
		t.Errorf("mqtt section = %+v, want connected with buffer 5", resp.MQTT)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Errorf("Allow = %q, want GET", allow)
	}
}

func TestHandlePoints(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/points", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Count  int `json:"count"`
		Points []struct {
			ID       string `json:"id"`
			Register string `json:"register"`
			Address  uint16 `json:"address"`
			Writable bool   `json:"writable"`
		} `json:"points"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Count != 1 || len(resp.Points) != 1 {
		t.Fatalf("count = %d with %d points, want 1", resp.Count, len(resp.Points))
	}
	p := resp.Points[0]
	if p.ID != "speed" || p.Register != "holding" || p.Address != 100 || !p.Writable {
		t.Errorf("point = %+v", p)
	}
}

func TestHandleForceARP(t *testing.T) {
	mux, plc, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/arp/force-mode", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"enabled":false}` {
		t.Errorf("GET body = %s, want enabled false", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/arp/force-mode", strings.NewReader(`{"enabled":true}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", rec.Code)
	}
	if !plc.forceARP {
		t.Error("force-ARP not enabled on the client")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"enabled":true}` {
		t.Errorf("POST body = %s, want enabled true", rec.Body.String())
	}
}

func TestHandleForceARPBadBody(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/arp/force-mode", strings.NewReader("{{"))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePollPauseResume(t *testing.T) {
	mux, _, poller := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/poll/pause", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", rec.Code)
	}
	if !poller.paused {
		t.Error("poller not paused")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"paused":true}` {
		t.Errorf("pause body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/poll/resume", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", rec.Code)
	}
	if poller.paused {
		t.Error("poller still paused after resume")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/poll/pause", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET pause status = %d, want 405", rec.Code)
	}
}
