// internal/api/rest/server_test.go
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/manager"
	"github.com/tamzrod/modbus-transport/internal/replicator"
	"github.com/tamzrod/modbus-transport/internal/request"
	"github.com/tamzrod/modbus-transport/internal/slavetest"
	"github.com/tamzrod/modbus-transport/internal/status"
)

type staticUnits []replicator.UnitInfo

func (u staticUnits) Units() []replicator.UnitInfo { return u }

type nopReadCallback struct{}

func (*nopReadCallback) OnBits(request.Read, request.BitArray)           {}
func (*nopReadCallback) OnRegisters(request.Read, request.RegisterArray) {}
func (*nopReadCallback) OnError(request.Read, error)                     {}

func newTestServer(t *testing.T) (*Server, *manager.Manager, *status.Board) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	m := manager.New(manager.WithLogger(logger))
	if err := m.Activate(manager.Config{}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(m.Deactivate)

	board := status.NewBoard()
	units := staticUnits{{ID: "plc1", Source: "tcp://10.0.0.1:502"}}
	return NewServer("127.0.0.1:0", m, units, board, logger), m, board
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func configPath(ep string) string {
	return "/api/v1/endpoints/config?endpoint=" + url.QueryEscape(ep)
}

func TestHealth(t *testing.T) {
	s, m, _ := newTestServer(t)

	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: %d %s", rec.Code, rec.Body)
	}

	m.Deactivate()
	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("inactive health: %d", rec.Code)
	}
}

func TestListPolls(t *testing.T) {
	s, m, _ := newTestServer(t)

	_, err := m.RegisterRegularPoll(manager.ReadTask{
		Endpoint: endpoint.TCP("127.0.0.1", 1),
		Request:  request.Read{UnitID: 1, Function: request.ReadCoils, Address: 8, Quantity: 4},
		Callback: &nopReadCallback{},
	}, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := do(t, s, http.MethodGet, "/api/v1/polls", "")
	var body struct {
		Polls []pollView `json:"polls"`
		Count int        `json:"count"`
	}
	decode(t, rec, &body)

	if body.Count != 1 || body.Polls[0].Address != 8 || body.Polls[0].Period != "1h0m0s" {
		t.Fatalf("unexpected polls: %+v", body)
	}
	if body.Polls[0].ID == "" || body.Polls[0].Endpoint != "tcp://127.0.0.1:1" {
		t.Fatalf("unexpected poll identity: %+v", body.Polls[0])
	}
}

func TestListStatusAndUnits(t *testing.T) {
	s, _, board := newTestServer(t)
	board.Tracker("plc1").Observe("fc3@0+10", errors.New("timeout"), time.Now())

	var st struct {
		Devices []status.View `json:"devices"`
	}
	decode(t, do(t, s, http.MethodGet, "/api/v1/status", ""), &st)
	if len(st.Devices) != 1 || st.Devices[0].Unit != "plc1" || st.Devices[0].HealthCode != status.HealthCommunicationError {
		t.Fatalf("unexpected status: %+v", st)
	}

	var units struct {
		Units []replicator.UnitInfo `json:"units"`
	}
	decode(t, do(t, s, http.MethodGet, "/api/v1/units", ""), &units)
	if len(units.Units) != 1 || units.Units[0].ID != "plc1" {
		t.Fatalf("unexpected units: %+v", units)
	}
}

func TestEndpointConfig_PutGetDelete(t *testing.T) {
	s, m, _ := newTestServer(t)
	ep := endpoint.TCP("10.0.0.9", 502)

	// unset endpoint reports defaults
	var v endpointConfigView
	decode(t, do(t, s, http.MethodGet, configPath("10.0.0.9:502"), ""), &v)
	if v.Configured || v.Config.MaxConnections == nil || *v.Config.MaxConnections != 1 {
		t.Fatalf("unexpected default view: %+v", v)
	}

	rec := do(t, s, http.MethodPut, configPath("10.0.0.9:502"), `{"max_connections":3,"receive_timeout":"750ms"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body)
	}
	got := m.GetEndpointPoolConfiguration(ep)
	if got.MaxConnections != 3 || got.ReceiveTimeout != 750*time.Millisecond {
		t.Fatalf("config not applied: %+v", got)
	}
	if got.ConnectTimeout != endpoint.DefaultPoolConfig(endpoint.KindTCP).ConnectTimeout {
		t.Fatalf("omitted field not defaulted: %+v", got)
	}

	var list struct {
		Endpoints []endpointConfigView `json:"endpoints"`
	}
	decode(t, do(t, s, http.MethodGet, "/api/v1/endpoints/config", ""), &list)
	if len(list.Endpoints) != 1 || list.Endpoints[0].Endpoint != "tcp://10.0.0.9:502" || !list.Endpoints[0].Configured {
		t.Fatalf("unexpected list: %+v", list)
	}

	if rec := do(t, s, http.MethodDelete, configPath("tcp://10.0.0.9:502"), ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if len(m.ConfiguredEndpoints()) != 0 {
		t.Fatalf("endpoint still configured")
	}
}

type doneReadCallback struct {
	done chan error
}

func (c *doneReadCallback) OnBits(request.Read, request.BitArray)           { c.done <- nil }
func (c *doneReadCallback) OnRegisters(request.Read, request.RegisterArray) { c.done <- nil }
func (c *doneReadCallback) OnError(_ request.Read, err error)               { c.done <- err }

func TestEndpointConfig_DeleteRetiresConnections(t *testing.T) {
	s, m, _ := newTestServer(t)
	slave := slavetest.Start(t, 1)
	path := configPath(slave.Endpoint.String())

	if rec := do(t, s, http.MethodPut, path, `{"inter_message_pause":"0s","connect_timeout":"1s"}`); rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body)
	}
	if got := m.GetEndpointPoolConfiguration(slave.Endpoint).InterMessagePause; got != 0 {
		t.Fatalf("explicit zero pause not applied: %v", got)
	}

	cb := &doneReadCallback{done: make(chan error, 1)}
	err := m.SubmitOneTimePoll(manager.ReadTask{
		Endpoint: slave.Endpoint,
		Request:  request.Read{UnitID: 1, Function: request.ReadCoils, Quantity: 4},
		Callback: cb,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-cb.done:
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("read callback not invoked")
	}
	if st := m.PoolStats(slave.Endpoint); st.Live != 1 {
		t.Fatalf("expected one pooled connection: %+v", st)
	}

	if rec := do(t, s, http.MethodDelete, path, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if st := m.PoolStats(slave.Endpoint); st.Live != 0 || st.Idle != 0 {
		t.Fatalf("connections survived delete: %+v", st)
	}
}

func TestEndpointConfig_Rejects(t *testing.T) {
	s, _, _ := newTestServer(t)

	cases := []struct {
		path string
		body string
		code int
	}{
		{configPath("nowhere"), `{}`, http.StatusBadRequest},
		{configPath("10.0.0.9:502"), `{"receive_timeout":"soon"}`, http.StatusBadRequest},
		{configPath("10.0.0.9:502"), `{"idle_timeout":"-1s"}`, http.StatusBadRequest},
		{configPath("10.0.0.9:502"), `not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := do(t, s, http.MethodPut, tc.path, tc.body); rec.Code != tc.code {
			t.Fatalf("PUT %s %s: got=%d want=%d body=%s", tc.path, tc.body, rec.Code, tc.code, rec.Body)
		}
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s, _, _ := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
