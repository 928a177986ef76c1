// internal/slavetest/slave.go
//
// Package slavetest runs an in-process Modbus TCP slave for tests.
package slavetest

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
)

const (
	CoilCount     = 64
	RegisterCount = 128
)

// Slave serves one unit id. Coils start with an alternating pattern
// (even addresses set), holding register i holds 0x1000+i and input
// register i holds 0x2000+i.
type Slave struct {
	Endpoint endpoint.Endpoint
	UnitID   uint8

	server  *modbus.ModbusServer
	handler *handler
}

// Start listens on a free loopback port and stops the slave on test cleanup.
func Start(t testing.TB, unitID uint8) *Slave {
	t.Helper()

	port := freePort(t)
	h := newHandler(unitID)
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://127.0.0.1:" + strconv.Itoa(port),
		Timeout:    30 * time.Second,
		MaxClients: 16,
	}, h)
	if err != nil {
		t.Fatalf("slavetest: new server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("slavetest: start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	return &Slave{
		Endpoint: endpoint.TCP("127.0.0.1", port),
		UnitID:   unitID,
		server:   server,
		handler:  h,
	}
}

// SetDelay makes every response wait d before it is sent.
func (s *Slave) SetDelay(d time.Duration) { s.handler.delay.Store(int64(d)) }

// Requests returns how many requests reached the handler.
func (s *Slave) Requests() int { return int(s.handler.requests.Load()) }

func (s *Slave) Coil(addr int) bool {
	s.handler.lock.Lock()
	defer s.handler.lock.Unlock()
	return s.handler.coils[addr]
}

func (s *Slave) Holding(addr int) uint16 {
	s.handler.lock.Lock()
	defer s.handler.lock.Unlock()
	return s.handler.holding[addr]
}

func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("slavetest: reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// ---- handler ----

type handler struct {
	lock     sync.Mutex
	unitID   uint8
	coils    []bool
	discrete []bool
	holding  []uint16
	input    []uint16

	delay    atomic.Int64
	requests atomic.Int32
}

func newHandler(unitID uint8) *handler {
	h := &handler{
		unitID:   unitID,
		coils:    make([]bool, CoilCount),
		discrete: make([]bool, CoilCount),
		holding:  make([]uint16, RegisterCount),
		input:    make([]uint16, RegisterCount),
	}
	for i := range h.coils {
		h.coils[i] = i%2 == 0
		h.discrete[i] = i%2 == 1
	}
	for i := range h.holding {
		h.holding[i] = 0x1000 + uint16(i)
		h.input[i] = 0x2000 + uint16(i)
	}
	return h
}

func (h *handler) enter(unitID uint8) error {
	h.requests.Add(1)
	if d := time.Duration(h.delay.Load()); d > 0 {
		time.Sleep(d)
	}
	if unitID != h.unitID {
		return modbus.ErrIllegalFunction
	}
	return nil
}

func (h *handler) HandleCoils(req *modbus.CoilsRequest) (res []bool, err error) {
	if err := h.enter(req.UnitId); err != nil {
		return nil, err
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if int(req.Addr)+int(req.Quantity) > len(h.coils) {
		return nil, modbus.ErrIllegalDataAddress
	}
	for i := 0; i < int(req.Quantity); i++ {
		if req.IsWrite {
			h.coils[int(req.Addr)+i] = req.Args[i]
		}
		res = append(res, h.coils[int(req.Addr)+i])
	}
	return res, nil
}

func (h *handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) (res []bool, err error) {
	if err := h.enter(req.UnitId); err != nil {
		return nil, err
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if int(req.Addr)+int(req.Quantity) > len(h.discrete) {
		return nil, modbus.ErrIllegalDataAddress
	}
	for i := 0; i < int(req.Quantity); i++ {
		res = append(res, h.discrete[int(req.Addr)+i])
	}
	return res, nil
}

func (h *handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) (res []uint16, err error) {
	if err := h.enter(req.UnitId); err != nil {
		return nil, err
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if int(req.Addr)+int(req.Quantity) > len(h.holding) {
		return nil, modbus.ErrIllegalDataAddress
	}
	for i := 0; i < int(req.Quantity); i++ {
		if req.IsWrite {
			h.holding[int(req.Addr)+i] = req.Args[i]
		}
		res = append(res, h.holding[int(req.Addr)+i])
	}
	return res, nil
}

func (h *handler) HandleInputRegisters(req *modbus.InputRegistersRequest) (res []uint16, err error) {
	if err := h.enter(req.UnitId); err != nil {
		return nil, err
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if int(req.Addr)+int(req.Quantity) > len(h.input) {
		return nil, modbus.ErrIllegalDataAddress
	}
	for i := 0; i < int(req.Quantity); i++ {
		res = append(res, h.input[int(req.Addr)+i])
	}
	return res, nil
}
