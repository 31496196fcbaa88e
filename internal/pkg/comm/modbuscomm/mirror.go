package modbuscomm

import (
	"encoding/json"
	"math"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/control"
	"github.com/ohowland/vvc_core/internal/pkg/msg"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	log "github.com/sirupsen/logrus"
)

// MirrorConfig is the JSON configuration of a tap mirror.
type MirrorConfig struct {
	Poller    PollerConfig `json:"Poller"`
	Registers []Register   `json:"Registers"`
}

// Mirror writes tap positions to the field device, one register per regulator.
type Mirror struct {
	client    Client
	registers []Register
}

// New reads a MirrorConfig and returns a Mirror over Modbus TCP.
func New(configPath string) (Mirror, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Mirror{}, err
	}
	cfg := MirrorConfig{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Mirror{}, err
	}
	return NewMirror(NewPoller(cfg.Poller), cfg.Registers), nil
}

func NewMirror(client Client, registers []Register) Mirror {
	return Mirror{client: client, registers: registers}
}

// WriteTaps commands taps. Regulators with no writable register are skipped.
func (m Mirror) WriteTaps(taps map[string]int) error {
	writable := FilterRegisters(m.registers, Register.Writable)
	values := make(map[string]float64)
	for reg, tap := range taps {
		if _, err := findIndexByName(writable, reg); err != nil {
			continue
		}
		values[reg] = float64(tap)
	}
	if len(values) == 0 {
		return nil
	}
	return m.client.Write(writable, values)
}

// ReadTaps polls every readable tap register. Values outside the physical
// tap range are dropped.
func (m Mirror) ReadTaps() (map[string]int, error) {
	values, err := m.client.Read(FilterRegisters(m.registers, Register.Readable))
	taps := make(map[string]int, len(values))
	for reg, v := range values {
		tap := int(math.Round(v))
		if _, ok := network.ClampTap(tap, 0); !ok {
			log.Warnf("[Modbus] %s reports tap %v", reg, v)
			continue
		}
		taps[reg] = tap
	}
	return taps, err
}

// Handler mirrors every committed tap change published on msg.Control.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	mirror Mirror
	stop   chan bool
}

// NewHandler subscribes mirror to the control events of system.
func NewHandler(mirror Mirror, system msg.Publisher) (Handler, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}
	inbox, err := system.Subscribe(pid, msg.Control)
	if err != nil {
		return Handler{}, err
	}

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		mirror: mirror,
		stop:   make(chan bool, 1),
	}, nil
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func (h *Handler) Stop() {
	h.stop <- true
}

func (h Handler) handle(m msg.Msg) {
	e, ok := m.Payload().(control.Event)
	if !ok || e.Severity != control.Normal || e.NewTap == e.OldTap {
		return
	}
	h.mux.Lock()
	defer h.mux.Unlock()
	if err := h.mirror.WriteTaps(map[string]int{e.Regulator: e.NewTap}); err != nil {
		log.WithFields(e.Fields()).Warnf("[Modbus] write failed: %v", err)
	}
}

func (h Handler) Process() {
	log.Println("[Modbus] Process Started")
loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			h.handle(m)
		case <-h.stop:
			break loop
		}
	}
	log.Println("[Modbus] Process Shutdown")
}
