package modbuscomm

import (
	"encoding/binary"
	stdlog "log"
	"math"
	"time"

	"github.com/goburrow/modbus"
	log "github.com/sirupsen/logrus"
)

// Poller is a Modbus TCP Client. Every Read and Write opens and closes its
// own connection.
type Poller struct {
	handler *modbus.TCPClientHandler
}

// PollerConfig is the configuration format for Poller
type PollerConfig struct {
	IPAddr       string `json:"IPAddr"`
	Port         string `json:"Port"`
	SlaveID      byte   `json:"SlaveID"`
	Timeout      int    `json:"Timeout"` // ms
	EnableLogger bool   `json:"EnableLogger"`
}

// NewPoller is a factory for the Poller struct
func NewPoller(cfg PollerConfig) Poller {
	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = time.Millisecond * time.Duration(cfg.Timeout)
	handler.SlaveId = cfg.SlaveID

	if cfg.EnableLogger {
		handler.Logger = stdlog.New(log.StandardLogger().WriterLevel(log.DebugLevel), "modbus: ", 0)
	}
	return Poller{handler: handler}
}

func (m Poller) Read(registers []Register) (map[string]float64, error) {
	err := m.handler.Connect()
	if err != nil {
		return nil, err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	readValues := make(map[string]float64)
	for _, register := range registers {
		resp, readErr := client.ReadHoldingRegisters(register.Address, sizeOf(register.DataType))
		if readErr != nil {
			err = readErr
			continue
		}
		readValues[register.Name] = decode(resp, register)
	}
	return readValues, err
}

func (m Poller) Write(registers []Register, writeValues map[string]float64) error {
	err := m.handler.Connect()
	if err != nil {
		return err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	for name, val := range writeValues {
		i, writeErr := findIndexByName(registers, name)
		if writeErr != nil {
			err = writeErr
			continue
		}
		valBytes := encode(val, registers[i])
		if _, writeErr = client.WriteMultipleRegisters(registers[i].Address, sizeOf(registers[i].DataType), valBytes); writeErr != nil {
			err = writeErr
		}
	}
	return err
}

// encode converts a value into register bytes. Integer types truncate.
func encode(val float64, register Register) []byte {
	endian := byteOrder(register.Endianness)
	bytes := make([]byte, 2*sizeOf(register.DataType))
	switch register.DataType {
	case u16:
		endian.PutUint16(bytes, uint16(val))
	case i16:
		endian.PutUint16(bytes, uint16(int16(val)))
	case u32:
		endian.PutUint32(bytes, uint32(val))
	case i32:
		endian.PutUint32(bytes, uint32(int32(val)))
	case f32:
		endian.PutUint32(bytes, math.Float32bits(float32(val)))
	}
	return bytes
}

// decode converts register bytes into a value
func decode(bytes []byte, register Register) float64 {
	endian := byteOrder(register.Endianness)
	switch register.DataType {
	case u16:
		return float64(endian.Uint16(bytes))
	case i16:
		return float64(int16(endian.Uint16(bytes)))
	case u32:
		return float64(endian.Uint32(bytes))
	case i32:
		return float64(int32(endian.Uint32(bytes)))
	case f32:
		return float64(math.Float32frombits(endian.Uint32(bytes)))
	}
	return 0
}

func byteOrder(e Endian) binary.ByteOrder {
	if e == littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// sizeOf returns the number of u16 registers for the datatype
func sizeOf(t DataType) uint16 {
	switch t {
	case u16, i16:
		return 1
	case u32, i32, f32:
		return 2
	}
	return 0
}
