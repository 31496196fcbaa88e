/*
comm.go Modbus register model. Tap positions are mirrored to field regulator
controllers as signed holding registers, one register per regulator, named
after the regulator control.
*/

package modbuscomm

import "errors"

// ErrNoRegister is returned when a register name is not in the map.
var ErrNoRegister = errors.New("register name not found in register array")

// Client reads and writes named registers on one device.
type Client interface {
	Read([]Register) (map[string]float64, error)
	Write([]Register, map[string]float64) error
}

// DataType defines the type of Modbus register for encoding/decoding
type DataType string

const (
	u16 DataType = "u16"
	u32 DataType = "u32"
	i16 DataType = "i16"
	i32 DataType = "i32"
	f32 DataType = "f32"
)

// Access is the register read/write type
type Access string

const (
	ro Access = "read-only"
	wo Access = "write-only"
	rw Access = "read-write"
)

// Endian byte order of Modbus register for encoding/decoding
type Endian string

const (
	littleEndian Endian = "little"
	bigEndian    Endian = "big"
)

// Register contains the data required to read and write a Modbus register
type Register struct {
	Name         string   `json:"Name"`
	Address      uint16   `json:"Address"`
	DataType     DataType `json:"DataType"`
	FunctionCode int      `json:"FunctionCode"`
	AccessType   Access   `json:"Access"`
	Endianness   Endian   `json:"Endianness"`
}

// Readable reports whether the register may be polled.
func (r Register) Readable() bool {
	return r.AccessType == ro || r.AccessType == rw
}

// Writable reports whether the register may be commanded.
func (r Register) Writable() bool {
	return r.AccessType == wo || r.AccessType == rw
}

// FilterRegisters returns the registers for which keep is true.
func FilterRegisters(regs []Register, keep func(Register) bool) []Register {
	filtered := make([]Register, 0)
	for _, reg := range regs {
		if keep(reg) {
			filtered = append(filtered, reg)
		}
	}
	return filtered
}

// findIndexByName returns the index of the named register, or -1.
func findIndexByName(registers []Register, name string) (int, error) {
	for index, register := range registers {
		if register.Name == name {
			return index, nil
		}
	}
	return -1, ErrNoRegister
}
