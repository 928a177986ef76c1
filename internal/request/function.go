// internal/request/function.go
package request

import "fmt"

// Function is a Modbus function code.
type Function uint8

const (
	ReadCoils              Function = 0x01
	ReadDiscreteInputs     Function = 0x02
	ReadHoldingRegisters   Function = 0x03
	ReadInputRegisters     Function = 0x04
	WriteSingleCoil        Function = 0x05
	WriteSingleRegister    Function = 0x06
	WriteMultipleCoils     Function = 0x0F
	WriteMultipleRegisters Function = 0x10
)

// Protocol limits per request (Modbus application protocol v1.1b3).
const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteBits      = 1968
	MaxWriteRegisters = 123
)

func (f Function) String() string {
	switch f {
	case ReadCoils:
		return "read_coils"
	case ReadDiscreteInputs:
		return "read_discrete_inputs"
	case ReadHoldingRegisters:
		return "read_holding_registers"
	case ReadInputRegisters:
		return "read_input_registers"
	case WriteSingleCoil:
		return "write_single_coil"
	case WriteSingleRegister:
		return "write_single_register"
	case WriteMultipleCoils:
		return "write_multiple_coils"
	case WriteMultipleRegisters:
		return "write_multiple_registers"
	default:
		return fmt.Sprintf("fc(%d)", uint8(f))
	}
}

// IsRead reports whether f is one of the four read functions.
func (f Function) IsRead() bool {
	return f >= ReadCoils && f <= ReadInputRegisters
}

// IsWrite reports whether f is one of the four write functions.
func (f Function) IsWrite() bool {
	switch f {
	case WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters:
		return true
	}
	return false
}

// ReadsBits reports whether a read function returns bits (FC 1, 2).
func (f Function) ReadsBits() bool {
	return f == ReadCoils || f == ReadDiscreteInputs
}
