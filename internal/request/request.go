// internal/request/request.go
package request

import (
	"fmt"
)

// DefaultMaxTries applies when a blueprint leaves MaxTries at zero.
const DefaultMaxTries = 3

// ConfigurationError reports a blueprint that can never be executed.
// It is returned synchronously by submission calls.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "modbus request: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Read is an immutable read request blueprint.
// It is comparable and can be used as part of a map key.
type Read struct {
	UnitID   uint8
	Function Function
	Address  uint16
	Quantity uint16
	MaxTries int
}

// Tries returns the attempt budget (at least 1).
func (r Read) Tries() int {
	if r.MaxTries <= 0 {
		return DefaultMaxTries
	}
	return r.MaxTries
}

// Validate checks function code, quantity and address range.
func (r Read) Validate() error {
	if !r.Function.IsRead() {
		return configErrorf("function %s is not a read function", r.Function)
	}
	if r.MaxTries < 0 {
		return configErrorf("max tries %d must not be negative", r.MaxTries)
	}
	limit := MaxReadRegisters
	if r.Function.ReadsBits() {
		limit = MaxReadBits
	}
	if r.Quantity == 0 || int(r.Quantity) > limit {
		return configErrorf("%s quantity %d must be between 1 and %d", r.Function, r.Quantity, limit)
	}
	if int(r.Address)+int(r.Quantity) > 0x10000 {
		return configErrorf("%s range %d+%d exceeds address space", r.Function, r.Address, r.Quantity)
	}
	return nil
}

func (r Read) String() string {
	return fmt.Sprintf("%s unit=%d addr=%d qty=%d", r.Function, r.UnitID, r.Address, r.Quantity)
}

// Write is an immutable write request blueprint. Construct it with one of the
// New*Write functions; the payload is copied and only exposed as copies.
type Write struct {
	unitID    uint8
	function  Function
	address   uint16
	coils     []bool
	registers []uint16
	maxTries  int
}

// NewCoilWrite writes coils starting at address. With multiple=false exactly
// one coil is written with FC 5, otherwise FC 15 is used.
func NewCoilWrite(unitID uint8, address uint16, coils []bool, multiple bool) Write {
	fc := WriteMultipleCoils
	if !multiple {
		fc = WriteSingleCoil
	}
	c := make([]bool, len(coils))
	copy(c, coils)
	return Write{unitID: unitID, function: fc, address: address, coils: c}
}

// NewRegisterWrite writes registers starting at address. With multiple=false
// exactly one register is written with FC 6, otherwise FC 16 is used.
func NewRegisterWrite(unitID uint8, address uint16, registers []uint16, multiple bool) Write {
	fc := WriteMultipleRegisters
	if !multiple {
		fc = WriteSingleRegister
	}
	r := make([]uint16, len(registers))
	copy(r, registers)
	return Write{unitID: unitID, function: fc, address: address, registers: r}
}

// WithMaxTries returns a copy with the attempt budget overridden.
func (w Write) WithMaxTries(n int) Write {
	w.maxTries = n
	return w
}

func (w Write) UnitID() uint8      { return w.unitID }
func (w Write) Function() Function { return w.function }
func (w Write) Address() uint16    { return w.address }
func (w Write) MaxTries() int      { return w.maxTries }

// Coils returns a copy of the coil payload.
func (w Write) Coils() []bool {
	out := make([]bool, len(w.coils))
	copy(out, w.coils)
	return out
}

// Registers returns a copy of the register payload.
func (w Write) Registers() []uint16 {
	out := make([]uint16, len(w.registers))
	copy(out, w.registers)
	return out
}

// Quantity returns the number of coils or registers written.
func (w Write) Quantity() int {
	switch w.function {
	case WriteSingleCoil, WriteMultipleCoils:
		return len(w.coils)
	default:
		return len(w.registers)
	}
}

// Tries returns the attempt budget (at least 1).
func (w Write) Tries() int {
	if w.maxTries <= 0 {
		return DefaultMaxTries
	}
	return w.maxTries
}

// Validate rejects empty or oversized payloads and single writes with more than one value.
func (w Write) Validate() error {
	if !w.function.IsWrite() {
		return configErrorf("function %s is not a write function", w.function)
	}
	if w.maxTries < 0 {
		return configErrorf("max tries %d must not be negative", w.maxTries)
	}
	n := w.Quantity()
	if n == 0 {
		return configErrorf("%s with empty payload", w.function)
	}
	switch w.function {
	case WriteSingleCoil, WriteSingleRegister:
		if n != 1 {
			return configErrorf("%s requires exactly one value, got %d", w.function, n)
		}
	case WriteMultipleCoils:
		if n > MaxWriteBits {
			return configErrorf("%s quantity %d exceeds %d", w.function, n, MaxWriteBits)
		}
	case WriteMultipleRegisters:
		if n > MaxWriteRegisters {
			return configErrorf("%s quantity %d exceeds %d", w.function, n, MaxWriteRegisters)
		}
	}
	if int(w.address)+n > 0x10000 {
		return configErrorf("%s range %d+%d exceeds address space", w.function, w.address, n)
	}
	return nil
}

func (w Write) String() string {
	return fmt.Sprintf("%s unit=%d addr=%d qty=%d", w.function, w.unitID, w.address, w.Quantity())
}

// ReadResult carries the payload of a successful read.
// Bits is set for FC 1/2, Registers for FC 3/4.
type ReadResult struct {
	Bits      BitArray
	Registers RegisterArray
}

// WriteAck acknowledges a successful write.
type WriteAck struct {
	Function Function
	Address  uint16
	Quantity int
}
