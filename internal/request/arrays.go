// internal/request/arrays.go
package request

import "fmt"

// BitArray is a fixed-length read-only view over bits returned by a read.
type BitArray struct {
	bits []bool
}

// NewBitArray copies bits into a new array.
func NewBitArray(bits ...bool) BitArray {
	out := make([]bool, len(bits))
	copy(out, bits)
	return BitArray{bits: out}
}

// Len returns the number of bits.
func (a BitArray) Len() int { return len(a.bits) }

// Get returns bit i. Indexing out of range panics.
func (a BitArray) Get(i int) bool {
	if i < 0 || i >= len(a.bits) {
		panic(fmt.Sprintf("request: bit index %d out of range [0,%d)", i, len(a.bits)))
	}
	return a.bits[i]
}

// Bits returns a copy of the bits.
func (a BitArray) Bits() []bool {
	out := make([]bool, len(a.bits))
	copy(out, a.bits)
	return out
}

func (a BitArray) String() string {
	b := make([]byte, len(a.bits))
	for i, v := range a.bits {
		if v {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

// RegisterArray is a fixed-length read-only view over 16-bit registers.
type RegisterArray struct {
	regs []uint16
}

// NewRegisterArray copies regs into a new array.
func NewRegisterArray(regs ...uint16) RegisterArray {
	out := make([]uint16, len(regs))
	copy(out, regs)
	return RegisterArray{regs: out}
}

// Len returns the number of registers.
func (a RegisterArray) Len() int { return len(a.regs) }

// Get returns register i. Indexing out of range panics.
func (a RegisterArray) Get(i int) uint16 {
	if i < 0 || i >= len(a.regs) {
		panic(fmt.Sprintf("request: register index %d out of range [0,%d)", i, len(a.regs)))
	}
	return a.regs[i]
}

// Registers returns a copy of the registers.
func (a RegisterArray) Registers() []uint16 {
	out := make([]uint16, len(a.regs))
	copy(out, a.regs)
	return out
}

// ---- wire geometry helpers ----

// UnpackBits expands count LSB-first packed bits.
// Missing trailing bytes read as false.
func UnpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			continue
		}
		out[i] = data[byteIdx]&(1<<(i%8)) != 0
	}
	return out
}

// UnpackRegisters decodes big-endian register pairs.
func UnpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

// PackBits packs bits LSB-first as in Modbus coil payloads.
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, v := range bits {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// PackRegisters encodes registers in Modbus memory order (big-endian).
func PackRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
