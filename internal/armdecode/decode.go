// Package armdecode implements C1: a pure, stateless decoder that turns a
// 32-bit AArch64 instruction plus a register snapshot into the effective
// memory address(es) it touches, per spec §4.1. It has no state and no
// dependency on any other component; the single-step orchestrator and the
// watchpoint-hit reporter are its only callers.
package armdecode

// Access describes the memory access (if any) a single AArch64 instruction
// makes, given the register values at the moment it executes.
type Access struct {
	Valid    bool   // false for every instruction outside the load/store space
	Address  uint64 // effective address of the (first) access
	Size     int    // access width in bytes
	IsWrite  bool   // true for stores, false for loads
	IsPair   bool   // true for STP/LDP and their exclusive-pair forms
	Address2 uint64 // second address when IsPair; Address+Size otherwise unset
}

// Extend types used by the register-offset addressing form.
type extendType int

const (
	extUXTW extendType = iota
	extLSL             // == UXTX: use the 64-bit register unmodified
	extSXTW
	extSXTX // == LSL on a 64-bit register, explicit "no sign change" spelling
)

// DecodeMemoryAccess decodes instr and reports the memory access it would
// perform, using gpr[0..30] for X0..X30, sp for the stack pointer, and pc
// for the program counter (reserved for PC-relative forms; the load/store
// classes this decoder covers are all register- or immediate-relative, so
// pc is unused today but kept in the signature to match the ARM64 decoder
// contract other components call against).
func DecodeMemoryAccess(instr uint32, gpr [31]uint64, sp uint64, pc uint64) Access {
	_ = pc

	reg := func(n uint32, spContext bool) uint64 {
		if n == 31 {
			if spContext {
				return sp
			}
			return 0
		}
		return gpr[n]
	}

	switch {
	case isLoadStoreExclusive(instr):
		return decodeExclusive(instr, reg)
	case isLoadStorePair(instr):
		return decodePair(instr, reg)
	case isLoadStoreUnsignedImm(instr):
		return decodeUnsignedImm(instr, reg)
	case isLoadStoreUnscaledOrRegOffset(instr):
		if instr&(1<<21) != 0 {
			return decodeRegisterOffset(instr, reg)
		}
		return decodeUnscaledOrIndexed(instr, reg)
	default:
		return Access{Valid: false}
	}
}

func isLoadStoreExclusive(instr uint32) bool {
	return (instr>>24)&0x3F == 0x08
}

func isLoadStorePair(instr uint32) bool {
	return (instr>>27)&0x7 == 0x5 && (instr>>25)&0x1 == 0
}

func isLoadStoreUnsignedImm(instr uint32) bool {
	return (instr>>27)&0x7 == 0x7 && (instr>>24)&0x3 == 0x1
}

func isLoadStoreUnscaledOrRegOffset(instr uint32) bool {
	return (instr>>27)&0x7 == 0x7 && (instr>>24)&0x3 == 0x0
}

// decodeExclusive handles LDXR/STXR and LDXP/STXP (spec §4.1).
func decodeExclusive(instr uint32, reg func(uint32, bool) uint64) Access {
	sizeField := (instr >> 30) & 0x3
	isPair := (instr>>21)&0x1 != 0
	load := (instr>>22)&0x1 != 0
	rn := (instr >> 5) & 0x1F

	size := 1 << sizeField
	addr := reg(rn, true)

	a := Access{
		Valid:   true,
		Address: addr,
		Size:    size,
		IsWrite: !load,
		IsPair:  isPair,
	}
	if isPair {
		a.Address2 = addr + uint64(size)
	}
	return a
}

// decodePair handles STP/LDP, including STNP/LDNP and the post/pre-index
// writeback forms (spec §4.1).
func decodePair(instr uint32, reg func(uint32, bool) uint64) Access {
	opc := (instr >> 30) & 0x3
	v := (instr>>26)&0x1 != 0
	variant := (instr >> 23) & 0x3 // 00 no-writeback(NP), 01 post-index, 10 offset, 11 pre-index
	load := (instr>>22)&0x1 != 0
	imm7 := signExtend((instr>>15)&0x7F, 7)
	rn := (instr >> 5) & 0x1F

	var size int
	switch {
	case v:
		if opc == 0 {
			size = 4
		} else {
			size = 4 << opc
		}
	case opc == 0x2:
		size = 8
	default:
		size = 4
	}

	base := reg(rn, true)
	offset := imm7 * int64(size)

	var addr uint64
	switch variant {
	case 0b11: // pre-index
		addr = uint64(int64(base) + offset)
	case 0b01: // post-index
		addr = base
	default: // 0b00 (no-writeback/non-temporal), 0b10 (signed offset)
		addr = uint64(int64(base) + offset)
	}

	return Access{
		Valid:    true,
		Address:  addr,
		Size:     size,
		IsWrite:  !load,
		IsPair:   true,
		Address2: addr + uint64(size),
	}
}

// decodeUnsignedImm handles LDR/STR (immediate) with a scaled 12-bit
// unsigned offset (spec §4.1, bit[24]=1 encoding).
func decodeUnsignedImm(instr uint32, reg func(uint32, bool) uint64) Access {
	sizeField := (instr >> 30) & 0x3
	v := (instr>>26)&0x1 != 0
	opc := (instr >> 22) & 0x3
	imm12 := uint64((instr >> 10) & 0xFFF)
	rn := (instr >> 5) & 0x1F

	size := loadStoreSize(sizeField, v, opc)
	scale := uint(sizeField)
	if size == 16 {
		scale = 4 // 128-bit Q register form
	}
	addr := reg(rn, true) + (imm12 << scale)

	return Access{
		Valid:   true,
		Address: addr,
		Size:    size,
		IsWrite: isWrite(v, opc),
	}
}

// decodeUnscaledOrIndexed handles LDUR/STUR and the post/pre-indexed and
// unprivileged forms, all sharing a 9-bit signed immediate (spec §4.1).
func decodeUnscaledOrIndexed(instr uint32, reg func(uint32, bool) uint64) Access {
	sizeField := (instr >> 30) & 0x3
	v := (instr>>26)&0x1 != 0
	opc := (instr >> 22) & 0x3
	imm9 := signExtend((instr>>12)&0x1FF, 9)
	indexMode := (instr >> 10) & 0x3 // 00 unscaled, 01 post-index, 10 unprivileged, 11 pre-index
	rn := (instr >> 5) & 0x1F

	size := loadStoreSize(sizeField, v, opc)
	base := reg(rn, true)

	var addr uint64
	switch indexMode {
	case 0b01: // post-indexed: base is the effective address
		addr = base
	case 0b11: // pre-indexed: add before access
		addr = uint64(int64(base) + imm9)
	default: // 0b00 unscaled, 0b10 unprivileged
		addr = uint64(int64(base) + imm9)
	}

	return Access{
		Valid:   true,
		Address: addr,
		Size:    size,
		IsWrite: isWrite(v, opc),
	}
}

// decodeRegisterOffset handles LDR/STR (register offset) with optional
// UXTW/SXTW/SXTX extension and optional shift by the access scale
// (spec §4.1).
func decodeRegisterOffset(instr uint32, reg func(uint32, bool) uint64) Access {
	sizeField := (instr >> 30) & 0x3
	v := (instr>>26)&0x1 != 0
	opc := (instr >> 22) & 0x3
	rm := (instr >> 16) & 0x1F
	option := (instr >> 13) & 0x7
	shiftBit := (instr>>12)&0x1 != 0
	rn := (instr >> 5) & 0x1F

	size := loadStoreSize(sizeField, v, opc)

	rmVal := reg(rm, false)
	offset := extendRegister(rmVal, option)
	if shiftBit {
		scale := uint(sizeField)
		if size == 16 {
			scale = 4 // 128-bit Q register form
		}
		offset <<= scale
	}

	addr := reg(rn, true) + offset

	return Access{
		Valid:   true,
		Address: addr,
		Size:    size,
		IsWrite: isWrite(v, opc),
	}
}

func extendRegister(val uint64, option uint32) uint64 {
	switch option {
	case 0b010: // UXTW
		return uint64(uint32(val))
	case 0b110: // SXTW
		return uint64(int64(int32(uint32(val))))
	case 0b011, 0b111: // LSL (UXTX) / SXTX: use the 64-bit register as-is
		return val
	default:
		// Not a legal encoding for this instruction class; fall back to
		// the raw 64-bit value rather than guessing at sign extension.
		return val
	}
}

func loadStoreSize(sizeField uint32, v bool, opc uint32) int {
	if v && opc >= 2 && sizeField == 0 {
		return 16 // 128-bit Q register form
	}
	return 1 << sizeField
}

// isWrite reports whether opc (in the context of the V bit) selects a
// store. For general-purpose registers opc==0 is always the store form;
// non-zero values are all loads (zero-extending, or sign-extending to X
// or W). For FP/SIMD registers opc is even for stores (including the
// 128-bit store form) and odd for loads.
func isWrite(v bool, opc uint32) bool {
	if v {
		return opc&0x1 == 0
	}
	return opc == 0
}

func signExtend(val uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(val<<shift)) >> shift
}
