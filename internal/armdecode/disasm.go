package armdecode

import "fmt"

// Disassemble renders a short mnemonic string for instr, using regs to
// resolve load/store addressing when the instruction falls in the
// load/store encoding space DecodeMemoryAccess covers. Anything outside
// that space — the overwhelming majority of an ARM64 program's
// instructions — gets a generic ".word" fallback, mirroring the teacher's
// handling of undecoded opcodes in its per-CPU disassemblers
// (debug_disasm_ie64.go).
//
// This feeds the 64-byte instruction field of a trace row (§4.6 step 2);
// it is not a full disassembler and makes no attempt at operand-accurate
// output for instructions outside the memory-access space.
func Disassemble(instr uint32, gpr [31]uint64, sp uint64, pc uint64) string {
	access := DecodeMemoryAccess(instr, gpr, sp, pc)
	if !access.Valid {
		return fmt.Sprintf(".word 0x%08x", instr)
	}

	rt := instr & 0x1F
	rn := (instr >> 5) & 0x1F
	mnemonic := loadStoreMnemonic(access)

	if access.IsPair {
		rt2 := (instr >> 10) & 0x1F
		return fmt.Sprintf("%s x%d, x%d, [%s, #0x%x]", mnemonic, rt, rt2, regName(rn), access.Address-regOrSP(rn, gpr, sp))
	}
	return fmt.Sprintf("%s x%d, [%s, #0x%x]", mnemonic, rt, regName(rn), access.Address-regOrSP(rn, gpr, sp))
}

func loadStoreMnemonic(a Access) string {
	switch {
	case a.IsPair && a.IsWrite:
		return "stp"
	case a.IsPair:
		return "ldp"
	case a.IsWrite:
		return "str"
	default:
		return "ldr"
	}
}

func regName(n uint32) string {
	if n == 31 {
		return "sp"
	}
	return fmt.Sprintf("x%d", n)
}

func regOrSP(n uint32, gpr [31]uint64, sp uint64) uint64 {
	if n == 31 {
		return sp
	}
	return gpr[n]
}
