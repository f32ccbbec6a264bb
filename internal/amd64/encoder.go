// Package amd64 turns verified IR into x86-64 machine code. The encoder
// below covers exactly the instruction subset the code generator emits;
// it is not a general assembler.
package amd64

import (
	"encoding/binary"

	"fortio.org/safecast"

	"forge/internal/debug"
)

// Reg is a general purpose register number, RAX through R15.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// XReg is an SSE register number, XMM0 through XMM15.
type XReg uint8

const (
	X0 XReg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
)

// Cond is a condition code, the low nibble of the 0F 8x / 0F 9x opcodes.
type Cond uint8

const (
	CondO  Cond = 0x0
	CondB  Cond = 0x2 // unsigned <
	CondAE Cond = 0x3 // unsigned >=
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6 // unsigned <=
	CondA  Cond = 0x7 // unsigned >
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xA
	CondNP Cond = 0xB
	CondL  Cond = 0xC
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// Label names a forward or backward jump target inside one Assembler.
type Label int

type fixup struct {
	at    int // offset of the rel32 field
	label Label
}

// Assembler accumulates encoded instructions and resolves labels to
// rel32 displacements when Finish is called.
type Assembler struct {
	Code   []byte
	labels []int // Label -> code offset, -1 while unbound
	fixups []fixup
}

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Bind places l at the current offset.
func (a *Assembler) Bind(l Label) {
	debug.Assert(a.labels[l] == -1, "label %d bound twice", l)
	a.labels[l] = len(a.Code)
}

// Finish patches every recorded rel32 against its bound label.
func (a *Assembler) Finish() {
	for _, f := range a.fixups {
		target := a.labels[f.label]
		debug.Assert(target >= 0, "label %d never bound", f.label)
		rel, err := safecast.Conv[int32](target - (f.at + 4))
		debug.Assert(err == nil, "jump displacement overflows rel32: %v", err)
		binary.LittleEndian.PutUint32(a.Code[f.at:], uint32(rel))
	}
	a.fixups = a.fixups[:0]
}

// Here returns the current code offset.
func (a *Assembler) Here() int { return len(a.Code) }

func (a *Assembler) byte(b byte)     { a.Code = append(a.Code, b) }
func (a *Assembler) bytes(b ...byte) { a.Code = append(a.Code, b...) }

func (a *Assembler) u32(v uint32) {
	a.Code = append(a.Code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *Assembler) u64(v uint64) {
	a.u32(uint32(v))
	a.u32(uint32(v >> 32))
}

// rex emits a REX prefix. w selects 64-bit operand size; r, x, b extend
// the reg, index and rm fields.
func (a *Assembler) rex(w bool, r, x, b uint8) {
	p := byte(0x40)
	if w {
		p |= 8
	}
	p |= (r & 8) >> 1
	p |= (x & 8) >> 2
	p |= (b & 8) >> 3
	if p != 0x40 || w {
		a.byte(p)
	}
}

// rexOpt emits a REX prefix only when one of its bits is needed.
func (a *Assembler) rexOpt(w bool, r, x, b uint8) {
	p := byte(0x40)
	if w {
		p |= 8
	}
	p |= (r & 8) >> 1
	p |= (x & 8) >> 2
	p |= (b & 8) >> 3
	if p != 0x40 {
		a.byte(p)
	}
}

func (a *Assembler) modrm(mod, reg, rm uint8) {
	a.byte(mod<<6 | (reg&7)<<3 | rm&7)
}

// mem emits the ModRM/SIB/disp bytes for reg, [base+disp].
func (a *Assembler) mem(reg uint8, base Reg, disp int32) {
	rm := uint8(base) & 7
	needSIB := rm == 4 // RSP/R12 require a SIB byte
	switch {
	case disp == 0 && rm != 5: // RBP/R13 cannot use mod=00
		a.modrm(0, reg, rm)
		if needSIB {
			a.byte(0x24)
		}
	case disp >= -128 && disp <= 127:
		a.modrm(1, reg, rm)
		if needSIB {
			a.byte(0x24)
		}
		a.byte(byte(disp))
	default:
		a.modrm(2, reg, rm)
		if needSIB {
			a.byte(0x24)
		}
		a.u32(uint32(disp))
	}
}

// ---- moves ----

// MovRegImm64 is mov r64, imm64.
func (a *Assembler) MovRegImm64(r Reg, imm uint64) {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0xB8 + byte(r&7))
	a.u64(imm)
}

// MovRegImm32 is mov r32, imm32 (zero-extends).
func (a *Assembler) MovRegImm32(r Reg, imm uint32) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0xB8 + byte(r&7))
	a.u32(imm)
}

// MovRegReg is mov r64, r64.
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.rex(true, uint8(src), 0, uint8(dst))
	a.byte(0x89)
	a.modrm(3, uint8(src), uint8(dst))
}

// Load is mov r, [base+disp] at the given width in bytes (1, 2, 4, 8).
// Widths below 8 zero-extend into the full register.
func (a *Assembler) Load(dst Reg, base Reg, disp int32, width int) {
	switch width {
	case 1: // movzx r64, byte
		a.rex(true, uint8(dst), 0, uint8(base))
		a.bytes(0x0F, 0xB6)
		a.mem(uint8(dst), base, disp)
	case 2: // movzx r64, word
		a.rex(true, uint8(dst), 0, uint8(base))
		a.bytes(0x0F, 0xB7)
		a.mem(uint8(dst), base, disp)
	case 4: // mov r32, m32 zero-extends
		a.rexOpt(false, uint8(dst), 0, uint8(base))
		a.byte(0x8B)
		a.mem(uint8(dst), base, disp)
	case 8:
		a.rex(true, uint8(dst), 0, uint8(base))
		a.byte(0x8B)
		a.mem(uint8(dst), base, disp)
	default:
		debug.Unreachable("load width %d", width)
	}
}

// LoadSigned is mov r, [base+disp] sign-extended to 64 bits.
func (a *Assembler) LoadSigned(dst Reg, base Reg, disp int32, width int) {
	switch width {
	case 1:
		a.rex(true, uint8(dst), 0, uint8(base))
		a.bytes(0x0F, 0xBE)
		a.mem(uint8(dst), base, disp)
	case 2:
		a.rex(true, uint8(dst), 0, uint8(base))
		a.bytes(0x0F, 0xBF)
		a.mem(uint8(dst), base, disp)
	case 4: // movsxd
		a.rex(true, uint8(dst), 0, uint8(base))
		a.byte(0x63)
		a.mem(uint8(dst), base, disp)
	case 8:
		a.Load(dst, base, disp, 8)
	default:
		debug.Unreachable("signed load width %d", width)
	}
}

// Store is mov [base+disp], r at the given width in bytes.
func (a *Assembler) Store(base Reg, disp int32, src Reg, width int) {
	switch width {
	case 1:
		// SPL/BPL/SIL/DIL need a REX even without extension bits.
		if src >= RSP && src <= RDI {
			a.byte(0x40)
		} else {
			a.rexOpt(false, uint8(src), 0, uint8(base))
		}
		a.byte(0x88)
		a.mem(uint8(src), base, disp)
	case 2:
		a.byte(0x66)
		a.rexOpt(false, uint8(src), 0, uint8(base))
		a.byte(0x89)
		a.mem(uint8(src), base, disp)
	case 4:
		a.rexOpt(false, uint8(src), 0, uint8(base))
		a.byte(0x89)
		a.mem(uint8(src), base, disp)
	case 8:
		a.rex(true, uint8(src), 0, uint8(base))
		a.byte(0x89)
		a.mem(uint8(src), base, disp)
	default:
		debug.Unreachable("store width %d", width)
	}
}

// Xchg is xchg [base+disp], r64; an implicitly locked store with a full
// barrier, used for sequentially consistent stores.
func (a *Assembler) Xchg(base Reg, disp int32, src Reg, width int) {
	switch width {
	case 4:
		a.rexOpt(false, uint8(src), 0, uint8(base))
	case 8:
		a.rex(true, uint8(src), 0, uint8(base))
	default:
		debug.Unreachable("xchg width %d", width)
	}
	a.byte(0x87)
	a.mem(uint8(src), base, disp)
}

// Lea is lea r64, [base+disp].
func (a *Assembler) Lea(dst Reg, base Reg, disp int32) {
	a.rex(true, uint8(dst), 0, uint8(base))
	a.byte(0x8D)
	a.mem(uint8(dst), base, disp)
}

// ---- 64-bit ALU, register forms ----

type aluOp byte

const (
	aAdd aluOp = 0x01
	aOr  aluOp = 0x09
	aAnd aluOp = 0x21
	aSub aluOp = 0x29
	aXor aluOp = 0x31
	aCmp aluOp = 0x39
)

func (a *Assembler) alu(op aluOp, dst, src Reg) {
	a.rex(true, uint8(src), 0, uint8(dst))
	a.byte(byte(op))
	a.modrm(3, uint8(src), uint8(dst))
}

func (a *Assembler) Add(dst, src Reg) { a.alu(aAdd, dst, src) }
func (a *Assembler) Sub(dst, src Reg) { a.alu(aSub, dst, src) }
func (a *Assembler) And(dst, src Reg) { a.alu(aAnd, dst, src) }
func (a *Assembler) Or(dst, src Reg)  { a.alu(aOr, dst, src) }
func (a *Assembler) Xor(dst, src Reg) { a.alu(aXor, dst, src) }
func (a *Assembler) Cmp(dst, src Reg) { a.alu(aCmp, dst, src) }

// AddImm is add r64, imm32 (sign-extended).
func (a *Assembler) AddImm(dst Reg, imm int32) {
	a.rex(true, 0, 0, uint8(dst))
	a.byte(0x81)
	a.modrm(3, 0, uint8(dst))
	a.u32(uint32(imm))
}

// SubImm is sub r64, imm32 (sign-extended).
func (a *Assembler) SubImm(dst Reg, imm int32) {
	a.rex(true, 0, 0, uint8(dst))
	a.byte(0x81)
	a.modrm(3, 5, uint8(dst))
	a.u32(uint32(imm))
}

// AndImm is and r64, imm32 (sign-extended).
func (a *Assembler) AndImm(dst Reg, imm int32) {
	a.rex(true, 0, 0, uint8(dst))
	a.byte(0x81)
	a.modrm(3, 4, uint8(dst))
	a.u32(uint32(imm))
}

// CmpImm is cmp r64, imm32 (sign-extended).
func (a *Assembler) CmpImm(r Reg, imm int32) {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0x81)
	a.modrm(3, 7, uint8(r))
	a.u32(uint32(imm))
}

// Mfence is a full memory barrier.
func (a *Assembler) Mfence() { a.bytes(0x0F, 0xAE, 0xF0) }

// Imul is imul r64, r64.
func (a *Assembler) Imul(dst, src Reg) {
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0F, 0xAF)
	a.modrm(3, uint8(dst), uint8(src))
}

// ImulImm is imul r64, r64, imm32.
func (a *Assembler) ImulImm(dst, src Reg, imm int32) {
	a.rex(true, uint8(dst), 0, uint8(src))
	a.byte(0x69)
	a.modrm(3, uint8(dst), uint8(src))
	a.u32(uint32(imm))
}

// Cqo sign-extends RAX into RDX:RAX.
func (a *Assembler) Cqo() { a.bytes(0x48, 0x99) }

// Idiv divides RDX:RAX by r64 signed; quotient RAX, remainder RDX.
func (a *Assembler) Idiv(r Reg) {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0xF7)
	a.modrm(3, 7, uint8(r))
}

// Div divides RDX:RAX by r64 unsigned.
func (a *Assembler) Div(r Reg) {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0xF7)
	a.modrm(3, 6, uint8(r))
}

// shift group: /4 shl, /5 shr, /7 sar, count in CL.
func (a *Assembler) shift(sub uint8, dst Reg) {
	a.rex(true, 0, 0, uint8(dst))
	a.byte(0xD3)
	a.modrm(3, sub, uint8(dst))
}

func (a *Assembler) ShlCL(dst Reg) { a.shift(4, dst) }
func (a *Assembler) ShrCL(dst Reg) { a.shift(5, dst) }
func (a *Assembler) SarCL(dst Reg) { a.shift(7, dst) }

// ShrImm is shr r64, imm8.
func (a *Assembler) ShrImm(dst Reg, imm byte) {
	a.rex(true, 0, 0, uint8(dst))
	a.byte(0xC1)
	a.modrm(3, 5, uint8(dst))
	a.byte(imm)
}

// Test is test r64, r64.
func (a *Assembler) Test(x, y Reg) {
	a.rex(true, uint8(y), 0, uint8(x))
	a.byte(0x85)
	a.modrm(3, uint8(y), uint8(x))
}

// Setcc is setcc r8; callers movzx afterwards.
func (a *Assembler) Setcc(cc Cond, dst Reg) {
	// SPL..DIL and R8b..R15b need a REX byte to be addressable.
	if dst >= R8 {
		a.byte(0x41)
	} else if dst >= RSP {
		a.byte(0x40)
	}
	a.bytes(0x0F, 0x90+byte(cc))
	a.modrm(3, 0, uint8(dst))
}

// MovzxByte is movzx r64, r8.
func (a *Assembler) MovzxByte(dst, src Reg) {
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0F, 0xB6)
	a.modrm(3, uint8(dst), uint8(src))
}

// Cmovcc is cmovcc r64, r64.
func (a *Assembler) Cmovcc(cc Cond, dst, src Reg) {
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0F, 0x40+byte(cc))
	a.modrm(3, uint8(dst), uint8(src))
}

// ---- control flow ----

// Jmp emits jmp rel32 to l.
func (a *Assembler) Jmp(l Label) {
	a.byte(0xE9)
	a.fixups = append(a.fixups, fixup{at: len(a.Code), label: l})
	a.u32(0)
}

// Jcc emits jcc rel32 to l.
func (a *Assembler) Jcc(cc Cond, l Label) {
	a.bytes(0x0F, 0x80+byte(cc))
	a.fixups = append(a.fixups, fixup{at: len(a.Code), label: l})
	a.u32(0)
}

// CallReg is call r64.
func (a *Assembler) CallReg(r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0xFF)
	a.modrm(3, 2, uint8(r))
}

func (a *Assembler) Ret() { a.byte(0xC3) }
func (a *Assembler) Ud2() { a.bytes(0x0F, 0x0B) }

func (a *Assembler) Push(r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0x50 + byte(r&7))
}

func (a *Assembler) Pop(r Reg) {
	a.rexOpt(false, 0, 0, uint8(r))
	a.byte(0x58 + byte(r&7))
}

// ---- SSE scalar and packed ----

// ssePrefix values select the instruction family.
const (
	pNone = 0x00 // packed single (ps)
	pData = 0x66 // packed double / integer (pd, dq)
	pSD   = 0xF2 // scalar double (sd)
	pSS   = 0xF3 // scalar single (ss)
)

// sseRR emits prefix 0F opcode with two XMM register operands.
func (a *Assembler) sseRR(prefix byte, opcode byte, dst, src XReg) {
	if prefix != pNone {
		a.byte(prefix)
	}
	a.rexOpt(false, uint8(dst), 0, uint8(src))
	a.bytes(0x0F, opcode)
	a.modrm(3, uint8(dst), uint8(src))
}

// sseRM emits prefix 0F opcode with an XMM destination and memory source.
func (a *Assembler) sseRM(prefix byte, opcode byte, dst XReg, base Reg, disp int32) {
	if prefix != pNone {
		a.byte(prefix)
	}
	a.rexOpt(false, uint8(dst), 0, uint8(base))
	a.bytes(0x0F, opcode)
	a.mem(uint8(dst), base, disp)
}

// sse4RR emits a three-byte 66 0F 38 opcode with register operands.
func (a *Assembler) sse4RR(opcode byte, dst, src XReg) {
	a.byte(0x66)
	a.rexOpt(false, uint8(dst), 0, uint8(src))
	a.bytes(0x0F, 0x38, opcode)
	a.modrm(3, uint8(dst), uint8(src))
}

// XLoad is movdqu x, [base+disp] (16 bytes).
func (a *Assembler) XLoad(dst XReg, base Reg, disp int32) {
	a.sseRM(pSS, 0x6F, dst, base, disp)
}

// XStore is movdqu [base+disp], x.
func (a *Assembler) XStore(base Reg, disp int32, src XReg) {
	a.byte(pSS)
	a.rexOpt(false, uint8(src), 0, uint8(base))
	a.bytes(0x0F, 0x7F)
	a.mem(uint8(src), base, disp)
}

// XLoadScalar loads a 4- or 8-byte scalar into x (movss/movsd).
func (a *Assembler) XLoadScalar(dst XReg, base Reg, disp int32, width int) {
	if width == 8 {
		a.sseRM(pSD, 0x10, dst, base, disp)
	} else {
		a.sseRM(pSS, 0x10, dst, base, disp)
	}
}

// XStoreScalar stores the low 4 or 8 bytes of x.
func (a *Assembler) XStoreScalar(base Reg, disp int32, src XReg, width int) {
	prefix := byte(pSS)
	if width == 8 {
		prefix = pSD
	}
	a.byte(prefix)
	a.rexOpt(false, uint8(src), 0, uint8(base))
	a.bytes(0x0F, 0x11)
	a.mem(uint8(src), base, disp)
}

// FloatOp emits a two-operand scalar or packed float operation:
// opcode 0x58 add, 0x5C sub, 0x59 mul, 0x5E div, 0x5D min, 0x5F max,
// 0x51 sqrt, with the prefix choosing ss/sd/ps.
func (a *Assembler) FloatOp(prefix byte, opcode byte, dst, src XReg) {
	a.sseRR(prefix, opcode, dst, src)
}

// Ucomis compares scalar floats and sets ZF/PF/CF.
func (a *Assembler) Ucomis(x, y XReg, width int) {
	if width == 8 {
		a.sseRR(pData, 0x2E, x, y)
	} else {
		a.sseRR(pNone, 0x2E, x, y)
	}
}

// Cmpps is cmpps/cmppd x, y, imm; the packed compare producing lane masks.
func (a *Assembler) Cmpps(dst, src XReg, pred byte, double bool) {
	prefix := byte(pNone)
	if double {
		prefix = pData
	}
	a.sseRR(prefix, 0xC2, dst, src)
	a.byte(pred)
}

// IntOp emits a 66 0F packed integer operation (paddd, pxor, ...).
func (a *Assembler) IntOp(opcode byte, dst, src XReg) {
	a.sseRR(pData, opcode, dst, src)
}

// IntOp38 emits a 66 0F 38 packed integer operation (pmulld, pmaxsd, ...).
func (a *Assembler) IntOp38(opcode byte, dst, src XReg) {
	a.sse4RR(opcode, dst, src)
}

// PShiftImm emits a packed shift by immediate: group 0x71 (words),
// 0x72 (dwords), 0x73 (qwords) with /2 srl, /4 sra, /6 sll.
func (a *Assembler) PShiftImm(group byte, sub uint8, dst XReg, imm byte) {
	a.byte(pData)
	a.rexOpt(false, 0, 0, uint8(dst))
	a.bytes(0x0F, group)
	a.modrm(3, sub, uint8(dst))
	a.byte(imm)
}

// CvtSI2F converts a 64-bit integer register to scalar float in x.
func (a *Assembler) CvtSI2F(dst XReg, src Reg, toDouble bool) {
	prefix := byte(pSS)
	if toDouble {
		prefix = pSD
	}
	a.byte(prefix)
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0F, 0x2A)
	a.modrm(3, uint8(dst), uint8(src))
}

// CvtF2SI truncates scalar float in x to a 64-bit integer register.
func (a *Assembler) CvtF2SI(dst Reg, src XReg, fromDouble bool) {
	prefix := byte(pSS)
	if fromDouble {
		prefix = pSD
	}
	a.byte(prefix)
	a.rex(true, uint8(dst), 0, uint8(src))
	a.bytes(0x0F, 0x2C)
	a.modrm(3, uint8(dst), uint8(src))
}

// CvtSS2SD widens the low float lane; CvtSD2SS narrows it.
func (a *Assembler) CvtSS2SD(dst, src XReg) { a.sseRR(pSS, 0x5A, dst, src) }
func (a *Assembler) CvtSD2SS(dst, src XReg) { a.sseRR(pSD, 0x5A, dst, src) }

// CvtDQ2PS converts packed int32 lanes to packed float lanes.
func (a *Assembler) CvtDQ2PS(dst, src XReg) { a.sseRR(pNone, 0x5B, dst, src) }

// CvtTPS2DQ truncates packed float lanes to packed int32 lanes.
func (a *Assembler) CvtTPS2DQ(dst, src XReg) { a.sseRR(pSS, 0x5B, dst, src) }

// MovdRX moves the low 32 bits of an XMM register to a GPR.
func (a *Assembler) MovdRX(dst Reg, src XReg) {
	a.byte(pData)
	a.rexOpt(false, uint8(src), 0, uint8(dst))
	a.bytes(0x0F, 0x7E)
	a.modrm(3, uint8(src), uint8(dst))
}

// MovdXR moves a GPR's low 32 bits into an XMM register.
func (a *Assembler) MovdXR(dst XReg, src Reg) {
	a.byte(pData)
	a.rexOpt(false, uint8(dst), 0, uint8(src))
	a.bytes(0x0F, 0x6E)
	a.modrm(3, uint8(dst), uint8(src))
}

// Raw appends pre-encoded bytes; the x87 sequences in the stub routines
// use it.
func (a *Assembler) Raw(b ...byte) { a.bytes(b...) }

// Syscall emits the syscall instruction.
func (a *Assembler) Syscall() { a.bytes(0x0F, 0x05) }
