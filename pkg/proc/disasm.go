package proc

import (
	"golang.org/x/arch/x86/x86asm"
)

// MaxInstructionLength is the longest x86 instruction encoding.
const MaxInstructionLength = 15

// AsmInstruction represents one assembly instruction.
type AsmInstruction struct {
	Loc   uint64
	Bytes []byte
	AtPC  bool
	Kind  AsmInstructionKind
	// Text is the instruction in Intel syntax, "?" if the bytes at Loc
	// could not be decoded.
	Text string
}

type AsmInstructionKind uint8

const (
	OtherInstruction AsmInstructionKind = iota
	JmpInstruction
	CallInstruction
	RetInstruction
	HardBreakInstruction
)

func (instr *AsmInstruction) IsCall() bool {
	return instr.Kind == CallInstruction
}

func (instr *AsmInstruction) IsRet() bool {
	return instr.Kind == RetInstruction
}

// Disassemble decodes up to count instructions starting at addr. A short
// read of the target memory stops the disassembly early, an error is only
// returned when no byte at addr could be read. Instructions at pc are
// marked with AtPC.
func Disassemble(t Target, addr uint64, count int, pc uint64) ([]AsmInstruction, error) {
	if count <= 0 {
		return nil, nil
	}
	buf := make([]byte, count*MaxInstructionLength)
	n, err := t.Memory().ReadMemory(buf, addr)
	if n == 0 {
		if err == nil {
			err = ErrMemoryRead
		}
		return nil, err
	}
	buf = buf[:n]

	tbl := t.Modules()
	l := tbl.RLocker()
	l.Lock()
	defer l.Unlock()
	symname := func(a uint64) (string, uint64) {
		if tbl.InfoFromAddr(a) == nil {
			return "", 0
		}
		return tbl.SymbolicName(a), a
	}

	mode := t.Arch().Mode()
	r := make([]AsmInstruction, 0, count)
	for len(r) < count && len(buf) > 0 {
		inst := AsmInstruction{Loc: addr, AtPC: addr == pc}
		x86AsmDecode(&inst, buf, mode, symname)
		r = append(r, inst)
		addr += uint64(len(inst.Bytes))
		buf = buf[len(inst.Bytes):]
	}
	return r, nil
}

func x86AsmDecode(asmInst *AsmInstruction, mem []byte, mode int, symname func(uint64) (string, uint64)) {
	inst, err := x86asm.Decode(mem, mode)
	if err != nil {
		asmInst.Bytes = mem[:1]
		asmInst.Text = "?"
		return
	}

	asmInst.Bytes = mem[:inst.Len]
	patchPCRelX86(asmInst.Loc, &inst)

	switch inst.Op {
	case x86asm.JMP, x86asm.LJMP:
		asmInst.Kind = JmpInstruction
	case x86asm.CALL, x86asm.LCALL:
		asmInst.Kind = CallInstruction
	case x86asm.RET, x86asm.LRET:
		asmInst.Kind = RetInstruction
	case x86asm.INT:
		asmInst.Kind = HardBreakInstruction
	}

	asmInst.Text = x86asm.IntelSyntax(inst, asmInst.Loc, symname)
}

// converts PC relative arguments to absolute addresses
func patchPCRelX86(pc uint64, inst *x86asm.Inst) {
	for i := range inst.Args {
		rel, isrel := inst.Args[i].(x86asm.Rel)
		if isrel {
			inst.Args[i] = x86asm.Imm(int64(pc) + int64(rel) + int64(inst.Len))
		}
	}
}
