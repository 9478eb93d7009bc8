package value

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/regnum"
)

const (
	mxcsrPrefix = "MxCsr_"
	x87TWPrefix = "x87TW_"
	x87SWPrefix = "x87SW_"
	x87CWPrefix = "x87CW_"
)

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// abbreviates reports whether s is a non empty, case insensitive prefix of
// full.
func abbreviates(s, full string) bool {
	return s != "" && hasPrefixFold(full, s)
}

// toggle applies the update rule of single bit FPU fields: a nonzero
// value always flips the bit, a zero value clears it.
func toggle(reg, mask uint64, set bool) uint64 {
	var xor uint64
	if reg&mask != 0 && !set {
		xor = mask
	} else if set {
		xor = mask
	}
	return reg ^ xor
}

type vectorKind uint8

const (
	vecX87 vectorKind = iota // physical x87 register
	vecST                    // x87 stack register
	vecMM
	vecXMM
	vecYMM
	vecK
	vecZMM
)

type vectorReg struct {
	kind  vectorKind
	index int
}

// size returns the size of the register in bytes.
func (r vectorReg) size() int {
	switch r.kind {
	case vecX87, vecST:
		return 10
	case vecMM, vecK:
		return 8
	case vecXMM:
		return 16
	case vecYMM:
		return 32
	}
	return 64
}

// parseVector parses the name of an x87, MMX, SSE, AVX or AVX-512 data
// register. The first result is false if name does not belong to any of
// those families, the second one is false if the index is out of range.
// Without strict the index is parsed like the write path of the command
// line does, ignoring anything after the leading digits.
func parseVector(name string, x64 bool, strict bool) (vectorReg, bool, bool) {
	lim := func(n32, n64 uint64) uint64 {
		if x64 {
			return n64
		}
		return n32
	}
	var r vectorReg
	var suffix string
	var max uint64
	digitOnly := false
	switch {
	case hasPrefixFold(name, "x87r"):
		r.kind, suffix, max, digitOnly = vecX87, name[4:], 8, true
	case hasPrefixFold(name, "st"):
		r.kind, suffix, max, digitOnly = vecST, name[2:], 8, true
	case hasPrefixFold(name, "MM"):
		r.kind, suffix, max, digitOnly = vecMM, name[2:], 8, true
	case hasPrefixFold(name, "XMM"):
		r.kind, suffix, max = vecXMM, name[3:], lim(8, 16)
	case hasPrefixFold(name, "YMM"):
		r.kind, suffix, max = vecYMM, name[3:], lim(8, 16)
	case hasPrefixFold(name, "K"):
		r.kind, suffix, max = vecK, name[1:], 8
	case hasPrefixFold(name, "ZMM"):
		r.kind, suffix, max = vecZMM, name[3:], lim(8, 32)
	default:
		return vectorReg{}, false, false
	}
	// the index must at least start with a digit, "_style" is not a
	// stack register
	if suffix == "" || !isDigit(suffix[0]) {
		return vectorReg{}, false, false
	}
	if strict {
		for i := 0; i < len(suffix); i++ {
			if !isDigit(suffix[i]) {
				return vectorReg{}, false, false
			}
		}
	}
	i := atoi(suffix)
	if digitOnly && !strict {
		// a single digit selects the register
		i = uint64(suffix[0] - '0')
	}
	if i >= max {
		return r, true, false
	}
	r.index = int(i)
	return r, true, true
}

// readVector returns the little endian contents of r.
func (e *Engine) readVector(r vectorReg) ([]byte, error) {
	th, err := e.thread()
	if err != nil {
		return nil, err
	}
	if r.kind == vecK || r.kind == vecZMM {
		ctx, err := th.AVX512()
		if err != nil {
			return nil, err
		}
		if r.kind == vecK {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], ctx.Opmask[r.index])
			return b[:], nil
		}
		return append([]byte(nil), ctx.Zmm[r.index][:]...), nil
	}
	st, err := th.Xstate()
	if err != nil {
		return nil, err
	}
	switch r.kind {
	case vecX87:
		return append([]byte(nil), st.Physical(r.index)...), nil
	case vecST:
		return append([]byte(nil), st.ST(r.index)...), nil
	case vecMM:
		return append([]byte(nil), st.MM(r.index)...), nil
	case vecXMM:
		return st.XMM(r.index), nil
	}
	return st.YMM(r.index), nil
}

// writeVector writes b, zero extended, to r. The AVX-512 registers are
// written by replacing the whole extended context.
func (e *Engine) writeVector(r vectorReg, b []byte, silent bool) error {
	th, err := e.thread()
	if err != nil {
		return err
	}
	if r.kind == vecK || r.kind == vecZMM {
		ctx, err := th.AVX512()
		if err != nil {
			e.printf(silent, "Failed to read register context...\n")
			return err
		}
		if r.kind == vecK {
			var buf [8]byte
			copy(buf[:], b)
			ctx.Opmask[r.index] = binary.LittleEndian.Uint64(buf[:])
		} else {
			zmm := &ctx.Zmm[r.index]
			n := copy(zmm[:], b)
			for i := n; i < len(zmm); i++ {
				zmm[i] = 0
			}
		}
		return th.SetAVX512(ctx)
	}
	st, err := th.Xstate()
	if err != nil {
		return err
	}
	switch r.kind {
	case vecX87:
		st.SetPhysical(r.index, b)
	case vecST:
		st.SetPhysical((r.index+st.Top())&7, b)
	case vecMM:
		st.SetMM(r.index, b)
	case vecXMM:
		st.SetXMM(r.index, b)
	case vecYMM:
		st.SetYMM(r.index, b)
	}
	return th.SetXstate(st)
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// setFPUValue writes the FPU or SIMD field called name (without the
// leading underscore). The first result is false if name is not an FPU
// field; then nothing is written. Out of range indexes of known register
// families are recognized and ignored.
func (e *Engine) setFPUValue(name string, value uint64, silent bool) (bool, error) {
	if !isFPUWriteTarget(name, e.Arch().Is64()) {
		return false, nil
	}
	set := value != 0
	switch {
	case hasPrefixFold(name, mxcsrPrefix):
		rest := name[len(mxcsrPrefix):]
		flags, err := e.readWord(regnum.MXCSR)
		if err != nil {
			return true, err
		}
		if hasPrefixFold(rest, "RC") {
			flags &^= 3 << 13
			flags |= value << 13
		} else {
			mask, _ := proc.MXCSRDescription.Flag(rest)
			flags = toggle(flags, mask, set)
		}
		return true, e.writeWord(regnum.MXCSR, flags)

	case hasPrefixFold(name, x87TWPrefix):
		i := atoi(name[len(x87TWPrefix):])
		if i > 7 {
			return true, nil
		}
		flags, err := e.readWord(regnum.X87TagWord)
		if err != nil {
			return true, err
		}
		flags &^= 3 << (i * 2)
		flags |= value << (i * 2)
		return true, e.writeWord(regnum.X87TagWord, uint64(uint16(flags)))

	case hasPrefixFold(name, x87SWPrefix):
		rest := name[len(x87SWPrefix):]
		flags, err := e.readWord(regnum.X87StatusWord)
		if err != nil {
			return true, err
		}
		if hasPrefixFold(rest, "TOP") {
			flags &^= 7 << 11
			flags |= value << 11
		} else {
			mask, _ := proc.X87StatusDescription.Flag(rest)
			flags = toggle(flags, mask, set)
		}
		return true, e.writeWord(regnum.X87StatusWord, flags)

	case hasPrefixFold(name, x87CWPrefix):
		rest := name[len(x87CWPrefix):]
		flags, err := e.readWord(regnum.X87ControlWord)
		if err != nil {
			return true, err
		}
		switch {
		case hasPrefixFold(rest, "RC"):
			flags &^= 3 << 10
			flags |= value << 10
		case hasPrefixFold(rest, "PC"):
			flags &^= 3 << 8
			flags |= value << 8
		default:
			mask, _ := proc.X87ControlDescription.Flag(rest)
			flags = toggle(flags, mask, set)
		}
		return true, e.writeWord(regnum.X87ControlWord, flags)

	case abbreviates(name, "x87TagWord"):
		return true, e.writeWord(regnum.X87TagWord, uint64(uint16(value)))
	case abbreviates(name, "x87StatusWord"):
		return true, e.writeWord(regnum.X87StatusWord, uint64(uint16(value)))
	case abbreviates(name, "x87ControlWord"):
		return true, e.writeWord(regnum.X87ControlWord, uint64(uint16(value)))
	case abbreviates(name, "MxCsr"):
		return true, e.writeWord(regnum.MXCSR, value)
	}

	r, _, inRange := parseVector(name, e.Arch().Is64(), false)
	if !inRange {
		e.log().Debugf("ignoring write to out of range register %q", name)
		return true, nil
	}
	return true, e.writeVector(r, le64(value), silent)
}

// isFPUWriteTarget reports whether setFPUValue accepts name. It does not
// need a thread.
func isFPUWriteTarget(name string, x64 bool) bool {
	switch {
	case hasPrefixFold(name, mxcsrPrefix):
		rest := name[len(mxcsrPrefix):]
		_, ok := proc.MXCSRDescription.Flag(rest)
		return ok || hasPrefixFold(rest, "RC")
	case hasPrefixFold(name, x87TWPrefix):
		rest := name[len(x87TWPrefix):]
		return rest != "" && isDigit(rest[0])
	case hasPrefixFold(name, x87SWPrefix):
		rest := name[len(x87SWPrefix):]
		_, ok := proc.X87StatusDescription.Flag(rest)
		return ok || hasPrefixFold(rest, "TOP")
	case hasPrefixFold(name, x87CWPrefix):
		rest := name[len(x87CWPrefix):]
		_, ok := proc.X87ControlDescription.Flag(rest)
		return ok || hasPrefixFold(rest, "RC") || hasPrefixFold(rest, "PC")
	case abbreviates(name, "x87TagWord"), abbreviates(name, "x87StatusWord"),
		abbreviates(name, "x87ControlWord"), abbreviates(name, "MxCsr"):
		return true
	}
	_, isVec, _ := parseVector(name, x64, false)
	return isVec
}

// wholeFPUWords are the FPU and SSE control registers readable by name.
var wholeFPUWords = []struct {
	name string
	slot regnum.Slot
	size int
}{
	{"x87TagWord", regnum.X87TagWord, 2},
	{"x87StatusWord", regnum.X87StatusWord, 2},
	{"x87ControlWord", regnum.X87ControlWord, 2},
	{"MxCsr", regnum.MXCSR, 4},
}

// isFPUField reports whether readFPUField accepts name. It does not need
// a thread.
func isFPUField(name string, x64 bool) bool {
	known := func(descr proc.FlagRegisterDescr, rest string) bool {
		if _, _, ok := descr.Field(rest); ok {
			return true
		}
		_, ok := descr.Flag(rest)
		return ok
	}
	switch {
	case hasPrefixFold(name, mxcsrPrefix):
		return known(proc.MXCSRDescription, name[len(mxcsrPrefix):])
	case hasPrefixFold(name, x87SWPrefix):
		return known(proc.X87StatusDescription, name[len(x87SWPrefix):])
	case hasPrefixFold(name, x87CWPrefix):
		return known(proc.X87ControlDescription, name[len(x87CWPrefix):])
	case hasPrefixFold(name, x87TWPrefix):
		rest := name[len(x87TWPrefix):]
		return len(rest) == 1 && rest[0] >= '0' && rest[0] <= '7'
	}
	for _, w := range wholeFPUWords {
		if strings.EqualFold(name, w.name) {
			return true
		}
	}
	_, _, inRange := parseVector(name, x64, true)
	return inRange
}

// readFPUField reads an FPU or SIMD field by the name accepted by
// setFPUValue. Vector registers read as their low 64 bits.
func (e *Engine) readFPUField(name string) (uint64, int, bool, error) {
	fieldOrFlag := func(slot regnum.Slot, descr proc.FlagRegisterDescr, rest string) (uint64, int, bool, error) {
		reg, err := e.readWord(slot)
		if err != nil {
			return 0, 0, true, err
		}
		if mask, shift, ok := descr.Field(rest); ok {
			return (reg & mask) >> shift, 0, true, nil
		}
		if mask, ok := descr.Flag(rest); ok {
			if reg&mask != 0 {
				return 1, 0, true, nil
			}
			return 0, 0, true, nil
		}
		return 0, 0, false, nil
	}

	switch {
	case hasPrefixFold(name, mxcsrPrefix):
		return fieldOrFlag(regnum.MXCSR, proc.MXCSRDescription, name[len(mxcsrPrefix):])
	case hasPrefixFold(name, x87SWPrefix):
		return fieldOrFlag(regnum.X87StatusWord, proc.X87StatusDescription, name[len(x87SWPrefix):])
	case hasPrefixFold(name, x87CWPrefix):
		return fieldOrFlag(regnum.X87ControlWord, proc.X87ControlDescription, name[len(x87CWPrefix):])
	case hasPrefixFold(name, x87TWPrefix):
		rest := name[len(x87TWPrefix):]
		if len(rest) != 1 || rest[0] < '0' || rest[0] > '7' {
			return 0, 0, false, nil
		}
		v, err := e.X87TagField(int(rest[0] - '0'))
		return v, 0, true, err
	}
	for _, w := range wholeFPUWords {
		if strings.EqualFold(name, w.name) {
			v, err := e.readWord(w.slot)
			return v, w.size, true, err
		}
	}

	r, isVec, inRange := parseVector(name, e.Arch().Is64(), true)
	if !isVec || !inRange {
		return 0, 0, false, nil
	}
	b, err := e.readVector(r)
	if err != nil {
		return 0, 0, true, err
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), 8, true, nil
}

func leToUint256(b []byte) *uint256.Int {
	if len(b) > 32 {
		b = b[:32]
	}
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	return new(uint256.Int).SetBytes(be)
}

func uint256ToLE(v *uint256.Int) []byte {
	be := v.Bytes32()
	le := make([]byte, len(be))
	for i := range be {
		le[len(be)-1-i] = be[i]
	}
	return le
}

// ReadVector returns the value of an x87, MMX, SSE, AVX or AVX-512
// register ("st0", "x87r3", "MM1", "XMM2", "YMM3", "K1", "ZMM4", with or
// without a leading underscore) and its size in bytes. ZMM registers are
// truncated to their low 256 bits.
func (e *Engine) ReadVector(name string) (*uint256.Int, int, error) {
	r, isVec, inRange := parseVector(strings.TrimPrefix(name, "_"), e.Arch().Is64(), true)
	if !isVec || !inRange {
		return nil, 0, tokenError(name, fmt.Errorf("%w: not a vector register", ErrUnknownToken))
	}
	b, err := e.readVector(r)
	if err != nil {
		return nil, 0, tokenError(name, err)
	}
	return leToUint256(b), r.size(), nil
}

// AssignWide is like Assign but accepts values wider than 64 bits for
// vector registers. Other tokens accept values that fit in 64 bits.
func (e *Engine) AssignWide(token string, value *uint256.Int, silent bool) error {
	r, isVec, inRange := parseVector(strings.TrimPrefix(token, "_"), e.Arch().Is64(), true)
	if !isVec || !inRange {
		if !value.IsUint64() {
			return tokenError(token, fmt.Errorf("value %s does not fit in 64 bits", value.Hex()))
		}
		return e.Assign(token, value.Uint64(), silent)
	}
	if !e.Debugging() {
		e.printf(silent, "Not debugging!\n")
		return tokenError(token, ErrNotDebugging)
	}
	if err := e.writeVector(r, uint256ToLE(value), silent); err != nil {
		return tokenError(token, fmt.Errorf("%w: %v", ErrRegisterWrite, err))
	}
	e.notify.UpdateAllViews()
	return nil
}
