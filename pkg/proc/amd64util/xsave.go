package amd64util

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Xstate is the x87, SSE, AVX and AVX-512 register file of a thread, as
// stored by XSAVE in standard (non compacted) format. See Section 13.1 (and
// following) of Intel® 64 and IA-32 Architectures Software Developer’s
// Manual, Volume 1: Basic Architecture.
type Xstate struct {
	FpRegs
	TagWord     uint16 // full tag word, two bits per physical register
	AvxState    bool   // contains AVX state
	YmmSpace    [256]byte
	Avx512State bool // contains AVX512 state
	Opmask      [8]uint64
	ZmmSpace    [512]byte  // upper 256 bits of ZMM0 through ZMM15
	Zmm16Space  [1024]byte // ZMM16 through ZMM31
}

// FpRegs is the legacy region of the XSAVE area (the FXSAVE image).
type FpRegs struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint8 // abridged tag word
	_        uint8
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [128]byte
	XmmSpace [256]byte
	Padding  [96]byte
}

// AVX512Context is the extended context used to read and write opmask and
// ZMM registers as a unit.
type AVX512Context struct {
	Opmask [8]uint64
	Zmm    [32][64]byte
}

const (
	_XSAVE_LEGACY_LEN              = 512
	_XSAVE_HEADER_START            = 512
	_XSAVE_HEADER_LEN              = 64
	_XSAVE_EXTENDED_REGION_START   = 576
	_XSAVE_OPMASK_REGION_START     = 1088
	_XSAVE_AVX512_ZMM_REGION_START = 1152
	_XSAVE_HI16_ZMM_REGION_START   = 1664

	// XSaveAreaSize is the size of a standard format XSAVE area holding
	// every component known to this package.
	XSaveAreaSize = 2688

	x87TagEmpty = 3
)

var ErrShortXsave = errors.New("xsave area too short")

// XstateRead decodes an XSAVE area into st.
func XstateRead(area []byte, st *Xstate) error {
	if len(area) < _XSAVE_LEGACY_LEN {
		return ErrShortXsave
	}
	rdr := bytes.NewReader(area[:_XSAVE_LEGACY_LEN])
	if err := binary.Read(rdr, binary.LittleEndian, &st.FpRegs); err != nil {
		return err
	}
	st.TagWord = 0
	for r := uint(0); r < 8; r++ {
		if st.Ftw&(1<<r) == 0 {
			st.TagWord |= x87TagEmpty << (2 * r)
		}
	}
	if _XSAVE_HEADER_START+_XSAVE_HEADER_LEN > len(area) {
		return nil
	}
	xsaveheader := area[_XSAVE_HEADER_START : _XSAVE_HEADER_START+_XSAVE_HEADER_LEN]
	xstate_bv := binary.LittleEndian.Uint64(xsaveheader[0:8])
	xcomp_bv := binary.LittleEndian.Uint64(xsaveheader[8:16])

	if xcomp_bv&(1<<63) != 0 {
		return fmt.Errorf("compacted xsave format not supported")
	}

	if xstate_bv&(1<<2) == 0 || len(area) < _XSAVE_EXTENDED_REGION_START+len(st.YmmSpace) {
		return nil
	}
	st.AvxState = true
	copy(st.YmmSpace[:], area[_XSAVE_EXTENDED_REGION_START:])

	if xstate_bv&(1<<5) == 0 || len(area) < XSaveAreaSize {
		return nil
	}
	st.Avx512State = true
	for i := range st.Opmask {
		st.Opmask[i] = binary.LittleEndian.Uint64(area[_XSAVE_OPMASK_REGION_START+i*8:])
	}
	if xstate_bv&(1<<6) != 0 {
		copy(st.ZmmSpace[:], area[_XSAVE_AVX512_ZMM_REGION_START:])
	}
	if xstate_bv&(1<<7) != 0 {
		copy(st.Zmm16Space[:], area[_XSAVE_HI16_ZMM_REGION_START:])
	}
	return nil
}

// Bytes encodes st as a standard format XSAVE area.
func (st *Xstate) Bytes() []byte {
	fp := st.FpRegs
	fp.Ftw = 0
	for r := uint(0); r < 8; r++ {
		if (st.TagWord>>(2*r))&3 != x87TagEmpty {
			fp.Ftw |= 1 << r
		}
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &fp)
	area := make([]byte, XSaveAreaSize)
	copy(area, buf.Bytes())

	xstate_bv := uint64(0x3)
	if st.AvxState {
		xstate_bv |= 1 << 2
		copy(area[_XSAVE_EXTENDED_REGION_START:], st.YmmSpace[:])
	}
	if st.Avx512State {
		xstate_bv |= 1<<5 | 1<<6 | 1<<7
		for i := range st.Opmask {
			binary.LittleEndian.PutUint64(area[_XSAVE_OPMASK_REGION_START+i*8:], st.Opmask[i])
		}
		copy(area[_XSAVE_AVX512_ZMM_REGION_START:], st.ZmmSpace[:])
		copy(area[_XSAVE_HI16_ZMM_REGION_START:], st.Zmm16Space[:])
	}
	binary.LittleEndian.PutUint64(area[_XSAVE_HEADER_START:], xstate_bv)
	return area
}

// Top returns the x87 stack top field of the status word.
func (st *Xstate) Top() int {
	return int(st.Swd>>11) & 7
}

// ST returns the 80 bit value of stack register ST(i).
func (st *Xstate) ST(i int) []byte {
	return st.StSpace[i*16 : i*16+10]
}

// Physical returns the 80 bit value of physical register R<r>. The legacy
// region stores registers in stack order so the stack top is applied.
func (st *Xstate) Physical(r int) []byte {
	return st.ST((r - st.Top()) & 7)
}

// SetPhysical writes physical register R<r>, zero extending b.
func (st *Xstate) SetPhysical(r int, b []byte) {
	fill(st.Physical(r), b)
}

// MM returns MMX register i, which aliases the mantissa of physical
// register R<i>.
func (st *Xstate) MM(i int) []byte {
	return st.Physical(i)[:8]
}

// SetMM writes MMX register i, leaving the exponent bits alone.
func (st *Xstate) SetMM(i int, b []byte) {
	fill(st.MM(i), b)
}

func (st *Xstate) xmm(i int) []byte {
	if i < 16 {
		return st.XmmSpace[i*16 : (i+1)*16]
	}
	return st.Zmm16Space[(i-16)*64 : (i-16)*64+16]
}

func (st *Xstate) ymmHi(i int) []byte {
	if i < 16 {
		return st.YmmSpace[i*16 : (i+1)*16]
	}
	return st.Zmm16Space[(i-16)*64+16 : (i-16)*64+32]
}

func (st *Xstate) zmmHi(i int) []byte {
	if i < 16 {
		return st.ZmmSpace[i*32 : (i+1)*32]
	}
	return st.Zmm16Space[(i-16)*64+32 : (i-15)*64]
}

// XMM returns a copy of the 128 bit register XMM<i>.
func (st *Xstate) XMM(i int) []byte {
	return append([]byte(nil), st.xmm(i)...)
}

// YMM returns a copy of the 256 bit register YMM<i>.
func (st *Xstate) YMM(i int) []byte {
	return append(st.XMM(i), st.ymmHi(i)...)
}

// ZMM returns a copy of the 512 bit register ZMM<i>.
func (st *Xstate) ZMM(i int) []byte {
	return append(st.YMM(i), st.zmmHi(i)...)
}

// SetXMM writes XMM<i>, zero extending b to 16 bytes. The upper halves of
// YMM<i> and ZMM<i> are preserved.
func (st *Xstate) SetXMM(i int, b []byte) {
	fill(st.xmm(i), b)
}

// SetYMM writes YMM<i>, zero extending b to 32 bytes.
func (st *Xstate) SetYMM(i int, b []byte) {
	st.AvxState = true
	fill(st.xmm(i), b)
	if len(b) > 16 {
		fill(st.ymmHi(i), b[16:])
	} else {
		fill(st.ymmHi(i), nil)
	}
}

// SetZMM writes ZMM<i>, zero extending b to 64 bytes.
func (st *Xstate) SetZMM(i int, b []byte) {
	st.Avx512State = true
	st.SetYMM(i, b)
	if len(b) > 32 {
		fill(st.zmmHi(i), b[32:])
	} else {
		fill(st.zmmHi(i), nil)
	}
}

// AVX512 returns a copy of the opmask and ZMM registers.
func (st *Xstate) AVX512() *AVX512Context {
	ctx := &AVX512Context{Opmask: st.Opmask}
	for i := range ctx.Zmm {
		copy(ctx.Zmm[i][:], st.ZMM(i))
	}
	return ctx
}

// SetAVX512 replaces the opmask and ZMM registers with the contents of ctx.
func (st *Xstate) SetAVX512(ctx *AVX512Context) {
	st.Opmask = ctx.Opmask
	for i := range ctx.Zmm {
		st.SetZMM(i, ctx.Zmm[i][:])
	}
}

func fill(dst, src []byte) {
	n := copy(dst, src)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// Register is a decoded register of the extended state.
type Register struct {
	Name  string
	Bytes []byte
}

// Decode decodes the register file to a list of name/value pairs.
func (st *Xstate) Decode(x64 bool) []Register {
	var regs []Register
	u := func(name string, v uint64, n int) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		regs = append(regs, Register{name, b[:n]})
	}
	u("x87ControlWord", uint64(st.Cwd), 2)
	u("x87StatusWord", uint64(st.Swd), 2)
	u("x87TagWord", uint64(st.TagWord), 2)
	for r := 0; r < 8; r++ {
		regs = append(regs, Register{fmt.Sprintf("x87r%d", r), append([]byte(nil), st.Physical(r)...)})
	}
	u("MxCsr", uint64(st.Mxcsr), 4)

	n := 8
	if x64 {
		n = 16
	}
	for i := 0; i < n; i++ {
		if st.AvxState {
			regs = append(regs, Register{fmt.Sprintf("YMM%d", i), st.YMM(i)})
		} else {
			regs = append(regs, Register{fmt.Sprintf("XMM%d", i), st.XMM(i)})
		}
	}
	if st.Avx512State {
		for i := range st.Opmask {
			u(fmt.Sprintf("K%d", i), st.Opmask[i], 8)
		}
	}
	return regs
}
