package value

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/proc/core"
	"github.com/go-delve/dbgval/pkg/regnum"
)

func TestRegisterWidths(t *testing.T) {
	te := newTestEngine(proc.X64)
	te.assign(t, "rax", 0x1122334455667788)

	tests := []struct {
		name  string
		value uint64
		size  int
	}{
		{"rax", 0x1122334455667788, 8},
		{"cax", 0x1122334455667788, 8},
		{"eax", 0x55667788, 4},
		{"ax", 0x7788, 2},
		{"ah", 0x77, 1},
		{"al", 0x88, 1},
		{"EAX", 0x55667788, 4},
	}
	for _, tc := range tests {
		res := te.resolve(t, tc.name)
		if res.Value != tc.value || res.Size != tc.size || !res.IsVar || res.Hex {
			t.Errorf("%s: got %#v, expected value %#x size %d", tc.name, res, tc.value, tc.size)
		}
	}
}

func TestPartialRegisterWrites(t *testing.T) {
	te := newTestEngine(proc.X86)

	te.assign(t, "ax", 0x1234)
	te.assign(t, "al", 0x1ff)
	if v := te.resolve(t, "al").Value; v != 0xff {
		t.Errorf("al = %#x after writing 0x1ff", v)
	}
	if v := te.resolve(t, "ax").Value; v != 0x12ff {
		t.Errorf("ax = %#x, top byte clobbered", v)
	}

	te.assign(t, "eax", 0x12345678)
	te.assign(t, "al", 0xff)
	if v := te.resolve(t, "eax").Value; v != 0x123456ff {
		t.Errorf("eax = %#x, expected 0x123456ff", v)
	}
	te.assign(t, "ah", 0xab)
	if v := te.resolve(t, "eax").Value; v != 0x1234abff {
		t.Errorf("eax = %#x, expected 0x1234abff", v)
	}

	te.assign(t, "cax", 0xfffffffff)
	if v := te.resolve(t, "eax").Value; v != 0xffffffff {
		t.Errorf("cax not truncated to the pointer size on x86: %#x", v)
	}

	te.assign(t, "fs", 0x12345)
	if v := te.resolve(t, "fs").Value; v != 0x2345 {
		t.Errorf("fs = %#x", v)
	}

	if _, err := te.Resolve("rax", ResolveOptions{Silent: true}); err == nil {
		t.Errorf("rax resolved on x86")
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	te := newTestEngine(proc.X64)
	for _, name := range regnum.Names(true) {
		a, _ := regnum.Lookup(name, true)
		if a.Kind == regnum.KindTEB || a.Kind == regnum.KindDebug || name == "cflags" || name == "eflags" || name == "rflags" {
			continue
		}
		mask := a.Mask(8) >> a.Shift
		if a.Kind == regnum.KindSegment {
			mask = 0xffff
		}
		const v = 0xa5a5a5a5a5a5a5a5
		te.assign(t, name, v)
		if got := te.resolve(t, name).Value; got != v&mask {
			t.Errorf("%s: wrote %#x read %#x, expected %#x", name, uint64(v), got, v&mask)
		}
	}
}

func TestExtendedRegisterPreservesUpperHalf(t *testing.T) {
	te := newTestEngine(proc.X64)
	te.assign(t, "r9", 0x1122334455667788)
	te.assign(t, "r9d", 0xdeadbeef)
	if v := te.resolve(t, "r9").Value; v != 0x11223344deadbeef {
		t.Errorf("r9 = %#x", v)
	}
	te.assign(t, "r9w", 0)
	te.assign(t, "r9b", 0x42)
	if v := te.resolve(t, "r9").Value; v != 0x11223344dead0042 {
		t.Errorf("r9 = %#x", v)
	}
}

func TestDebugRegisterAliases(t *testing.T) {
	te := newTestEngine(proc.X86)
	te.assign(t, "dr4", 0x1234)
	if v := te.resolve(t, "dr6").Value; v != 0x1234 {
		t.Errorf("dr4 does not alias dr6: %#x", v)
	}
	te.assign(t, "dr7", 0x55)
	if v := te.resolve(t, "dr5").Value; v != 0x55 {
		t.Errorf("dr5 does not alias dr7: %#x", v)
	}
}

func TestLastError(t *testing.T) {
	for _, arch := range []proc.Arch{proc.X86, proc.X64} {
		te := newTestEngine(arch)
		te.assign(t, "lasterror", 5)
		te.assign(t, "laststatus", 0xc0000005)
		teb, off := uint64(testTEB32), uint64(0x34)
		if arch.Is64() {
			teb, off = testTEB64, 0x68
		}
		v, err := proc.ReadUint(te.p.Memory(), teb+off, 4)
		assertNoError(err, t, "ReadUint")
		if v != 5 {
			t.Errorf("%s: last error stored %#x", arch.Name, v)
		}
		res := te.resolve(t, "laststatus")
		if res.Value != 0xc0000005 || res.Size != 4 {
			t.Errorf("%s: laststatus %#v", arch.Name, res)
		}
	}
}

func TestLastErrorUnreadable(t *testing.T) {
	// Thread environment block outside of any mapped region.
	p := core.New(core.Options{Arch: proc.X64, TEB: 0x900000})
	e := New(Config{Target: p})
	for _, name := range []string{"lasterror", "laststatus"} {
		_, err := e.Resolve(name, ResolveOptions{})
		assertErrorIs(err, ErrMemoryRead, t, name)
		_, _, err = e.Register(name)
		assertErrorIs(err, ErrMemoryRead, t, "Register("+name+")")
	}
}

func TestFlagRoundTrip(t *testing.T) {
	te := newTestEngine(proc.X64)
	for _, flag := range []string{"CF", "PF", "AF", "ZF", "SF", "TF", "IF", "DF", "OF", "RF", "VM", "AC", "VIF", "VIP", "ID"} {
		for _, v := range []uint64{1, 1, 0, 0, 5} {
			te.assign(t, "_"+flag, v)
			res := te.resolve(t, "_"+flag)
			want := uint64(0)
			if v != 0 {
				want = 1
			}
			if res.Value != want || res.Size != 0 || !res.IsVar {
				t.Errorf("_%s after writing %d: %#v", flag, v, res)
			}
		}
	}

	te.assign(t, "_ZF", 1)
	if v := te.resolve(t, "eflags").Value; v&(1<<6) == 0 {
		t.Errorf("ZF not set in eflags: %#x", v)
	}
	if set, err := te.Flag("zf"); err != nil || !set {
		t.Errorf("Flag(zf) = %v %v", set, err)
	}
	if IsFlag("IOPL") || IsFlag("XX") {
		t.Errorf("IsFlag accepted a multi-bit field or an unknown name")
	}
}

func TestFPUToggle(t *testing.T) {
	// single bit FPU fields are flipped by nonzero values and cleared by
	// zero values
	tests := []struct {
		before bool
		value  uint64
		after  bool
	}{
		{false, 1, true},
		{true, 1, false},
		{true, 0, false},
		{false, 0, false},
	}
	te := newTestEngine(proc.X64)
	for _, tc := range tests {
		for _, name := range []string{"_MxCsr_IE", "_x87SW_C1", "_x87CW_IM"} {
			if cur := te.resolve(t, name).Value != 0; cur != tc.before {
				if tc.before {
					te.assign(t, name, 1)
				} else {
					te.assign(t, name, 0)
				}
			}
			te.assign(t, name, tc.value)
			got := te.resolve(t, name).Value != 0
			if got != tc.after {
				t.Errorf("%s: before %v, wrote %d, got %v, expected %v", name, tc.before, tc.value, got, tc.after)
			}
		}
	}
}

func TestFPUFields(t *testing.T) {
	te := newTestEngine(proc.X64)

	te.assign(t, "_MxCsr_RC", 3)
	if v, _ := te.MXCSRRoundingControl(); v != 3 {
		t.Errorf("MXCSR RC %d", v)
	}
	if v := te.resolve(t, "_MxCsr_RC").Value; v != 3 {
		t.Errorf("_MxCsr_RC read %d", v)
	}
	if v := te.resolve(t, "_MxCsr").Value; v != 0x1f80|3<<13 {
		t.Errorf("MXCSR %#x", v)
	}

	te.assign(t, "_x87SW_TOP", 5)
	if v, _ := te.X87StatusTop(); v != 5 {
		t.Errorf("TOP %d", v)
	}

	te.assign(t, "_x87CW_PC", 2)
	te.assign(t, "_x87CW_RC", 1)
	if v, _ := te.X87ControlPrecision(); v != 2 {
		t.Errorf("PC %d", v)
	}
	if v, _ := te.X87ControlRounding(); v != 1 {
		t.Errorf("RC %d", v)
	}

	te.assign(t, "_x87TW_3", 1)
	if v, _ := te.X87TagField(3); v != 1 {
		t.Errorf("tag 3 = %d", v)
	}
	if v := te.resolve(t, "_x87TagWord").Value; v != 0xff7f {
		t.Errorf("tag word %#x", v)
	}
	te.assign(t, "_x87TW_9", 0)
	if v := te.resolve(t, "_x87TagWord").Value; v != 0xff7f {
		t.Errorf("out of range tag write changed the tag word: %#x", v)
	}

	// whole registers accept abbreviations
	te.assign(t, "_x87Status", 0x1634)
	if v := te.resolve(t, "_x87StatusWord"); v.Value != 0x1634 || v.Size != 2 {
		t.Errorf("status word %#v", v)
	}
	te.assign(t, "_x87ControlWord", 0x1037f)
	if v := te.resolve(t, "_x87ControlWord").Value; v != 0x37f {
		t.Errorf("control word not truncated: %#x", v)
	}

	if set, err := te.X87StatusFlag("C2"); err != nil || !set {
		t.Errorf("C2 of 0x1634: %v %v", set, err)
	}
	if set, err := te.MXCSRFlag("DAZ"); err != nil || set {
		t.Errorf("DAZ: %v %v", set, err)
	}
	if set, err := te.X87ControlFlag("IM"); err != nil || !set {
		t.Errorf("IM: %v %v", set, err)
	}

	// names outside of the FPU namespace become user variables
	for _, name := range []string{"_myvar", "_MxCsr_NOSUCH", "_x87SW_foo", "_style", "_kitten"} {
		before := te.resolve(t, "_MxCsr").Value
		te.assign(t, name, 42)
		res, err := te.Resolve(name, ResolveOptions{Silent: true})
		if err != nil || res.Value != 42 || !res.IsVar || res.Size != 8 {
			t.Errorf("%s: %#v %v", name, res, err)
		}
		if after := te.resolve(t, "_MxCsr").Value; after != before {
			t.Errorf("%s: MXCSR changed from %#x to %#x", name, before, after)
		}
	}
	if _, _, ok := te.Variables().Get("_x87TW_9"); ok {
		t.Errorf("out of range tag field became a variable")
	}
}

func TestStackRegisters(t *testing.T) {
	te := newTestEngine(proc.X64)
	te.assign(t, "_x87SW_TOP", 2)
	te.assign(t, "_st0", 0x1234)
	if v := te.resolve(t, "_x87r2").Value; v != 0x1234 {
		t.Errorf("st0 with TOP=2 is not R2: %#x", v)
	}
	te.assign(t, "_st7", 0x99)
	if v := te.resolve(t, "_x87r1").Value; v != 0x99 {
		t.Errorf("st7 with TOP=2 is not R1: %#x", v)
	}
	te.assign(t, "_x87r5", 0x55)
	if v := te.resolve(t, "_st3"); v.Value != 0x55 || v.Size != 8 {
		t.Errorf("st3 %#v", v)
	}

	te.assign(t, "_MM1", 0xdead)
	if v := te.resolve(t, "_MM1").Value; v != 0xdead {
		t.Errorf("MM1 %#x", v)
	}
	if v := te.resolve(t, "_x87r1").Value; v != 0xdead {
		t.Errorf("MM1 does not alias R1: %#x", v)
	}
}

func TestVectorRegisters(t *testing.T) {
	te := newTestEngine(proc.X64)

	te.assign(t, "_XMM3", 0xabc)
	v, size, err := te.ReadVector("XMM3")
	assertNoError(err, t, "ReadVector(XMM3)")
	if size != 16 || !v.Eq(uint256.NewInt(0xabc)) {
		t.Errorf("XMM3 = %s size %d", v.Hex(), size)
	}

	wide := new(uint256.Int).Lsh(uint256.NewInt(0xff), 200)
	wide.Or(wide, uint256.NewInt(7))
	assertNoError(te.AssignWide("_YMM15", wide, false), t, "AssignWide(YMM15)")
	v, size, err = te.ReadVector("_YMM15")
	assertNoError(err, t, "ReadVector(YMM15)")
	if size != 32 || !v.Eq(wide) {
		t.Errorf("YMM15 = %s size %d, expected %s", v.Hex(), size, wide.Hex())
	}
	if r := te.resolve(t, "_XMM15"); r.Value != 7 || r.Size != 8 {
		t.Errorf("low half of YMM15 through XMM15: %#v", r)
	}

	te.assign(t, "_K1", 0xff)
	if r := te.resolve(t, "_K1"); r.Value != 0xff || r.Size != 8 {
		t.Errorf("K1 %#v", r)
	}
	te.assign(t, "_ZMM31", 7)
	v, size, err = te.ReadVector("ZMM31")
	assertNoError(err, t, "ReadVector(ZMM31)")
	if size != 64 || !v.Eq(uint256.NewInt(7)) {
		t.Errorf("ZMM31 = %s size %d", v.Hex(), size)
	}

	// out of range lanes are ignored
	te.assign(t, "_XMM16", 1)
	te.assign(t, "_K8", 1)
	if _, _, err := te.ReadVector("XMM16"); err == nil {
		t.Errorf("XMM16 readable")
	}
	for _, name := range []string{"_XMM16", "_K8", "_XMM99"} {
		if _, _, ok := te.Variables().Get(name); ok {
			t.Errorf("%s became a variable", name)
		}
	}

	// scalars assigned through AssignWide go through Assign
	assertNoError(te.AssignWide("rax", uint256.NewInt(42), false), t, "AssignWide(rax)")
	if v := te.resolve(t, "rax").Value; v != 42 {
		t.Errorf("rax %d", v)
	}
	if err := te.AssignWide("rax", wide, false); err == nil {
		t.Errorf("AssignWide of a 256 bit value to rax succeeded")
	}
}

func TestVectorRegistersX86(t *testing.T) {
	te := newTestEngine(proc.X86)
	te.assign(t, "_XMM7", 1)
	te.assign(t, "_XMM8", 1)
	if _, _, err := te.ReadVector("XMM8"); err == nil {
		t.Errorf("XMM8 readable on x86")
	}
	te.assign(t, "_ZMM9", 1)
	if _, _, err := te.ReadVector("ZMM7"); err != nil {
		t.Errorf("ZMM7: %v", err)
	}
}

func TestNoAVX512(t *testing.T) {
	p := core.New(core.Options{Arch: proc.X64, NoAVX512: true})
	var console strings.Builder
	e := New(Config{Target: p, Console: &console})
	err := e.Assign("_K1", 1, false)
	assertErrorIs(err, ErrRegisterWrite, t, "Assign(_K1)")
	if !strings.Contains(console.String(), "Failed to read register context...") {
		t.Errorf("console %q", console.String())
	}
	if err := e.Assign("_XMM1", 1, false); err != nil {
		t.Errorf("XMM1 write failed without AVX-512: %v", err)
	}
}
