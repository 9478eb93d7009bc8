package proc_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/proc/core"
)

func TestProcAddress(t *testing.T) {
	p := core.New(core.Options{Arch: proc.X64})
	kernel32 := &proc.Module{
		Name: "kernel32", Ext: ".dll", Base: 0x76000000, Size: 0x100000, OrdinalBase: 1,
		Exports: []proc.Export{
			{Name: "Sleep", RVA: 0x4000},
			{Name: "HeapAlloc", Forward: "ntdll.RtlAllocateHeap"},
			{Name: "ByOrdinal", Forward: "ntdll.#2"},
			{Name: "Loop", Forward: "kernel32.Loop"},
			{Name: "Missing", Forward: "nosuch.Export"},
		},
	}
	ntdll := &proc.Module{
		Name: "ntdll", Ext: ".dll", Base: 0x77000000, Size: 0x100000, OrdinalBase: 1,
		Exports: []proc.Export{
			{Name: "RtlAllocateHeap", RVA: 0x100},
			{Name: "NtClose", RVA: 0x200},
		},
	}
	p.LoadModule(kernel32)
	p.LoadModule(ntdll)

	tests := []struct {
		name string
		want uint64
	}{
		{"Sleep", 0x76004000},
		{"HeapAlloc", 0x77000100},
		{"ByOrdinal", 0x77000200},
		{"Loop", 0},
		{"Missing", 0},
		{"NoSuchExport", 0},
	}
	for _, tc := range tests {
		if got := proc.ProcAddress(p.Modules(), kernel32, tc.name, proc.DefaultForwardDepth); got != tc.want {
			t.Errorf("%s: got %#x, expected %#x", tc.name, got, tc.want)
		}
	}
	if got := proc.ProcAddress(nil, kernel32, "HeapAlloc", proc.DefaultForwardDepth); got != 0 {
		t.Errorf("forward without a module table: got %#x", got)
	}
}

func TestFileOffsets(t *testing.T) {
	m := &proc.Module{
		Name: "app", Ext: ".exe", Base: 0x400000, Size: 0x3000,
		Sections: []proc.Section{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x800, RawOffset: 0x400, RawSize: 0x800},
			{Name: ".data", VirtualAddress: 0x2000, VirtualSize: 0x200, RawOffset: 0xc00, RawSize: 0x200},
		},
	}
	tests := []struct {
		offset uint64
		va     uint64
		ok     bool
	}{
		{0x0, 0x400000, true},
		{0x3c, 0x40003c, true},
		{0x400, 0x401000, true},
		{0x410, 0x401010, true},
		{0xc10, 0x402010, true},
		{0xe00, 0, false},
		{0x3000, 0, false},
	}
	for _, tc := range tests {
		va, ok := m.FileOffsetToVA(tc.offset)
		if va != tc.va || ok != tc.ok {
			t.Errorf("FileOffsetToVA(%#x) = %#x %v, expected %#x %v", tc.offset, va, ok, tc.va, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		off, ok := m.VAToFileOffset(va)
		if !ok || off != tc.offset {
			t.Errorf("VAToFileOffset(%#x) = %#x %v, expected %#x", va, off, ok, tc.offset)
		}
	}
	if _, ok := m.VAToFileOffset(0x500000); ok {
		t.Errorf("address outside of the image converted")
	}
}

func TestFlagRegisterDescr(t *testing.T) {
	if mask, ok := proc.EflagsDescription.Flag("zf"); !ok || mask != 1<<6 {
		t.Errorf("ZF: %#x %v", mask, ok)
	}
	if _, ok := proc.EflagsDescription.Flag("IOPL"); ok {
		t.Errorf("IOPL is not addressable")
	}
	if _, ok := proc.MXCSRDescription.Flag("RC"); ok {
		t.Errorf("RC is a field, not a flag")
	}
	mask, shift, ok := proc.MXCSRDescription.Field("rc")
	if !ok || mask != 3<<13 || shift != 13 {
		t.Errorf("RC field: %#x %d %v", mask, shift, ok)
	}
	mask, shift, ok = proc.X87StatusDescription.Field("TOP")
	if !ok || mask != 7<<11 || shift != 11 {
		t.Errorf("TOP field: %#x %d %v", mask, shift, ok)
	}

	s := proc.EflagsDescription.Describe(0x246, 32)
	if !strings.Contains(s, "[PF ZF IF IOPL=0]") {
		t.Errorf("Describe(0x246) = %q", s)
	}
	s = proc.EflagsDescription.Describe(1<<30|1, 32)
	if !strings.Contains(s, "CF") || !strings.Contains(s, "unknown_flags=40000000") {
		t.Errorf("Describe with unknown bits = %q", s)
	}
}

func TestDisassemble(t *testing.T) {
	p := core.New(core.Options{Arch: proc.X64})
	p.LoadModule(&proc.Module{Name: "app", Ext: ".exe", Base: 0x400000, Size: 0x10000})
	// call 0x401000; ret; nop
	p.Map(0x401000, 0x10, []byte{0xe8, 0xfb, 0xff, 0xff, 0xff, 0xc3, 0x90})

	insts, err := proc.Disassemble(p, 0x401000, 3, 0x401005)
	if err != nil {
		t.Fatal(err)
	}
	if len(insts) != 3 {
		t.Fatalf("got %d instructions, expected 3", len(insts))
	}
	if !insts[0].IsCall() || insts[0].Loc != 0x401000 || len(insts[0].Bytes) != 5 {
		t.Errorf("call: %#v", insts[0])
	}
	if !strings.Contains(insts[0].Text, "0x401000") {
		t.Errorf("call target not made absolute: %q", insts[0].Text)
	}
	if !insts[1].IsRet() || !insts[1].AtPC || insts[1].Loc != 0x401005 {
		t.Errorf("ret: %#v", insts[1])
	}
	if insts[2].Text != "nop" || insts[2].AtPC {
		t.Errorf("nop: %#v", insts[2])
	}
}

func TestDisassembleShortRead(t *testing.T) {
	p := core.New(core.Options{Arch: proc.X64})
	p.Map(0x1000, 2, []byte{0xc3, 0x0f})

	// the second instruction is truncated by the end of the region
	insts, err := proc.Disassemble(p, 0x1000, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(insts) != 2 || insts[0].Text != "ret" || insts[1].Text != "?" || len(insts[1].Bytes) != 1 {
		t.Errorf("got %#v", insts)
	}

	if _, err := proc.Disassemble(p, 0x5000, 1, 0); err == nil {
		t.Errorf("disassembling unmapped memory succeeded")
	}

	p.Detach()
	if _, err := proc.Disassemble(p, 0x1000, 1, 0); !errors.Is(err, proc.ErrNoTarget) {
		t.Errorf("detached: got %v, expected %v", err, proc.ErrNoTarget)
	}
}
