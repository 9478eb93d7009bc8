package proc

import (
	"fmt"
	"strings"
)

// Arch describes the bitness of the debuggee.
type Arch struct {
	Name    string
	ptrSize int
}

var (
	// X86 is a 32-bit x86 target.
	X86 = Arch{Name: "x86", ptrSize: 4}
	// X64 is a 64-bit x86 target.
	X64 = Arch{Name: "x64", ptrSize: 8}
)

// ArchFromName returns the architecture called name ("x86", "i386", "x64",
// "amd64").
func ArchFromName(name string) (Arch, error) {
	switch strings.ToLower(name) {
	case "x86", "i386", "386", "x32":
		return X86, nil
	case "x64", "amd64", "x86_64", "":
		return X64, nil
	}
	return Arch{}, fmt.Errorf("unknown architecture %q", name)
}

// PtrSize returns the size of a pointer in bytes.
func (a Arch) PtrSize() int {
	return a.ptrSize
}

// Is64 reports whether the target is 64-bit.
func (a Arch) Is64() bool {
	return a.ptrSize == 8
}

// Mode returns the processor mode in bits, suitable for the disassembler.
func (a Arch) Mode() int {
	return a.ptrSize * 8
}

// PtrMask masks v to the pointer width.
func (a Arch) PtrMask(v uint64) uint64 {
	if a.ptrSize == 8 {
		return v
	}
	return v & 0xffffffff
}

// Select returns v32 on 32-bit targets and v64 on 64-bit targets.
func (a Arch) Select(v32, v64 uint64) uint64 {
	if a.Is64() {
		return v64
	}
	return v32
}
