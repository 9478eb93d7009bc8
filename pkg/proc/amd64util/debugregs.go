package amd64util

import "fmt"

// HWBreakpoint is one of the four hardware breakpoint slots encoded in the
// x86 debug registers, see the Intel 64 and IA-32 Architectures Software
// Developer's Manual, Vol. 3B, section 17.2
type HWBreakpoint struct {
	Index     int
	Addr      uint64
	Read      bool
	Write     bool
	Size      int
	Triggered bool // condition bit set in DR6
}

func lenrwBitsOffset(idx uint) uint {
	return 16 + idx*4
}

func enableBitOffset(idx uint) uint {
	return idx * 2
}

// DecodeDebugRegisters returns the enabled hardware breakpoints described
// by DR0-DR3, DR6 and DR7.
func DecodeDebugRegisters(addrs [4]uint64, dr6, dr7 uint64) []HWBreakpoint {
	var r []HWBreakpoint
	for idx := uint(0); idx < 4; idx++ {
		if dr7&(1<<enableBitOffset(idx)) == 0 {
			continue
		}
		bp := HWBreakpoint{Index: int(idx), Addr: addrs[idx], Triggered: dr6&(1<<idx) != 0}
		lenrw := (dr7 >> lenrwBitsOffset(idx)) & 0xf
		bp.Write = (lenrw & 0x1) != 0
		bp.Read = (lenrw & 0x2) != 0
		switch lenrw >> 2 {
		case 0x0:
			bp.Size = 1
		case 0x1:
			bp.Size = 2
		case 0x2:
			bp.Size = 8 // sic
		case 0x3:
			bp.Size = 4
		}
		r = append(r, bp)
	}
	return r
}

func (bp HWBreakpoint) String() string {
	kind := "x"
	switch {
	case bp.Read && bp.Write:
		kind = "rw"
	case bp.Write:
		kind = "w"
	}
	s := fmt.Sprintf("dr%d %#x %s%d", bp.Index, bp.Addr, kind, bp.Size)
	if bp.Triggered {
		s += " hit"
	}
	return s
}
