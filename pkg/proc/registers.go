package proc

import (
	"fmt"
	"math"
	"strings"
)

// FlagRegisterDescr describes the bits of a flag register.
type FlagRegisterDescr []flagDescr

type flagDescr struct {
	name string
	mask uint64
	// displayOnly entries are printed by Describe but can not be addressed
	// by name.
	displayOnly bool
}

// MXCSRDescription describes the SSE control and status register.
var MXCSRDescription FlagRegisterDescr = []flagDescr{
	{"FZ", 1 << 15, false},
	{"RC", 1<<14 | 1<<13, false},
	{"PM", 1 << 12, false},
	{"UM", 1 << 11, false},
	{"OM", 1 << 10, false},
	{"ZM", 1 << 9, false},
	{"DM", 1 << 8, false},
	{"IM", 1 << 7, false},
	{"DAZ", 1 << 6, false},
	{"PE", 1 << 5, false},
	{"UE", 1 << 4, false},
	{"OE", 1 << 3, false},
	{"ZE", 1 << 2, false},
	{"DE", 1 << 1, false},
	{"IE", 1 << 0, false},
}

// EflagsDescription describes the flags register.
var EflagsDescription FlagRegisterDescr = []flagDescr{
	{"CF", 1 << 0, false},
	{"", 1 << 1, true},
	{"PF", 1 << 2, false},
	{"AF", 1 << 4, false},
	{"ZF", 1 << 6, false},
	{"SF", 1 << 7, false},
	{"TF", 1 << 8, false},
	{"IF", 1 << 9, false},
	{"DF", 1 << 10, false},
	{"OF", 1 << 11, false},
	{"IOPL", 1<<12 | 1<<13, true},
	{"NT", 1 << 14, true},
	{"RF", 1 << 16, false},
	{"VM", 1 << 17, false},
	{"AC", 1 << 18, false},
	{"VIF", 1 << 19, false},
	{"VIP", 1 << 20, false},
	{"ID", 1 << 21, false},
}

// X87StatusDescription describes the x87 FPU status word.
var X87StatusDescription FlagRegisterDescr = []flagDescr{
	{"B", 1 << 15, false},
	{"C3", 1 << 14, false},
	{"TOP", 7 << 11, false},
	{"C2", 1 << 10, false},
	{"C1", 1 << 9, false},
	{"C0", 1 << 8, false},
	{"ES", 1 << 7, false},
	{"SF", 1 << 6, false},
	{"P", 1 << 5, false},
	{"U", 1 << 4, false},
	{"O", 1 << 3, false},
	{"Z", 1 << 2, false},
	{"D", 1 << 1, false},
	{"I", 1 << 0, false},
}

// X87ControlDescription describes the x87 FPU control word.
var X87ControlDescription FlagRegisterDescr = []flagDescr{
	{"IC", 1 << 12, false},
	{"RC", 3 << 10, false},
	{"PC", 3 << 8, false},
	{"IEM", 1 << 7, false},
	{"PM", 1 << 5, false},
	{"UM", 1 << 4, false},
	{"OM", 1 << 3, false},
	{"ZM", 1 << 2, false},
	{"DM", 1 << 1, false},
	{"IM", 1 << 0, false},
}

// Mask returns the union of all bits described.
func (descr FlagRegisterDescr) Mask() uint64 {
	var r uint64
	for _, f := range descr {
		r = r | f.mask
	}
	return r
}

// Flag returns the mask of the single bit flag called name, matched case
// insensitively. Multi-bit fields are not flags.
func (descr FlagRegisterDescr) Flag(name string) (uint64, bool) {
	for _, f := range descr {
		if f.displayOnly || f.name == "" || f.mask&(f.mask-1) != 0 {
			continue
		}
		if strings.EqualFold(f.name, name) {
			return f.mask, true
		}
	}
	return 0, false
}

// Field returns the mask and the shift of the multi-bit field called name.
func (descr FlagRegisterDescr) Field(name string) (mask uint64, shift uint, ok bool) {
	for _, f := range descr {
		if f.displayOnly || f.mask&(f.mask-1) == 0 {
			continue
		}
		if strings.EqualFold(f.name, name) {
			rbm := f.mask & -f.mask
			return f.mask, uint(math.Log2(float64(rbm))), true
		}
	}
	return 0, 0, false
}

// Names returns the names of every addressable flag and field.
func (descr FlagRegisterDescr) Names() []string {
	var r []string
	for _, f := range descr {
		if f.displayOnly || f.name == "" {
			continue
		}
		r = append(r, f.name)
	}
	return r
}

// Describe formats reg with the names of the flags that are set.
func (descr FlagRegisterDescr) Describe(reg uint64, bitsize int) string {
	var r []string
	for _, f := range descr {
		if f.name == "" {
			continue
		}
		// rbm is f.mask with only the right-most bit set:
		// 0001 1100 -> 0000 0100
		rbm := f.mask & -f.mask
		if rbm == f.mask {
			if reg&f.mask != 0 {
				r = append(r, f.name)
			}
		} else {
			x := (reg & f.mask) >> uint64(math.Log2(float64(rbm)))
			r = append(r, fmt.Sprintf("%s=%x", f.name, x))
		}
	}
	if reg & ^descr.Mask() != 0 {
		r = append(r, fmt.Sprintf("unknown_flags=%x", reg&^descr.Mask()))
	}
	return fmt.Sprintf("%#0*x\t[%s]", bitsize/4, reg, strings.Join(r, " "))
}
