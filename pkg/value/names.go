package value

import (
	"fmt"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/regnum"
)

// Names returns the register, flag and FPU field names recognized on arch,
// in the spelling used by the disassembler views. The list is meant for
// completion, lookups are case insensitive.
func Names(arch proc.Arch) []string {
	x64 := arch.Is64()
	r := append([]string(nil), regnum.Names(x64)...)
	for _, f := range proc.EflagsDescription.Names() {
		r = append(r, "_"+f)
	}
	for _, f := range proc.MXCSRDescription.Names() {
		r = append(r, "_"+mxcsrPrefix+f)
	}
	for _, f := range proc.X87StatusDescription.Names() {
		r = append(r, "_"+x87SWPrefix+f)
	}
	for _, f := range proc.X87ControlDescription.Names() {
		r = append(r, "_"+x87CWPrefix+f)
	}
	r = append(r, "_x87TagWord", "_x87StatusWord", "_x87ControlWord", "_MxCsr")
	for i := 0; i < 8; i++ {
		r = append(r,
			fmt.Sprintf("_%s%d", x87TWPrefix, i),
			fmt.Sprintf("_x87r%d", i),
			fmt.Sprintf("_st%d", i),
			fmt.Sprintf("_MM%d", i),
			fmt.Sprintf("_K%d", i))
	}
	nvec := 8
	if x64 {
		nvec = 16
	}
	for i := 0; i < nvec; i++ {
		r = append(r, fmt.Sprintf("_XMM%d", i), fmt.Sprintf("_YMM%d", i))
	}
	if x64 {
		nvec = 32
	}
	for i := 0; i < nvec; i++ {
		r = append(r, fmt.Sprintf("_ZMM%d", i))
	}
	return r
}
