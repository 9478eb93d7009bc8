package terminal

import (
	"fmt"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/value"
)

// views receives the refresh requests of the expression engine. The
// terminal has no persistent views, requests are logged and FollowIP
// moves the disassembly selection.
type views struct {
	t *Term
}

var _ value.Notifier = views{}

func (v views) UpdateAllViews() {
	v.t.log().Debug("update all views")
}

func (v views) UpdatePatches() {
	if v.t.target != nil {
		v.t.log().Debugf("%d patched bytes", len(v.t.target.Patches()))
	}
}

func (v views) UpdateRegisterView() {
	v.t.log().Debug("update register view")
}

func (v views) UpdateStack(csp uint64) {
	v.t.log().Debugf("stack at %#x", csp)
}

func (v views) FollowIP(cip uint64) {
	v.t.setSelection(cip)
	if v.t.target == nil {
		return
	}
	insts, err := proc.Disassemble(v.t.target, cip, 1, cip)
	if err != nil || len(insts) == 0 {
		fmt.Fprintf(v.t.stdout, "=> %0*X\n", v.t.target.Arch().PtrSize()*2, cip)
		return
	}
	fmt.Fprintf(v.t.stdout, "=> %0*X\t%s\n", v.t.target.Arch().PtrSize()*2, cip, insts[0].Text)
}

func (v views) TraceExecute(cip uint64) {
	v.t.log().Debugf("trace execute %#x", cip)
}
