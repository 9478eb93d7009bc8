package terminal

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-delve/dbgval/pkg/proc"
)

// disasmPrint writes one instruction per line: a marker for the current
// instruction pointer, the address padded to the pointer size, the raw
// bytes and the Intel syntax text.
func disasmPrint(insts []proc.AsmInstruction, out io.Writer, ptrSize int) {
	tw := tabwriter.NewWriter(out, 1, 8, 1, '\t', 0)
	for _, inst := range insts {
		marker := ""
		if inst.AtPC {
			marker = "=>"
		}
		fmt.Fprintf(tw, "%s\t%0*X\t%x\t%s\n", marker, ptrSize*2, inst.Loc, inst.Bytes, inst.Text)
	}
	tw.Flush()
}
