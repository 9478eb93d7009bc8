package dap

import (
	"fmt"
	"strconv"

	"github.com/google/go-dap"

	"github.com/go-delve/dbgval/pkg/value"
)

// formatResult renders a resolved value. Addresses and sized operands are
// shown in hexadecimal, plain numbers in decimal unless the client asks
// for hex. Signed calculation mode is not consulted, the value is the raw
// bit pattern.
func formatResult(res value.Result, format *dap.ValueFormat) string {
	hex := res.Hex || res.Size > 0
	if format != nil && format.Hex {
		hex = true
	}
	if hex {
		return fmt.Sprintf("%#x", res.Value)
	}
	return strconv.FormatUint(res.Value, 10)
}

// typeName describes the operand size the way the disassembler names
// memory operands.
func typeName(res value.Result) string {
	switch res.Size {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 8:
		return "qword"
	}
	return ""
}

// notifier forwards engine view updates to the client.
type notifier struct {
	s *Server
}

var _ value.Notifier = notifier{}

func (n notifier) UpdateAllViews() {
	n.s.log.Debug("update all views")
}

func (n notifier) UpdatePatches() {
	n.s.log.Debug("update patches")
}

func (n notifier) UpdateRegisterView() {
	n.s.log.Debug("update register view")
}

func (n notifier) UpdateStack(csp uint64) {
	n.s.log.Debugf("stack at %#x", csp)
}

// FollowIP reports the thread as stopped again, frontends then refresh
// their call stack and disassembly at the new instruction pointer.
func (n notifier) FollowIP(cip uint64) {
	n.s.log.Debugf("follow ip %#x", cip)
	if n.s.configured {
		n.s.sendStoppedEvent("goto")
	}
}

func (n notifier) TraceExecute(cip uint64) {
	n.s.log.Debugf("trace execute %#x", cip)
}

// outputWriter sends the engine console to the client as output events.
type outputWriter struct {
	s *Server
}

func (w outputWriter) Write(p []byte) (int, error) {
	if w.s.clientConn() == nil {
		return len(p), nil
	}
	event := &dap.OutputEvent{Event: *newEvent("output")}
	event.Body.Category = "console"
	event.Body.Output = string(p)
	w.s.send(event)
	return len(p), nil
}
