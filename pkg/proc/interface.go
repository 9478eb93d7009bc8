package proc

import (
	"errors"
	"sync"

	"github.com/go-delve/dbgval/pkg/proc/amd64util"
	"github.com/go-delve/dbgval/pkg/regnum"
)

// ErrNoTarget is returned by Target methods when no debuggee is attached.
var ErrNoTarget = errors.New("not debugging")

// ErrMemoryRead is returned when no byte of a memory range could be read.
var ErrMemoryRead = errors.New("could not read memory")

// Target represents the debuggee as seen by the expression engine.
type Target interface {
	// Attached reports whether a debug session is active.
	Attached() bool
	Arch() Arch
	// CurrentThread returns the active thread, the one whose registers are
	// read and written.
	CurrentThread() (Thread, error)
	Memory() MemoryReadWriter
	Modules() ModuleTable
	Labels() Labels
	Symbols() Symbols
	Functions() Functions
}

// Thread is the context of one debuggee thread.
type Thread interface {
	Register(slot regnum.Slot) (uint64, error)
	SetRegister(slot regnum.Slot, value uint64) error
	// TEB returns the address of the thread environment block.
	TEB() (uint64, error)
	Xstate() (*amd64util.Xstate, error)
	SetXstate(*amd64util.Xstate) error
	AVX512() (*amd64util.AVX512Context, error)
	SetAVX512(*amd64util.AVX512Context) error
}

// ModuleTable is the list of modules loaded by the debuggee. Callers must
// hold the read lock returned by RLocker while looking up modules.
type ModuleTable interface {
	RLocker() sync.Locker
	// BaseFromName returns the load address of the module called name
	// (with or without extension), or 0.
	BaseFromName(name string) uint64
	// InfoFromAddr returns the module containing addr.
	InfoFromAddr(addr uint64) *Module
	// NameFromAddr returns the name of the module containing addr, with
	// its extension if ext is set.
	NameFromAddr(addr uint64, ext bool) (string, bool)
	// Enum calls fn for every module in load order.
	Enum(fn func(*Module))
	// SymbolicName returns a "module.export" style name for addr.
	SymbolicName(addr uint64) string
}

// Labels is the table of user defined labels.
type Labels interface {
	LabelFromName(name string) (uint64, bool)
}

// Symbols resolves debug symbols.
type Symbols interface {
	AddrFromName(name string) (uint64, bool)
}

// Functions knows the extent of analyzed functions.
type Functions interface {
	// FunctionStart returns the start of the function containing addr.
	FunctionStart(addr uint64) (uint64, bool)
}
