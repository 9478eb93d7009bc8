// Package core implements a debug target backed by a register and memory
// snapshot instead of a live process. Snapshots are loaded from YAML files
// or built in code and stay writable: register and memory writes are
// applied to the snapshot and memory patches are tracked.
package core

import (
	"sort"
	"sync"

	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/regnum"
)

// Process is a snapshot of a debuggee.
type Process struct {
	mu sync.Mutex

	arch      proc.Arch
	attached  bool
	mem       *patchedMemory
	regions   []*region
	modules   *moduleTable
	thread    *thread
	labels    nameTable
	symbols   nameTable
	functions functionTable
}

var _ proc.Target = &Process{}

// Options configures a new Process.
type Options struct {
	Arch            proc.Arch
	TEB             uint64
	NoAVX512        bool
	ExportCacheSize int
}

// New returns an empty attached snapshot.
func New(opts Options) *Process {
	if opts.Arch.PtrSize() == 0 {
		opts.Arch = proc.X64
	}
	p := &Process{
		arch:     opts.Arch,
		attached: true,
		mem:      newPatchedMemory(),
		modules:  newModuleTable(opts.ExportCacheSize),
		labels:   nameTable{},
		symbols:  nameTable{},
	}
	p.thread = &thread{p: p, teb: opts.TEB, avx512: !opts.NoAVX512}
	p.thread.xstate.Cwd = 0x37f
	p.thread.xstate.Mxcsr = 0x1f80
	p.thread.xstate.TagWord = 0xffff
	return p
}

func (p *Process) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// Detach ends the debug session, every thread and memory access fails
// afterwards until Attach is called.
func (p *Process) Detach() {
	p.mu.Lock()
	p.attached = false
	p.mu.Unlock()
	logflags.CoreLogger().Debug("detached")
}

// Attach restarts the debug session.
func (p *Process) Attach() {
	p.mu.Lock()
	p.attached = true
	p.mu.Unlock()
}

func (p *Process) Arch() proc.Arch {
	return p.arch
}

func (p *Process) CurrentThread() (proc.Thread, error) {
	if !p.Attached() {
		return nil, proc.ErrNoTarget
	}
	return p.thread, nil
}

func (p *Process) Memory() proc.MemoryReadWriter {
	return &targetMemory{p}
}

// targetMemory fails every access while the process is detached.
type targetMemory struct {
	p *Process
}

func (m *targetMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if !m.p.Attached() {
		return 0, proc.ErrNoTarget
	}
	return m.p.mem.ReadMemory(buf, addr)
}

func (m *targetMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	if !m.p.Attached() {
		return 0, proc.ErrNoTarget
	}
	return m.p.mem.WriteMemory(addr, data)
}

func (m *targetMemory) Patch(addr uint64, data []byte) error {
	if !m.p.Attached() {
		return proc.ErrNoTarget
	}
	logflags.CoreLogger().Debugf("patch %#x %x", addr, data)
	return m.p.mem.Patch(addr, data)
}

// Map adds a writable memory region at addr. A nil data maps size zeroed
// bytes.
func (p *Process) Map(addr uint64, size uint64, data []byte) {
	buf := make([]byte, size)
	copy(buf, data)
	r := &region{addr: addr, data: buf}
	p.mem.mu.Lock()
	p.mem.mem.Add(r, addr, size)
	p.mem.mu.Unlock()
	p.regions = append(p.regions, r)
}

// MapReadOnly adds a region that rejects writes.
func (p *Process) MapReadOnly(addr uint64, data []byte) {
	r := &region{addr: addr, data: append([]byte(nil), data...), readOnly: true}
	p.mem.mu.Lock()
	p.mem.mem.Add(r, addr, uint64(len(data)))
	p.mem.mu.Unlock()
	p.regions = append(p.regions, r)
}

// Patches returns the bytes modified through patches.
func (p *Process) Patches() []proc.Patch {
	return p.mem.Patches()
}

// RestorePatches reverts every patch.
func (p *Process) RestorePatches() error {
	return p.mem.Restore()
}

func (p *Process) Modules() proc.ModuleTable {
	return p.modules
}

// LoadModule adds a module to the module table.
func (p *Process) LoadModule(m *proc.Module) {
	p.modules.Load(m)
}

// UnloadModule removes the module loaded at base.
func (p *Process) UnloadModule(base uint64) bool {
	return p.modules.Unload(base)
}

// SetRegister sets a register of the current thread even while detached.
func (p *Process) SetRegister(slot regnum.Slot, v uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < regnum.NumSlots {
		p.thread.regs[slot] = v
	}
}

// SetTEB moves the thread environment block of the current thread.
func (p *Process) SetTEB(teb uint64) {
	p.thread.teb = teb
}

// AddLabel defines a user label.
func (p *Process) AddLabel(name string, addr uint64) {
	p.labels[name] = addr
}

// AddSymbol defines a debug symbol.
func (p *Process) AddSymbol(name string, addr uint64) {
	p.symbols[name] = addr
}

// AddFunction records an analyzed function spanning [start, end).
func (p *Process) AddFunction(start, end uint64) {
	p.functions = append(p.functions, function{start, end})
	sort.Slice(p.functions, func(i, j int) bool { return p.functions[i].start < p.functions[j].start })
}

func (p *Process) Labels() proc.Labels       { return p.labels }
func (p *Process) Symbols() proc.Symbols     { return p.symbols }
func (p *Process) Functions() proc.Functions { return p.functions }

type nameTable map[string]uint64

func (t nameTable) LabelFromName(name string) (uint64, bool) {
	v, ok := t[name]
	return v, ok
}

func (t nameTable) AddrFromName(name string) (uint64, bool) {
	v, ok := t[name]
	return v, ok
}

type function struct {
	start, end uint64
}

type functionTable []function

func (t functionTable) FunctionStart(addr uint64) (uint64, bool) {
	i := sort.Search(len(t), func(i int) bool { return t[i].end > addr })
	if i < len(t) && t[i].start <= addr {
		return t[i].start, true
	}
	return 0, false
}
