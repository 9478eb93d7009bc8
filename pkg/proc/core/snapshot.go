package core

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/proc/amd64util"
	"github.com/go-delve/dbgval/pkg/regnum"
)

// Snapshot is the on-disk format of a Process.
type Snapshot struct {
	Arch     string            `yaml:"arch"`
	Detached bool              `yaml:"detached,omitempty"`
	TEB      uint64            `yaml:"teb"`
	NoAVX512 bool              `yaml:"no-avx512,omitempty"`
	Regs     map[string]uint64 `yaml:"registers"`
	// Xsave is the hex encoded XSAVE area of the thread. MXCSR and the x87
	// control, status and tag words in Regs override it.
	Xsave     string            `yaml:"xsave,omitempty"`
	Memory    []MemoryRegion    `yaml:"memory"`
	Modules   []*proc.Module    `yaml:"modules"`
	Labels    map[string]uint64 `yaml:"labels,omitempty"`
	Symbols   map[string]uint64 `yaml:"symbols,omitempty"`
	Functions []FunctionRange   `yaml:"functions,omitempty"`
}

// MemoryRegion is a mapped region of a snapshot.
type MemoryRegion struct {
	Addr     uint64 `yaml:"addr"`
	Size     uint64 `yaml:"size"`
	Data     string `yaml:"data,omitempty"` // hex, zero extended to Size
	ReadOnly bool   `yaml:"read-only,omitempty"`
}

// FunctionRange is an analyzed function.
type FunctionRange struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
}

// Open loads the snapshot file at path.
func Open(path string, exportCacheSize int) (*Process, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Load(buf, exportCacheSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	logflags.CoreLogger().Debugf("loaded snapshot %s", path)
	return p, nil
}

// Load decodes a YAML snapshot.
func Load(buf []byte, exportCacheSize int) (*Process, error) {
	var s Snapshot
	if err := yaml.UnmarshalStrict(buf, &s); err != nil {
		return nil, err
	}
	return s.Process(exportCacheSize)
}

// Process builds the target described by s.
func (s *Snapshot) Process(exportCacheSize int) (*Process, error) {
	arch, err := proc.ArchFromName(s.Arch)
	if err != nil {
		return nil, err
	}
	p := New(Options{Arch: arch, TEB: s.TEB, NoAVX512: s.NoAVX512, ExportCacheSize: exportCacheSize})

	if s.Xsave != "" {
		area, err := hex.DecodeString(s.Xsave)
		if err != nil {
			return nil, fmt.Errorf("xsave: %v", err)
		}
		if err := amd64util.XstateRead(area, &p.thread.xstate); err != nil {
			return nil, fmt.Errorf("xsave: %v", err)
		}
	}

	for name, v := range s.Regs {
		slot, ok := regnum.SlotFromName(name, arch.Is64())
		if !ok || slot >= regnum.NumSlots {
			return nil, fmt.Errorf("unknown register %q", name)
		}
		if err := p.thread.SetRegister(slot, v); err != nil {
			return nil, err
		}
	}

	for _, r := range s.Memory {
		data, err := hex.DecodeString(strings.Join(strings.Fields(r.Data), ""))
		if err != nil {
			return nil, fmt.Errorf("memory at %#x: %v", r.Addr, err)
		}
		if uint64(len(data)) > r.Size {
			return nil, fmt.Errorf("memory at %#x: %d bytes of data for a region of %d bytes", r.Addr, len(data), r.Size)
		}
		if r.ReadOnly {
			buf := make([]byte, r.Size)
			copy(buf, data)
			p.MapReadOnly(r.Addr, buf)
		} else {
			p.Map(r.Addr, r.Size, data)
		}
	}

	for _, m := range s.Modules {
		if m.Name == "" {
			return nil, fmt.Errorf("module at %#x has no name", m.Base)
		}
		if i := strings.LastIndexByte(m.Name, '.'); i > 0 && m.Ext == "" {
			m.Name, m.Ext = m.Name[:i], m.Name[i:]
		}
		p.LoadModule(m)
	}
	for name, addr := range s.Labels {
		p.AddLabel(name, addr)
	}
	for name, addr := range s.Symbols {
		p.AddSymbol(name, addr)
	}
	for _, f := range s.Functions {
		p.AddFunction(f.Start, f.End)
	}
	if s.Detached {
		p.Detach()
	}
	return p, nil
}

// Snapshot captures the current state of p.
func (p *Process) Snapshot() *Snapshot {
	p.mu.Lock()
	s := &Snapshot{
		Arch:     p.arch.Name,
		Detached: !p.attached,
		TEB:      p.thread.teb,
		NoAVX512: !p.thread.avx512,
		Regs:     map[string]uint64{},
		Xsave:    hex.EncodeToString(p.thread.xstate.Bytes()),
		Labels:   map[string]uint64{},
		Symbols:  map[string]uint64{},
	}
	for slot := regnum.Slot(0); slot < regnum.NumSlots; slot++ {
		name := slot.Name(p.arch.Is64())
		if name == "" {
			continue
		}
		switch slot {
		case regnum.MXCSR, regnum.X87ControlWord, regnum.X87StatusWord, regnum.X87TagWord:
			continue
		}
		s.Regs[name] = p.thread.regs[slot]
	}
	for name, addr := range p.labels {
		s.Labels[name] = addr
	}
	for name, addr := range p.symbols {
		s.Symbols[name] = addr
	}
	for _, f := range p.functions {
		s.Functions = append(s.Functions, FunctionRange{f.start, f.end})
	}
	p.mu.Unlock()

	p.mem.mu.Lock()
	for _, r := range p.regions {
		s.Memory = append(s.Memory, MemoryRegion{Addr: r.addr, Size: uint64(len(r.data)), Data: hex.EncodeToString(r.data), ReadOnly: r.readOnly})
	}
	p.mem.mu.Unlock()

	p.modules.mu.RLock()
	s.Modules = append(s.Modules, p.modules.mods...)
	p.modules.mu.RUnlock()
	return s
}

// Save writes the snapshot of p to path.
func (p *Process) Save(path string) error {
	out, err := yaml.Marshal(p.Snapshot())
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0640)
}
