package proc

import (
	"strconv"
	"strings"
)

// DefaultForwardDepth is the number of forwarded exports followed before
// giving up.
const DefaultForwardDepth = 10

// Module is a loaded image.
type Module struct {
	Name        string `yaml:"name"`
	Ext         string `yaml:"ext"`
	Base        uint64 `yaml:"base"`
	Size        uint64 `yaml:"size"`
	Entry       uint64 `yaml:"entry"`
	OrdinalBase uint64 `yaml:"ordinal-base"`
	// Exports are sorted by ordinal, Exports[i] has ordinal OrdinalBase+i.
	Exports  []Export  `yaml:"exports"`
	Sections []Section `yaml:"sections"`
}

// Export is an entry of the export table of a module.
type Export struct {
	Name string `yaml:"name"`
	RVA  uint64 `yaml:"rva"`
	// Forward is set for forwarded exports, in "module.export" or
	// "module.#ordinal" form.
	Forward string `yaml:"forward,omitempty"`
}

// Section maps a part of the image file into memory.
type Section struct {
	Name           string `yaml:"name"`
	VirtualAddress uint64 `yaml:"rva"`
	VirtualSize    uint64 `yaml:"vsize"`
	RawOffset      uint64 `yaml:"raw-offset"`
	RawSize        uint64 `yaml:"raw-size"`
}

// FullName returns the name of the module with its extension.
func (m *Module) FullName() string {
	return m.Name + m.Ext
}

// Contains reports whether addr is inside the image.
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr < m.Base+m.Size
}

// ExportByName returns the export called name.
func (m *Module) ExportByName(name string) (*Export, bool) {
	for i := range m.Exports {
		if m.Exports[i].Name == name {
			return &m.Exports[i], true
		}
	}
	return nil, false
}

// ExportAt returns the export whose address is addr.
func (m *Module) ExportAt(addr uint64) (*Export, bool) {
	for i := range m.Exports {
		if m.Exports[i].Forward == "" && m.Base+m.Exports[i].RVA == addr {
			return &m.Exports[i], true
		}
	}
	return nil, false
}

// FileOffsetToVA converts an offset in the image file to a virtual
// address. The offset must be inside the loaded image.
func (m *Module) FileOffsetToVA(offset uint64) (uint64, bool) {
	if offset >= m.Size {
		return 0, false
	}
	for _, s := range m.Sections {
		if offset >= s.RawOffset && offset < s.RawOffset+s.RawSize {
			return m.Base + s.VirtualAddress + (offset - s.RawOffset), true
		}
	}
	if len(m.Sections) == 0 || offset < m.Sections[0].RawOffset {
		// headers are mapped at the image base
		return m.Base + offset, true
	}
	return 0, false
}

// VAToFileOffset is the inverse of FileOffsetToVA.
func (m *Module) VAToFileOffset(va uint64) (uint64, bool) {
	if !m.Contains(va) {
		return 0, false
	}
	rva := va - m.Base
	for _, s := range m.Sections {
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.RawSize {
			return s.RawOffset + (rva - s.VirtualAddress), true
		}
	}
	if len(m.Sections) == 0 || rva < m.Sections[0].VirtualAddress {
		return rva, true
	}
	return 0, false
}

// ProcAddress returns the address of the export of m called name. Forwarded
// exports are followed through tbl at most depth times, a forwarded export
// that can not be followed resolves to 0.
func ProcAddress(tbl ModuleTable, m *Module, name string, depth int) uint64 {
	exp, ok := m.ExportByName(name)
	if !ok {
		return 0
	}
	if exp.Forward == "" {
		return m.Base + exp.RVA
	}
	if depth <= 0 || tbl == nil {
		return 0
	}
	dot := strings.LastIndexByte(exp.Forward, '.')
	if dot <= 0 || dot == len(exp.Forward)-1 {
		return 0
	}
	fwdmod := tbl.InfoFromAddr(tbl.BaseFromName(exp.Forward[:dot]))
	if fwdmod == nil {
		return 0
	}
	fwdname := exp.Forward[dot+1:]
	if fwdname[0] == '#' {
		ordinal, err := strconv.ParseUint(fwdname[1:], 10, 16)
		if err != nil || ordinal < fwdmod.OrdinalBase {
			return 0
		}
		idx := ordinal - fwdmod.OrdinalBase
		if idx >= uint64(len(fwdmod.Exports)) {
			return 0
		}
		fwdname = fwdmod.Exports[idx].Name
		if fwdmod.Exports[idx].Forward == "" {
			return fwdmod.Base + fwdmod.Exports[idx].RVA
		}
	}
	return ProcAddress(tbl, fwdmod, fwdname, depth-1)
}
