package regnum

import (
	"fmt"
	"sort"
	"strings"
)

// Slot identifies a storage location in a thread context. Every register
// alias, whatever its width, resolves to exactly one slot. On 32-bit
// targets the CAX..CIP slots hold the E-registers.
type Slot uint16

const (
	CAX Slot = iota
	CBX
	CCX
	CDX
	CSI
	CDI
	CBP
	CSP
	CIP
	R8 // R9 through R15 follow
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	CFLAGS
	GS
	FS
	ES
	DS
	CS
	SS
	DR0
	DR1
	DR2
	DR3
	DR6
	DR7
	MXCSR
	X87ControlWord
	X87StatusWord
	X87TagWord

	NumSlots

	// LastError and LastStatus are not hardware registers, they live in
	// the thread environment block.
	LastError Slot = 0x100
	LastStatus Slot = 0x101
)

var slotToName = map[Slot][2]string{
	CAX:            {"eax", "rax"},
	CBX:            {"ebx", "rbx"},
	CCX:            {"ecx", "rcx"},
	CDX:            {"edx", "rdx"},
	CSI:            {"esi", "rsi"},
	CDI:            {"edi", "rdi"},
	CBP:            {"ebp", "rbp"},
	CSP:            {"esp", "rsp"},
	CIP:            {"eip", "rip"},
	R8:             {"", "r8"},
	R9:             {"", "r9"},
	R10:            {"", "r10"},
	R11:            {"", "r11"},
	R12:            {"", "r12"},
	R13:            {"", "r13"},
	R14:            {"", "r14"},
	R15:            {"", "r15"},
	CFLAGS:         {"eflags", "rflags"},
	GS:             {"gs", "gs"},
	FS:             {"fs", "fs"},
	ES:             {"es", "es"},
	DS:             {"ds", "ds"},
	CS:             {"cs", "cs"},
	SS:             {"ss", "ss"},
	DR0:            {"dr0", "dr0"},
	DR1:            {"dr1", "dr1"},
	DR2:            {"dr2", "dr2"},
	DR3:            {"dr3", "dr3"},
	DR6:            {"dr6", "dr6"},
	DR7:            {"dr7", "dr7"},
	MXCSR:          {"MxCsr", "MxCsr"},
	X87ControlWord: {"x87ControlWord", "x87ControlWord"},
	X87StatusWord:  {"x87StatusWord", "x87StatusWord"},
	X87TagWord:     {"x87TagWord", "x87TagWord"},
	LastError:      {"lasterror", "lasterror"},
	LastStatus:     {"laststatus", "laststatus"},
}

// Name returns the canonical name of slot s on a target of the given
// bitness, or the empty string if the slot does not exist there.
func (s Slot) Name(x64 bool) string {
	n, ok := slotToName[s]
	if !ok {
		return fmt.Sprintf("slot%d", uint16(s))
	}
	if x64 {
		return n[1]
	}
	return n[0]
}

// SlotFromName is the inverse of Slot.Name, case insensitive.
func SlotFromName(name string, x64 bool) (Slot, bool) {
	idx := 0
	if x64 {
		idx = 1
	}
	for s, n := range slotToName {
		if n[idx] != "" && strings.EqualFold(n[idx], name) {
			return s, true
		}
	}
	return 0, false
}

// Kind groups aliases by the way their writes are applied.
type Kind uint8

const (
	KindGeneral Kind = iota // masked merge into the slot
	KindPointer             // full-width write
	KindSegment             // 16 bit write
	KindDebug               // full-width write into a debug register
	KindTEB                 // 4 byte field of the thread environment block
)

// Alias describes one spelling of a register.
type Alias struct {
	Name  string
	Slot  Slot
	Size  int  // in bytes, 0 means pointer sized
	Shift uint // bit offset inside the slot
	Kind  Kind
	X64   bool // only valid on 64-bit targets
}

// Mask returns the bit mask of the alias, already shifted into position.
func (a Alias) Mask(ptrSize int) uint64 {
	size := a.Size
	if size == 0 {
		size = ptrSize
	}
	if size >= 8 {
		return ^uint64(0)
	}
	return ((uint64(1) << (uint(size) * 8)) - 1) << a.Shift
}

// Pack folds a name of at most four characters into an uppercase
// little-endian integer. Longer names pack to 0.
func Pack(name string) uint32 {
	if len(name) == 0 || len(name) > 4 {
		return 0
	}
	var v uint32
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		v |= uint32(c) << (8 * uint(i))
	}
	return v
}

var (
	shortAliases = map[uint32]Alias{}
	longAliases  = map[string]Alias{}
)

func add(a Alias) {
	if len(a.Name) > 4 {
		longAliases[strings.ToLower(a.Name)] = a
		return
	}
	k := Pack(a.Name)
	if _, dup := shortAliases[k]; dup {
		panic("duplicate register alias " + a.Name)
	}
	shortAliases[k] = a
}

func init() {
	gprs := []struct {
		e, w, h, l, c, r string
		slot             Slot
	}{
		{"EAX", "AX", "AH", "AL", "CAX", "RAX", CAX},
		{"EBX", "BX", "BH", "BL", "CBX", "RBX", CBX},
		{"ECX", "CX", "CH", "CL", "CCX", "RCX", CCX},
		{"EDX", "DX", "DH", "DL", "CDX", "RDX", CDX},
		{"EDI", "DI", "DIH", "DIL", "CDI", "RDI", CDI},
		{"ESI", "SI", "SIH", "SIL", "CSI", "RSI", CSI},
		{"EBP", "BP", "BPH", "BPL", "CBP", "RBP", CBP},
		{"ESP", "SP", "SPH", "SPL", "CSP", "RSP", CSP},
		{"EIP", "IP", "IPH", "IPL", "CIP", "RIP", CIP},
	}
	for _, g := range gprs {
		add(Alias{Name: g.e, Slot: g.slot, Size: 4})
		add(Alias{Name: g.w, Slot: g.slot, Size: 2})
		add(Alias{Name: g.h, Slot: g.slot, Size: 1, Shift: 8})
		add(Alias{Name: g.l, Slot: g.slot, Size: 1})
		add(Alias{Name: g.c, Slot: g.slot, Kind: KindPointer})
		add(Alias{Name: g.r, Slot: g.slot, Size: 8, Kind: KindPointer, X64: true})
	}
	for i := 0; i < 8; i++ {
		slot := R8 + Slot(i)
		n := fmt.Sprintf("R%d", i+8)
		add(Alias{Name: n, Slot: slot, Size: 8, Kind: KindPointer, X64: true})
		add(Alias{Name: n + "D", Slot: slot, Size: 4, X64: true})
		add(Alias{Name: n + "W", Slot: slot, Size: 2, X64: true})
		add(Alias{Name: n + "B", Slot: slot, Size: 1, X64: true})
	}
	for _, s := range []Slot{GS, FS, ES, DS, CS, SS} {
		add(Alias{Name: strings.ToUpper(s.Name(false)), Slot: s, Size: 4, Kind: KindSegment})
	}
	for _, dr := range []struct {
		name string
		slot Slot
	}{{"DR0", DR0}, {"DR1", DR1}, {"DR2", DR2}, {"DR3", DR3}, {"DR4", DR6}, {"DR5", DR7}, {"DR6", DR6}, {"DR7", DR7}} {
		add(Alias{Name: dr.name, Slot: dr.slot, Kind: KindDebug})
	}
	add(Alias{Name: "eflags", Slot: CFLAGS, Size: 4})
	add(Alias{Name: "cflags", Slot: CFLAGS, Kind: KindPointer})
	add(Alias{Name: "rflags", Slot: CFLAGS, Size: 8, Kind: KindPointer, X64: true})
	add(Alias{Name: "lasterror", Slot: LastError, Size: 4, Kind: KindTEB})
	add(Alias{Name: "laststatus", Slot: LastStatus, Size: 4, Kind: KindTEB})
}

// Lookup finds the register alias spelled by name. Names of up to four
// characters are matched through their packed form, longer names by a case
// insensitive comparison.
func Lookup(name string, x64 bool) (Alias, bool) {
	var a Alias
	var ok bool
	if len(name) <= 4 {
		a, ok = shortAliases[Pack(name)]
	} else {
		a, ok = longAliases[strings.ToLower(name)]
	}
	if !ok || (a.X64 && !x64) {
		return Alias{}, false
	}
	return a, true
}

// TEBOffset returns the offset of a thread environment block field.
func TEBOffset(s Slot, x64 bool) (uint64, bool) {
	switch s {
	case LastError:
		if x64 {
			return 0x68, true
		}
		return 0x34, true
	case LastStatus:
		if x64 {
			return 0x1250, true
		}
		return 0xBF4, true
	}
	return 0, false
}

// Names returns every alias valid on the target, lowercased and sorted.
func Names(x64 bool) []string {
	var r []string
	for _, a := range shortAliases {
		if !a.X64 || x64 {
			r = append(r, strings.ToLower(a.Name))
		}
	}
	for _, a := range longAliases {
		if !a.X64 || x64 {
			r = append(r, strings.ToLower(a.Name))
		}
	}
	sort.Strings(r)
	return r
}
