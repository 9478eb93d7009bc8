package value

import (
	"strconv"
	"strings"

	"github.com/go-delve/dbgval/pkg/proc"
)

// splitAPI splits a "module:export" style token. The delimiters are tried
// in order: ':', then '.' (the first one if the token contains "..", the
// last one otherwise), then '?'. Forwarded exports are not followed for
// '?'. idx is -1 for unqualified names.
func splitAPI(name string) (idx int, resolveForwards bool) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return i, true
	}
	if strings.Contains(name, "..") {
		if i := strings.IndexByte(name, '.'); i >= 0 {
			return i, true
		}
	} else if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return i, true
	}
	return strings.IndexByte(name, '?'), false
}

// resolveAPI resolves module exports and pseudo exports:
//
//	module:export       exported function, following forwards
//	module.export       same, module names can contain dots ("a.b..export")
//	module?export       exported function, without following forwards
//	module:base         load address (also imagebase and header)
//	module:entry        entry point (also entrypoint, oep and ep)
//	module:$expr        load address plus an RVA
//	module:#expr        file offset converted to a virtual address
//	module:ordinal      export by hex ordinal, decimal with a leading '.'
//	:export             export of the module selected in the disassembly
//	export              export of any module, preferring kernel32.dll
func (e *Engine) resolveAPI(name string, silent bool) (uint64, bool) {
	if !e.Debugging() {
		return 0, false
	}
	modules := e.target.Modules()
	idx, resolveForwards := splitAPI(name)
	if idx < 0 {
		return e.resolveUnqualifiedAPI(modules, name, silent)
	}

	modname := name[:idx]
	apiname := name[idx+1:]
	if apiname == "" {
		return 0, false
	}

	// RVA and file offset expressions are resolved before taking the module
	// lock, they can contain module references themselves.
	var exprValue uint64
	exprOK := false
	if (apiname[0] == '$' || apiname[0] == '#') && len(apiname) > 1 {
		if res, err := e.Resolve(apiname[1:], ResolveOptions{Silent: true}); err == nil {
			exprValue, exprOK = res.Value, true
		}
	}

	lock := modules.RLocker()
	lock.Lock()
	defer lock.Unlock()

	if modname == "" {
		if e.sel == nil {
			return 0, false
		}
		var ok bool
		modname, ok = modules.NameFromAddr(e.sel.DisassemblySelection(), true)
		if !ok {
			return 0, false
		}
	}
	modbase := modules.BaseFromName(modname)
	mod := modules.InfoFromAddr(modbase)
	if mod == nil {
		return 0, false
	}

	var addr uint64
	if resolveForwards {
		addr = proc.ProcAddress(modules, mod, apiname, proc.DefaultForwardDepth)
	}
	if addr != 0 {
		return addr, true
	}

	switch {
	case equalsAny(apiname, "base", "imagebase", "header"):
		addr = modbase
	case equalsAny(apiname, "entrypoint", "entry", "oep", "ep"):
		addr = mod.Entry
	case apiname[0] == '$':
		if exprOK {
			addr = modbase + exprValue
		}
	case apiname[0] == '#':
		if exprOK {
			addr, _ = mod.FileOffsetToVA(exprValue)
		}
	case !resolveForwards:
		addr = proc.ProcAddress(modules, mod, apiname, 0)
	default:
		var ordinal uint64
		var err error
		if apiname[0] == '.' {
			ordinal, err = strconv.ParseUint(apiname[1:], 10, 64)
		} else {
			ordinal, err = strconv.ParseUint(trimHexPrefix(apiname), 16, 64)
		}
		if err == nil && ordinal <= 0xffff {
			index := ordinal - mod.OrdinalBase
			if index < uint64(len(mod.Exports)) {
				addr = modbase + mod.Exports[index].RVA
			} else if ordinal == 0 {
				addr = modbase
			}
		}
	}
	if addr == 0 {
		return 0, false
	}
	return e.Arch().PtrMask(addr), true
}

// resolveUnqualifiedAPI searches every module for an export called name.
// Matches are deduplicated by address and a match in kernel32.dll is
// preferred, the other matches are printed.
func (e *Engine) resolveUnqualifiedAPI(modules proc.ModuleTable, name string, silent bool) (uint64, bool) {
	lock := modules.RLocker()
	lock.Lock()
	defer lock.Unlock()

	kernel32 := -1
	var found []uint64
	modules.Enum(func(m *proc.Module) {
		addr := proc.ProcAddress(modules, m, name, proc.DefaultForwardDepth)
		if addr == 0 {
			return
		}
		for _, a := range found {
			if a == addr {
				return
			}
		}
		if strings.EqualFold(m.Name, "kernel32") && strings.EqualFold(m.Ext, ".dll") {
			kernel32 = len(found)
		}
		found = append(found, addr)
	})
	if len(found) == 0 {
		return 0, false
	}
	if kernel32 >= 0 {
		found[0], found[kernel32] = found[kernel32], found[0]
	}
	if !silent {
		others := found[1:]
		if e.maxAPIMatches > 0 && len(others) > e.maxAPIMatches {
			others = others[:e.maxAPIMatches]
		}
		width := e.Arch().PtrSize() * 2
		for _, addr := range others {
			e.printf(silent, "%0*X %s\n", width, addr, modules.SymbolicName(addr))
		}
	}
	return found[0], true
}

func equalsAny(s string, names ...string) bool {
	for _, n := range names {
		if strings.EqualFold(s, n) {
			return true
		}
	}
	return false
}

// FileOffsetToVA converts an offset in the file of the module called
// modname to a virtual address.
func (e *Engine) FileOffsetToVA(modname string, offset uint64) (uint64, bool) {
	if e.target == nil {
		return 0, false
	}
	modules := e.target.Modules()
	lock := modules.RLocker()
	lock.Lock()
	defer lock.Unlock()
	mod := modules.InfoFromAddr(modules.BaseFromName(modname))
	if mod == nil {
		return 0, false
	}
	return mod.FileOffsetToVA(offset)
}

// VAToFileOffset converts a virtual address inside a module to an offset in
// the module file.
func (e *Engine) VAToFileOffset(va uint64) (uint64, bool) {
	if e.target == nil {
		return 0, false
	}
	modules := e.target.Modules()
	lock := modules.RLocker()
	lock.Lock()
	defer lock.Unlock()
	mod := modules.InfoFromAddr(va)
	if mod == nil {
		return 0, false
	}
	return mod.VAToFileOffset(va)
}
