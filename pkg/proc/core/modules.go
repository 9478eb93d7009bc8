package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc"
)

// DefaultExportCacheSize is the number of memoized name and address
// lookups kept by a module table.
const DefaultExportCacheSize = 256

// moduleTable implements proc.ModuleTable. Lookups expect the caller to
// hold the read lock, Load and Unload take the write lock.
type moduleTable struct {
	mu    sync.RWMutex
	mods  []*proc.Module
	cache *lru.Cache
}

func newModuleTable(cacheSize int) *moduleTable {
	if cacheSize <= 0 {
		cacheSize = DefaultExportCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		panic(err)
	}
	return &moduleTable{cache: cache}
}

func (t *moduleTable) RLocker() sync.Locker {
	return t.mu.RLocker()
}

// Load adds m to the table, replacing any module loaded at the same base.
func (t *moduleTable) Load(m *proc.Module) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.mods {
		if t.mods[i].Base == m.Base {
			t.mods[i] = m
			t.cache.Purge()
			return
		}
	}
	t.mods = append(t.mods, m)
	sort.SliceStable(t.mods, func(i, j int) bool { return t.mods[i].Base < t.mods[j].Base })
	t.cache.Purge()
	logflags.CoreLogger().Debugf("module %s loaded at %#x", m.FullName(), m.Base)
}

// Unload removes the module loaded at base.
func (t *moduleTable) Unload(base uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.mods {
		if t.mods[i].Base == base {
			t.mods = append(t.mods[:i], t.mods[i+1:]...)
			t.cache.Purge()
			return true
		}
	}
	return false
}

type baseKey string

func (t *moduleTable) BaseFromName(name string) uint64 {
	if name == "" {
		return 0
	}
	key := baseKey(strings.ToLower(name))
	if v, ok := t.cache.Get(key); ok {
		return v.(uint64)
	}
	var base uint64
	for _, m := range t.mods {
		if strings.EqualFold(m.FullName(), name) || strings.EqualFold(m.Name, name) {
			base = m.Base
			break
		}
	}
	t.cache.Add(key, base)
	return base
}

func (t *moduleTable) InfoFromAddr(addr uint64) *proc.Module {
	if addr == 0 {
		return nil
	}
	for _, m := range t.mods {
		if m.Contains(addr) {
			return m
		}
	}
	return nil
}

func (t *moduleTable) NameFromAddr(addr uint64, ext bool) (string, bool) {
	m := t.InfoFromAddr(addr)
	if m == nil {
		return "", false
	}
	if ext {
		return m.FullName(), true
	}
	return m.Name, true
}

func (t *moduleTable) Enum(fn func(*proc.Module)) {
	for _, m := range t.mods {
		fn(m)
	}
}

type symKey uint64

func (t *moduleTable) SymbolicName(addr uint64) string {
	if v, ok := t.cache.Get(symKey(addr)); ok {
		return v.(string)
	}
	var s string
	m := t.InfoFromAddr(addr)
	switch {
	case m == nil:
		s = fmt.Sprintf("%#x", addr)
	default:
		if exp, ok := m.ExportAt(addr); ok && exp.Name != "" {
			s = m.Name + "." + exp.Name
		} else {
			s = fmt.Sprintf("%s+%#x", m.FullName(), addr-m.Base)
		}
	}
	t.cache.Add(symKey(addr), s)
	return s
}
