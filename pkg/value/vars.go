package value

import (
	"sort"
	"strings"
	"sync"
)

// Variables is the table of user variables. Names are case insensitive.
type Variables interface {
	// Get returns the value of a variable and its size in bytes.
	Get(name string) (v uint64, size int, ok bool)
	// Set creates or updates a variable. It returns false if the variable
	// can not be written.
	Set(name string, v uint64) bool
}

// Constants resolves named constants.
type Constants interface {
	Constant(name string) (uint64, bool)
}

type variable struct {
	name     string
	value    uint64
	readOnly bool
}

// VarTable is the default Variables implementation. The zero value is not
// usable, use NewVarTable.
type VarTable struct {
	mu   sync.Mutex
	vars map[string]*variable
	size int
}

// NewVarTable returns a table holding the variables every session starts
// with: $res, $result and $result1 through $result4 are writable, $pid
// and $hp are read only.
func NewVarTable() *VarTable {
	t := &VarTable{vars: map[string]*variable{}, size: 8}
	for _, name := range []string{"$res", "$result", "$result1", "$result2", "$result3", "$result4", "$lastalloc"} {
		t.Set(name, 0)
	}
	t.SetReadOnly("$pid", 0)
	t.SetReadOnly("$hp", 0)
	return t
}

// SetPtrSize sets the size reported by Get, the pointer size of the target.
func (t *VarTable) SetPtrSize(size int) {
	t.mu.Lock()
	t.size = size
	t.mu.Unlock()
}

func (t *VarTable) Get(name string) (uint64, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.vars[strings.ToLower(name)]
	if !ok {
		return 0, 0, false
	}
	return v.value, t.size, true
}

func (t *VarTable) Set(name string, value uint64) bool {
	if name == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := strings.ToLower(name)
	if v, ok := t.vars[key]; ok {
		if v.readOnly {
			return false
		}
		v.value = value
		return true
	}
	t.vars[key] = &variable{name: name, value: value}
	return true
}

// SetReadOnly creates or updates a variable that Set can not change.
func (t *VarTable) SetReadOnly(name string, value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vars[strings.ToLower(name)] = &variable{name: name, value: value, readOnly: true}
}

// Delete removes a writable variable.
func (t *VarTable) Delete(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := strings.ToLower(name)
	v, ok := t.vars[key]
	if !ok || v.readOnly {
		return false
	}
	delete(t.vars, key)
	return true
}

// Names returns the names of all variables, sorted.
func (t *VarTable) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := make([]string, 0, len(t.vars))
	for _, v := range t.vars {
		r = append(r, v.name)
	}
	sort.Strings(r)
	return r
}

// ConstTable is a Constants implementation backed by a map.
type ConstTable map[string]uint64

func (t ConstTable) Constant(name string) (uint64, bool) {
	v, ok := t[name]
	return v, ok
}

// WindowsConstants are well known Windows API constants.
var WindowsConstants = ConstTable{
	"MEM_COMMIT":             0x1000,
	"MEM_RESERVE":            0x2000,
	"MEM_RELEASE":            0x8000,
	"MEM_DECOMMIT":           0x4000,
	"MEM_IMAGE":              0x1000000,
	"MEM_MAPPED":             0x40000,
	"MEM_PRIVATE":            0x20000,
	"PAGE_NOACCESS":          0x1,
	"PAGE_READONLY":          0x2,
	"PAGE_READWRITE":         0x4,
	"PAGE_WRITECOPY":         0x8,
	"PAGE_EXECUTE":           0x10,
	"PAGE_EXECUTE_READ":      0x20,
	"PAGE_EXECUTE_READWRITE": 0x40,
	"PAGE_EXECUTE_WRITECOPY": 0x80,
	"PAGE_GUARD":             0x100,
	"INFINITE":               0xffffffff,
	"INVALID_HANDLE_VALUE":   0xffffffffffffffff,
	"ERROR_SUCCESS":          0,
	"STATUS_SUCCESS":         0,
	"TRUE":                   1,
	"FALSE":                  0,
	"NULL":                   0,
}
