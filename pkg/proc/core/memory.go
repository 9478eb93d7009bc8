package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-delve/dbgval/pkg/proc"
)

// splicedMemory is the address space of the snapshot: a sorted list of
// non overlapping regions. A region added later hides the parts of older
// regions it covers, so a module image can be mapped first and the pages
// dumped from the debuggee laid over it.
type splicedMemory struct {
	readers []readerEntry
}

// readerEntry maps [offset, offset+length) to reader. Readers are
// addressed with absolute addresses.
type readerEntry struct {
	offset uint64
	length uint64
	reader proc.MemoryReader
}

func (e readerEntry) end() uint64 { return e.offset + e.length }

// Add maps [off, off+length) to reader.
func (r *splicedMemory) Add(reader proc.MemoryReader, off, length uint64) {
	if length == 0 {
		return
	}
	end := off + length
	kept := make([]readerEntry, 0, len(r.readers)+2)
	for _, e := range r.readers {
		if e.end() <= off || e.offset >= end {
			kept = append(kept, e)
			continue
		}
		// keep what sticks out on either side of the new region
		if e.offset < off {
			kept = append(kept, readerEntry{e.offset, off - e.offset, e.reader})
		}
		if e.end() > end {
			kept = append(kept, readerEntry{end, e.end() - end, e.reader})
		}
	}
	kept = append(kept, readerEntry{off, length, reader})
	sort.Slice(kept, func(i, j int) bool { return kept[i].offset < kept[j].offset })
	r.readers = kept
}

func (r *splicedMemory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	return r.access(buf, addr, func(e readerEntry, pb []byte, addr uint64) (int, error) {
		return e.reader.ReadMemory(pb, addr)
	})
}

// WriteMemory stops at the first region that can not be written.
func (r *splicedMemory) WriteMemory(addr uint64, data []byte) (n int, err error) {
	return r.access(data, addr, func(e readerEntry, pb []byte, addr uint64) (int, error) {
		w, ok := e.reader.(proc.MemoryReadWriter)
		if !ok {
			return 0, ErrReadOnly
		}
		return w.WriteMemory(addr, pb)
	})
}

// access calls fn for each region covering buf, which must be contiguous.
func (r *splicedMemory) access(buf []byte, addr uint64, fn func(readerEntry, []byte, uint64) (int, error)) (n int, err error) {
	i := sort.Search(len(r.readers), func(i int) bool { return r.readers[i].end() > addr })
	if i == len(r.readers) || r.readers[i].offset > addr {
		return 0, fmt.Errorf("address %#x did not match any regions", addr)
	}
	for ; len(buf) > 0; i++ {
		if i == len(r.readers) || r.readers[i].offset > addr {
			return n, fmt.Errorf("hit unmapped area at %#x after %v bytes", addr, n)
		}
		e := r.readers[i]
		pb := buf
		if avail := e.end() - addr; uint64(len(pb)) > avail {
			pb = pb[:avail]
		}
		pn, err := fn(e, pb, addr)
		n += pn
		if err != nil {
			return n, fmt.Errorf("error while accessing memory at %#x: %v", addr, err)
		}
		if pn != len(pb) {
			return n, nil
		}
		buf = buf[pn:]
		addr += uint64(pn)
	}
	return n, nil
}

// ErrReadOnly is returned when writing to a region backed by read only
// data.
var ErrReadOnly = errors.New("region is read only")

// region is a block of debuggee memory held in a byte slice.
type region struct {
	addr     uint64
	data     []byte
	readOnly bool
}

func (r *region) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < r.addr || addr >= r.addr+uint64(len(r.data)) {
		return 0, fmt.Errorf("address %#x outside region", addr)
	}
	return copy(buf, r.data[addr-r.addr:]), nil
}

func (r *region) WriteMemory(addr uint64, data []byte) (int, error) {
	if r.readOnly {
		return 0, ErrReadOnly
	}
	if addr < r.addr || addr >= r.addr+uint64(len(r.data)) {
		return 0, fmt.Errorf("address %#x outside region", addr)
	}
	return copy(r.data[addr-r.addr:], data), nil
}

// patchedMemory records writes made through Patch so that they can be
// listed and reverted.
type patchedMemory struct {
	mu      sync.Mutex
	mem     *splicedMemory
	patches map[uint64]proc.Patch
}

func newPatchedMemory() *patchedMemory {
	return &patchedMemory{mem: &splicedMemory{}, patches: make(map[uint64]proc.Patch)}
}

func (m *patchedMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mem.ReadMemory(buf, addr)
}

func (m *patchedMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mem.WriteMemory(addr, data)
}

// Patch implements proc.Patcher. Either all of data is written or nothing
// is.
func (m *patchedMemory) Patch(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := make([]byte, len(data))
	if n, err := m.mem.ReadMemory(old, addr); err != nil || n != len(old) {
		if err == nil {
			err = fmt.Errorf("short read at %#x", addr)
		}
		return err
	}
	if n, err := m.mem.WriteMemory(addr, data); err != nil || n != len(data) {
		if err == nil {
			err = fmt.Errorf("short write at %#x", addr)
		}
		// roll back the part that was written
		if n > 0 {
			if _, rerr := m.mem.WriteMemory(addr, old[:n]); rerr != nil {
				return fmt.Errorf("%w (rollback failed, %d bytes left patched: %v)", err, n, rerr)
			}
		}
		return err
	}
	for i := range data {
		a := addr + uint64(i)
		p, patched := m.patches[a]
		if !patched {
			p = proc.Patch{Addr: a, Old: old[i]}
		}
		p.New = data[i]
		if p.New == p.Old {
			delete(m.patches, a)
			continue
		}
		m.patches[a] = p
	}
	return nil
}

// Patches returns the list of patched bytes sorted by address.
func (m *patchedMemory) Patches() []proc.Patch {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := make([]proc.Patch, 0, len(m.patches))
	for _, p := range m.patches {
		r = append(r, p)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Addr < r[j].Addr })
	return r
}

// Restore reverts every patch.
func (m *patchedMemory) Restore() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for a, p := range m.patches {
		if _, err := m.mem.WriteMemory(a, []byte{p.Old}); err != nil {
			return err
		}
		delete(m.patches, a)
	}
	return nil
}
