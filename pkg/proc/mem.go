package proc

import (
	"encoding/binary"
	"fmt"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// Patcher is implemented by memory that can record writes as patches,
// tracked modifications that can be listed and reverted later.
type Patcher interface {
	Patch(addr uint64, data []byte) error
}

// Patch is a tracked modification of debuggee memory.
type Patch struct {
	Addr uint64
	Old  byte
	New  byte
}

// ReadUint reads a little endian unsigned integer of size bytes (at most 8)
// at addr. Short reads are errors.
func ReadUint(mem MemoryReader, addr uint64, size int) (uint64, error) {
	if size <= 0 || size > 8 {
		return 0, fmt.Errorf("invalid read size %d", size)
	}
	var buf [8]byte
	n, err := mem.ReadMemory(buf[:size], addr)
	if err != nil {
		return 0, err
	}
	if n != size {
		return 0, fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, size)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// PatchUint writes the low size bytes of v at addr, as a patch if mem
// supports it.
func PatchUint(mem MemoryReadWriter, addr uint64, v uint64, size int) error {
	if size <= 0 || size > 8 {
		return fmt.Errorf("invalid write size %d", size)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if p, ok := mem.(Patcher); ok {
		return p.Patch(addr, buf[:size])
	}
	n, err := mem.WriteMemory(addr, buf[:size])
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("short write at %#x: %d of %d bytes", addr, n, size)
	}
	return nil
}

// WriteUint writes the low size bytes of v at addr without recording a
// patch.
func WriteUint(mem MemoryReadWriter, addr uint64, v uint64, size int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	n, err := mem.WriteMemory(addr, buf[:size])
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("short write at %#x: %d of %d bytes", addr, n, size)
	}
	return nil
}
