package value

import (
	"fmt"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/regnum"
)

// IsRegister reports whether name is a register alias of the target.
func (e *Engine) IsRegister(name string) bool {
	_, ok := regnum.Lookup(name, e.Arch().Is64())
	return ok
}

func aliasSize(a regnum.Alias, arch proc.Arch) int {
	if a.Size == 0 {
		return arch.PtrSize()
	}
	return a.Size
}

// readRegister returns the value of the register alias a and its size in
// bytes.
func (e *Engine) readRegister(a regnum.Alias) (uint64, int, error) {
	arch := e.Arch()
	size := aliasSize(a, arch)
	th, err := e.thread()
	if err != nil {
		return 0, 0, err
	}
	if a.Kind == regnum.KindTEB {
		teb, err := th.TEB()
		if err != nil {
			return 0, 0, err
		}
		off, _ := regnum.TEBOffset(a.Slot, arch.Is64())
		v, err := proc.ReadUint(e.target.Memory(), teb+off, size)
		if err != nil {
			return 0, 0, fmt.Errorf("%w at %#x: %v", ErrMemoryRead, teb+off, err)
		}
		return v, size, nil
	}
	v, err := th.Register(a.Slot)
	if err != nil {
		return 0, 0, err
	}
	return (v & a.Mask(arch.PtrSize())) >> a.Shift, size, nil
}

// writeRegister writes v into the register alias a. Partial aliases are
// merged into the containing register.
func (e *Engine) writeRegister(a regnum.Alias, v uint64) error {
	arch := e.Arch()
	th, err := e.thread()
	if err != nil {
		return err
	}
	switch a.Kind {
	case regnum.KindTEB:
		teb, err := th.TEB()
		if err != nil {
			return err
		}
		off, _ := regnum.TEBOffset(a.Slot, arch.Is64())
		return proc.WriteUint(e.target.Memory(), teb+off, v, aliasSize(a, arch))
	case regnum.KindPointer, regnum.KindDebug:
		return th.SetRegister(a.Slot, arch.PtrMask(v))
	case regnum.KindSegment:
		return th.SetRegister(a.Slot, v&0xffff)
	}
	mask := a.Mask(arch.PtrSize())
	old, err := th.Register(a.Slot)
	if err != nil {
		return err
	}
	return th.SetRegister(a.Slot, (old&^mask)|((v<<a.Shift)&mask))
}

// Register returns the value of the register called name.
func (e *Engine) Register(name string) (uint64, int, error) {
	a, ok := regnum.Lookup(name, e.Arch().Is64())
	if !ok {
		return 0, 0, tokenError(name, fmt.Errorf("%w: not a register", ErrUnknownToken))
	}
	return e.readRegister(a)
}
