package value

import (
	"fmt"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/regnum"
)

// IsFlag reports whether name is one of the 15 addressable bits of the
// flags register.
func IsFlag(name string) bool {
	_, ok := proc.EflagsDescription.Flag(name)
	return ok
}

func (e *Engine) readWord(slot regnum.Slot) (uint64, error) {
	th, err := e.thread()
	if err != nil {
		return 0, err
	}
	return th.Register(slot)
}

func (e *Engine) writeWord(slot regnum.Slot, v uint64) error {
	th, err := e.thread()
	if err != nil {
		return err
	}
	return th.SetRegister(slot, v)
}

func readFlag(descr proc.FlagRegisterDescr, reg uint64, name string) (bool, error) {
	mask, ok := descr.Flag(name)
	if !ok {
		return false, fmt.Errorf("%w: unknown flag %s", ErrUnknownToken, name)
	}
	return reg&mask != 0, nil
}

func readField(descr proc.FlagRegisterDescr, reg uint64, name string) (uint64, error) {
	mask, shift, ok := descr.Field(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %s", ErrUnknownToken, name)
	}
	return (reg & mask) >> shift, nil
}

// Flag returns the flag called name (CF, ZF, ...) of the flags register.
func (e *Engine) Flag(name string) (bool, error) {
	reg, err := e.readWord(regnum.CFLAGS)
	if err != nil {
		return false, err
	}
	return readFlag(proc.EflagsDescription, reg, name)
}

// SetFlag sets or clears the flag called name.
func (e *Engine) SetFlag(name string, set bool) error {
	mask, ok := proc.EflagsDescription.Flag(name)
	if !ok {
		return tokenError(name, ErrUnknownToken)
	}
	reg, err := e.readWord(regnum.CFLAGS)
	if err != nil {
		return err
	}
	if set {
		reg |= mask
	} else {
		reg &^= mask
	}
	return e.writeWord(regnum.CFLAGS, reg)
}

// MXCSRFlag returns a single bit flag of MXCSR.
func (e *Engine) MXCSRFlag(name string) (bool, error) {
	reg, err := e.readWord(regnum.MXCSR)
	if err != nil {
		return false, err
	}
	return readFlag(proc.MXCSRDescription, reg, name)
}

// X87StatusFlag returns a single bit flag of the x87 status word.
func (e *Engine) X87StatusFlag(name string) (bool, error) {
	reg, err := e.readWord(regnum.X87StatusWord)
	if err != nil {
		return false, err
	}
	return readFlag(proc.X87StatusDescription, reg, name)
}

// X87ControlFlag returns a single bit flag of the x87 control word.
func (e *Engine) X87ControlFlag(name string) (bool, error) {
	reg, err := e.readWord(regnum.X87ControlWord)
	if err != nil {
		return false, err
	}
	return readFlag(proc.X87ControlDescription, reg, name)
}

// X87TagField returns the two bit tag of physical register i.
func (e *Engine) X87TagField(i int) (uint64, error) {
	if i < 0 || i > 7 {
		return 0, fmt.Errorf("%w: tag index %d", ErrUnknownToken, i)
	}
	reg, err := e.readWord(regnum.X87TagWord)
	if err != nil {
		return 0, err
	}
	return (reg >> (uint(i) * 2)) & 3, nil
}

// MXCSRRoundingControl returns the RC field of MXCSR.
func (e *Engine) MXCSRRoundingControl() (uint64, error) {
	reg, err := e.readWord(regnum.MXCSR)
	if err != nil {
		return 0, err
	}
	return readField(proc.MXCSRDescription, reg, "RC")
}

// X87StatusTop returns the stack top field of the x87 status word.
func (e *Engine) X87StatusTop() (uint64, error) {
	reg, err := e.readWord(regnum.X87StatusWord)
	if err != nil {
		return 0, err
	}
	return readField(proc.X87StatusDescription, reg, "TOP")
}

// X87ControlPrecision returns the precision control field of the x87
// control word.
func (e *Engine) X87ControlPrecision() (uint64, error) {
	reg, err := e.readWord(regnum.X87ControlWord)
	if err != nil {
		return 0, err
	}
	return readField(proc.X87ControlDescription, reg, "PC")
}

// X87ControlRounding returns the rounding control field of the x87
// control word.
func (e *Engine) X87ControlRounding() (uint64, error) {
	reg, err := e.readWord(regnum.X87ControlWord)
	if err != nil {
		return 0, err
	}
	return readField(proc.X87ControlDescription, reg, "RC")
}
