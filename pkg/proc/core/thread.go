package core

import (
	"errors"
	"fmt"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/proc/amd64util"
	"github.com/go-delve/dbgval/pkg/regnum"
)

// ErrNoAVX512 is returned when the extended AVX-512 context of a thread is
// requested on a target without AVX-512 support.
var ErrNoAVX512 = errors.New("AVX-512 context not available")

// thread is the only thread of a snapshot.
type thread struct {
	p      *Process
	regs   [regnum.NumSlots]uint64
	teb    uint64
	xstate amd64util.Xstate
	avx512 bool
}

func (t *thread) check() error {
	if !t.p.Attached() {
		return proc.ErrNoTarget
	}
	return nil
}

func (t *thread) Register(slot regnum.Slot) (uint64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	switch slot {
	case regnum.MXCSR:
		return uint64(t.xstate.Mxcsr), nil
	case regnum.X87ControlWord:
		return uint64(t.xstate.Cwd), nil
	case regnum.X87StatusWord:
		return uint64(t.xstate.Swd), nil
	case regnum.X87TagWord:
		return uint64(t.xstate.TagWord), nil
	}
	if slot >= regnum.NumSlots {
		return 0, fmt.Errorf("unknown register slot %d", slot)
	}
	if slot >= regnum.R8 && slot <= regnum.R15 && !t.p.arch.Is64() {
		return 0, fmt.Errorf("register %s not available on %s", slot.Name(true), t.p.arch.Name)
	}
	return t.regs[slot], nil
}

func (t *thread) SetRegister(slot regnum.Slot, value uint64) error {
	if err := t.check(); err != nil {
		return err
	}
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	switch slot {
	case regnum.MXCSR:
		t.xstate.Mxcsr = uint32(value)
		return nil
	case regnum.X87ControlWord:
		t.xstate.Cwd = uint16(value)
		return nil
	case regnum.X87StatusWord:
		t.xstate.Swd = uint16(value)
		return nil
	case regnum.X87TagWord:
		t.xstate.TagWord = uint16(value)
		return nil
	}
	if slot >= regnum.NumSlots {
		return fmt.Errorf("unknown register slot %d", slot)
	}
	if slot >= regnum.R8 && slot <= regnum.R15 && !t.p.arch.Is64() {
		return fmt.Errorf("register %s not available on %s", slot.Name(true), t.p.arch.Name)
	}
	switch slot {
	case regnum.GS, regnum.FS, regnum.ES, regnum.DS, regnum.CS, regnum.SS:
		value &= 0xffff
	default:
		value = t.p.arch.PtrMask(value)
	}
	t.regs[slot] = value
	return nil
}

func (t *thread) TEB() (uint64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	return t.teb, nil
}

func (t *thread) Xstate() (*amd64util.Xstate, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	st := t.xstate
	return &st, nil
}

func (t *thread) SetXstate(st *amd64util.Xstate) error {
	if err := t.check(); err != nil {
		return err
	}
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.xstate = *st
	return nil
}

func (t *thread) AVX512() (*amd64util.AVX512Context, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if !t.avx512 {
		return nil, ErrNoAVX512
	}
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	return t.xstate.AVX512(), nil
}

func (t *thread) SetAVX512(ctx *amd64util.AVX512Context) error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.avx512 {
		return ErrNoAVX512
	}
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.xstate.SetAVX512(ctx)
	return nil
}
