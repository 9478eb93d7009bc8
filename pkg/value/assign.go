package value

import (
	"fmt"
	"strings"

	"github.com/go-delve/dbgval/pkg/regnum"
)

// Assign writes value to token. The targets are tried in order: memory
// references, registers, flags ("_ZF"), FPU fields ("_x87SW_TOP",
// "_XMM0"), hooks and finally user variables, which are created if they do
// not exist.
func (e *Engine) Assign(token string, value uint64, silent bool) error {
	if token == "" {
		return tokenError(token, ErrUnknownToken)
	}
	arch := e.Arch()

	if isMemRef(token, arch) {
		return e.writeMemRef(token, value, silent)
	}

	if a, ok := regnum.Lookup(token, arch.Is64()); ok {
		if !e.Debugging() {
			e.printf(silent, "Not debugging!\n")
			return tokenError(token, ErrNotDebugging)
		}
		if err := e.writeRegister(a, value); err != nil {
			return tokenError(token, fmt.Errorf("%w: %v", ErrRegisterWrite, err))
		}
		e.registerChanged(token)
		return nil
	}

	if len(token) > 1 && token[0] == '_' {
		if done, err := e.assignUnderscore(token, value, silent); done || err != nil {
			return err
		}
	}

	for _, h := range e.hookList() {
		if h.AssignToken(token, value) {
			e.log().Debugf("%q assigned by hook", token)
			return nil
		}
	}

	if !e.vars.Set(token, value) {
		return tokenError(token, ErrReadOnlyVariable)
	}
	return nil
}

// assignUnderscore writes the flag or FPU field named by token. The first
// result is false if token names neither, the caller then tries the hooks
// and the user variables.
func (e *Engine) assignUnderscore(token string, value uint64, silent bool) (bool, error) {
	name := token[1:]
	flag := IsFlag(name)
	if !flag && !isFPUWriteTarget(name, e.Arch().Is64()) {
		return false, nil
	}
	if !e.Debugging() {
		e.printf(silent, "Not debugging!\n")
		return true, tokenError(token, ErrNotDebugging)
	}
	var err error
	if flag {
		err = e.SetFlag(name, value != 0)
	} else {
		_, err = e.setFPUValue(name, value, silent)
	}
	if err != nil {
		return true, tokenError(token, fmt.Errorf("%w: %v", ErrRegisterWrite, err))
	}
	e.notify.UpdateAllViews()
	return true, nil
}

// registerChanged issues the notifications that follow a register write.
func (e *Engine) registerChanged(name string) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "ip"):
		cip, err := e.readWord(regnum.CIP)
		if err != nil {
			e.log().Debugf("reading instruction pointer: %v", err)
			e.notify.UpdateAllViews()
			return
		}
		e.notify.TraceExecute(cip)
		e.notify.FollowIP(cip)
	case strings.Contains(lower, "sp"):
		csp, err := e.readWord(regnum.CSP)
		if err != nil {
			e.log().Debugf("reading stack pointer: %v", err)
			e.notify.UpdateAllViews()
			return
		}
		e.notify.UpdateStack(csp)
		e.notify.UpdateRegisterView()
	default:
		e.notify.UpdateAllViews()
	}
}
