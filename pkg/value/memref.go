package value

import (
	"fmt"
	"strings"

	"github.com/go-delve/dbgval/pkg/proc"
)

// memRef is a parsed memory reference such as "dword:[esp+4]" or
// "fs:[0x30]".
type memRef struct {
	size  int
	seg   byte // segment letter, 0 for none
	inner string
}

// isMemRef reports whether token looks like a memory reference. It does not
// validate the syntax, parseMemRef does.
func isMemRef(token string, arch proc.Arch) bool {
	s := strings.ToLower(token)
	switch {
	case strings.HasPrefix(s, "["):
		return true
	case len(s) >= 3 && s[0] >= '1' && s[0] <= '0'+byte(arch.PtrSize()) && s[1] == ':' && s[2] == '[':
		return true
	case len(s) >= 4 && strings.IndexByte("cdefgs", s[0]) >= 0 && s[1] == 's' && s[2] == ':' && s[3] == '[':
		return true
	}
	return strings.Contains(s, "byte:[") || strings.Contains(s, "word:[")
}

var sizePrefixes = []struct {
	prefix string
	size   int
	x64    bool
}{
	{"byte:", 1, false},
	{"word:", 2, false},
	{"dword:", 4, false},
	{"qword:", 8, true},
}

// parseMemRef parses a token accepted by isMemRef. The access size defaults
// to the pointer size and is never wider than it.
func parseMemRef(token string, arch proc.Arch) (memRef, error) {
	s := strings.ToLower(token)
	ref := memRef{size: arch.PtrSize()}
	prefix := 0
	switch {
	case s[0] == '[':
	case len(s) >= 3 && s[1] == ':' && s[0] >= '1' && s[0] <= '9':
		if n := int(s[0] - '0'); n < ref.size {
			ref.size = n
		}
		prefix = 2
	case len(s) >= 3 && s[1] == 's' && s[2] == ':' && strings.IndexByte("cdefgs", s[0]) >= 0:
		ref.seg = s[0]
		prefix = 3
	default:
		found := false
		for _, p := range sizePrefixes {
			if strings.HasPrefix(s, p.prefix) && (!p.x64 || arch.Is64()) {
				if p.size < ref.size {
					ref.size = p.size
				}
				prefix = len(p.prefix)
				found = true
				break
			}
		}
		if !found {
			return memRef{}, fmt.Errorf("%w: unknown memory reference prefix", ErrUnknownToken)
		}
	}
	if prefix >= len(token) || token[prefix] != '[' {
		return memRef{}, fmt.Errorf("%w: expected '[' after prefix", ErrUnknownToken)
	}

	depth := 1
	end := -1
	for i := prefix + 1; i < len(token); i++ {
		switch token[i] {
		case '[':
			depth++
		case ']':
			depth--
		}
		if depth == 0 {
			end = i
			break
		}
	}
	switch {
	case end < 0:
		return memRef{}, fmt.Errorf("%w: unbalanced brackets", ErrUnknownToken)
	case end != len(token)-1:
		return memRef{}, fmt.Errorf("%w: unexpected %q after memory reference", ErrUnknownToken, token[end+1:])
	}
	ref.inner = strings.TrimSpace(token[prefix+1 : end])
	if ref.inner == "" {
		return memRef{}, fmt.Errorf("%w: empty memory reference", ErrUnknownToken)
	}
	return ref, nil
}

// segmentBase returns the base address of a segment override. Only the
// segment holding the thread environment block (fs on x86, gs on x64) has
// a nonzero base, the others are flat.
func (e *Engine) segmentBase(seg byte) (uint64, error) {
	arch := e.Arch()
	if (seg == 'f' && !arch.Is64()) || (seg == 'g' && arch.Is64()) {
		th, err := e.thread()
		if err != nil {
			return 0, err
		}
		return th.TEB()
	}
	return 0, nil
}

// address resolves the effective address of a memory reference.
func (e *Engine) address(ref memRef, silent bool) (uint64, error) {
	res, err := e.Resolve(ref.inner, ResolveOptions{Silent: silent})
	if err != nil {
		e.printf(silent, "valfromstring_noexpr failed on %s\n", ref.inner)
		return 0, err
	}
	base, err := e.segmentBase(ref.seg)
	if err != nil {
		return 0, err
	}
	return e.Arch().PtrMask(res.Value + base), nil
}

func (e *Engine) readMemRef(token string, opts ResolveOptions) (Result, error) {
	if !e.Debugging() {
		e.printf(opts.Silent, "Not debugging\n")
		return Result{IsVar: true}, nil
	}
	ref, err := parseMemRef(token, e.Arch())
	if err != nil {
		return Result{}, tokenError(token, err)
	}
	addr, err := e.address(ref, opts.Silent)
	if err != nil {
		return Result{}, tokenError(token, err)
	}
	v, err := proc.ReadUint(e.target.Memory(), addr, ref.size)
	if err != nil {
		e.printf(opts.Silent, "Failed to read memory\n")
		return Result{}, tokenError(token, fmt.Errorf("%w at %#x: %v", ErrMemoryRead, addr, err))
	}
	return Result{Value: v, Size: ref.size, IsVar: true}, nil
}

func (e *Engine) writeMemRef(token string, value uint64, silent bool) error {
	if !e.Debugging() {
		e.printf(silent, "Not debugging\n")
		return tokenError(token, ErrNotDebugging)
	}
	ref, err := parseMemRef(token, e.Arch())
	if err != nil {
		return tokenError(token, err)
	}
	addr, err := e.address(ref, silent)
	if err != nil {
		return tokenError(token, err)
	}
	if err := proc.PatchUint(e.target.Memory(), addr, value, ref.size); err != nil {
		e.printf(silent, "Failed to write memory\n")
		return tokenError(token, fmt.Errorf("%w at %#x: %v", ErrMemoryWrite, addr, err))
	}
	e.notify.UpdateAllViews()
	e.notify.UpdatePatches()
	return nil
}
