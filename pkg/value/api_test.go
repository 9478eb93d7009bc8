package value

import (
	"strings"
	"testing"

	"github.com/go-delve/dbgval/pkg/proc"
)

func TestSplitAPI(t *testing.T) {
	tests := []struct {
		in       string
		idx      int
		forwards bool
	}{
		{"kernel32:Sleep", 8, true},
		{"kernel32.Sleep", 8, true},
		{"kernel32.dll.Sleep", 12, true},
		{"a.b..Sleep", 1, true},
		{"kernel32?Sleep", 8, false},
		{"Sleep", -1, false},
		{":Sleep", 0, true},
	}
	for _, tc := range tests {
		idx, forwards := splitAPI(tc.in)
		if idx != tc.idx || forwards != tc.forwards {
			t.Errorf("splitAPI(%q) = %d %v, expected %d %v", tc.in, idx, forwards, tc.idx, tc.forwards)
		}
	}
}

func TestResolveAPI(t *testing.T) {
	te := newTestEngine(proc.X64)
	tests := []struct {
		token string
		value uint64
	}{
		{"kernel32:GetProcAddress", 0x76001000},
		{"kernel32.GetProcAddress", 0x76001000},
		{"kernel32.dll:GetProcAddress", 0x76001000},
		{"kernel32.dll.GetProcAddress", 0x76001000},
		{"KERNEL32:GetProcAddress", 0x76001000},
		{"kernel32:HeapAlloc", 0x77002000}, // forwarded to ntdll
		{"ntdll:base", 0x77000000},
		{"ntdll:ImageBase", 0x77000000},
		{"ntdll:header", 0x77000000},
		{"ntdll:entry", 0x77001000},
		{"ntdll:OEP", 0x77001000},
		{"ntdll:$0x10", 0x77000010},
		{"ntdll:$.16", 0x77000010},
		{"kernel32:#0x500", 0x76001100},
		{"kernel32:#10", 0x76000010},
		{"kernel32:1", 0x76001000},
		{"kernel32:.4", 0x76004000},
		{"kernel32:0", 0x76000000},
		{"kernel32?Sleep", 0x76004000},
		{":GetProcAddress", 0x76001000},
		{":entry", 0x76010000},
	}
	for _, tc := range tests {
		res, err := te.Resolve(tc.token, ResolveOptions{})
		if err != nil {
			t.Errorf("%s: %v", tc.token, err)
			continue
		}
		if res.Value != tc.value || res.Size != 8 || !res.Hex || res.IsVar {
			t.Errorf("%s: %#v, expected %#x", tc.token, res, tc.value)
		}
	}
}

func TestResolveAPIExportNamedBase(t *testing.T) {
	// an export literally called "base" is found before the pseudo export
	te := newTestEngine(proc.X64)
	if v := te.resolve(t, "kernel32:base").Value; v != 0x76003000 {
		t.Errorf("kernel32:base = %#x, expected the export", v)
	}
	if v := te.resolve(t, "kernel32:imagebase").Value; v != 0x76000000 {
		t.Errorf("kernel32:imagebase = %#x", v)
	}
}

func TestResolveAPIFailures(t *testing.T) {
	te := newTestEngine(proc.X64)
	for _, token := range []string{
		"kernel32?HeapAlloc", // forwards are not followed
		"kernel32:NoSuchExport",
		"kernel32:10000",
		"kernel32:99",
		"nosuchmodule:Sleep",
		"kernel32:",
	} {
		if v, ok := te.resolveAPI(token, true); ok {
			t.Errorf("%s resolved to %#x", token, v)
		}
		_, err := te.Resolve(token, ResolveOptions{Silent: true})
		assertErrorIs(err, ErrUnknownToken, t, token)
	}

	_, err := te.Resolve("kernel32:GetProcAddress", ResolveOptions{BaseOnly: true})
	assertErrorIs(err, ErrUnknownToken, t, "BaseOnly")

	te.p.Detach()
	if _, ok := te.resolveAPI("kernel32:GetProcAddress", true); ok {
		t.Errorf("exports resolved while detached")
	}
}

func TestResolveUnqualifiedAPI(t *testing.T) {
	te := newTestEngine(proc.X64)

	// Sleep is exported by kernelbase, kernel32 and ntdll, kernel32 wins
	res := te.resolve(t, "Sleep")
	if res.Value != 0x76004000 || !res.Hex {
		t.Errorf("Sleep = %#v", res)
	}
	want := "0000000075006000 kernelbase.Sleep\n0000000077005000 ntdll.Sleep\n"
	if got := te.console.String(); got != want {
		t.Errorf("console:\n%q\nexpected:\n%q", got, want)
	}

	// duplicate addresses are printed once
	te.console.Reset()
	if v := te.resolve(t, "HeapAlloc").Value; v != 0x77002000 {
		t.Errorf("HeapAlloc = %#x", v)
	}
	if te.console.Len() != 0 {
		t.Errorf("unique match printed %q", te.console.String())
	}

	te.console.Reset()
	_, err := te.Resolve("Sleep", ResolveOptions{Silent: true})
	assertNoError(err, t, "silent Sleep")
	if te.console.Len() != 0 {
		t.Errorf("silent lookup printed %q", te.console.String())
	}

	te.maxAPIMatches = 1
	te.resolve(t, "Sleep")
	if got := te.console.String(); strings.Count(got, "\n") != 1 {
		t.Errorf("match list not capped: %q", got)
	}
}

func TestLabelsSymbolsModules(t *testing.T) {
	te := newTestEngine(proc.X64)
	tests := []struct {
		token string
		value uint64
	}{
		{"mylabel", 0x401000},
		{"mysym", 0x402000},
		{"sub_401000", 0x401000},
		{"ntdll", 0x77000000},
		{"ntdll.dll", 0x77000000},
		{"KernelBase.dll", 0x75000000},
	}
	for _, tc := range tests {
		res := te.resolve(t, tc.token)
		if res.Value != tc.value || !res.Hex || res.Size != 8 {
			t.Errorf("%s: %#v, expected %#x", tc.token, res, tc.value)
		}
	}

	te.console.Reset()
	_, err := te.Resolve("sub_401010", ResolveOptions{})
	assertErrorIs(err, ErrUnknownToken, t, "sub_ inside a function")
	if te.console.Len() != 0 {
		t.Errorf("sub_ failure printed %q", te.console.String())
	}

	_, err = te.Resolve("mylabel", ResolveOptions{BaseOnly: true, Silent: true})
	assertErrorIs(err, ErrUnknownToken, t, "BaseOnly label")

	_, err = te.Resolve("nosuchname", ResolveOptions{})
	assertErrorIs(err, ErrUnknownToken, t, "unknown name")
	if !strings.Contains(te.console.String(), "Invalid value: \"nosuchname\"!\n") {
		t.Errorf("console %q", te.console.String())
	}
}

func TestFileOffsets(t *testing.T) {
	te := newTestEngine(proc.X64)
	va, ok := te.FileOffsetToVA("kernel32", 0x500)
	if !ok || va != 0x76001100 {
		t.Errorf("FileOffsetToVA(0x500) = %#x %v", va, ok)
	}
	off, ok := te.VAToFileOffset(0x76001100)
	if !ok || off != 0x500 {
		t.Errorf("VAToFileOffset = %#x %v", off, ok)
	}
	if _, ok := te.FileOffsetToVA("kernel32", 0x200000); ok {
		t.Errorf("offset past the image accepted")
	}
	if _, ok := te.FileOffsetToVA("nosuchmodule", 0); ok {
		t.Errorf("unknown module accepted")
	}
	if _, ok := te.VAToFileOffset(0x12345); ok {
		t.Errorf("address outside of any module accepted")
	}
}
