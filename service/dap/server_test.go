package dap

import (
	"encoding/base64"
	"flag"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"

	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc/core"
	"github.com/go-delve/dbgval/pkg/value"
	"github.com/go-delve/dbgval/service/dap/daptest"
)

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

const testSnapshot = `
arch: x64
teb: 0x7ff000
registers:
  rax: 0x10
  rip: 0x401000
  rsp: 0x1000
memory:
- addr: 0x1000
  size: 0x10
  data: "78563412 00100000"
- addr: 0x401000
  size: 0x100
  data: "90 b8 01 00 00 00 c3"
- addr: 0x7ff000
  size: 0x2000
modules:
- name: kernel32.dll
  base: 0x76000000
  size: 0x100000
  entry: 0x76010000
  ordinal-base: 1
  exports:
  - name: Sleep
    rva: 0x4000
`

func runTest(t *testing.T, detached bool, test func(c *daptest.Client, target *core.Process)) {
	snap := testSnapshot
	if detached {
		snap += "detached: true\n"
	}
	target, err := core.Load([]byte(snap), 16)
	if err != nil {
		t.Fatal(err)
	}

	// Start the DAP server.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	disconnectChan := make(chan struct{})
	server := NewServer(&Config{
		Listener:       listener,
		Target:         target,
		DisconnectChan: disconnectChan,
	})
	server.Run()

	var stopOnce sync.Once
	// Run a goroutine that stops the server when disconnectChan is signaled.
	// This helps us test that certain events cause the server to stop as
	// expected.
	go func() {
		<-disconnectChan
		stopOnce.Do(func() { server.Stop() })
	}()

	client, err := daptest.NewClient(listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	client.Log = t.Logf
	defer client.Close()

	defer func() {
		stopOnce.Do(func() { server.Stop() })
	}()

	test(client, target)
}

// startSession performs the handshake a frontend does before evaluating:
// initialize, launch, configurationDone.
func startSession(t *testing.T, client *daptest.Client) {
	t.Helper()
	client.InitializeRequest()
	initResp := client.ExpectInitializeResponse(t)
	if !initResp.Body.SupportsSetExpression || !initResp.Body.SupportsReadMemoryRequest || !initResp.Body.SupportsDisassembleRequest {
		t.Errorf("missing capabilities: %#v", initResp.Body)
	}
	client.LaunchRequest()
	client.ExpectInitializedEvent(t)
	client.ExpectLaunchResponse(t)
	client.ConfigurationDoneRequest()
	client.ExpectConfigurationDoneResponse(t)
	stopped := client.ExpectStoppedEvent(t)
	if stopped.Body.Reason != "entry" || stopped.Body.ThreadId != mainThreadID {
		t.Errorf("got %#v, want Reason=entry ThreadId=%d", stopped.Body, mainThreadID)
	}
}

func TestSession(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		client.ThreadsRequest()
		threads := client.ExpectThreadsResponse(t)
		if len(threads.Body.Threads) != 1 || threads.Body.Threads[0].Id != mainThreadID {
			t.Errorf("got %#v, want a single thread", threads.Body.Threads)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestEvaluate(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		tests := []struct {
			expr    string
			context string
			hex     bool
			result  string
			typ     string
			memref  string
		}{
			{"rax", "watch", false, "0x10", "qword", "0x10"},
			{"eax", "hover", false, "0x10", "dword", "0x10"},
			{"1+2", "watch", false, "3", "", ""},
			{"1+2", "watch", true, "0x3", "", ""},
			{"dword:[rsp]", "watch", false, "0x12345678", "dword", "0x12345678"},
			{"[rsp]", "watch", false, "0x100012345678", "qword", "0x100012345678"},
			{"kernel32.Sleep", "hover", false, "0x76004000", "qword", "0x76004000"},
			{"Sleep", "repl", false, "0x76004000", "qword", "0x76004000"},
		}
		for _, tc := range tests {
			client.EvaluateRequest(tc.expr, tc.context, tc.hex)
			resp := client.ExpectEvaluateResponse(t)
			if resp.Body.Result != tc.result || resp.Body.Type != tc.typ || resp.Body.MemoryReference != tc.memref {
				t.Errorf("%s: got %q %q %q, want %q %q %q", tc.expr,
					resp.Body.Result, resp.Body.Type, resp.Body.MemoryReference,
					tc.result, tc.typ, tc.memref)
			}
		}
	})
}

func TestEvaluateAssign(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		// assignments are only accepted from the debug console
		client.EvaluateRequest("rax=5", "watch", false)
		er := client.ExpectErrorResponse(t)
		if er.Body.Error == nil || er.Body.Error.Id != UnableToEvaluateExpression {
			t.Errorf("got %#v, want Id=%d", er.Body.Error, UnableToEvaluateExpression)
		}

		client.EvaluateRequest("rax=5", "repl", false)
		client.ExpectEvaluateResponse(t)

		client.EvaluateRequest("rax", "watch", false)
		if got := client.ExpectEvaluateResponse(t).Body.Result; got != "0x5" {
			t.Errorf("rax after assignment: got %q, want 0x5", got)
		}
	})
}

func TestEvaluateInvalidToken(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		client.EvaluateRequest("nosuchthing", "repl", false)
		out := client.ExpectOutputEvent(t)
		if out.Body.Category != "console" || out.Body.Output != "Invalid value: \"nosuchthing\"!\n" {
			t.Errorf("got %#v", out.Body)
		}
		er := client.ExpectErrorResponse(t)
		if er.Body.Error == nil || !strings.Contains(er.Body.Error.Format, "unknown token") {
			t.Errorf("got %#v, want unknown token error", er.Body.Error)
		}

		// watch expressions are silent
		client.EvaluateRequest("nosuchthing", "watch", false)
		client.ExpectErrorResponse(t)
	})
}

func TestEvaluateDetached(t *testing.T) {
	runTest(t, true, func(client *daptest.Client, target *core.Process) {
		client.InitializeRequest()
		client.ExpectInitializeResponse(t)
		client.LaunchRequest()
		client.ExpectInitializedEvent(t)
		client.ExpectLaunchResponse(t)
		client.ConfigurationDoneRequest()
		client.ExpectConfigurationDoneResponse(t)

		client.ThreadsRequest()
		if threads := client.ExpectThreadsResponse(t); len(threads.Body.Threads) != 0 {
			t.Errorf("got %#v, want no threads", threads.Body.Threads)
		}

		client.EvaluateRequest("rax", "repl", false)
		out := client.ExpectOutputEvent(t)
		if out.Body.Output != "Not debugging!\n" {
			t.Errorf("got %q", out.Body.Output)
		}
		if got := client.ExpectEvaluateResponse(t).Body.Result; got != "0" {
			t.Errorf("got %q, want 0", got)
		}

		client.ReadMemoryRequest("0x1000", 0, 4)
		if er := client.ExpectErrorResponse(t); er.Body.Error == nil || er.Body.Error.Id != UnableToReadMemory {
			t.Errorf("got %#v, want Id=%d", er.Body.Error, UnableToReadMemory)
		}
	})
}

func TestAttach(t *testing.T) {
	runTest(t, true, func(client *daptest.Client, target *core.Process) {
		client.InitializeRequest()
		client.ExpectInitializeResponse(t)
		client.AttachRequest()
		client.ExpectInitializedEvent(t)
		client.ExpectAttachResponse(t)
		if !target.Attached() {
			t.Fatal("target not attached")
		}
		client.EvaluateRequest("rax", "watch", false)
		if got := client.ExpectEvaluateResponse(t).Body.Result; got != "0x10" {
			t.Errorf("got %q, want 0x10", got)
		}
	})
}

func TestSetExpression(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		client.SetExpressionRequest("rbx", "rax*2")
		resp := client.ExpectSetExpressionResponse(t)
		if resp.Body.Value != "0x20" || resp.Body.Type != "qword" {
			t.Errorf("got %#v", resp.Body)
		}

		client.SetExpressionRequest("byte:[0x1000]", "0xff")
		if got := client.ExpectSetExpressionResponse(t).Body.Value; got != "0xff" {
			t.Errorf("got %q, want 0xff", got)
		}
		if patches := target.Patches(); len(patches) != 1 || patches[0].Addr != 0x1000 || patches[0].New != 0xff {
			t.Errorf("got patches %#v", patches)
		}

		// moving the instruction pointer reports a new stop
		client.SetExpressionRequest("rip", "0x401001")
		stopped := client.ExpectStoppedEvent(t)
		if stopped.Body.Reason != "goto" {
			t.Errorf("got reason %q, want goto", stopped.Body.Reason)
		}
		client.ExpectSetExpressionResponse(t)

		client.SetExpressionRequest("$pid", "2")
		if er := client.ExpectErrorResponse(t); er.Body.Error == nil || er.Body.Error.Id != UnableToSetExpression {
			t.Errorf("got %#v, want Id=%d", er.Body.Error, UnableToSetExpression)
		}
	})
}

func TestReadMemory(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		client.ReadMemoryRequest("rsp", 0, 4)
		resp := client.ExpectReadMemoryResponse(t)
		data, err := base64.StdEncoding.DecodeString(resp.Body.Data)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "\x78\x56\x34\x12" || resp.Body.Address != "0x1000" || resp.Body.UnreadableBytes != 0 {
			t.Errorf("got %#v (%x)", resp.Body, data)
		}

		// reads past the end of the region are partial
		client.ReadMemoryRequest("0x1000", 0xc, 8)
		resp = client.ExpectReadMemoryResponse(t)
		if resp.Body.Address != "0x100c" || resp.Body.UnreadableBytes != 4 {
			t.Errorf("got %#v", resp.Body)
		}

		client.ReadMemoryRequest("nosuchthing", 0, 4)
		client.ExpectErrorResponse(t)
	})
}

func TestDisassemble(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		client.DisassembleRequest("rip", 1, 2)
		resp := client.ExpectDisassembleResponse(t)
		insts := resp.Body.Instructions
		if len(insts) != 2 {
			t.Fatalf("got %d instructions, want 2", len(insts))
		}
		if insts[0].Address != "0x401001" || insts[0].InstructionBytes != "b8 01 00 00 00" || !strings.HasPrefix(insts[0].Instruction, "mov eax") {
			t.Errorf("got %#v", insts[0])
		}
		if insts[1].Address != "0x401006" || insts[1].Instruction != "ret" {
			t.Errorf("got %#v", insts[1])
		}

		client.DisassembleRequest("rip", -1, 2)
		if er := client.ExpectErrorResponse(t); er.Body.Error == nil || er.Body.Error.Id != UnableToDisassemble {
			t.Errorf("got %#v, want Id=%d", er.Body.Error, UnableToDisassemble)
		}
	})
}

func TestModules(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		client.ModulesRequest()
		resp := client.ExpectModulesResponse(t)
		if resp.Body.TotalModules != 1 || resp.Body.Modules[0].Name != "kernel32.dll" || resp.Body.Modules[0].AddressRange != "0x76000000-0x76100000" {
			t.Errorf("got %#v", resp.Body)
		}
	})
}

func TestUnsupportedRequest(t *testing.T) {
	runTest(t, false, func(client *daptest.Client, target *core.Process) {
		startSession(t, client)

		client.StackTraceRequest(mainThreadID)
		er := client.ExpectErrorResponse(t)
		if er.Command != "stackTrace" || er.Body.Error == nil || er.Body.Error.Id != UnsupportedCommand {
			t.Errorf("got %#v, want Id=%d", er, UnsupportedCommand)
		}

		client.KnownEvent()
		er = client.ExpectErrorResponse(t)
		if er.Body.Error == nil || er.Body.Error.Id != InternalError {
			t.Errorf("got %#v, want Id=%d", er, InternalError)
		}
	})
}

// Stop may run while the accepting goroutine is storing the connection;
// run with -race to catch unsynchronized access.
func TestStopWhileConnecting(t *testing.T) {
	for i := 0; i < 20; i++ {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		disconnectChan := make(chan struct{})
		server := NewServer(&Config{
			Listener:       listener,
			DisconnectChan: disconnectChan,
		})
		server.Run()

		dialed := make(chan net.Conn, 1)
		go func() {
			conn, err := net.Dial("tcp", listener.Addr().String())
			if err != nil {
				conn = nil
			}
			dialed <- conn
		}()
		// Console output with or without a client must not block.
		server.Engine().Resolve("_MxCsr_IE", value.ResolveOptions{})
		server.Stop()

		select {
		case <-disconnectChan:
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: server did not disconnect after Stop", i)
		}
		if conn := <-dialed; conn != nil {
			conn.Close()
		}
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		v      uint64
		size   int
		hex    bool
		format *dap.ValueFormat
		want   string
	}{
		{10, 0, false, nil, "10"},
		{10, 0, true, nil, "0xa"},
		{10, 4, false, nil, "0xa"},
		{10, 0, false, &dap.ValueFormat{Hex: true}, "0xa"},
		{^uint64(0), 0, false, nil, "18446744073709551615"},
	}
	for _, tc := range tests {
		res := value.Result{Value: tc.v, Size: tc.size, Hex: tc.hex}
		if got := formatResult(res, tc.format); got != tc.want {
			t.Errorf("formatResult(%#v, %v) = %q, want %q", res, tc.format, got, tc.want)
		}
	}
}
