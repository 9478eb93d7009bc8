// Package dap implements VSCode's Debug Adaptor Protocol (DAP) on top of
// the expression engine. A frontend connects over TCP and evaluates
// expressions, assigns registers, flags, memory and variables, reads
// memory and disassembles the target snapshot.
// Requests are processed synchronously, one at a time.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/go-dap"

	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/proc/core"
	"github.com/go-delve/dbgval/pkg/regnum"
	"github.com/go-delve/dbgval/pkg/value"
)

// Config is the configuration of a DAP Server.
type Config struct {
	Listener net.Listener
	// Target is the snapshot expressions are evaluated against, nil to
	// evaluate without a debug session.
	Target *core.Process
	// Variables are the user variables shared with other frontends. A
	// fresh table is used if nil.
	Variables value.Variables
	// SignedCalc selects signed arithmetic for the expression engine.
	SignedCalc bool
	// MaxAPIMatches is the number of ambiguous exports listed on the
	// console before the list is truncated.
	MaxAPIMatches int
	// DisconnectChan is closed when the client goes away.
	DisconnectChan chan<- struct{}
}

// Server serves one DAP client. Requests are read and handled by the
// goroutine started by Run, in arrival order. Engine notifications and
// console output are sent as events from the same goroutine, or from
// whichever goroutine assigns through the shared Variables.
type Server struct {
	config   *Config
	listener net.Listener
	reader   *bufio.Reader

	// connMu guards conn, which is set by the accepting goroutine and
	// closed by Stop.
	connMu sync.Mutex
	conn   net.Conn
	// closed by Stop
	stopChan chan struct{}

	engine *value.Engine
	log    logflags.Logger

	// sendingMu synchronizes writing to conn so that messages sent by the
	// engine notifications do not interleave with responses.
	sendingMu sync.Mutex
	// configured is set once the client sent configurationDone.
	configured bool
}

// The snapshot has a single thread.
const mainThreadID = 1

// NewServer returns a server accepting its client on config.Listener,
// which it will close. Stop must be called after config.DisconnectChan is
// closed.
func NewServer(config *Config) *Server {
	logger := logflags.DAPLogger().WithField("pid", os.Getpid())
	logger.Debugf("listening on %s", config.Listener.Addr())
	s := &Server{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		log:      logger,
	}
	cfg := value.Config{
		Variables:     config.Variables,
		Constants:     value.WindowsConstants,
		Notifier:      notifier{s},
		Console:       outputWriter{s},
		SignedCalc:    config.SignedCalc,
		MaxAPIMatches: config.MaxAPIMatches,
	}
	if config.Target != nil {
		cfg.Target = config.Target
	}
	s.engine = value.New(cfg)
	return s
}

// Engine returns the expression engine requests are evaluated with.
func (s *Server) Engine() *value.Engine {
	return s.engine
}

// Stop closes the listener and the client connection, which ends the
// request loop. It must be called once.
func (s *Server) Stop() {
	s.listener.Close()
	s.connMu.Lock()
	defer s.connMu.Unlock()
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
}

// clientConn returns the client connection, nil before one was accepted.
func (s *Server) clientConn() net.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// signalDisconnect is called by the request goroutine when it exits.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run accepts one client in a new goroutine and serves its requests until
// it disconnects or Stop is called.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.WithError(err).Error("accepting client connection")
			}
			s.signalDisconnect()
			return
		}
		s.connMu.Lock()
		select {
		case <-s.stopChan:
			// Stop ran between Accept and here.
			s.connMu.Unlock()
			conn.Close()
			s.signalDisconnect()
			return
		default:
		}
		s.conn = conn
		s.connMu.Unlock()
		s.serveDAPCodec(conn)
	}()
}

func (s *Server) serveDAPCodec(conn net.Conn) {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			if err != io.EOF && !s.stopped() {
				s.log.WithError(err).Error("reading request")
			}
			return
		}
		s.handleRequest(request)
	}
}

func (s *Server) stopped() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debug("[<- from client]", string(jsonmsg))

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		s.onLaunchRequest(request)
	case *dap.AttachRequest:
		s.onAttachRequest(request)
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.ThreadsRequest:
		s.onThreadsRequest(request)
	case *dap.EvaluateRequest:
		s.onEvaluateRequest(request)
	case *dap.SetExpressionRequest:
		s.onSetExpressionRequest(request)
	case *dap.ReadMemoryRequest:
		s.onReadMemoryRequest(request)
	case *dap.DisassembleRequest:
		s.onDisassembleRequest(request)
	case *dap.ModulesRequest:
		s.onModulesRequest(request)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		s.onSetExceptionBreakpointsRequest(request)
	case dap.RequestMessage:
		s.sendUnsupportedErrorResponse(*request.GetRequest())
	default:
		// Events and responses from the client are not supported.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v", request))
	}
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	conn := s.clientConn()
	if conn == nil {
		return
	}
	s.sendingMu.Lock()
	defer s.sendingMu.Unlock()
	if err := dap.WriteProtocolMessage(conn, message); err != nil {
		s.log.Debug(err)
	}
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsSetExpression = true
	response.Body.SupportsReadMemoryRequest = true
	response.Body.SupportsDisassembleRequest = true
	response.Body.SupportsModulesRequest = true
	s.send(response)
}

// onLaunchRequest starts the session on the snapshot the server was
// created with. Launch arguments are ignored.
func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
}

// onAttachRequest starts the session and, if the snapshot was saved
// detached, attaches it.
func (s *Server) onAttachRequest(request *dap.AttachRequest) {
	if s.config.Target == nil {
		s.sendErrorResponse(request.Request, FailedToAttach, "Failed to attach", "no snapshot loaded")
		return
	}
	if !s.config.Target.Attached() {
		s.config.Target.Attach()
	}
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.signalDisconnect()
}

// onConfigurationDoneRequest reports the snapshot thread as stopped so
// the frontend enables its evaluation views.
func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	s.configured = true
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	if s.engine.Debugging() {
		s.sendStoppedEvent("entry")
	}
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	var threads []dap.Thread
	if s.engine.Debugging() {
		threads = []dap.Thread{{Id: mainThreadID, Name: "main"}}
	}
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: threads},
	}
	s.send(response)
}

// onSetBreakpointsRequest answers with an empty list, frontends send
// breakpoints unconditionally during the handshake but the snapshot never
// runs.
func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = []dap.Breakpoint{}
	s.send(response)
}

func (s *Server) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
}

// onEvaluateRequest resolves the expression. Assignments are accepted from
// the debug console only, hovers and watches never modify the target.
func (s *Server) onEvaluateRequest(request *dap.EvaluateRequest) {
	args := request.Arguments
	res, err := s.engine.Resolve(args.Expression, value.ResolveOptions{
		AllowAssign: args.Context == "repl",
		Silent:      args.Context != "repl",
	})
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", err.Error())
		return
	}
	response := &dap.EvaluateResponse{Response: *newResponse(request.Request)}
	response.Body.Result = formatResult(res, args.Format)
	response.Body.Type = typeName(res)
	if res.Hex || res.IsVar {
		response.Body.MemoryReference = fmt.Sprintf("%#x", res.Value)
	}
	s.send(response)
}

// onSetExpressionRequest evaluates the value expression and assigns it to
// the expression, which must name a register, flag, memory reference or
// variable.
func (s *Server) onSetExpressionRequest(request *dap.SetExpressionRequest) {
	args := request.Arguments
	v, err := s.engine.Resolve(args.Value, value.ResolveOptions{})
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetExpression, "Unable to set expression", err.Error())
		return
	}
	if err := s.engine.Assign(args.Expression, v.Value, false); err != nil {
		s.sendErrorResponse(request.Request, UnableToSetExpression, "Unable to set expression", err.Error())
		return
	}
	res, err := s.engine.ResolveNoExpr(args.Expression, value.ResolveOptions{Silent: true})
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetExpression, "Unable to set expression", err.Error())
		return
	}
	response := &dap.SetExpressionResponse{Response: *newResponse(request.Request)}
	response.Body.Value = formatResult(res, args.Format)
	response.Body.Type = typeName(res)
	s.send(response)
}

// maxReadMemory caps the size of a single readMemory request.
const maxReadMemory = 1 << 20

// onReadMemoryRequest reads target memory. The memory reference is an
// expression. Bytes past the first unreadable one are reported as
// unreadable.
func (s *Server) onReadMemoryRequest(request *dap.ReadMemoryRequest) {
	args := request.Arguments
	target := s.engine.Target()
	if target == nil || !target.Attached() {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", value.ErrNotDebugging.Error())
		return
	}
	ref, err := s.engine.Resolve(args.MemoryReference, value.ResolveOptions{Silent: true})
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", err.Error())
		return
	}
	if args.Count < 0 || args.Count > maxReadMemory {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory",
			fmt.Sprintf("count must be between 0 and %d", maxReadMemory))
		return
	}
	addr := ref.Value + uint64(int64(args.Offset))
	buf := make([]byte, args.Count)
	n, _ := target.Memory().ReadMemory(buf, addr)

	response := &dap.ReadMemoryResponse{Response: *newResponse(request.Request)}
	response.Body.Address = fmt.Sprintf("%#x", addr)
	response.Body.Data = base64.StdEncoding.EncodeToString(buf[:n])
	response.Body.UnreadableBytes = args.Count - n
	s.send(response)
}

// onDisassembleRequest decodes InstructionCount instructions starting
// InstructionOffset instructions past the memory reference. Negative
// instruction offsets are not supported, x86 can not be decoded backwards.
func (s *Server) onDisassembleRequest(request *dap.DisassembleRequest) {
	args := request.Arguments
	target := s.engine.Target()
	if target == nil || !target.Attached() {
		s.sendErrorResponse(request.Request, UnableToDisassemble, "Unable to disassemble", value.ErrNotDebugging.Error())
		return
	}
	ref, err := s.engine.Resolve(args.MemoryReference, value.ResolveOptions{Silent: true})
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToDisassemble, "Unable to disassemble", err.Error())
		return
	}
	if args.InstructionOffset < 0 {
		s.sendErrorResponse(request.Request, UnableToDisassemble, "Unable to disassemble", "negative instruction offsets are not supported")
		return
	}
	var pc uint64
	if th, err := target.CurrentThread(); err == nil {
		pc, _ = th.Register(regnum.CIP)
	}
	addr := ref.Value + uint64(int64(args.Offset))
	insts, err := proc.Disassemble(target, addr, args.InstructionOffset+args.InstructionCount, pc)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToDisassemble, "Unable to disassemble", err.Error())
		return
	}
	if args.InstructionOffset < len(insts) {
		insts = insts[args.InstructionOffset:]
	} else {
		insts = nil
	}

	response := &dap.DisassembleResponse{Response: *newResponse(request.Request)}
	response.Body.Instructions = make([]dap.DisassembledInstruction, 0, args.InstructionCount)
	mods := target.Modules()
	l := mods.RLocker()
	l.Lock()
	for _, inst := range insts {
		di := dap.DisassembledInstruction{
			Address:          fmt.Sprintf("%#x", inst.Loc),
			InstructionBytes: fmt.Sprintf("% x", inst.Bytes),
			Instruction:      inst.Text,
		}
		if args.ResolveSymbols && mods.InfoFromAddr(inst.Loc) != nil {
			di.Symbol = mods.SymbolicName(inst.Loc)
		}
		response.Body.Instructions = append(response.Body.Instructions, di)
	}
	l.Unlock()
	// Frontends expect exactly InstructionCount entries.
	for len(response.Body.Instructions) < args.InstructionCount {
		addr := addr
		if n := len(insts); n > 0 {
			addr = insts[n-1].Loc + uint64(len(insts[n-1].Bytes))
		}
		response.Body.Instructions = append(response.Body.Instructions, dap.DisassembledInstruction{
			Address:     fmt.Sprintf("%#x", addr),
			Instruction: "?",
		})
	}
	s.send(response)
}

func (s *Server) onModulesRequest(request *dap.ModulesRequest) {
	response := &dap.ModulesResponse{Response: *newResponse(request.Request)}
	response.Body.Modules = []dap.Module{}
	if target := s.engine.Target(); target != nil {
		mods := target.Modules()
		l := mods.RLocker()
		l.Lock()
		mods.Enum(func(m *proc.Module) {
			response.Body.Modules = append(response.Body.Modules, dap.Module{
				Id:           fmt.Sprintf("%#x", m.Base),
				Name:         m.FullName(),
				AddressRange: fmt.Sprintf("%#x-%#x", m.Base, m.Base+m.Size),
			})
		})
		l.Unlock()
	}
	response.Body.TotalModules = len(response.Body.Modules)
	s.send(response)
}

func (s *Server) sendStoppedEvent(reason string) {
	stopped := &dap.StoppedEvent{Event: *newEvent("stopped")}
	stopped.Body.Reason = reason
	stopped.Body.ThreadId = mainThreadID
	stopped.Body.AllThreadsStopped = true
	s.send(stopped)
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:       id,
		Format:   fmt.Sprintf("%s: %s", summary, details),
		ShowUser: true,
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse answers the message with sequence number seq,
// which may not be a request.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event: event,
	}
}
