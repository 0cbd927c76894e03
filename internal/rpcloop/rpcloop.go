// Package rpcloop implements a line-framed JSON-RPC 2.0 dispatch loop over
// stdin/stdout: a Request/Response/Error envelope adapted to one complete
// JSON value per line instead of length-prefixed framing.
package rpcloop

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kdlbs/sessiond/internal/corelog"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Request is one inbound JSON-RPC call. ID is kept as a raw JSON value
// (rather than decoded into a Go type) so a request that omits id or sets
// it to literal null can be told apart from one that sets id to 0 or "" —
// the former is a notification and receives no reply.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one outbound JSON-RPC reply.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// isNotification reports whether id is absent or literal null, per the
// JSON-RPC 2.0 convention this loop follows: such requests receive no
// reply, success or error.
func isNotification(id json.RawMessage) bool {
	trimmed := trimSpace(id)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// protocolVersion is the MCP protocol version advertised by initialize.
const protocolVersion = "2024-11-05"

// ServerInfo identifies this server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string           `json:"protocolVersion"`
	Capabilities    serverCapability `json:"capabilities"`
	ServerInfo      ServerInfo       `json:"serverInfo"`
}

type serverCapability struct {
	Tools toolsCapability `json:"tools"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// RegisterProtocol installs the MCP handshake methods (initialize,
// initialized, ping) that every conforming client expects ahead of any
// tool calls, per the external-interface contract.
func RegisterProtocol(l *Loop, info ServerInfo) {
	l.Register("initialize", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		return initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    serverCapability{Tools: toolsCapability{ListChanged: false}},
			ServerInfo:      info,
		}, nil
	})
	l.Register("initialized", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		return nil, nil
	})
	l.Register("ping", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		return struct{}{}, nil
	})
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ContentBlock is one element of a tool result's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the envelope every tool call method returns as its result.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResult builds a single-block successful ToolResult.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult builds a single-block error ToolResult.
func ErrorResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

// Handler serves one RPC method call, returning the value to place in the
// response's result field, or an error mapped to an RPC error code.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Loop dispatches line-framed JSON-RPC requests read from in to handlers
// registered by method name, writing one JSON response line per request to
// out. Writes are serialized so concurrent handler goroutines cannot
// interleave output.
type Loop struct {
	logger   *corelog.Logger
	handlers map[string]Handler

	out   io.Writer
	outMu sync.Mutex
}

// New constructs a Loop with no registered methods.
func New(log *corelog.Logger, out io.Writer) *Loop {
	return &Loop{
		logger:   log.WithFields(zap.String("component", "rpc-loop")),
		handlers: make(map[string]Handler),
		out:      out,
	}
}

// Register installs handler for method, overwriting any prior registration.
func (l *Loop) Register(method string, handler Handler) {
	l.handlers[method] = handler
}

// Methods returns every registered method name.
func (l *Loop) Methods() []string {
	out := make([]string, 0, len(l.handlers))
	for m := range l.handlers {
		out = append(out, m)
	}
	return out
}

// Run reads newline-delimited JSON-RPC requests from in until EOF or ctx is
// canceled, dispatching each to its handler and writing the response. Each
// request is handled synchronously in request order.
func (l *Loop) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		l.handleLine(ctx, append([]byte(nil), line...))
	}
	return scanner.Err()
}

func (l *Loop) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		l.writeError(nil, ParseError, "parse error: "+err.Error())
		return
	}

	notification := isNotification(req.ID)

	if req.JSONRPC != "2.0" || req.Method == "" {
		if !notification {
			l.writeError(req.ID, InvalidRequest, "invalid request")
		}
		return
	}

	handler, ok := l.handlers[req.Method]
	if !ok {
		if !notification {
			l.writeError(req.ID, MethodNotFound, "method not found: "+req.Method)
		}
		return
	}

	result, err := handler(ctx, req.Params)
	if notification {
		// initialized, and any other notification a caller registers a
		// handler for, never gets a reply even on error.
		if err != nil {
			l.logger.Debug("notification handler returned an error", zap.String("method", req.Method), zap.Error(err))
		}
		return
	}

	if err != nil {
		var invalid *InvalidParamsError
		if errors.As(err, &invalid) {
			l.writeError(req.ID, InvalidParams, err.Error())
			return
		}
		l.writeError(req.ID, InternalError, err.Error())
		return
	}
	l.writeResult(req.ID, result)
}

// InvalidParamsError marks a handler error as a malformed-params condition
// rather than an internal failure, so Run maps it to InvalidParams instead
// of InternalError.
type InvalidParamsError struct {
	Err error
}

func (e *InvalidParamsError) Error() string { return e.Err.Error() }
func (e *InvalidParamsError) Unwrap() error { return e.Err }

func (l *Loop) writeResult(id json.RawMessage, result interface{}) {
	l.write(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (l *Loop) writeError(id json.RawMessage, code int, message string) {
	l.write(Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}})
}

func (l *Loop) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		l.logger.Error("failed to marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')

	l.outMu.Lock()
	defer l.outMu.Unlock()
	if _, err := l.out.Write(data); err != nil {
		l.logger.Error("failed to write response", zap.Error(err))
	}
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
