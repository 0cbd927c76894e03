package rpcloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kdlbs/sessiond/internal/coordinator"
	"github.com/kdlbs/sessiond/internal/logstore"
)

// ToolDescriptor is one entry of the tools/list catalog.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// RegisterTools installs the tool catalog against c behind the tools/list
// and tools/call methods; individual tools are not reachable as bare
// top-level RPC methods.
func RegisterTools(l *Loop, c *coordinator.Coordinator) {
	entries := []struct {
		descriptor ToolDescriptor
		handler    Handler
	}{
		{
			descriptor: ToolDescriptor{
				Name:        "start_dev_server",
				Description: "Starts a development server for a session and returns its pid and status.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"integer"},"command":{"type":"string"},"working_directory":{"type":"string"},"port":{"type":"integer"}},"required":["session_id","command","working_directory"]}`),
			},
			handler: startDevServer(c),
		},
		{
			descriptor: ToolDescriptor{
				Name:        "stop_dev_server",
				Description: "Stops the development server running for a session.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"integer"}},"required":["session_id"]}`),
			},
			handler: stopDevServer(c),
		},
		{
			descriptor: ToolDescriptor{
				Name:        "restart_dev_server",
				Description: "Restarts a session's development server, preserving its identity.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"integer"}},"required":["session_id"]}`),
			},
			handler: restartDevServer(c),
		},
		{
			descriptor: ToolDescriptor{
				Name:        "get_server_status",
				Description: "Returns the status of one session, or a snapshot of all sessions when session_id is omitted.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"integer"}}}`),
			},
			handler: getServerStatus(c),
		},
		{
			descriptor: ToolDescriptor{
				Name:        "get_server_logs",
				Description: "Returns recent log lines for a session, optionally filtered by stream.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"integer"},"lines":{"type":"integer"},"stream":{"type":"string","enum":["stdout","stderr","all"]}},"required":["session_id"]}`),
			},
			handler: getServerLogs(c),
		},
		{
			descriptor: ToolDescriptor{
				Name:        "list_available_ports",
				Description: "Lists ports in the dev range that currently pass the liveness probe.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"count":{"type":"integer"}}}`),
			},
			handler: listAvailablePorts(c),
		},
		{
			descriptor: ToolDescriptor{
				Name:        "detect_project_type",
				Description: "Heuristically identifies a project's type and suggests a start command.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"directory":{"type":"string"}},"required":["directory"]}`),
			},
			handler: detectProjectType(c),
		},
		{
			descriptor: ToolDescriptor{
				Name:        "list_system_processes",
				Description: "Lists occupied ports, by default limited to the dev range.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"include_all_ports":{"type":"boolean"}}}`),
			},
			handler: listSystemProcesses(c),
		},
	}

	byName := make(map[string]Handler, len(entries))
	descriptors := make([]ToolDescriptor, 0, len(entries))
	for _, e := range entries {
		byName[e.descriptor.Name] = e.handler
		descriptors = append(descriptors, e.descriptor)
	}

	l.Register("tools/list", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		return struct {
			Tools []ToolDescriptor `json:"tools"`
		}{Tools: descriptors}, nil
	})

	l.Register("tools/call", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p toolCallParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		handler, ok := byName[p.Name]
		if !ok {
			return ErrorResult(fmt.Sprintf("Error: unknown tool %q", p.Name)), nil
		}
		return handler(ctx, p.Arguments)
	})
}

func invalidParams(err error) error { return &InvalidParamsError{Err: err} }

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return invalidParams(fmt.Errorf("missing params"))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams(fmt.Errorf("invalid params: %w", err))
	}
	return nil
}

type startDevServerParams struct {
	SessionID        int    `json:"session_id"`
	Command          string `json:"command"`
	WorkingDirectory string `json:"working_directory"`
	Port             int    `json:"port,omitempty"`
}

func startDevServer(c *coordinator.Coordinator) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p startDevServerParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.Command == "" {
			return nil, invalidParams(fmt.Errorf("command is required"))
		}
		sess, err := c.StartDevServer(ctx, p.SessionID, p.Command, p.WorkingDirectory, p.Port)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		return TextResult(fmt.Sprintf("started session %d: pid=%d status=%s", sess.ID, sess.Pid, sess.Status)), nil
	}
}

type sessionParams struct {
	SessionID int `json:"session_id"`
}

func stopDevServer(c *coordinator.Coordinator) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p sessionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := c.StopDevServer(ctx, p.SessionID); err != nil {
			return ErrorResult(err.Error()), nil
		}
		return TextResult(fmt.Sprintf("stopped session %d", p.SessionID)), nil
	}
}

func restartDevServer(c *coordinator.Coordinator) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p sessionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		sess, err := c.RestartDevServer(ctx, p.SessionID)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		return TextResult(fmt.Sprintf("restarted session %d: pid=%d status=%s", sess.ID, sess.Pid, sess.Status)), nil
	}
}

func getServerStatus(c *coordinator.Coordinator) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		if len(raw) == 0 {
			return TextResult(formatSnapshot(c.AllStatuses())), nil
		}
		var p struct {
			SessionID *int `json:"session_id"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.SessionID == nil {
			return TextResult(formatSnapshot(c.AllStatuses())), nil
		}
		sess, ok := c.Status(*p.SessionID)
		if !ok {
			return ErrorResult(fmt.Sprintf("session %d not found", *p.SessionID)), nil
		}
		return TextResult(formatSession(sess)), nil
	}
}

// toolStreamToLogStream maps the tool-facing stream name ("stdout"/
// "stderr") to the LogStore's internal tag.
func toolStreamToLogStream(name string) logstore.Stream {
	switch name {
	case "stdout":
		return logstore.StreamOut
	case "stderr":
		return logstore.StreamErr
	default:
		return logstore.Stream(name)
	}
}

type getServerLogsParams struct {
	SessionID int    `json:"session_id"`
	Lines     int    `json:"lines,omitempty"`
	Stream    string `json:"stream,omitempty"`
}

func getServerLogs(c *coordinator.Coordinator) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p getServerLogsParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		lines := p.Lines
		if lines <= 0 {
			lines = 50
		}
		if p.Stream == "" || p.Stream == "all" {
			return TextResult(c.LogsAsString(p.SessionID, lines)), nil
		}

		want := toolStreamToLogStream(p.Stream)
		entries := c.Logs(p.SessionID, lines)
		out := ""
		for _, e := range entries {
			if e.Stream != want {
				continue
			}
			out += fmt.Sprintf("[%s] %s\n", e.Stream, e.Content)
		}
		return TextResult(out), nil
	}
}

type listAvailablePortsParams struct {
	Count int `json:"count,omitempty"`
}

func listAvailablePorts(c *coordinator.Coordinator) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		n := 5
		if len(raw) > 0 {
			var p listAvailablePortsParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			if p.Count > 0 {
				n = p.Count
			}
		}
		ports := c.AvailablePorts(n)
		return TextResult(fmt.Sprintf("%v", ports)), nil
	}
}

type detectProjectTypeParams struct {
	Directory string `json:"directory"`
}

func detectProjectType(c *coordinator.Coordinator) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p detectProjectTypeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		det := c.DetectProjectType(p.Directory)
		if !det.Detected {
			return TextResult("no recognized project type"), nil
		}
		return TextResult(fmt.Sprintf("type=%s config=%s command=%q", det.Type, det.ConfigFile, det.SuggestedCommand)), nil
	}
}

type listSystemProcessesParams struct {
	IncludeAllPorts bool `json:"include_all_ports,omitempty"`
}

func listSystemProcesses(c *coordinator.Coordinator) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p listSystemProcessesParams
		if len(raw) > 0 {
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
		}
		listening := c.ScanSystemProcesses(p.IncludeAllPorts)
		return TextResult(fmt.Sprintf("%+v", listening)), nil
	}
}

func formatSession(s coordinator.Session) string {
	url := "none"
	if s.ServerURL != nil {
		url = *s.ServerURL
	}
	port := "none"
	if s.Port != nil {
		port = fmt.Sprintf("%d", *s.Port)
	}
	return fmt.Sprintf("session=%d pid=%d status=%s port=%s url=%s", s.ID, s.Pid, s.Status, port, url)
}

func formatSnapshot(snap coordinator.Snapshot) string {
	if len(snap) == 0 {
		return "no active sessions"
	}
	out := ""
	for _, s := range snap {
		out += formatSession(s) + "\n"
	}
	return out
}
