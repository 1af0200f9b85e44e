// Package mcp serves the panel's inspection and control tools over JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/johnrirwin/newspanel/internal/logging"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes. codeResourceNotFound is the MCP extension for unknown resource URIs.
const (
	codeParseError       = -32700
	codeMethodNotFound   = -32601
	codeInvalidParams    = -32602
	codeResourceNotFound = -32002
)

type Server struct {
	handler *Handler
	logger  *logging.Logger
}

func NewServer(handler *Handler, logger *logging.Logger) *Server {
	return &Server{
		handler: handler,
		logger:  logger,
	}
}

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
	Capabilities    Caps       `json:"capabilities"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Caps struct {
	Tools     *ToolsCap     `json:"tools,omitempty"`
	Resources *ResourcesCap `json:"resources,omitempty"`
}

type ToolsCap struct {
	ListChanged bool `json:"listChanged"`
}

type ResourcesCap struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

type ResourcesListResult struct {
	Resources []ResourceDefinition `json:"resources"`
}

type ReadResourceParams struct {
	URI string `json:"uri"`
}

type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type ToolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Run reads one request per line from r and writes one response per line to w until r is
// exhausted or ctx is cancelled. Cancellation returns at once even while a read is blocked.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan readResult)
	go readLines(ctx, bufio.NewReader(r), lines)

	s.logger.Info("MCP server started, waiting for requests")

	for {
		var in readResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in = <-lines:
		}

		if len(in.line) > 0 {
			if response := s.handleRequest(ctx, in.line); response != nil {
				data, err := json.Marshal(response)
				if err != nil {
					s.logger.Error("Failed to marshal response", logging.WithField("error", err.Error()))
				} else if _, err := w.Write(append(data, '\n')); err != nil {
					return fmt.Errorf("write error: %w", err)
				}
			}
		}
		if in.err != nil {
			if in.err == io.EOF {
				return nil
			}
			return fmt.Errorf("read error: %w", in.err)
		}
	}
}

type readResult struct {
	line []byte
	err  error
}

// readLines feeds lines to out until a read fails or ctx ends.
func readLines(ctx context.Context, reader *bufio.Reader, out chan<- readResult) {
	for {
		line, err := reader.ReadBytes('\n')
		select {
		case out <- readResult{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return rpcError(nil, codeParseError, "Parse error")
	}

	s.logger.Debug("Received request", logging.WithFields(map[string]interface{}{
		"method": req.Method,
		"id":     req.ID,
	}))

	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "newspanel", Version: "1.0.0"},
			Capabilities:    Caps{Tools: &ToolsCap{}, Resources: &ResourcesCap{}},
		})
	case "initialized", "notifications/initialized":
		return nil
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: s.handler.GetTools()})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return result(req.ID, ResourcesListResult{Resources: s.handler.GetResources()})
	case "resources/read":
		return s.handleResourcesRead(req)
	case "ping":
		return result(req.ID, map[string]interface{}{})
	default:
		return rpcError(req.ID, codeMethodNotFound, "Method not found")
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req Request) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req.ID, codeInvalidParams, "Invalid params: "+err.Error())
	}

	out, err := s.handler.HandleToolCall(ctx, params.Name, params.Arguments)
	if err != nil {
		text, _ := json.MarshalIndent(map[string]string{"error": err.Error()}, "", "  ")
		return result(req.ID, CallToolResult{
			Content: []ContentItem{{Type: "text", Text: string(text)}},
			IsError: true,
		})
	}

	text, _ := json.MarshalIndent(out, "", "  ")
	return result(req.ID, CallToolResult{
		Content: []ContentItem{{Type: "text", Text: string(text)}},
	})
}

func (s *Server) handleResourcesRead(req Request) *Response {
	var params ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return rpcError(req.ID, codeInvalidParams, "Invalid params: uri is required")
	}

	body, err := s.handler.ReadResource(params.URI)
	if err != nil {
		return rpcError(req.ID, codeResourceNotFound, err.Error())
	}

	text, _ := json.MarshalIndent(body, "", "  ")
	return result(req.ID, ReadResourceResult{
		Contents: []ResourceContents{{URI: params.URI, MimeType: "application/json", Text: string(text)}},
	})
}

func result(id interface{}, v interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

func rpcError(id interface{}, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}
