// Command echomcp is a minimal stdio MCP server exposing a single "echo"
// tool and a single static resource. It exists as the manual/integration
// test fixture described in spec.md §8's seed scenarios (S1/S2): a real
// child process a mcp.Client can initialize against, list tools from, and
// call, without needing a network service.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const protocolVersion = "2024-11-05"

func main() {
	reader := bufio.NewReader(os.Stdin)
	writer := os.Stdout

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			handleLine(writer, line)
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			fmt.Fprintf(os.Stderr, "echomcp: read error: %v\n", err)
			return
		}
	}
}

func handleLine(w io.Writer, line []byte) {
	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id,omitempty"`
		Method  string          `json:"method"`
		Params  map[string]any  `json:"params,omitempty"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		fmt.Fprintf(os.Stderr, "echomcp: malformed request: %v\n", err)
		return
	}

	// A notification (no id) never gets a response.
	if len(req.ID) == 0 {
		return
	}

	switch req.Method {
	case "initialize":
		writeResult(w, req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo":      map[string]any{"name": "echomcp", "version": "0.1.0"},
			"capabilities":    map[string]any{},
		})
	case "tools/list":
		writeResult(w, req.ID, map[string]any{
			"tools": []map[string]any{
				{
					"name":        "echo",
					"description": "Echo the given message back",
					"inputSchema": map[string]any{
						"type":       "object",
						"properties": map[string]any{"message": map[string]any{"type": "string"}},
						"required":   []string{"message"},
					},
				},
			},
		})
	case "tools/call":
		handleToolCall(w, req.ID, req.Params)
	case "resources/list":
		writeResult(w, req.ID, map[string]any{
			"resources": []map[string]any{
				{"uri": "echo://greeting", "name": "greeting", "mimeType": "text/plain"},
			},
		})
	case "resources/read":
		handleResourceRead(w, req.ID, req.Params)
	default:
		writeError(w, req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func handleToolCall(w io.Writer, id json.RawMessage, params map[string]any) {
	name, _ := params["name"].(string)
	if name != "echo" {
		writeError(w, id, -32601, fmt.Sprintf("tool %q not found", name))
		return
	}
	args, _ := params["arguments"].(map[string]any)
	message, _ := args["message"].(string)
	writeResult(w, id, map[string]any{
		"content":  message,
		"isError":  false,
		"mimeType": "text/plain",
	})
}

func handleResourceRead(w io.Writer, id json.RawMessage, params map[string]any) {
	uri, _ := params["uri"].(string)
	if uri != "echo://greeting" {
		writeError(w, id, -32602, fmt.Sprintf("unknown resource %q", uri))
		return
	}
	writeResult(w, id, map[string]any{
		"contents": []map[string]any{
			{"uri": uri, "mimeType": "text/plain", "text": "hello from echomcp"},
		},
	})
}

func writeResult(w io.Writer, id json.RawMessage, result any) {
	writeLine(w, map[string]any{"jsonrpc": "2.0", "id": rawID(id), "result": result})
}

func writeError(w io.Writer, id json.RawMessage, code int, message string) {
	writeLine(w, map[string]any{
		"jsonrpc": "2.0",
		"id":      rawID(id),
		"error":   map[string]any{"code": code, "message": message},
	})
}

// rawID passes the request's id back verbatim (string or number); the
// client normalizes either shape on receipt.
func rawID(id json.RawMessage) any {
	var v any
	_ = json.Unmarshal(id, &v)
	return v
}

func writeLine(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echomcp: marshal failed: %v\n", err)
		return
	}
	data = append(data, '\n')
	_, _ = w.Write(data)
}
