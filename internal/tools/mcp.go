package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
)

const mcpCallTimeout = 30 * time.Second

// SecretResolver resolves a secret name to its plaintext value. MCP server
// env and header values may reference stored secrets as "secret:NAME".
type SecretResolver func(name string) (string, error)

// mcpClient abstracts the MCP client for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

type serverConn struct {
	name   string
	client mcpClient
}

type toolRef struct {
	client mcpClient
	server string
	tool   string
}

// Bridge connects to the configured MCP servers and exposes their tools
// under namespaced names. A server that fails to connect or discover is
// skipped with a warning; the assistant keeps running without its tools.
type Bridge struct {
	servers []serverConn
	defs    []Definition
	owners  map[string]toolRef
}

// NewBridge connects and discovers tools. resolve may be nil when no vault
// is configured; secret references then fail the server they appear in.
func NewBridge(ctx context.Context, servers map[string]config.MCPServer, resolve SecretResolver) *Bridge {
	b := &Bridge{owners: make(map[string]toolRef)}

	for name, srv := range servers {
		client, err := connectServer(ctx, name, srv, resolve)
		if err != nil {
			slog.Warn("mcp server unavailable, skipping", "server", name, "error", err)
			continue
		}
		b.servers = append(b.servers, serverConn{name: name, client: client})
	}

	b.discover(ctx)
	return b
}

// newBridgeWithClients wires pre-built clients, for tests.
func newBridgeWithClients(ctx context.Context, servers []serverConn) *Bridge {
	b := &Bridge{servers: servers, owners: make(map[string]toolRef)}
	b.discover(ctx)
	return b
}

func connectServer(ctx context.Context, name string, srv config.MCPServer, resolve SecretResolver) (mcpClient, error) {
	env, err := resolveRefs(srv.Env, resolve)
	if err != nil {
		return nil, err
	}
	headers, err := resolveRefs(srv.Headers, resolve)
	if err != nil {
		return nil, err
	}

	var c mcpClient
	switch srv.Type {
	case "stdio":
		c, err = mcpclient.NewStdioMCPClient(srv.Command, envSlice(env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case "http":
		var topts []transport.StreamableHTTPCOption
		if len(headers) > 0 {
			topts = append(topts, transport.WithHTTPHeaders(headers))
		}
		t, err := transport.NewStreamableHTTP(srv.URL, topts...)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		httpClient := mcpclient.NewClient(t)
		if err := httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = httpClient
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Type)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "knowledge-navigator",
		Version: "1.0.0",
	}
	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err := ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, fmt.Errorf("initialize: %w", err)
		}
	}

	slog.Info("mcp server connected", "server", name, "transport", srv.Type)
	return c, nil
}

func (b *Bridge) discover(ctx context.Context) {
	for _, srv := range b.servers {
		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			slog.Warn("mcp tool discovery failed, skipping server", "server", srv.name, "error", err)
			continue
		}

		for _, t := range result.Tools {
			full := fmt.Sprintf("mcp_%s_%s", sanitizeName(srv.name), sanitizeName(t.Name))
			desc := t.Description
			if desc == "" {
				desc = fmt.Sprintf("MCP tool %q from server %q", t.Name, srv.name)
			}

			schema := map[string]any{}
			if t.InputSchema.Properties != nil {
				schema["properties"] = t.InputSchema.Properties
			}
			if t.InputSchema.Required != nil {
				schema["required"] = t.InputSchema.Required
			}

			b.defs = append(b.defs, Definition{Name: full, Description: desc, InputSchema: schema})
			b.owners[full] = toolRef{client: srv.client, server: srv.name, tool: t.Name}
		}
		slog.Info("mcp tools discovered", "server", srv.name, "count", len(result.Tools))
	}
}

func (b *Bridge) List() []Definition {
	out := make([]Definition, len(b.defs))
	copy(out, b.defs)
	return out
}

func (b *Bridge) Invoke(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	ref, ok := b.owners[name]
	if !ok {
		return nil, &ExecutionError{Tool: name, Err: ErrUnknownTool}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = ref.tool
	callReq.Params.Arguments = params

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := ref.client.CallTool(callCtx, callReq)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}

	content := extractContent(result)
	if result.IsError {
		return nil, &ExecutionError{Tool: name, Err: fmt.Errorf("%s", content)}
	}

	if json.Valid([]byte(content)) {
		return json.RawMessage(content), nil
	}
	raw, _ := json.Marshal(map[string]string{"content": content})
	return raw, nil
}

// Close shuts down all server connections.
func (b *Bridge) Close() {
	for _, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			slog.Warn("mcp server close error", "server", srv.name, "error", err)
		}
	}
}

func extractContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// resolveRefs replaces secret:NAME values using the resolver.
func resolveRefs(values map[string]string, resolve SecretResolver) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if secretName, ok := strings.CutPrefix(v, "secret:"); ok {
			if resolve == nil {
				return nil, fmt.Errorf("%s references secret %q but no vault is configured", k, secretName)
			}
			val, err := resolve(secretName)
			if err != nil {
				return nil, fmt.Errorf("resolve secret %q for %s: %w", secretName, k, err)
			}
			out[k] = val
			continue
		}
		out[k] = v
	}
	return out, nil
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
