// Package server surfaces the orchestration core over MCP and runs the REST
// sidecar.
//
// The baseline registry exposes a single find_tools tool. Each session that
// calls it gets its own dynamic tool registry: one binding per retrieved
// descriptor, with input schemas projected from the declared parameters.
// Tool and resource list_changed notifications fire after the session state
// reflects the change and before the reply is sent.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rhea-ai/rhea"
	"github.com/rhea-ai/rhea/pkg/config"
	"github.com/rhea-ai/rhea/pkg/objectstore"
	"github.com/rhea-ai/rhea/pkg/session"
	"github.com/rhea-ai/rhea/pkg/toolspec"
)

// ToolSummary is the find_tools result entry.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ToolID      string `json:"tool_id"`
}

// Server binds the session controller to the MCP transports and the REST
// sidecar.
type Server struct {
	cfg     *config.Settings
	ctrl    *session.Controller
	store   objectstore.Store
	metrics *Metrics
	mcp     *mcpserver.MCPServer

	mu        sync.Mutex
	resources map[string]bool // registered documentation resource URIs
}

// New assembles the MCP server around the session controller.
func New(cfg *config.Settings, ctrl *session.Controller, store objectstore.Store, metrics *Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		ctrl:      ctrl,
		store:     store,
		metrics:   metrics,
		resources: make(map[string]bool),
	}

	hooks := &mcpserver.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, cs mcpserver.ClientSession) {
		if s.ctrl != nil {
			s.ctrl.Close(cs.SessionID())
		}
	})

	s.mcp = mcpserver.NewMCPServer(
		"Rhea",
		rhea.Version,
		mcpserver.WithHooks(hooks),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithInstructions(
			"Call find_tools with a description of the task to populate "+
				"this session with relevant tools, then call them directly.",
		),
	)

	s.mcp.AddTool(
		mcp.NewTool("find_tools",
			mcp.WithDescription("Find and populate relevant tools for a query. Once called, the server registers the retrieved tools in this session."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Free-text description of the task")),
		),
		s.handleFindTools,
	)

	return s
}

// sessionID extracts the MCP session identifier from the request context.
func sessionID(ctx context.Context) string {
	if cs := mcpserver.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return "default"
}

// handleFindTools implements the find_tools baseline tool.
func (s *Server) handleFindTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordFind(time.Since(start)) }()

	ctx, span := tracer().Start(ctx, "find_tools")
	defer span.End()

	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sid := sessionID(ctx)
	span.SetAttributes(attribute.String("session.id", sid))

	found, err := s.ctrl.Find(ctx, sid, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("find tools: %v", err)), nil
	}

	// Reshape the session's MCP tool registry before replying so the
	// list_changed notification reflects the new state.
	if len(found.Removed) > 0 {
		if err := s.mcp.DeleteSessionTools(sid, found.Removed...); err != nil {
			slog.Warn("clearing session tools failed", "session_id", sid, "error", err)
		}
	}

	summaries := make([]ToolSummary, 0, len(found.Added))
	tools := make([]mcpserver.ServerTool, 0, len(found.Added))
	for _, binding := range found.Added {
		tools = append(tools, mcpserver.ServerTool{
			Tool:    projectTool(binding),
			Handler: s.toolHandler(binding.Name),
		})
		s.registerDocResource(binding.Tool)
		summaries = append(summaries, ToolSummary{
			Name:        binding.Name,
			Description: binding.Tool.Description,
			ToolID:      binding.Tool.ID,
		})
	}
	if len(tools) > 0 {
		if err := s.mcp.AddSessionTools(sid, tools...); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("register session tools: %v", err)), nil
		}
	}
	s.mcp.SendNotificationToClient(ctx, "notifications/resources/list_changed", nil)

	payload, err := json.Marshal(summaries)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// toolHandler produces the generic dispatch handler for one session
// binding. There is no per-tool code path: the controller resolves the
// binding and projects arguments against the descriptor.
func (s *Server) toolHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		ctx, span := tracer().Start(ctx, "call_tool")
		defer span.End()
		span.SetAttributes(attribute.String("tool.name", name))

		sid := sessionID(ctx)
		result, err := s.ctrl.Call(ctx, sid, name, req.GetArguments())
		if err != nil {
			s.metrics.RecordExecution(time.Since(start), false)
			span.RecordError(err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.metrics.RecordExecution(time.Since(start), true)

		payload, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// registerDocResource exposes a tool's documentation as a text resource.
func (s *Server) registerDocResource(tool *toolspec.Tool) {
	uri := "docs://tools/" + tool.ID
	s.mu.Lock()
	if s.resources[uri] {
		s.mu.Unlock()
		return
	}
	s.resources[uri] = true
	s.mu.Unlock()

	doc := tool.Documentation
	if doc == "" {
		doc = fmt.Sprintf("Documentation for %q is not available.", tool.Name)
	}

	s.mcp.AddResource(
		mcp.NewResource(uri, tool.Name+" Documentation",
			mcp.WithResourceDescription("Full documentation for "+tool.Name),
			mcp.WithMIMEType("text/markdown"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc,
				},
			}, nil
		},
	)
}

// projectTool builds the MCP tool declaration for a binding: the input
// schema is projected from the descriptor's declared parameters.
func projectTool(binding session.Binding) mcp.Tool {
	properties := map[string]any{}
	var required []string

	addParam := func(key string, decl *toolspec.Param) {
		if key == "" {
			return
		}
		properties[key] = paramSchema(decl)
		if !decl.Optional && decl.Type != "boolean" {
			required = append(required, key)
		}
	}

	for i := range binding.Tool.Inputs.Params {
		decl := &binding.Tool.Inputs.Params[i]
		addParam(flatKey(decl.EffectiveName()), decl)
	}
	for i := range binding.Tool.Inputs.Conditionals {
		cond := &binding.Tool.Inputs.Conditionals[i]
		pivot := cond.Param
		if name := pivot.EffectiveName(); name != "" {
			properties[cond.Name+"_"+name] = paramSchema(&pivot)
		}
		for j := range cond.Whens {
			for k := range cond.Whens[j].Params {
				decl := &cond.Whens[j].Params[k]
				if name := decl.EffectiveName(); name != "" {
					properties[cond.Name+"_"+name] = paramSchema(decl)
				}
			}
		}
	}

	description := binding.Tool.Description
	if description == "" {
		description = binding.Tool.Name
	}

	return mcp.Tool{
		Name:        binding.Name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

// flatKey rewrites dotted parameter names to their underscore spelling for
// flat-key RPC transports.
func flatKey(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

// paramSchema maps one declared parameter to a JSON-schema fragment.
func paramSchema(decl *toolspec.Param) map[string]any {
	schema := map[string]any{}
	switch decl.Type {
	case "integer":
		schema["type"] = "integer"
	case "float":
		schema["type"] = "number"
	case "boolean":
		schema["type"] = "boolean"
	case "select":
		schema["type"] = "string"
		if !decl.Multiple && len(decl.Options) > 0 {
			values := make([]string, len(decl.Options))
			for i, opt := range decl.Options {
				values[i] = opt.Value
			}
			schema["enum"] = values
		}
	case "data":
		schema["type"] = "string"
		schema["description"] = "Object-store handle of the input file"
	default:
		schema["type"] = "string"
	}

	if decl.Label != "" {
		schema["title"] = decl.Label
	}
	if decl.Help != "" {
		if _, ok := schema["description"]; !ok {
			schema["description"] = decl.Help
		}
	}
	return schema
}

// ServeStdio runs the MCP server over standard streams while the REST
// sidecar listens on the configured port.
func (s *Server) ServeStdio(ctx context.Context) error {
	rest := s.startSidecar(ctx, s.restRouter())
	defer rest.Shutdown(context.Background())

	return mcpserver.ServeStdio(s.mcp)
}

// ServeSSE runs the SSE transport and the REST sidecar on one listener.
func (s *Server) ServeSSE(ctx context.Context) error {
	sse := mcpserver.NewSSEServer(s.mcp,
		mcpserver.WithBaseURL(fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)),
	)

	r := s.restRouter()
	r.Handle("/sse", sse)
	r.Handle("/message", sse)

	return s.serve(ctx, r)
}

// ServeStreamableHTTP runs the streamable HTTP transport and the REST
// sidecar on one listener. Session identifiers travel in the
// Mcp-Session-Id request header.
func (s *Server) ServeStreamableHTTP(ctx context.Context) error {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcp)

	r := s.restRouter()
	r.Handle("/mcp", streamable)

	return s.serve(ctx, r)
}

func (s *Server) serve(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("listening", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startSidecar runs the REST router on the configured port in the
// background (stdio transport keeps the main goroutine).
func (s *Server) startSidecar(ctx context.Context, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: handler,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("REST sidecar failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	return srv
}
