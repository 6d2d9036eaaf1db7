// Package mcpserver publishes registry handles onto a mark3labs/mcp-go server.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/usecase"
)

// Invoker routes calls to the live registry.
type Invoker interface {
	Execute(ctx context.Context, name string, args map[string]any) (domain.InvocationResult, error)
	ReadResource(ctx context.Context, uri string) (domain.Handle, domain.InvocationResult, error)
}

// Adapter implements usecase.MCPServerAdapter. Registered handlers capture
// only the handle name or URI, so they always reach the current registry.
type Adapter struct {
	srv     *server.MCPServer
	invoker Invoker
	logger  *slog.Logger
}

// New creates an Adapter over srv.
func New(srv *server.MCPServer, invoker Invoker, logger *slog.Logger) *Adapter {
	return &Adapter{
		srv:     srv,
		invoker: invoker,
		logger:  logger.With("component", "mcp_server"),
	}
}

// Publish replaces the previous handle set with current.
func (a *Adapter) Publish(_ context.Context, current, previous []domain.Handle) error {
	keepTools := map[string]bool{}
	keepResources := map[string]bool{}
	for _, h := range current {
		if h.Kind == domain.HandleResource {
			keepResources[h.URI] = true
		} else {
			keepTools[h.Name] = true
		}
	}

	var staleTools []string
	for _, h := range previous {
		switch {
		case h.Kind == domain.HandleResource && !keepResources[h.URI]:
			a.srv.RemoveResource(h.URI)
		case h.Kind == domain.HandleTool && !keepTools[h.Name]:
			staleTools = append(staleTools, h.Name)
		}
	}
	if len(staleTools) > 0 {
		a.srv.DeleteTools(staleTools...)
	}

	var (
		tools     []server.ServerTool
		resources []server.ServerResource
	)
	for _, h := range current {
		if h.Kind == domain.HandleResource {
			resources = append(resources, server.ServerResource{
				Resource: mcp.NewResource(h.URI, h.Name,
					mcp.WithResourceDescription(h.Description),
					mcp.WithMIMEType(h.MIMEType)),
				Handler: a.resourceHandler(h.URI),
			})
			continue
		}
		tool, err := toTool(h)
		if err != nil {
			return fmt.Errorf("convert handle %s: %w", h.Name, err)
		}
		tools = append(tools, server.ServerTool{Tool: tool, Handler: a.toolHandler(h.Name)})
	}
	if len(tools) > 0 {
		a.srv.AddTools(tools...)
	}
	if len(resources) > 0 {
		a.srv.AddResources(resources...)
	}

	a.logger.Info("Published handles",
		slog.Int("tools", len(tools)),
		slog.Int("resources", len(resources)),
		slog.Int("removed_tools", len(staleTools)))
	return nil
}

func toTool(h domain.Handle) (mcp.Tool, error) {
	schema, err := rawSchema(h.InputSchema)
	if err != nil {
		return mcp.Tool{}, err
	}
	tool := mcp.NewToolWithRawSchema(h.Name, h.Description, schema)

	method := h.Operation.Method
	readOnly := method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
	idempotent := domain.IsIdempotentMethod(method)
	destructive := method == http.MethodDelete
	openWorld := true
	tool.Annotations = mcp.ToolAnnotation{
		Title:           h.Operation.Summary,
		ReadOnlyHint:    &readOnly,
		IdempotentHint:  &idempotent,
		DestructiveHint: &destructive,
		OpenWorldHint:   &openWorld,
	}
	return tool, nil
}

// rawSchema encodes an input schema, keeping an empty properties object
// since some hosts reject object schemas without one.
func rawSchema(s domain.JSONSchemaProps) (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if len(s.Properties) > 0 {
		return data, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["type"] = "object"
	m["properties"] = map[string]any{}
	return json.Marshal(m)
}

func (a *Adapter) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := a.invoker.Execute(ctx, name, req.GetArguments())
		if err != nil {
			if errors.Is(err, usecase.ErrHandleNotFound) || errors.Is(err, usecase.ErrNoRegistry) {
				return mcp.NewToolResultError(fmt.Sprintf("tool %s is no longer available", name)), nil
			}
			return nil, err
		}
		if res.Failed() {
			return mcp.NewToolResultError(failureText(res)), nil
		}
		return mcp.NewToolResultText(renderBody(res)), nil
	}
}

func (a *Adapter) resourceHandler(uri string) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		h, res, err := a.invoker.ReadResource(ctx, uri)
		if err != nil {
			return nil, err
		}
		if res.Failed() {
			return nil, errors.New(failureText(res))
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, MIMEType: h.MIMEType, Text: renderBody(res)},
		}, nil
	}
}

// renderBody pretty-prints JSON results and returns other bodies verbatim.
func renderBody(res domain.InvocationResult) string {
	switch v := res.Decoded.(type) {
	case nil:
		return string(res.Body)
	case string:
		return v
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return string(res.Body)
		}
		return string(data)
	}
}

func failureText(res domain.InvocationResult) string {
	msg := res.Detail()
	if res.InvocationID != "" {
		msg += " (invocation " + res.InvocationID + ")"
	}
	return msg
}

var _ usecase.MCPServerAdapter = (*Adapter)(nil)
