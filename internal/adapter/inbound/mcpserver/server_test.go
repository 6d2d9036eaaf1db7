package mcpserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oapimcp/internal/adapter/inbound/mcpserver"
	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/usecase"
)

type fakeInvoker struct {
	handles map[string]domain.Handle
	results map[string]domain.InvocationResult
	args    map[string]map[string]any
}

func (f *fakeInvoker) Execute(_ context.Context, name string, args map[string]any) (domain.InvocationResult, error) {
	if _, ok := f.handles[name]; !ok {
		return domain.InvocationResult{}, fmt.Errorf("%w: %s", usecase.ErrHandleNotFound, name)
	}
	f.args[name] = args
	return f.results[name], nil
}

func (f *fakeInvoker) ReadResource(_ context.Context, uri string) (domain.Handle, domain.InvocationResult, error) {
	for _, h := range f.handles {
		if h.URI == uri {
			return h, f.results[h.Name], nil
		}
	}
	return domain.Handle{}, domain.InvocationResult{}, usecase.ErrHandleNotFound
}

var (
	getInventory = domain.Handle{
		Name:        "getInventory",
		Kind:        domain.HandleResource,
		Description: "Returns pet inventories",
		URI:         "resource://petstore/getInventory",
		MIMEType:    "application/json",
		Operation:   domain.OperationSpec{Method: "GET", Path: "/store/inventory"},
	}
	getPetByID = domain.Handle{
		Name:        "getPetById",
		Kind:        domain.HandleTool,
		Description: "Find pet by ID",
		InputSchema: domain.JSONSchemaProps{
			Type:       "object",
			Properties: map[string]domain.JSONSchemaProps{"petId": {Type: "integer"}},
			Required:   []string{"petId"},
		},
		Operation: domain.OperationSpec{Method: "GET", Path: "/pet/{petId}", Summary: "Find pet by ID"},
	}
	deletePet = domain.Handle{
		Name:        "deletePet",
		Kind:        domain.HandleTool,
		InputSchema: domain.JSONSchemaProps{Type: "object", Properties: map[string]domain.JSONSchemaProps{}},
		Operation:   domain.OperationSpec{Method: "DELETE", Path: "/pet/{petId}"},
	}
)

func setup(t *testing.T) (*server.MCPServer, *mcpserver.Adapter, *fakeInvoker) {
	t.Helper()
	srv := server.NewMCPServer("test", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
	)
	inv := &fakeInvoker{
		handles: map[string]domain.Handle{},
		results: map[string]domain.InvocationResult{},
		args:    map[string]map[string]any{},
	}
	for _, h := range []domain.Handle{getInventory, getPetByID, deletePet} {
		inv.handles[h.Name] = h
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return srv, mcpserver.New(srv, inv, logger), inv
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func call(t *testing.T, srv *server.MCPServer, method string, params any) rpcResponse {
	t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		msg["params"] = params
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	out, err := json.Marshal(srv.HandleMessage(context.Background(), raw))
	require.NoError(t, err)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	return resp
}

func toolNames(t *testing.T, srv *server.MCPServer) []string {
	t.Helper()
	resp := call(t, srv, "tools/list", nil)
	require.Nil(t, resp.Error)
	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"])
		assert.NotNil(t, tool.InputSchema["properties"])
	}
	return names
}

func TestAdapter_PublishRegistersToolsAndResources(t *testing.T) {
	srv, a, _ := setup(t)
	require.NoError(t, a.Publish(context.Background(), []domain.Handle{getInventory, getPetByID, deletePet}, nil))

	assert.ElementsMatch(t, []string{"getPetById", "deletePet"}, toolNames(t, srv))

	resp := call(t, srv, "resources/list", nil)
	require.Nil(t, resp.Error)
	var result struct {
		Resources []struct {
			URI      string `json:"uri"`
			Name     string `json:"name"`
			MIMEType string `json:"mimeType"`
		} `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Resources, 1)
	assert.Equal(t, "resource://petstore/getInventory", result.Resources[0].URI)
	assert.Equal(t, "application/json", result.Resources[0].MIMEType)
}

func TestAdapter_PublishRemovesStaleHandles(t *testing.T) {
	srv, a, _ := setup(t)
	ctx := context.Background()
	first := []domain.Handle{getInventory, getPetByID, deletePet}
	require.NoError(t, a.Publish(ctx, first, nil))
	require.NoError(t, a.Publish(ctx, []domain.Handle{getPetByID}, first))

	assert.Equal(t, []string{"getPetById"}, toolNames(t, srv))

	resp := call(t, srv, "resources/read", map[string]any{"uri": getInventory.URI})
	require.NotNil(t, resp.Error)
}

func TestAdapter_ToolCall(t *testing.T) {
	srv, a, inv := setup(t)
	require.NoError(t, a.Publish(context.Background(), []domain.Handle{getPetByID, deletePet}, nil))

	inv.results["getPetById"] = domain.InvocationResult{
		Handle:     "getPetById",
		StatusCode: 200,
		Body:       []byte(`{"id":7,"name":"rex"}`),
		Decoded:    map[string]any{"id": float64(7), "name": "rex"},
	}
	inv.results["deletePet"] = domain.InvocationResult{
		Handle:       "deletePet",
		StatusCode:   404,
		Attempts:     1,
		InvocationID: "inv-1",
		Err:          &domain.UpstreamError{Status: 404, Body: "no such pet"},
	}

	type toolResult struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}

	resp := call(t, srv, "tools/call", map[string]any{"name": "getPetById", "arguments": map[string]any{"petId": 7}})
	require.Nil(t, resp.Error)
	var ok toolResult
	require.NoError(t, json.Unmarshal(resp.Result, &ok))
	assert.False(t, ok.IsError)
	require.Len(t, ok.Content, 1)
	assert.JSONEq(t, `{"id":7,"name":"rex"}`, ok.Content[0].Text)
	assert.Equal(t, float64(7), inv.args["getPetById"]["petId"])

	resp = call(t, srv, "tools/call", map[string]any{"name": "deletePet", "arguments": map[string]any{}})
	require.Nil(t, resp.Error)
	var failed toolResult
	require.NoError(t, json.Unmarshal(resp.Result, &failed))
	assert.True(t, failed.IsError)
	require.Len(t, failed.Content, 1)
	assert.Contains(t, failed.Content[0].Text, "HTTP 404")
	assert.Contains(t, failed.Content[0].Text, "inv-1")
}

func TestAdapter_ToolCallAfterHandleVanished(t *testing.T) {
	srv, a, inv := setup(t)
	require.NoError(t, a.Publish(context.Background(), []domain.Handle{getPetByID}, nil))
	delete(inv.handles, "getPetById")

	resp := call(t, srv, "tools/call", map[string]any{"name": "getPetById", "arguments": map[string]any{}})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "no longer available")
}

func TestAdapter_ResourceRead(t *testing.T) {
	srv, a, inv := setup(t)
	require.NoError(t, a.Publish(context.Background(), []domain.Handle{getInventory}, nil))
	inv.results["getInventory"] = domain.InvocationResult{
		StatusCode: 200,
		Body:       []byte(`{"available":3}`),
		Decoded:    map[string]any{"available": float64(3)},
	}

	resp := call(t, srv, "resources/read", map[string]any{"uri": getInventory.URI})
	require.Nil(t, resp.Error)
	var result struct {
		Contents []struct {
			URI      string `json:"uri"`
			MIMEType string `json:"mimeType"`
			Text     string `json:"text"`
		} `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Contents, 1)
	assert.Equal(t, getInventory.URI, result.Contents[0].URI)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)
	assert.JSONEq(t, `{"available":3}`, result.Contents[0].Text)
}
