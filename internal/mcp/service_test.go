package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/tool"
)

func testServer() *server.MCPServer {
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Echo the text back"),
			mcp.WithString("text", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := req.RequireString("text")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(text), nil
		},
	)
	s.AddTool(
		mcp.NewTool("fail", mcp.WithDescription("Always fails")),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("boom"), nil
		},
	)
	return s
}

func inProcessDialer(t *testing.T) DialFunc {
	t.Helper()
	return func(ctx context.Context, _ string, _ config.MCPServerConfig) (Client, error) {
		cli, err := client.NewInProcessClient(testServer())
		if err != nil {
			return nil, err
		}
		if err := cli.Start(ctx); err != nil {
			return nil, err
		}
		if _, err := cli.Initialize(ctx, initializeRequest()); err != nil {
			return nil, err
		}
		return cli, nil
	}
}

func testConfig(servers ...string) *config.Config {
	cfg := config.Default()
	cfg.MCPServers = map[string]config.MCPServerConfig{}
	for _, name := range servers {
		cfg.MCPServers[name] = config.MCPServerConfig{Command: name}
	}
	return &cfg
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConnectInstallsNamespacedTools(t *testing.T) {
	r := tool.NewRegistry()
	svc := New(testConfig("files"), r, WithDialer(inProcessDialer(t)), quiet())
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.ConnectAll(t.Context()))

	var names []string
	for d := range r.Snapshot().All() {
		names = append(names, d.Name)
		require.Equal(t, "files", d.Source)
	}
	require.Equal(t, []string{"files_echo", "files_fail"}, names)

	d, err := r.Resolve("files_echo")
	require.NoError(t, err)
	require.Equal(t, "echo", d.RemoteName)
	require.Equal(t, "object", d.InputSchema["type"])

	require.Equal(t, []Status{{Name: "files", Type: "stdio", Enabled: true, Connected: true, Tools: 2}}, svc.Status())
}

func TestDispatchToMCPTool(t *testing.T) {
	r := tool.NewRegistry()
	svc := New(testConfig("files"), r, WithDialer(inProcessDialer(t)), quiet())
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.ConnectAll(t.Context()))
	d := tool.NewDispatcher(r, tool.WithTimeout(5*time.Second))

	res, err := d.Invoke(t.Context(), "files_echo", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "hello", res.Data)

	_, err = d.Invoke(t.Context(), "files_fail", json.RawMessage(`{}`))
	var exec *tool.ExecutionError
	require.ErrorAs(t, err, &exec)
	require.Contains(t, err.Error(), "boom")

	_, err = d.Invoke(t.Context(), "files_echo", json.RawMessage(`{}`))
	var verr *tool.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestConnectAllPartialFailure(t *testing.T) {
	r := tool.NewRegistry()
	dial := inProcessDialer(t)
	svc := New(testConfig("good", "bad", "off"), r, quiet(), WithDialer(func(ctx context.Context, name string, srv config.MCPServerConfig) (Client, error) {
		if name == "bad" {
			return nil, errors.New("exec: not found")
		}
		return dial(ctx, name, srv)
	}))
	svc.cfg.MCPDisable = []string{"off"}
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.ConnectAll(t.Context())
	require.ErrorContains(t, err, "mcp bad: exec: not found")
	require.Equal(t, []string{"good"}, r.Sources())

	st := svc.Status()
	require.Len(t, st, 3)
	require.False(t, st[0].Connected) // bad
	require.True(t, st[1].Connected)  // good
	require.False(t, st[2].Enabled)   // off
}

func TestDisconnectRevokesTools(t *testing.T) {
	r := tool.NewRegistry()
	svc := New(testConfig("files"), r, WithDialer(inProcessDialer(t)), quiet())
	require.NoError(t, svc.ConnectAll(t.Context()))
	before := r.Snapshot()

	require.NoError(t, svc.Disconnect("files"))
	require.Zero(t, r.Snapshot().Len())
	require.Equal(t, 2, before.Len())

	_, err := r.Resolve("files_echo")
	var unknown *tool.UnknownToolError
	require.ErrorAs(t, err, &unknown)
	require.NoError(t, svc.Disconnect("files"))
}

func TestCollisionIsRejected(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.Descriptor{
		Name:    "files_echo",
		Source:  tool.SourceBuiltin,
		Backend: tool.BackendFunc(func(context.Context, map[string]any) (tool.Result, error) { return tool.Result{Success: true}, nil }),
	}))
	svc := New(testConfig("files"), r, WithDialer(inProcessDialer(t)), quiet())
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.ConnectAll(t.Context())
	var dup *tool.DuplicateToolError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "builtin", dup.Existing)
	require.Equal(t, 1, r.Snapshot().Len())
}

type fakeClient struct {
	pingErr error
	closed  atomic.Int32
	calls   atomic.Int32
	callErr error
}

func (f *fakeClient) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: []mcp.Tool{mcp.NewTool("search")}}, nil
}

func (f *fakeClient) CallTool(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.calls.Add(1)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return mcp.NewToolResultText("found"), nil
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }

func (f *fakeClient) Close() error {
	f.closed.Add(1)
	return nil
}

func TestHealthCheckPrunesDeadServers(t *testing.T) {
	clients := map[string]*fakeClient{
		"alive": {},
		"dead":  {pingErr: io.ErrUnexpectedEOF},
	}
	r := tool.NewRegistry()
	svc := New(testConfig("alive", "dead"), r, quiet(), WithDialer(func(_ context.Context, name string, _ config.MCPServerConfig) (Client, error) {
		return clients[name], nil
	}))
	require.NoError(t, svc.ConnectAll(t.Context()))
	require.Equal(t, 2, r.Snapshot().Len())

	require.Equal(t, []string{"dead"}, svc.HealthCheck(t.Context()))
	require.Equal(t, []string{"alive"}, r.Sources())
	require.Equal(t, int32(1), clients["dead"].closed.Load())
	require.Zero(t, clients["alive"].closed.Load())

	require.NoError(t, svc.Close())
	require.Equal(t, int32(1), clients["alive"].closed.Load())
	require.Zero(t, r.Snapshot().Len())
}

func TestTransportFault(t *testing.T) {
	fc := &fakeClient{callErr: io.ErrClosedPipe}
	r := tool.NewRegistry()
	svc := New(testConfig("remote"), r, quiet(), WithDialer(func(context.Context, string, config.MCPServerConfig) (Client, error) {
		return fc, nil
	}))
	require.NoError(t, svc.ConnectAll(t.Context()))

	_, err := tool.NewDispatcher(r).Invoke(t.Context(), "remote_search", nil)
	var terr *tool.TransportError
	require.ErrorAs(t, err, &terr)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	require.Equal(t, "tool transport error", tool.Label(err))
	require.Equal(t, []string{"remote"}, r.Sources(), "a server that still answers pings keeps its tools")
}

func TestTransportFaultDropsDeadServer(t *testing.T) {
	fc := &fakeClient{callErr: io.ErrClosedPipe, pingErr: io.EOF}
	r := tool.NewRegistry()
	svc := New(testConfig("remote"), r, quiet(), WithDialer(func(context.Context, string, config.MCPServerConfig) (Client, error) {
		return fc, nil
	}))
	require.NoError(t, svc.ConnectAll(t.Context()))

	_, err := tool.NewDispatcher(r).Invoke(t.Context(), "remote_search", nil)
	var terr *tool.TransportError
	require.ErrorAs(t, err, &terr)
	require.Empty(t, r.Sources())
	require.Equal(t, int32(1), fc.closed.Load())
	require.False(t, svc.Status()[0].Connected)
}

type notifyingClient struct {
	fakeClient
	lost func(error)
}

func (n *notifyingClient) OnConnectionLost(handler func(error)) { n.lost = handler }

func TestConnectionLostRevokesTools(t *testing.T) {
	first := &notifyingClient{}
	second := &notifyingClient{}
	dials := 0
	r := tool.NewRegistry()
	cfg := testConfig("remote")
	svc := New(cfg, r, quiet(), WithDialer(func(context.Context, string, config.MCPServerConfig) (Client, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}))

	require.NoError(t, svc.Connect(t.Context(), "remote", cfg.MCPServers["remote"]))
	require.NotNil(t, first.lost)
	require.NoError(t, svc.Connect(t.Context(), "remote", cfg.MCPServers["remote"]))

	// A stale client reporting loss does not touch the live connection.
	first.lost(io.EOF)
	require.Equal(t, []string{"remote"}, r.Sources())

	second.lost(io.EOF)
	require.Empty(t, r.Sources())
	require.Equal(t, int32(1), second.closed.Load())
	_, err := r.Resolve("remote_search")
	var unknown *tool.UnknownToolError
	require.ErrorAs(t, err, &unknown)
}

func TestSSEServerOutlivesConnect(t *testing.T) {
	srv := server.NewTestServer(testServer())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.MCPTimeout = 2 * time.Second
	cfg.MCPServers = map[string]config.MCPServerConfig{
		"remote": {Type: "sse", URL: srv.URL + "/sse"},
	}
	r := tool.NewRegistry()
	svc := New(&cfg, r, quiet())
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.Connect(t.Context(), "remote", cfg.MCPServers["remote"]))

	d := tool.NewDispatcher(r, tool.WithTimeout(5*time.Second))
	for _, text := range []string{"hi", "again"} {
		res, err := d.Invoke(t.Context(), "remote_echo", json.RawMessage(`{"text":"`+text+`"}`))
		require.NoError(t, err)
		require.Equal(t, text, res.Data)
	}
}

func TestServerNamedBuiltinIsRejected(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.Descriptor{
		Name:    "project_info",
		Backend: tool.BackendFunc(func(context.Context, map[string]any) (tool.Result, error) { return tool.Result{Success: true}, nil }),
	}))
	svc := New(testConfig(tool.SourceBuiltin), r, WithDialer(inProcessDialer(t)), quiet())
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.ConnectAll(t.Context())
	require.ErrorIs(t, err, tool.ErrReservedSource)
	require.NoError(t, svc.Disconnect(tool.SourceBuiltin))

	_, err = r.Resolve("project_info")
	require.NoError(t, err)
	require.Equal(t, []string{tool.SourceBuiltin}, r.Sources())
}

func TestRefreshReconnects(t *testing.T) {
	first, second := &fakeClient{}, &fakeClient{}
	n := 0
	r := tool.NewRegistry()
	cfg := testConfig("remote", "gone")
	svc := New(cfg, r, quiet(), WithDialer(func(context.Context, string, config.MCPServerConfig) (Client, error) {
		n++
		if n <= 2 {
			return first, nil
		}
		return second, nil
	}))
	// Sequential dials keep the counter simple.
	require.NoError(t, svc.Connect(t.Context(), "remote", cfg.MCPServers["remote"]))
	require.NoError(t, svc.Connect(t.Context(), "gone", cfg.MCPServers["gone"]))

	delete(cfg.MCPServers, "gone")
	require.NoError(t, svc.Refresh(t.Context()))
	require.Equal(t, []string{"remote"}, r.Sources())
	require.Equal(t, int32(2), first.closed.Load())
}

func TestHeaders(t *testing.T) {
	require.Equal(t, map[string]string{"Authorization": "Bearer x", "X-Id": "1"}, headers([]string{"Authorization: Bearer x", "X-Id:1", "junk"}))
}
