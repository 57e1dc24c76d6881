// Package mcp connects to Model-Context-Protocol servers and installs their
// tools into the tool registry.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/tool"
)

// Client is the part of an MCP client the service uses. *client.Client
// implements it.
type Client interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// DialFunc opens and initializes a client for the named server.
type DialFunc func(ctx context.Context, name string, server config.MCPServerConfig) (Client, error)

// Option configures a Service.
type Option func(*Service)

// WithDialer replaces the transport dialer.
func WithDialer(dial DialFunc) Option {
	return func(s *Service) { s.dial = dial }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Status describes a configured server.
type Status struct {
	Name      string
	Type      string
	Enabled   bool
	Connected bool
	Tools     int
}

type connection struct {
	client Client
	tools  []mcp.Tool
}

// Service keeps one client per enabled MCP server and mirrors each server's
// tools into the registry under the server's name.
type Service struct {
	cfg      *config.Config
	registry *tool.Registry
	dial     DialFunc
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

// New creates a new MCP service.
func New(cfg *config.Config, registry *tool.Registry, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		registry: registry,
		logger:   slog.Default(),
		conns:    map[string]*connection{},
	}
	s.dial = func(ctx context.Context, _ string, server config.MCPServerConfig) (Client, error) {
		return initClient(ctx, !cfg.MCPNoInheritEnv, server)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsEnabled reports whether the named MCP server is enabled.
func (s *Service) IsEnabled(name string) bool {
	return !slices.Contains(s.cfg.MCPDisable, "*") &&
		!slices.Contains(s.cfg.MCPDisable, name)
}

// EnabledServers iterates enabled MCP servers in stable order.
func (s *Service) EnabledServers() iter.Seq2[string, config.MCPServerConfig] {
	return func(yield func(string, config.MCPServerConfig) bool) {
		for _, name := range slices.Sorted(maps.Keys(s.cfg.MCPServers)) {
			if !s.IsEnabled(name) {
				continue
			}
			if !yield(name, s.cfg.MCPServers[name]) {
				return
			}
		}
	}
}

// ConnectAll connects every enabled server in parallel. Servers that fail
// are left out of the registry; their errors are joined.
func (s *Service) ConnectAll(ctx context.Context) error {
	var (
		mu       sync.Mutex
		problems []error
		g        errgroup.Group
	)
	for name, server := range s.EnabledServers() {
		g.Go(func() error {
			if err := s.Connect(ctx, name, server); err != nil {
				mu.Lock()
				problems = append(problems, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(problems) == 0 {
		return nil
	}
	slices.SortFunc(problems, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
	return errs.Wrap(errors.Join(problems...), "Could not connect to every MCP server")
}

// Connect dials the server, lists its tools and installs them into the
// registry, replacing the tools of a previous connection.
func (s *Service) Connect(ctx context.Context, name string, server config.MCPServerConfig) error {
	if s.cfg.MCPTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MCPTimeout)
		defer cancel()
	}

	cli, err := s.dial(ctx, name, server)
	if err != nil {
		return s.connectError(ctx, name, err)
	}
	list, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = cli.Close()
		return s.connectError(ctx, name, fmt.Errorf("list tools: %w", err))
	}

	ds := make([]tool.Descriptor, 0, len(list.Tools))
	for _, t := range list.Tools {
		ds = append(ds, s.descriptor(name, cli, t))
	}
	if err := s.registry.ReplaceSource(name, ds); err != nil {
		_ = cli.Close()
		return fmt.Errorf("mcp %s: %w", name, err)
	}

	s.mu.Lock()
	old := s.conns[name]
	s.conns[name] = &connection{client: cli, tools: list.Tools}
	s.mu.Unlock()
	if old != nil {
		_ = old.client.Close()
	}
	if n, ok := cli.(lostNotifier); ok {
		n.OnConnectionLost(func(err error) { s.drop(name, cli, err) })
	}
	s.logger.Info("mcp server connected", "server", name, "tools", len(ds))
	return nil
}

// lostNotifier is implemented by clients whose transport reports a dropped
// connection.
type lostNotifier interface {
	OnConnectionLost(handler func(error))
}

// drop revokes the tools of name if cli is still its connection.
func (s *Service) drop(name string, cli Client, reason error) {
	s.mu.Lock()
	conn, ok := s.conns[name]
	if !ok || conn.client != cli {
		s.mu.Unlock()
		return
	}
	delete(s.conns, name)
	s.mu.Unlock()

	removed := s.registry.RemoveSource(name)
	s.logger.Warn("mcp server connection lost", "server", name, "tools", removed, "error", reason)
	_ = cli.Close()
}

// transportFault checks a server after one of its calls failed in transport
// and drops it when it no longer answers pings.
func (s *Service) transportFault(ctx context.Context, name string, cli Client, err error) {
	if ctx.Err() != nil {
		return
	}
	pctx := context.WithoutCancel(ctx)
	if s.cfg.MCPTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, s.cfg.MCPTimeout)
		defer cancel()
	}
	if perr := cli.Ping(pctx); perr != nil {
		s.drop(name, cli, errors.Join(err, perr))
	}
}

func (s *Service) connectError(ctx context.Context, name string, err error) error {
	s.logger.Warn("mcp server connect failed", "server", name, "error", err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("mcp %s: timeout while connecting; make sure the configuration is correct and the server is running: %w", name, err)
	}
	return fmt.Errorf("mcp %s: %w", name, err)
}

// Disconnect revokes the server's tools and closes its client.
func (s *Service) Disconnect(name string) error {
	s.mu.Lock()
	conn, ok := s.conns[name]
	delete(s.conns, name)
	s.mu.Unlock()

	removed := s.registry.RemoveSource(name)
	if !ok {
		return nil
	}
	s.logger.Info("mcp server disconnected", "server", name, "tools", removed)
	if err := conn.client.Close(); err != nil {
		return fmt.Errorf("mcp %s: close: %w", name, err)
	}
	return nil
}

// Refresh reconnects every enabled server and drops servers that were
// disabled since they connected.
func (s *Service) Refresh(ctx context.Context) error {
	for _, name := range s.connected() {
		if _, ok := s.cfg.MCPServers[name]; !ok || !s.IsEnabled(name) {
			_ = s.Disconnect(name)
		}
	}
	return s.ConnectAll(ctx)
}

// HealthCheck pings every connected server and disconnects those that do not
// answer. It returns the names of the pruned servers.
func (s *Service) HealthCheck(ctx context.Context) []string {
	var (
		mu   sync.Mutex
		dead []string
		g    errgroup.Group
	)
	for _, name := range s.connected() {
		cli := s.client(name)
		if cli == nil {
			continue
		}
		g.Go(func() error {
			pctx := ctx
			if s.cfg.MCPTimeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, s.cfg.MCPTimeout)
				defer cancel()
			}
			if err := cli.Ping(pctx); err != nil {
				s.logger.Warn("mcp server did not answer ping", "server", name, "error", err)
				mu.Lock()
				dead = append(dead, name)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(dead)
	for _, name := range dead {
		_ = s.Disconnect(name)
	}
	return dead
}

// Status lists every configured server in name order.
func (s *Service) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.cfg.MCPServers))
	for _, name := range slices.Sorted(maps.Keys(s.cfg.MCPServers)) {
		server := s.cfg.MCPServers[name]
		st := Status{Name: name, Type: server.Type, Enabled: s.IsEnabled(name)}
		if st.Type == "" {
			st.Type = "stdio"
		}
		if conn, ok := s.conns[name]; ok {
			st.Connected = true
			st.Tools = len(conn.tools)
		}
		out = append(out, st)
	}
	return out
}

// Close disconnects every server.
func (s *Service) Close() error {
	var problems []error
	for _, name := range s.connected() {
		problems = append(problems, s.Disconnect(name))
	}
	return errors.Join(problems...)
}

func (s *Service) connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.conns))
}

func (s *Service) client(name string) Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[name]; ok {
		return conn.client
	}
	return nil
}

// ToolName is the registry name of a server's tool.
func ToolName(server, name string) string {
	return server + "_" + name
}

func (s *Service) descriptor(server string, cli Client, t mcp.Tool) tool.Descriptor {
	name := ToolName(server, t.Name)
	return tool.Descriptor{
		Name:        name,
		Description: t.Description,
		InputSchema: inputSchema(t),
		Source:      server,
		RemoteName:  t.Name,
		Backend: &remote{
			client: cli,
			name:   name,
			remote: t.Name,
			fault: func(ctx context.Context, err error) {
				s.transportFault(ctx, server, cli, err)
			},
		},
	}
}

// inputSchema returns the tool's schema as a plain map, whether the server
// sent a structured or a raw schema.
func inputSchema(t mcp.Tool) map[string]any {
	bts, err := json.Marshal(t)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var aux struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(bts, &aux); err != nil || aux.InputSchema == nil {
		return map[string]any{"type": "object"}
	}
	return aux.InputSchema
}

// remote is the Backend of a tool served by an MCP server.
type remote struct {
	client Client
	name   string
	remote string
	fault  func(ctx context.Context, err error)
}

func (r *remote) Invoke(ctx context.Context, args map[string]any) (tool.Result, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = r.remote
	request.Params.Arguments = args
	result, err := r.client.CallTool(ctx, request)
	if err != nil {
		if r.fault != nil {
			r.fault(ctx, err)
		}
		return tool.Result{}, &tool.TransportError{Tool: r.name, Err: err}
	}

	var sb strings.Builder
	for i, content := range result.Content {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch content := content.(type) {
		case mcp.TextContent:
			sb.WriteString(content.Text)
		default:
			sb.WriteString("[Non-text content]")
		}
	}

	if result.IsError {
		return tool.Result{}, &tool.ExecutionError{Tool: r.name, Err: errors.New(sb.String())}
	}
	return tool.Result{Success: true, Data: sb.String()}, nil
}

func initClient(ctx context.Context, inheritEnv bool, server config.MCPServerConfig) (*client.Client, error) {
	var cli *client.Client
	var err error

	switch server.Type {
	case "", "stdio":
		env := server.Env
		if inheritEnv {
			env = append(os.Environ(), server.Env...)
		}
		cli, err = client.NewStdioMCPClient(server.Command, env, server.Args...)
	case "sse":
		cli, err = client.NewSSEMCPClient(server.URL, transport.WithHeaders(headers(server.Headers)))
	case "http":
		cli, err = client.NewStreamableHttpClient(server.URL, transport.WithHTTPHeaders(headers(server.Headers)))
	default:
		return nil, fmt.Errorf("unsupported MCP server type: %q, supported types are: stdio, sse, http", server.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	// Streaming transports keep their connection bound to the start context,
	// so it must outlive the connect deadline. The deadline still aborts a
	// start that hangs.
	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	err = cli.Start(life)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cli.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}
	if _, err := cli.Initialize(ctx, initializeRequest()); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}
	return cli, nil
}

func initializeRequest() mcp.InitializeRequest {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "yagent", Version: "dev"}
	return req
}

// headers parses "Key: Value" entries.
func headers(entries []string) map[string]string {
	out := make(map[string]string, len(entries))
	for _, h := range entries {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
