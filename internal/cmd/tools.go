package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/mcp"
	"github.com/dotcommander/yagent/internal/present"
	"github.com/dotcommander/yagent/internal/tool"
	"github.com/dotcommander/yagent/internal/tool/builtin"
	"github.com/dotcommander/yagent/internal/workspace"
)

// toolset is the registry of a session with the MCP servers feeding it.
type toolset struct {
	project  workspace.Project
	registry *tool.Registry
	mcp      *mcp.Service
}

// newToolset registers the built-in tools. MCP servers are connected by the
// caller.
func newToolset(cfg *config.Config, logger *slog.Logger) (*toolset, error) {
	ts := &toolset{registry: tool.NewRegistry(), project: detectProject(logger)}
	if err := builtin.Register(ts.registry, ts.project); err != nil {
		return nil, errs.Wrap(err, "Could not register the built-in tools.")
	}
	ts.mcp = mcp.New(cfg, ts.registry, mcp.WithLogger(logger))
	return ts, nil
}

func newToolsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List every tool the model can call, built-in and MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			return rt.listTools(cmd.Context(), false)
		},
	}
}

func newMCPCmd(rt *runtime) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			mcpList(rt.stdout, &rt.cfg)
			return nil
		},
	})

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "List tools from enabled MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			return rt.listTools(cmd.Context(), true)
		},
	})

	return mcpCmd
}

func mcpList(w io.Writer, cfg *config.Config) {
	styles := present.StdoutStyles()
	for _, st := range mcp.New(cfg, nil).Status() {
		s := st.Name + styles.Comment.Render(" "+st.Type)
		if st.Enabled {
			s += styles.Timeago.Render(" (enabled)")
		}
		_, _ = fmt.Fprintln(w, s)
	}
}

// listTools connects the enabled MCP servers and prints the registry.
func (rt *runtime) listTools(ctx context.Context, mcpOnly bool) error {
	logger, logFile, err := newLogger(&rt.cfg)
	if err != nil {
		return err
	}
	defer logFile.Close() //nolint:errcheck

	ts, err := newToolset(&rt.cfg, logger)
	if err != nil {
		return err
	}
	defer ts.mcp.Close() //nolint:errcheck

	connectErr := ts.mcp.ConnectAll(ctx)
	if mcpOnly {
		printTools(rt.stdout, ts.registry.Snapshot(), func(d tool.Descriptor) bool {
			return d.Source != tool.SourceBuiltin
		})
	} else {
		printTools(rt.stdout, ts.registry.Snapshot(), nil)
	}
	return connectErr
}

// printTools prints the tools of snap accepted by keep, or all of them when
// keep is nil.
func printTools(w io.Writer, snap *tool.Snapshot, keep func(tool.Descriptor) bool) {
	styles := present.StdoutStyles()
	for d := range snap.All() {
		if keep != nil && !keep(d) {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s%s\t%s\n",
			styles.Timeago.Render(d.Source+" > "),
			d.Name,
			styles.Comment.Render(firstLine(d.Description)),
		)
	}
}
