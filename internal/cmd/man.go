package cmd

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

// newManCmd prints the man page of root, with a section for every
// subcommand.
func newManCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:                   "man",
		Short:                 "Print the yagent man page",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Hidden:                true,
		Args:                  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := mcobra.NewManPage(1, root)
			if err != nil {
				return fmt.Errorf("build man page: %w", err)
			}
			page = page.WithSection("Tools",
				"Built-in tools describe the current project. MCP servers configured under mcp-servers add their tools as <server>_<tool>. Run yagent tools to list them.")
			if _, err := fmt.Fprint(cmd.OutOrStdout(), page.Build(roff.NewDocument())); err != nil {
				return fmt.Errorf("write man page: %w", err)
			}
			return nil
		},
	}
}
