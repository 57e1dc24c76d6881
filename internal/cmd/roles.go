package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/present"
)

func newRolesCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the roles that can be used with --role",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			listRoles(rt.stdout, present.StdoutStyles(), &rt.cfg)
			return nil
		},
	}
}

func roleNames(cfg *config.Config, prefix string) []string {
	roles := make([]string, 0, len(cfg.Roles))
	for role := range cfg.Roles {
		if strings.HasPrefix(role, prefix) {
			roles = append(roles, role)
		}
	}
	slices.Sort(roles)
	return roles
}

func listRoles(w io.Writer, styles present.Styles, cfg *config.Config) {
	for _, role := range roleNames(cfg, "") {
		line := role
		if role == cfg.Role {
			line += styles.Timeago.Render(" (default)")
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
