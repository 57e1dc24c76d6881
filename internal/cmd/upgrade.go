package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/dotcommander/yagent"

func newUpgradeCmd(rt *runtime) *cobra.Command {
	var version string
	upgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Reinstall yagent with go install",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pkg := modulePath + "@" + version
			if !rt.cfg.Quiet {
				_, _ = fmt.Fprintf(rt.stderr, "Current version: %s\nInstalling %s ...\n", rt.build.Version, pkg)
			}

			gobin, err := exec.LookPath("go")
			if err != nil {
				return fmt.Errorf("go not found in PATH: %w", err)
			}
			install := exec.CommandContext(cmd.Context(), gobin, "install", pkg)
			install.Stdout = os.Stdout
			install.Stderr = os.Stderr
			if err := install.Run(); err != nil {
				return fmt.Errorf("go install %s: %w", pkg, err)
			}

			if !rt.cfg.Quiet {
				_, _ = fmt.Fprintln(rt.stderr, "Upgrade complete.")
			}
			return nil
		},
	}
	upgradeCmd.Flags().StringVar(&version, "version", "latest", "Version to install, e.g. v0.3.0")
	return upgradeCmd
}
