package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/present"
)

// The config commands work even when the settings file failed to parse, so
// a broken file can be fixed or reset.
func newConfigCmd(rt *runtime) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage settings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return rt.editSettings()
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Open settings in $EDITOR",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return rt.editSettings()
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset settings to defaults",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return rt.resetSettings()
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:       "dirs [config|cache]",
		Short:     "Print config and cache directories",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"config", "cache"},
		RunE: func(_ *cobra.Command, args []string) error {
			printDirs(rt.stdout, &rt.cfg, args)
			return nil
		},
	})

	return configCmd
}

func (rt *runtime) editSettings() error {
	path := rt.cfg.SettingsPath
	if err := config.WriteConfigFile(path); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	c, err := editor.Cmd(filepath.Base(os.Args[0]), path)
	if err != nil {
		return errs.Wrap(err, "Could not edit your settings file.")
	}
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return errs.Wrapf(err, "Missing %s.", present.StderrStyles().InlineCode.Render("$EDITOR"))
	}

	if !rt.cfg.Quiet {
		_, _ = fmt.Fprintln(rt.stderr, "Wrote config file to:", path)
	}
	return nil
}

// resetSettings moves the current settings aside and writes the defaults.
func (rt *runtime) resetSettings() error {
	path := rt.cfg.SettingsPath
	backup := path + ".bak"
	if err := os.Rename(path, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return errs.Wrap(err, "Couldn't backup config file.")
		}
		backup = ""
	}
	if err := config.ResetConfigFile(path); err != nil {
		return errs.Wrap(err, "Couldn't write new config file.")
	}

	if rt.cfg.Quiet {
		return nil
	}
	_, _ = fmt.Fprintln(rt.stderr, "\nSettings restored to defaults!")
	if backup != "" {
		_, _ = fmt.Fprintf(
			rt.stderr,
			"\n  %s %s\n\n",
			present.StderrStyles().Comment.Render("Your old settings have been saved to:"),
			present.StderrStyles().Link.Render(backup),
		)
	}
	return nil
}

func printDirs(w io.Writer, cfg *config.Config, args []string) {
	if len(args) > 0 {
		switch args[0] {
		case "config":
			_, _ = fmt.Fprintln(w, filepath.Dir(cfg.SettingsPath))
		case "cache":
			_, _ = fmt.Fprintln(w, cfg.CachePath)
		}
		return
	}

	_, _ = fmt.Fprintf(w, "Configuration: %s\n", filepath.Dir(cfg.SettingsPath))
	_, _ = fmt.Fprintf(w, "%*sCache: %s\n", 8, " ", cfg.CachePath) //nolint:mnd
	if cfg.LogFile != "" {
		_, _ = fmt.Fprintf(w, "%*sLog: %s\n", 10, " ", cfg.LogFile) //nolint:mnd
	}
}
