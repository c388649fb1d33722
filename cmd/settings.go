package cmd

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"robottelo/internal/settings"
)

// newSettingsCmd groups the settings subcommands.
func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Validate and inspect the merged settings",
		Long: `Settings are merged from the settings file, settings.local.yaml,
ROBOTTELO_ environment variables (ROBOTTELO_SERVER__HOSTNAME=sat.example)
and --set overrides, then validated section by section.`,
	}
	cmd.AddCommand(newSettingsValidateCmd())
	cmd.AddCommand(newSettingsShowCmd())
	return cmd
}

func newSettingsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the settings and list configured sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, report, err := loadSettings()
			var configErr *settings.ConfigurationError
			if err != nil && !errors.As(err, &configErr) {
				return err
			}
			writeSectionTable(cmd.OutOrStdout(), s, report)
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			if report.Downgraded {
				fmt.Fprintln(cmd.OutOrStdout(), "⚠️  Failures were ignored (robottelo.settings.ignore_validation_errors)")
			}
			if err != nil {
				return &ExitError{Code: ExitCodeConfiguration}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Settings are valid")
			return nil
		},
	}
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [section]",
		Short: "Print the merged settings, or one section, as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadSettings()
			var configErr *settings.ConfigurationError
			if err != nil && !errors.As(err, &configErr) {
				return err
			}
			var value any = map[string]any(s.Tree())
			if len(args) == 1 {
				if value, err = s.Get(args[0]); err != nil {
					return err
				}
			}
			out, err := yaml.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to render settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// writeSectionTable lists every present or validated section with its
// status.
func writeSectionTable(out io.Writer, s *settings.Settings, report *settings.Report) {
	names := make([]string, 0, len(report.Sections))
	for name, status := range report.Sections {
		if status.Present || status.Failed > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiCyan, text.Bold}.Sprint("SECTION"),
		text.Colors{text.FgHiCyan, text.Bold}.Sprint("STATUS"),
		text.Colors{text.FgHiCyan, text.Bold}.Sprint("MISSING"),
	})
	for _, name := range names {
		status := report.Sections[name]
		state := text.FgGreen.Sprint("configured")
		if !status.Configured {
			state = text.FgRed.Sprintf("%d failures", status.Failed)
		}
		missing := ""
		if !status.Configured {
			missing = fmt.Sprint(s.Missing(name))
		}
		t.AppendRow(table.Row{name, state, missing})
	}
	t.Render()
}
