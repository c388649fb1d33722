package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"robottelo/internal/settings"
	pkgstrings "robottelo/pkg/strings"
)

// newFixturesCmd lists the registered fixtures in setup order.
func newFixturesCmd() *cobra.Command {
	var plans string
	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "List registered fixtures in topological order",
		Long: `List the domain fixtures and the fixtures declared by plans, in the
order they would be set up, with their scope and requirements.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadSettings()
			var configErr *settings.ConfigurationError
			if err != nil && !errors.As(err, &configErr) {
				return err
			}
			files, err := loadPlans(plans)
			if err != nil {
				return err
			}
			h, err := buildHarness(s, registryOptions{backend: backendMemory, files: files})
			if err != nil {
				return err
			}
			defer h.close()
			reg := h.registry
			if err := reg.Validate(); err != nil {
				return err
			}
			ordered, err := reg.Plan(reg.Names()...)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{
				text.Colors{text.FgHiCyan, text.Bold}.Sprint("NAME"),
				text.Colors{text.FgHiCyan, text.Bold}.Sprint("SCOPE"),
				text.Colors{text.FgHiCyan, text.Bold}.Sprint("REQUIRES"),
				text.Colors{text.FgHiCyan, text.Bold}.Sprint("DESCRIPTION"),
			})
			for _, d := range ordered {
				requires := strings.Join(d.Requires, ", ")
				if requires == "" {
					requires = text.FgHiBlack.Sprint("-")
				}
				t.AppendRow(table.Row{d.Name, d.Scope, requires, pkgstrings.Truncate(d.Description, pkgstrings.DefaultCellMaxLen)})
			}
			t.AppendFooter(table.Row{"", "", "TOTAL", fmt.Sprintf("%d fixtures", len(ordered))})
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&plans, "plans", "", "Plan file or directory whose fixtures are listed too")
	return cmd
}
