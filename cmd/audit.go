package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newAuditCmd creates the 'audit' subcommand.
func newAuditCmd() *cobra.Command {
	var (
		category string
		fix      bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check uploaded entries against the bucket contents",
		Long: `Lists the bucket and reports every entry flagged uploaded whose files
are missing remotely. --fix clears the flag of those entries so the next
upload sends them again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if fix {
				if err := appInstance.Lock(); err != nil {
					return err
				}
			}
			auditor, err := appInstance.Auditor(cmd.Context())
			if err != nil {
				return err
			}

			report, err := auditor.Run(cmd.Context(), cat, fix)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			if len(report.Missing) == 0 {
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Entry", "Hash", "Missing keys"})
			for _, m := range report.Missing {
				t.AppendRow(table.Row{m.ID, m.Hash.Short(), strings.Join(m.Keys, "\n")})
			}
			t.AppendFooter(table.Row{"", "Fixed", report.Fixed})
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "limit the audit to one category")
	cmd.Flags().BoolVar(&fix, "fix", false, "clear the uploaded flag of entries with missing files")
	return cmd
}
