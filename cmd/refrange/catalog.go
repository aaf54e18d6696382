package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ehr/refrange/internal/domain/catalogversion"
	"github.com/ehr/refrange/internal/platform/output"
)

func catalogCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Fingerprint and version the reference range catalog",
	}

	var showDiff, dryRun bool
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Commit a new catalog version when the catalog hash changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, g, func(ctx context.Context, a *app, format output.Format) error {
				svc := a.catalogService()
				var (
					res *catalogversion.CommitResult
					err error
				)
				if dryRun {
					res, err = svc.Check(ctx)
				} else {
					res, err = svc.Commit(ctx)
				}
				if err != nil {
					return err
				}
				if !showDiff && format != output.FormatTable {
					res.Diff = nil
				}
				return render(cmd.OutOrStdout(), format, res, commitTable{res: res, showDiff: showDiff})
			})
		},
	}
	versionCmd.Flags().BoolVar(&showDiff, "show-diff", false, "Print the changes against the previous version")
	versionCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compare with the latest version without committing")

	var limit, offset int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List stored catalog versions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, g, func(ctx context.Context, a *app, format output.Format) error {
				versions, _, err := a.catalogService().List(ctx, limit, offset)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), format, versions, historyTable{versions: versions})
			})
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of versions")
	historyCmd.Flags().IntVar(&offset, "offset", 0, "Versions to skip")

	cmd.AddCommand(versionCmd, historyCmd)
	return cmd
}
