package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehr/refrange/internal/platform/db"
	"github.com/ehr/refrange/internal/platform/output"
)

func migrateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations on a tenant schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			tenant := a.tenantID(g.tenant)
			if !db.ValidTenantID(tenant) {
				return fmt.Errorf("invalid tenant identifier: %s", tenant)
			}
			schema := db.SchemaName(tenant)
			if err := db.CreateTenantSchema(ctx, a.pool, tenant, nil); err != nil {
				return err
			}

			a.logger.Info().Str("schema", schema).Msg("running migrations")
			count, err := a.migrator().Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.\n", count, schema)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(g.output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			tenant := a.tenantID(g.tenant)
			if !db.ValidTenantID(tenant) {
				return fmt.Errorf("invalid tenant identifier: %s", tenant)
			}
			schema := db.SchemaName(tenant)
			statuses, err := a.migrator().Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("get migration status: %w", err)
			}
			return render(cmd.OutOrStdout(), format, statuses, migrationTable{schema: schema, statuses: statuses})
		},
	}

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply every migration to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := db.CreateTenantSchema(ctx, a.pool, name, a.migrator()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s created in schema %s.\n", name, db.SchemaName(name))
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Tenant identifier (letters, digits, underscores)")
	_ = createCmd.MarkFlagRequired("name")

	cmd.AddCommand(createCmd)
	return cmd
}
