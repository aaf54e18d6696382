package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/refrange/internal/config"
	"github.com/ehr/refrange/internal/domain/catalogversion"
	"github.com/ehr/refrange/internal/domain/refrange"
	"github.com/ehr/refrange/internal/platform/db"
	"github.com/ehr/refrange/internal/platform/logging"
	"github.com/ehr/refrange/internal/platform/output"
	"github.com/ehr/refrange/migrations"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	tenant string
	output string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "refrange",
		Short:        "Reference range consistency audit and reconciliation",
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringVar(&g.tenant, "tenant", "", "Tenant identifier (default DEFAULT_TENANT)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "", "Output format: table, json or yaml (default table on a terminal, json otherwise)")

	root.AddCommand(auditCmd(g))
	for _, def := range repairCommands {
		root.AddCommand(repairCmd(g, def))
	}
	root.AddCommand(catalogCmd(g))
	root.AddCommand(migrateCmd(g))
	root.AddCommand(tenantCmd())
	root.AddCommand(serveCmd())
	return root
}

// app holds what every storage-backed command needs.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.Env, cfg.LogLevel)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, pool: pool}, nil
}

func (a *app) Close() { a.pool.Close() }

func (a *app) tenantID(flag string) string {
	if flag != "" {
		return flag
	}
	return a.cfg.DefaultTenant
}

// tenantContext checks out a connection scoped to the tenant schema and
// attaches a tenant-tagged logger.
func (a *app) tenantContext(ctx context.Context, tenant string) (context.Context, func(), error) {
	tenant = a.tenantID(tenant)
	ctx, release, err := db.AcquireTenant(ctx, a.pool, tenant)
	if err != nil {
		return nil, nil, err
	}
	logger := a.logger.With().Str("tenant", tenant).Logger()
	return logging.WithLogger(ctx, logger), release, nil
}

// tables returns the modern and legacy table sets after config overrides.
func (a *app) tables() (modern, legacy refrange.TableSet) {
	modern, legacy = refrange.ModernTables, refrange.LegacyTables
	if a.cfg.RangeTable != "" {
		modern.Ranges = a.cfg.RangeTable
	}
	if a.cfg.LegacyRangeTable != "" {
		legacy.Ranges = a.cfg.LegacyRangeTable
	}
	return modern, legacy
}

func (a *app) rangeRepo() refrange.Repository {
	modern, _ := a.tables()
	return refrange.NewRangeRepoPG(a.pool, modern)
}

// rangeService builds the engine. A non-empty placeholder overrides
// FILL_PLACEHOLDER_TEXT.
func (a *app) rangeService(placeholder string) (*refrange.Service, error) {
	_, legacy := a.tables()
	opts := []refrange.Option{refrange.WithLegacy(refrange.NewRangeRepoPG(a.pool, legacy))}

	if a.cfg.BoundaryRulesFile != "" {
		rules, err := refrange.LoadSnapRules(a.cfg.BoundaryRulesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, refrange.WithSnapRules(rules))
	}
	if placeholder == "" {
		placeholder = a.cfg.FillPlaceholderText
	}
	if placeholder != "" {
		opts = append(opts, refrange.WithPlaceholder(placeholder))
	}
	return refrange.NewService(a.rangeRepo(), opts...), nil
}

func (a *app) catalogService() *catalogversion.Service {
	return catalogversion.NewService(catalogversion.NewVersionRepoPG(a.pool), a.rangeRepo())
}

func (a *app) migrator() *db.Migrator {
	return db.NewMigrator(a.pool, migrations.Files)
}

// render writes v in the chosen format. Tables use tab when it is set.
func render(w io.Writer, format output.Format, v any, tab output.Tabular) error {
	if format == output.FormatTable && tab != nil {
		return output.NewFormatter(format).Format(w, tab)
	}
	return output.NewFormatter(format).Format(w, v)
}

// withTenant runs fn with an opened app and a tenant-scoped context.
func withTenant(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app, format output.Format) error) error {
	format, err := output.ParseFormat(g.output)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, release, err := a.tenantContext(cmd.Context(), g.tenant)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, a, format)
}

func auditCmd(g *globalFlags) *cobra.Command {
	var filter string
	var failOnHigh bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report duplicate ranges, overlaps and duplicate parameter names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, g, func(ctx context.Context, a *app, format output.Format) error {
				svc, err := a.rangeService("")
				if err != nil {
					return err
				}
				rep, err := svc.Audit(ctx, filter)
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), format, rep, auditTable{rep: rep}); err != nil {
					return err
				}
				if failOnHigh && rep.High > 0 {
					return fmt.Errorf("audit found %d high-severity issue(s)", rep.High)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "Analysis or parameter name substring, or a|b|c alternation")
	cmd.Flags().BoolVar(&failOnHigh, "fail-on-high", false, "Exit non-zero when any HIGH issue is found")
	return cmd
}
