package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ehr/refrange/internal/domain/refrange"
	"github.com/ehr/refrange/internal/platform/logging"
	"github.com/ehr/refrange/internal/platform/output"
)

// repairFlags holds every pass option; each subcommand registers the flags
// it understands.
type repairFlags struct {
	filter       string
	apply        bool
	sex          string
	strict       bool
	bands        string
	placeholder  string
	minAge       float64
	maxAge       float64
	removeSource bool
}

type repairDef struct {
	kind  refrange.RepairKind
	short string
	long  string
	flags func(cmd *cobra.Command, f *repairFlags)
}

var repairCommands = []repairDef{
	{
		kind:  refrange.KindFillGaps,
		short: "Insert template-copied ranges into uncovered age bands",
		long: `Insert template-copied ranges into uncovered age bands.

Parameters without sex-specific ranges are filled as Ambos. Parameters with
sex-specific ranges are filled per sex. When Ambos ranges sit next to them both
Masculino and Femenino are filled, using the Ambos values as templates. A
parameter with ranges for only one sex and no Ambos ranges is filled for that
sex only.`,
		flags: func(cmd *cobra.Command, f *repairFlags) {
			cmd.Flags().BoolVar(&f.strict, "strict", false, "Split adult gaps at the 18 and 65 year edges")
			cmd.Flags().StringVar(&f.bands, "bands", "", "Only fill gaps intersecting these bands, e.g. 12-13,17-18,64-65")
			cmd.Flags().StringVar(&f.sex, "sex", "", "Only fill gaps of this sex")
			cmd.Flags().StringVar(&f.placeholder, "placeholder", "", "Text value inserted when a gap has no template")
		},
	},
	{
		kind:  refrange.KindSplitAmbos,
		short: "Clone Ambos ranges into Masculino and Femenino",
		flags: func(cmd *cobra.Command, f *repairFlags) {
			cmd.Flags().Float64Var(&f.minAge, "min", -1, "Lower edge of the age band to split")
			cmd.Flags().Float64Var(&f.maxAge, "max", -1, "Upper edge of the age band to split")
			cmd.Flags().BoolVar(&f.removeSource, "remove-source", false, "Delete the Ambos source once both clones exist")
		},
	},
	{
		kind:  refrange.KindCollapseAmbos,
		short: "Delete Ambos ranges made redundant by exact sex-specific twins",
	},
	{
		kind:  refrange.KindForceSex,
		short: "Rewrite the ranges of matching parameters to one sex",
		flags: func(cmd *cobra.Command, f *repairFlags) {
			cmd.Flags().StringVar(&f.sex, "sex", "", "Target sex: M/Masculino or F/Femenino")
			_ = cmd.MarkFlagRequired("sex")
		},
	},
	{
		kind:  refrange.KindSnapBoundaries,
		short: "Realign known off-by-one age bands (BOUNDARY_RULES_FILE overrides the rules)",
	},
	{
		kind:  refrange.KindMigrateLegacy,
		short: "Copy legacy-table ranges into the modern table",
	},
}

func repairCmd(g *globalFlags, def repairDef) *cobra.Command {
	f := &repairFlags{}
	cmd := &cobra.Command{
		Use:   string(def.kind),
		Short: def.short,
		Long:  def.long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(def.kind)
			if err != nil {
				return err
			}
			return withTenant(cmd, g, func(ctx context.Context, a *app, format output.Format) error {
				svc, err := a.rangeService(f.placeholder)
				if err != nil {
					return err
				}
				return runRepair(ctx, svc, req, cmd.OutOrStdout(), format)
			})
		},
	}
	cmd.Flags().StringVar(&f.filter, "filter", "", "Analysis or parameter name substring, or a|b|c alternation")
	cmd.Flags().BoolVar(&f.apply, "apply", false, "Write the plan (default is a dry run)")
	if def.flags != nil {
		def.flags(cmd, f)
	}
	return cmd
}

// request turns parsed flags into a service request. Validation the
// service performs itself is left to it.
func (f *repairFlags) request(kind refrange.RepairKind) (refrange.Request, error) {
	req := refrange.Request{
		Kind:         kind,
		Filter:       f.filter,
		Apply:        f.apply,
		Sex:          f.sex,
		Strict:       f.strict,
		RemoveSource: f.removeSource,
	}
	if f.bands != "" {
		bands, err := refrange.ParseBands(f.bands)
		if err != nil {
			return req, err
		}
		req.Bands = bands
	}
	switch {
	case f.minAge >= 0 && f.maxAge >= 0:
		req.Band = &refrange.Interval{Min: f.minAge, Max: f.maxAge}
	case f.minAge >= 0 || f.maxAge >= 0:
		return req, fmt.Errorf("--min and --max must be given together")
	}
	return req, nil
}

// runRepair executes one pass. In apply mode the plan is printed before
// anything is written and the outcome after.
func runRepair(ctx context.Context, svc *refrange.Service, req refrange.Request, w io.Writer, format output.Format) error {
	logger := logging.FromContext(ctx)

	if req.Apply && format == output.FormatTable {
		req.OnPlan = func(res *refrange.Result) {
			if err := render(w, format, res, planTable{res: res}); err != nil {
				logger.Warn().Err(err).Msg("render plan preview")
			}
			fmt.Fprintln(w)
		}
	}

	res, err := svc.Run(ctx, req)
	if res != nil {
		if rerr := render(w, format, res, planTable{res: res}); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
