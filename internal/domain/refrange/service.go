package refrange

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/refrange/internal/platform/apperr"
	"github.com/ehr/refrange/internal/platform/logging"
)

// Service runs audits and repair passes against one tenant's storage.
type Service struct {
	repo        Repository
	legacy      Repository
	snapRules   []SnapRule
	placeholder string
}

// Option configures a Service.
type Option func(*Service)

// WithLegacy sets the repository the legacy migration reads from.
func WithLegacy(legacy Repository) Option {
	return func(s *Service) { s.legacy = legacy }
}

// WithSnapRules replaces DefaultSnapRules.
func WithSnapRules(rules []SnapRule) Option {
	return func(s *Service) { s.snapRules = rules }
}

// WithPlaceholder sets the text inserted into gaps without a template.
func WithPlaceholder(text string) Option {
	return func(s *Service) { s.placeholder = text }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, snapRules: DefaultSnapRules, placeholder: DefaultPlaceholder}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one invocation of a repair pass.
type Request struct {
	Kind   RepairKind `json:"kind"`
	Filter string     `json:"filter"`
	Apply  bool       `json:"apply"`

	// Sex is the target of force-sex and the optional restriction of
	// fill-gaps.
	Sex string `json:"sex,omitempty"`
	// Strict and Bands tune fill-gaps.
	Strict bool       `json:"strict,omitempty"`
	Bands  []Interval `json:"bands,omitempty"`
	// Band and RemoveSource tune split-ambos.
	Band         *Interval `json:"band,omitempty"`
	RemoveSource bool      `json:"remove_source,omitempty"`

	// OnPlan, when set, receives the complete plan before anything is
	// written. It is called in dry-run and apply mode alike.
	OnPlan func(*Result) `json:"-"`
}

// planner computes the changes of one pass over the loaded parameters.
type planner struct {
	plan func(ctx context.Context, params []*ParameterRanges) ([]*Change, error)
	// grouped passes apply each parameter's changes in one transaction.
	grouped bool
}

func (s *Service) planner(req Request, f Filter) (*planner, error) {
	perParam := func(fn func(*ParameterRanges) []*Change) func(context.Context, []*ParameterRanges) ([]*Change, error) {
		return func(_ context.Context, params []*ParameterRanges) ([]*Change, error) {
			var out []*Change
			for _, p := range params {
				out = append(out, fn(p)...)
			}
			return out, nil
		}
	}

	switch req.Kind {
	case KindFillGaps:
		opts := FillOptions{Strict: req.Strict, Bands: req.Bands, Placeholder: s.placeholder}
		if req.Sex != "" {
			sex, ok := NormalizeSex(req.Sex)
			if !ok {
				return nil, apperr.NewInputError("sex", fmt.Sprintf("unrecognized sex %q", req.Sex))
			}
			opts.Sex = sex
		}
		for _, b := range req.Bands {
			if b.Empty() {
				return nil, apperr.NewInputError("bands", fmt.Sprintf("empty band %s", b))
			}
		}
		return &planner{plan: perParam(func(p *ParameterRanges) []*Change { return PlanFill(p, opts) })}, nil

	case KindSplitAmbos:
		if req.Band != nil && req.Band.Empty() {
			return nil, apperr.NewInputError("band", fmt.Sprintf("empty band %s", *req.Band))
		}
		opts := SplitOptions{Band: req.Band, RemoveSource: req.RemoveSource}
		return &planner{plan: perParam(func(p *ParameterRanges) []*Change { return PlanSplit(p, opts) }), grouped: true}, nil

	case KindCollapseAmbos:
		return &planner{plan: perParam(PlanCollapse), grouped: true}, nil

	case KindForceSex:
		sex, ok := NormalizeSex(req.Sex)
		if req.Sex == "" || !ok || sex == SexBoth {
			return nil, apperr.NewInputError("sex", "force-sex requires Masculino or Femenino")
		}
		if req.Filter == "" {
			return nil, apperr.NewInputError("filter", "force-sex requires a parameter filter")
		}
		return &planner{plan: perParam(func(p *ParameterRanges) []*Change { return PlanForceSex(p, sex) }), grouped: true}, nil

	case KindSnapBoundaries:
		rules := s.snapRules
		return &planner{plan: perParam(func(p *ParameterRanges) []*Change { return PlanSnap(p, rules) })}, nil

	case KindMigrateLegacy:
		if s.legacy == nil {
			return nil, apperr.NewInputError("legacy", "no legacy table configured")
		}
		return &planner{plan: func(ctx context.Context, modern []*ParameterRanges) ([]*Change, error) {
			legacy, err := s.legacy.LoadParameters(ctx, f)
			if err != nil {
				return nil, apperr.NewStorageError("load legacy ranges", 0, err)
			}
			return PlanMigration(legacy, modern), nil
		}}, nil
	}
	return nil, apperr.NewInputError("kind", fmt.Sprintf("unknown repair %q", req.Kind))
}

// Audit loads the parameters selected by filter and runs the detector.
func (s *Service) Audit(ctx context.Context, filter string) (*Report, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	params, err := s.repo.LoadParameters(ctx, f)
	if err != nil {
		return nil, apperr.NewStorageError("load ranges", 0, err)
	}
	rep := Detect(params)

	logger := logging.FromContext(ctx)
	logger.Info().
		Str("filter", filter).
		Int("parameters", rep.Parameters).
		Int("high", rep.High).
		Int("warn", rep.Warn).
		Int("rejected", len(rep.Rejected)).
		Msg("audit complete")
	return rep, nil
}

// Run loads, plans and, when req.Apply is set, applies one repair pass.
// Input errors are returned before storage is touched. An apply failure
// returns the partial Result together with a *apperr.StorageError.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	f, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	pl, err := s.planner(req, f)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).With().
		Str("pass", string(req.Kind)).
		Str("filter", req.Filter).
		Bool("apply", req.Apply).
		Logger()

	params, err := s.repo.LoadParameters(ctx, f)
	if err != nil {
		return nil, apperr.NewStorageError("load ranges", 0, err)
	}

	res := &Result{OK: true, Kind: req.Kind, Matched: len(params)}
	for _, p := range params {
		for _, rj := range p.Rejected {
			c := newChange(req.Kind, ActionSkip, p, nil)
			c.Reason = apperr.NewDataError(rj.RangeID.String(), rj.Reason).Error()
			res.Items = append(res.Items, c)
		}
	}
	planned, err := pl.plan(ctx, params)
	if err != nil {
		return nil, err
	}
	res.Items = append(res.Items, planned...)
	res.count()

	logger.Info().
		Int("matched", res.Matched).
		Int("inserts", res.Inserted).
		Int("updates", res.Updated).
		Int("deletes", res.Deleted).
		Int("skipped", res.Skipped).
		Int("warnings", res.Warnings).
		Msg("plan computed")

	if req.OnPlan != nil {
		req.OnPlan(res)
	}
	if !req.Apply {
		return res, nil
	}

	res.Applied = true
	if err := s.apply(ctx, res, pl.grouped); err != nil {
		res.OK = false
		res.Error = err.Error()
		logger.Error().Err(err).Msg("apply aborted")
		return res, err
	}
	logger.Info().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Msg("apply complete")
	return res, nil
}

// ChangeStatus values recorded on applied changes.
const (
	StatusApplied   = "applied"
	StatusUnchanged = "unchanged"
)

func (s *Service) apply(ctx context.Context, res *Result, grouped bool) error {
	pending := res.Pending()
	res.Inserted, res.Updated, res.Deleted = 0, 0, 0
	applied := 0

	record := func(c *Change, done bool) {
		if !done {
			c.Status = StatusUnchanged
			return
		}
		c.Status = StatusApplied
		applied++
		switch c.Action {
		case ActionInsert:
			res.Inserted++
		case ActionUpdate:
			res.Updated++
		case ActionDelete:
			res.Deleted++
		}
	}

	if !grouped {
		for _, c := range pending {
			done, err := s.applyOne(ctx, c)
			if err != nil {
				return apperr.NewStorageError(fmt.Sprintf("apply %s", c.Kind), applied, err)
			}
			record(c, done)
		}
		return nil
	}

	for _, group := range groupChanges(pending) {
		var outcomes []bool
		err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
			outcomes = outcomes[:0]
			for _, c := range group {
				done, err := s.applyOne(txCtx, c)
				if err != nil {
					return err
				}
				outcomes = append(outcomes, done)
			}
			return nil
		})
		if err != nil {
			return apperr.NewStorageError(fmt.Sprintf("apply %s to %s/%s", group[0].Kind, group[0].Analysis, group[0].Parameter), applied, err)
		}
		for i, c := range group {
			record(c, outcomes[i])
		}
	}
	return nil
}

// applyOne re-checks storage before writing so that a stale or repeated plan
// never duplicates or clobbers a row. It reports whether it wrote anything.
func (s *Service) applyOne(ctx context.Context, c *Change) (bool, error) {
	current, err := s.repo.LoadRanges(ctx, c.Range.ParameterID)
	if err != nil {
		return false, err
	}
	byID := map[uuid.UUID]*ReferenceRange{}
	for _, r := range current {
		byID[r.ID] = r
	}
	set := newIdentitySet(current)

	switch c.Action {
	case ActionInsert:
		if set.has(c.Range.Identity()) {
			return false, nil
		}
		return true, s.repo.Insert(ctx, c.Range)

	case ActionUpdate:
		cur, ok := byID[c.Range.ID]
		if !ok || cur.Identity() != c.Range.Identity() {
			return false, nil
		}
		if set.has(c.Target.Identity()) {
			return false, nil
		}
		return true, s.repo.Update(ctx, c.Target)

	case ActionDelete:
		if _, ok := byID[c.Range.ID]; !ok {
			return false, nil
		}
		return true, s.repo.Delete(ctx, c.Range.ID)
	}
	return false, errors.New("unsupported action " + string(c.Action))
}

func groupChanges(changes []*Change) [][]*Change {
	index := map[uuid.UUID]int{}
	var groups [][]*Change
	for _, c := range changes {
		i, ok := index[c.Group()]
		if !ok {
			i = len(groups)
			index[c.Group()] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c)
	}
	return groups
}

// sortParameters orders params by analysis then parameter position and name.
func sortParameters(params []*ParameterRanges) {
	sort.SliceStable(params, func(i, j int) bool {
		a, b := params[i], params[j]
		if a.Analysis.Position != b.Analysis.Position {
			return a.Analysis.Position < b.Analysis.Position
		}
		if a.Analysis.Name != b.Analysis.Name {
			return a.Analysis.Name < b.Analysis.Name
		}
		if a.Parameter.Position != b.Parameter.Position {
			return a.Parameter.Position < b.Parameter.Position
		}
		return a.Parameter.Name < b.Parameter.Name
	})
}
