package refrange

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RepairKind names a reconciliation pass.
type RepairKind string

const (
	KindFillGaps       RepairKind = "fill-gaps"
	KindSplitAmbos     RepairKind = "split-ambos"
	KindCollapseAmbos  RepairKind = "collapse-ambos"
	KindForceSex       RepairKind = "force-sex"
	KindSnapBoundaries RepairKind = "snap-boundaries"
	KindMigrateLegacy  RepairKind = "migrate-legacy"
)

// Kinds lists every repair pass in the order an operator usually runs them.
var Kinds = []RepairKind{
	KindMigrateLegacy, KindFillGaps, KindSplitAmbos,
	KindCollapseAmbos, KindForceSex, KindSnapBoundaries,
}

// ParseKind validates a repair kind name.
func ParseKind(s string) (RepairKind, bool) {
	for _, k := range Kinds {
		if string(k) == strings.ToLower(strings.TrimSpace(s)) {
			return k, true
		}
	}
	return "", false
}

// Action is what a planned change does to storage.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionSkip records a row the pass refused to touch, with a reason.
	ActionSkip Action = "skip"
	// ActionWarn records an inconsistency left for human review.
	ActionWarn Action = "warn"
)

// Mutates reports whether the action writes to storage.
func (a Action) Mutates() bool {
	return a == ActionInsert || a == ActionUpdate || a == ActionDelete
}

// Change is one row of a plan.
//
// For inserts, Range is the new row. For updates and deletes, Range is the
// current row and Target, for updates, the row as it will be stored.
type Change struct {
	Kind      RepairKind      `json:"kind"`
	Action    Action          `json:"action"`
	Analysis  string          `json:"analysis"`
	Parameter string          `json:"parameter"`
	Range     *ReferenceRange `json:"range,omitempty"`
	Target    *ReferenceRange `json:"target,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	// Status is set once an apply has processed the change.
	Status string `json:"status,omitempty"`

	// group keys the transactional boundary of the change.
	group uuid.UUID
}

// Group returns the key of the repair group the change belongs to.
func (c *Change) Group() uuid.UUID { return c.group }

// Summary is a one-line description of the change for logs.
func (c *Change) Summary() string {
	switch {
	case c.Range == nil:
		return fmt.Sprintf("%s %s/%s: %s", c.Action, c.Analysis, c.Parameter, c.Reason)
	case c.Target != nil:
		return fmt.Sprintf("%s %s/%s %s %s -> %s %s", c.Action, c.Analysis, c.Parameter,
			c.Range.Sex, c.Range.Interval(), c.Target.Sex, c.Target.Interval())
	}
	return fmt.Sprintf("%s %s/%s %s %s %s", c.Action, c.Analysis, c.Parameter,
		c.Range.Sex, c.Range.Interval(), c.Range.ValueString())
}

// Result is the machine-readable outcome of a pass.
type Result struct {
	OK       bool       `json:"ok"`
	Kind     RepairKind `json:"kind"`
	Applied  bool       `json:"applied"`
	Matched  int        `json:"matched"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Deleted  int        `json:"deleted"`
	Skipped  int        `json:"skipped"`
	Warnings int        `json:"warnings"`
	Items    []*Change  `json:"items"`
	Error    string     `json:"error,omitempty"`
}

// Pending returns the mutating changes of the plan.
func (r *Result) Pending() []*Change {
	var out []*Change
	for _, c := range r.Items {
		if c.Action.Mutates() {
			out = append(out, c)
		}
	}
	return out
}

// count tallies planned actions; apply overwrites the mutation counters with
// what was actually written.
func (r *Result) count() {
	r.Inserted, r.Updated, r.Deleted, r.Skipped, r.Warnings = 0, 0, 0, 0, 0
	for _, c := range r.Items {
		switch c.Action {
		case ActionInsert:
			r.Inserted++
		case ActionUpdate:
			r.Updated++
		case ActionDelete:
			r.Deleted++
		case ActionSkip:
			r.Skipped++
		case ActionWarn:
			r.Warnings++
		}
	}
}

func newChange(kind RepairKind, action Action, p *ParameterRanges, r *ReferenceRange) *Change {
	return &Change{
		Kind:      kind,
		Action:    action,
		Analysis:  p.Analysis.Name,
		Parameter: p.Parameter.Name,
		Range:     r,
		group:     p.Parameter.ID,
	}
}

// identitySet tracks the identities present in storage plus those a plan has
// already committed to, so a pass never proposes the same row twice.
type identitySet map[Identity]*ReferenceRange

func newIdentitySet(ranges []*ReferenceRange) identitySet {
	s := identitySet{}
	for _, r := range ranges {
		if _, ok := s[r.Identity()]; !ok {
			s[r.Identity()] = r
		}
	}
	return s
}

func (s identitySet) has(id Identity) bool {
	_, ok := s[id]
	return ok
}

func (s identitySet) add(r *ReferenceRange) { s[r.Identity()] = r }

func (s identitySet) remove(r *ReferenceRange) {
	if cur, ok := s[r.Identity()]; ok && cur == r {
		delete(s, r.Identity())
	}
}
