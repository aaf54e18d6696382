package refrange

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// SnapRule rewrites a known bad age band From into To. The rule only fires
// for a (parameter, sex) group that already contains the band Requires.
type SnapRule struct {
	From     Interval `json:"from"`
	To       Interval `json:"to"`
	Requires Interval `json:"requires"`
}

func (r SnapRule) String() string {
	return fmt.Sprintf("%s -> %s when %s exists", r.From, r.To, r.Requires)
}

// DefaultSnapRules aligns pediatric bands to the 12-year edge and adult
// bands to the 64-year edge.
var DefaultSnapRules = []SnapRule{
	{From: Interval{Min: 1, Max: 13}, To: Interval{Min: 1, Max: 12}, Requires: Interval{Min: 12, Max: 18}},
	{From: Interval{Min: 13, Max: 18}, To: Interval{Min: 12, Max: 18}, Requires: Interval{Min: 12, Max: 18}},
	{From: Interval{Min: 18, Max: 65}, To: Interval{Min: 18, Max: 64}, Requires: Interval{Min: 64, Max: 120}},
	{From: Interval{Min: 65, Max: 120}, To: Interval{Min: 64, Max: 120}, Requires: Interval{Min: 64, Max: 120}},
}

type snapRuleFile struct {
	Rules []struct {
		From     [2]float64 `yaml:"from"`
		To       [2]float64 `yaml:"to"`
		Requires [2]float64 `yaml:"requires"`
	} `yaml:"rules"`
}

// LoadSnapRules reads rules from a YAML file of the form
//
//	rules:
//	  - from: [1, 13]
//	    to: [1, 12]
//	    requires: [12, 18]
func LoadSnapRules(path string) ([]SnapRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snap rules: %w", err)
	}
	return ParseSnapRules(data)
}

// ParseSnapRules decodes the YAML rule format accepted by LoadSnapRules.
func ParseSnapRules(data []byte) ([]SnapRule, error) {
	var f snapRuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse snap rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("parse snap rules: no rules defined")
	}
	rules := make([]SnapRule, 0, len(f.Rules))
	for i, r := range f.Rules {
		rule := SnapRule{
			From:     Interval{Min: r.From[0], Max: r.From[1]},
			To:       Interval{Min: r.To[0], Max: r.To[1]},
			Requires: Interval{Min: r.Requires[0], Max: r.Requires[1]},
		}
		if rule.From.Empty() || rule.To.Empty() || rule.Requires.Empty() {
			return nil, fmt.Errorf("parse snap rules: rule %d has an empty interval", i+1)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// PlanSnap applies rules to every (parameter, sex) group of p. A source row
// whose corrected twin already exists with identical values is deleted;
// otherwise its bounds are updated in place.
func PlanSnap(p *ParameterRanges, rules []SnapRule) []*Change {
	var changes []*Change
	for _, sex := range p.Sexes() {
		group := sortedRanges(p.BySex(sex))
		existing := newIdentitySet(group)

		for _, rule := range rules {
			if !hasInterval(group, rule.Requires) {
				continue
			}
			for _, src := range group {
				if src.Interval() != rule.From {
					continue
				}
				snapped := src.Clone()
				snapped.ID = src.ID
				snapped.AgeMin, snapped.AgeMax = rule.To.Min, rule.To.Max

				if existing.has(snapped.Identity()) {
					c := newChange(KindSnapBoundaries, ActionDelete, p, src)
					c.Reason = fmt.Sprintf("identical %s row exists", rule.To)
					changes = append(changes, c)
					existing.remove(src)
					continue
				}
				existing.remove(src)
				existing.add(snapped)
				c := newChange(KindSnapBoundaries, ActionUpdate, p, src)
				c.Target = snapped
				c.Reason = fmt.Sprintf("snap %s -> %s", rule.From, rule.To)
				changes = append(changes, c)
			}
		}
	}
	return changes
}

func hasInterval(ranges []*ReferenceRange, iv Interval) bool {
	for _, r := range ranges {
		if r.Interval() == iv {
			return true
		}
	}
	return false
}
