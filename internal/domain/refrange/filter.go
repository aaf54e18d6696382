package refrange

import (
	"regexp"
	"strings"

	"github.com/ehr/refrange/internal/platform/apperr"
)

// Filter selects parameters by analysis or parameter name. It is either a
// plain substring, an alternation of substrings ("hemo|ferritina") or, when
// it contains other regular-expression syntax, a case-insensitive regexp.
type Filter struct {
	raw   string
	terms []string
	re    *regexp.Regexp
}

const regexpMeta = `\.+*?()[]{}^$`

// ParseFilter validates s. An empty filter matches every parameter.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	f := Filter{raw: s}
	if s == "" {
		return f, nil
	}

	body := s
	if strings.HasPrefix(body, "(") && strings.HasSuffix(body, ")") && !strings.ContainsAny(body[1:len(body)-1], "()") {
		body = body[1 : len(body)-1]
	}

	if !strings.ContainsAny(body, regexpMeta) {
		for _, term := range strings.Split(body, "|") {
			term = strings.TrimSpace(term)
			if term == "" {
				return Filter{}, apperr.NewInputError("filter", "empty alternative in "+s)
			}
			f.terms = append(f.terms, Fold(term))
		}
		return f, nil
	}

	re, err := regexp.Compile("(?i)" + s)
	if err != nil {
		return Filter{}, apperr.NewInputError("filter", err.Error())
	}
	f.re = re
	return f, nil
}

// MustParseFilter is ParseFilter for literals known to be valid.
func MustParseFilter(s string) Filter {
	f, err := ParseFilter(s)
	if err != nil {
		panic(err)
	}
	return f
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool { return f.raw == "" }

func (f Filter) String() string { return f.raw }

// Match reports whether an analysis or parameter name is selected.
func (f Filter) Match(analysis, parameter string) bool {
	if f.IsZero() {
		return true
	}
	if f.re != nil {
		return f.re.MatchString(analysis) || f.re.MatchString(parameter)
	}
	a, p := Fold(analysis), Fold(parameter)
	for _, term := range f.terms {
		if strings.Contains(a, term) || strings.Contains(p, term) {
			return true
		}
	}
	return false
}
