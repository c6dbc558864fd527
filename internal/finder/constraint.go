package finder

import (
	"regexp"
	"strings"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// ConstraintType discriminates the constraint variants
type ConstraintType int

const (
	// ConstraintValue matches one literal value
	ConstraintValue ConstraintType = iota
	// ConstraintList matches any of a set of literals
	ConstraintList
	// ConstraintRange matches lexicographically between two bounds
	ConstraintRange
	// ConstraintWildcard matches a pattern with * and ?
	ConstraintWildcard
)

// Constraint is one tag filter of a query
type Constraint struct {
	Tag           dicom.Tag
	Type          ConstraintType
	Value         string
	Values        []string
	Lower         string
	Upper         string
	CaseSensitive bool

	pattern *regexp.Regexp
}

// rangeVRs are the value representations the DICOM standard allows range
// matching for.
var rangeVRs = map[string]bool{
	dicom.VR_DA: true,
	dicom.VR_DT: true,
	dicom.VR_TM: true,
}

// NewConstraint builds a constraint from a C-FIND literal. Case
// sensitivity is forced on except for person names, where the caller
// decides.
func NewConstraint(tag dicom.Tag, literal string, caseSensitivePN bool) (*Constraint, error) {
	vr := dicom.DetermineVR(tag)

	caseSensitive := true
	if vr == dicom.VR_PN {
		caseSensitive = caseSensitivePN
	}

	c := &Constraint{Tag: tag, CaseSensitive: caseSensitive}

	switch {
	case strings.Contains(literal, "\\"):
		c.Type = ConstraintList
		c.Values = strings.Split(literal, "\\")

	case strings.Contains(literal, "-") && rangeVRs[vr]:
		c.Type = ConstraintRange
		parts := strings.SplitN(literal, "-", 2)
		c.Lower = parts[0]
		c.Upper = parts[1]

	case strings.ContainsAny(literal, "*?"):
		c.Type = ConstraintWildcard
		c.Value = literal
		pattern, err := wildcardToRegexp(literal, caseSensitive)
		if err != nil {
			return nil, dicomerr.Wrap(dicomerr.ErrBadRequest, "malformed wildcard %q", literal)
		}
		c.pattern = pattern

	default:
		c.Type = ConstraintValue
		c.Value = literal
	}
	return c, nil
}

// wildcardToRegexp translates the DICOM * and ? metacharacters, quoting
// everything else.
func wildcardToRegexp(literal string, caseSensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if !caseSensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("^")
	for _, r := range literal {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// IsExact reports whether the constraint can be pushed into the index as
// an exact lookup.
func (c *Constraint) IsExact() bool {
	return c.Type == ConstraintValue && c.CaseSensitive
}

// CanRestrictIdentifier reports whether the constraint resolves through
// exact index lookups: a case-sensitive value, or a backslash list whose
// tokens are looked up one by one.
func (c *Constraint) CanRestrictIdentifier() bool {
	return c.IsExact() || c.Type == ConstraintList
}

// ExactValues returns the literals an exact index lookup must union over.
// A backslash list resolves token per token.
func (c *Constraint) ExactValues() []string {
	switch c.Type {
	case ConstraintValue:
		return []string{c.Value}
	case ConstraintList:
		return c.Values
	default:
		return nil
	}
}

// Matches evaluates the constraint against one tag value
func (c *Constraint) Matches(value string) bool {
	switch c.Type {
	case ConstraintValue:
		return equals(c.Value, value, c.CaseSensitive)

	case ConstraintList:
		for _, candidate := range c.Values {
			if equals(candidate, value, c.CaseSensitive) {
				return true
			}
		}
		return false

	case ConstraintRange:
		if c.Lower != "" && value < c.Lower {
			return false
		}
		if c.Upper != "" && value > c.Upper {
			return false
		}
		return true

	case ConstraintWildcard:
		return c.pattern.MatchString(value)

	default:
		return false
	}
}

func equals(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}
