package finder

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// Query is a hierarchical lookup: a target level plus one constraint per
// queried tag.
type Query struct {
	Level       dicom.ResourceLevel
	Constraints []*Constraint
	Limit       int
}

// NewQuery builds a query from tag literals, typically a C-FIND dataset or
// a REST payload. Empty literals and universal "*" literals are dropped.
func NewQuery(level dicom.ResourceLevel, filters map[dicom.Tag]string, caseSensitivePN bool) (*Query, error) {
	query := &Query{Level: level}
	for tag, literal := range filters {
		if literal == "" || literal == "*" {
			continue
		}
		constraint, err := NewConstraint(tag, literal, caseSensitivePN)
		if err != nil {
			return nil, err
		}
		query.Constraints = append(query.Constraints, constraint)
	}
	return query, nil
}

// JSONReader reads the full tag serialization of one instance, keyed by
// the 8-hex-digit tag form. The cache layer fronts it in production.
type JSONReader interface {
	InstanceJSON(ctx context.Context, instanceID string) (map[string]string, error)
}

// Finder drills a query down the hierarchy, restricting candidates as
// early as possible.
type Finder struct {
	index  index.Index
	reader JSONReader
}

// NewFinder creates a finder over an index. The reader may be nil when no
// generic-tag filtering is needed.
func NewFinder(idx index.Index, reader JSONReader) *Finder {
	return &Finder{index: idx, reader: reader}
}

// candidateSet tracks the current candidates at one level. Until the
// first restriction applies, the set stands for "every resource".
type candidateSet struct {
	filtered bool
	ids      []string
}

func (s *candidateSet) intersect(other []string) {
	if !s.filtered {
		s.filtered = true
		s.ids = other
		return
	}
	seen := make(map[string]bool, len(other))
	for _, id := range other {
		seen[id] = true
	}
	var kept []string
	for _, id := range s.ids {
		if seen[id] {
			kept = append(kept, id)
		}
	}
	s.ids = kept
}

func (s *candidateSet) materialize(ctx context.Context, idx index.Index, level dicom.ResourceLevel) error {
	if s.filtered {
		return nil
	}
	ids, err := idx.GetAllUuids(ctx, level)
	if err != nil {
		return err
	}
	s.filtered = true
	s.ids = ids
	return nil
}

// Find returns the ids of the resources matching the query at its target
// level.
func (f *Finder) Find(ctx context.Context, query *Query) ([]string, error) {
	remaining := make([]*Constraint, len(query.Constraints))
	copy(remaining, query.Constraints)

	candidates := &candidateSet{}

	for level := dicom.LevelPatient; ; level++ {
		var identifiers, mains, rest []*Constraint
		for _, c := range remaining {
			switch {
			case dicom.IsIdentifierTag(c.Tag, level) && c.CanRestrictIdentifier():
				identifiers = append(identifiers, c)
			case dicom.IsMainTag(c.Tag, level):
				mains = append(mains, c)
			default:
				rest = append(rest, c)
			}
		}
		remaining = rest

		// Identifier push-down: exact lookups, token per token.
		for _, c := range identifiers {
			union := make(map[string]bool)
			for _, value := range c.ExactValues() {
				ids, err := f.index.LookupIdentifier(ctx, c.Tag, value, level)
				if err != nil {
					return nil, err
				}
				for _, id := range ids {
					union[id] = true
				}
			}
			ids := make([]string, 0, len(union))
			for id := range union {
				ids = append(ids, id)
			}
			candidates.intersect(ids)
		}

		// Main-tag filtering against the promoted columns.
		if len(mains) > 0 {
			if err := candidates.materialize(ctx, f.index, level); err != nil {
				return nil, err
			}
			var kept []string
			for _, id := range candidates.ids {
				tags, err := f.index.GetMainDicomTags(ctx, id, level)
				if err != nil {
					return nil, err
				}
				if matchesAll(mains, tags) {
					kept = append(kept, id)
				}
			}
			candidates.ids = kept
		}

		if level == query.Level {
			break
		}

		// Drill down one level.
		if candidates.filtered {
			var children []string
			for _, id := range candidates.ids {
				ids, err := f.index.ListChildren(ctx, id)
				if err != nil {
					return nil, err
				}
				children = append(children, ids...)
			}
			candidates.ids = children
		}
	}

	// Whatever survives the walk must be answerable from the per-instance
	// JSON; tags promoted below the target level cannot.
	var jsonConstraints []*Constraint
	for _, c := range remaining {
		for level := query.Level + 1; level <= dicom.LevelInstance; level++ {
			if dicom.IsMainTag(c.Tag, level) {
				return nil, dicomerr.Wrap(dicomerr.ErrBadRequest,
					"tag %s is below the %s query level", c.Tag, query.Level)
			}
		}
		jsonConstraints = append(jsonConstraints, c)
	}

	if len(jsonConstraints) > 0 {
		if err := candidates.materialize(ctx, f.index, query.Level); err != nil {
			return nil, err
		}
		kept, err := f.filterJSON(ctx, candidates.ids, jsonConstraints)
		if err != nil {
			return nil, err
		}
		candidates.ids = kept
	} else if err := candidates.materialize(ctx, f.index, query.Level); err != nil {
		return nil, err
	}

	if query.Limit > 0 && len(candidates.ids) > query.Limit {
		candidates.ids = candidates.ids[:query.Limit]
	}
	return candidates.ids, nil
}

// filterJSON reads the serialization of one instance per candidate and
// evaluates the non-promoted constraints against it.
func (f *Finder) filterJSON(ctx context.Context, candidates []string, constraints []*Constraint) ([]string, error) {
	if f.reader == nil {
		return nil, dicomerr.Wrap(dicomerr.ErrNotImplemented, "generic-tag filtering requires a JSON reader")
	}

	log.Debug().
		Str("component", "finder").
		Int("candidates", len(candidates)).
		Int("constraints", len(constraints)).
		Msg("Falling back to JSON filtering")

	var kept []string
	for _, id := range candidates {
		instances, err := f.index.GetChildInstances(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(instances) == 0 {
			continue
		}

		tags, err := f.reader.InstanceJSON(ctx, instances[0])
		if err != nil {
			return nil, err
		}

		matched := true
		for _, c := range constraints {
			value, ok := tags[c.Tag.Key()]
			if !ok || !c.Matches(value) {
				matched = false
				break
			}
		}
		if matched {
			kept = append(kept, id)
		}
	}
	return kept, nil
}

func matchesAll(constraints []*Constraint, tags map[dicom.Tag]string) bool {
	for _, c := range constraints {
		value, ok := tags[c.Tag]
		if !ok || !c.Matches(value) {
			return false
		}
	}
	return true
}
