package scp

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/finder"
	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// FindSCP answers C-FIND identifier datasets from the resource index.
type FindSCP struct {
	index           index.Index
	finder          *finder.Finder
	caseSensitivePN bool
	filterIssuerAET bool
	limit           int
}

// NewFindSCP creates the C-FIND driver. limit caps the number of answers
// per query, zero means unbounded. filterIssuerAET tightens patient
// queries to the issuer matching the calling AET.
func NewFindSCP(idx index.Index, f *finder.Finder, caseSensitivePN, filterIssuerAET bool, limit int) *FindSCP {
	return &FindSCP{
		index:           idx,
		finder:          f,
		caseSensitivePN: caseSensitivePN,
		filterIssuerAET: filterIssuerAET,
		limit:           limit,
	}
}

// Find runs one C-FIND query from callingAET and returns one answer
// dataset per match.
func (s *FindSCP) Find(ctx context.Context, callingAET string, query *dicom.DataSet) ([]*dicom.DataSet, error) {
	literal := query.GetString(dicom.TagQueryRetrieveLevel)
	if literal == "" {
		return nil, dicomerr.Wrap(dicomerr.ErrBadRequest, "C-FIND query without a query retrieve level")
	}
	level, err := dicom.ParseResourceLevel(literal)
	if err != nil {
		return nil, dicomerr.Wrap(dicomerr.ErrBadRequest, "unknown query retrieve level %q", literal)
	}

	// Every queried tag becomes a constraint; empty values only mark the
	// tag as requested in the answers.
	filters := make(map[dicom.Tag]string)
	requested := query.SortedTags()
	for _, tag := range requested {
		if tag == dicom.TagQueryRetrieveLevel || tag == dicom.TagSpecificCharacterSet {
			continue
		}
		filters[tag] = query.GetString(tag)
	}

	// Patient queries from a known issuer are tightened to that issuer
	// unless the peer constrained it itself.
	if s.filterIssuerAET && callingAET != "" &&
		filters[dicom.TagPatientID] != "" && filters[dicom.TagIssuerOfPatientID] == "" {
		filters[dicom.TagIssuerOfPatientID] = callingAET
	}

	fq, err := finder.NewQuery(level, filters, s.caseSensitivePN)
	if err != nil {
		return nil, err
	}
	fq.Limit = s.limit

	matches, err := s.finder.Find(ctx, fq)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("component", "scp").
		Str("level", level.String()).
		Int("matches", len(matches)).
		Msg("C-FIND query resolved")

	answers := make([]*dicom.DataSet, 0, len(matches))
	for _, id := range matches {
		answer, err := s.buildAnswer(ctx, id, level, requested)
		if err != nil {
			return nil, err
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

// buildAnswer fills the requested tags of one match from the promoted
// tags of the resource and its ancestors.
func (s *FindSCP) buildAnswer(ctx context.Context, id string, level dicom.ResourceLevel,
	requested []dicom.Tag) (*dicom.DataSet, error) {

	values := make(map[dicom.Tag]string)
	resource := id
	for l := level; ; {
		tags, err := s.index.GetMainDicomTags(ctx, resource, l)
		if err != nil {
			return nil, err
		}
		for tag, value := range tags {
			if _, exists := values[tag]; !exists {
				values[tag] = value
			}
		}

		parent, ok := l.Parent()
		if !ok {
			break
		}
		resource, err = s.index.LookupParent(ctx, id, parent)
		if err != nil {
			return nil, err
		}
		l = parent
	}

	answer := dicom.NewDataSet(dicom.ExplicitVRLittleEndian)
	answer.SetString(dicom.TagQueryRetrieveLevel, dicom.VR_CS, level.QueryRetrieveString())
	identifier := dicom.IdentifierTag(level)
	answer.SetString(identifier, dicom.DetermineVR(identifier), values[identifier])
	for _, tag := range requested {
		if tag == dicom.TagQueryRetrieveLevel || tag == dicom.TagSpecificCharacterSet {
			continue
		}
		answer.SetString(tag, dicom.DetermineVR(tag), values[tag])
	}
	return answer, nil
}
