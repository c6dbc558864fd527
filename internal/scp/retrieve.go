package scp

import (
	"context"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// identifierTagsAtLevel lists the tags a retrieve request may identify
// resources with, per query level. Studies answer to both the study UID
// and the accession number.
func identifierTagsAtLevel(level dicom.ResourceLevel) []dicom.Tag {
	switch level {
	case dicom.LevelPatient:
		return []dicom.Tag{dicom.TagPatientID}
	case dicom.LevelStudy:
		return []dicom.Tag{dicom.TagStudyInstanceUID, dicom.TagAccessionNumber}
	case dicom.LevelSeries:
		return []dicom.Tag{dicom.TagSeriesInstanceUID}
	default:
		return []dicom.Tag{dicom.TagSOPInstanceUID}
	}
}

// wireSOPInstanceUID maps an internal instance id to the SOP instance UID
// peers know it by, read from the promoted instance tags. The internal id
// is the fallback when the instance vanished from the index mid-transfer.
func wireSOPInstanceUID(ctx context.Context, idx index.Index, instanceID string) string {
	tags, err := idx.GetMainDicomTags(ctx, instanceID, dicom.LevelInstance)
	if err == nil && tags[dicom.TagSOPInstanceUID] != "" {
		return tags[dicom.TagSOPInstanceUID]
	}
	return instanceID
}

func hasIdentifiers(query *dicom.DataSet, level dicom.ResourceLevel) bool {
	for _, tag := range identifierTagsAtLevel(level) {
		if query.GetString(tag) != "" {
			return true
		}
	}
	return false
}

// detectRetrieveLevel guesses the query level of peers that omit
// (0008,0052), trying the most specific level first.
func detectRetrieveLevel(query *dicom.DataSet) (dicom.ResourceLevel, error) {
	for _, level := range []dicom.ResourceLevel{
		dicom.LevelInstance, dicom.LevelSeries, dicom.LevelStudy, dicom.LevelPatient,
	} {
		if hasIdentifiers(query, level) {
			return level, nil
		}
	}
	return 0, dicomerr.Wrap(dicomerr.ErrBadRequest, "retrieve query carries no identifier")
}

// resolveRetrieve resolves a C-MOVE/C-GET identifier dataset into the
// instances to transfer. Identifier values are backslash lists; every
// token is looked up exactly and the results unioned.
func resolveRetrieve(ctx context.Context, idx index.Index, query *dicom.DataSet,
	allowLevelDetection bool) ([]string, error) {

	var level dicom.ResourceLevel
	if literal := query.GetString(dicom.TagQueryRetrieveLevel); literal != "" {
		parsed, err := dicom.ParseResourceLevel(literal)
		if err != nil {
			return nil, dicomerr.Wrap(dicomerr.ErrBadRequest, "unknown query retrieve level %q", literal)
		}
		level = parsed
	} else if allowLevelDetection {
		detected, err := detectRetrieveLevel(query)
		if err != nil {
			return nil, err
		}
		level = detected
	} else {
		return nil, dicomerr.Wrap(dicomerr.ErrBadRequest, "missing query retrieve level")
	}

	resources := make(map[string]bool)
	found := false
	for _, tag := range identifierTagsAtLevel(level) {
		for _, token := range query.GetStrings(tag) {
			if token == "" {
				continue
			}
			found = true
			ids, err := idx.LookupIdentifier(ctx, tag, token, level)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				resources[id] = true
			}
		}
	}
	if !found {
		return nil, dicomerr.Wrap(dicomerr.ErrBadRequest,
			"retrieve query carries no identifier at the %s level", level)
	}

	instances := make(map[string]bool)
	for id := range resources {
		children, err := idx.GetChildInstances(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			instances[child] = true
		}
	}

	out := make([]string, 0, len(instances))
	for id := range instances {
		out = append(out, id)
	}
	return out, nil
}
