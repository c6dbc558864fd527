package finder

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

func TestConstraintWildcardPersonName(t *testing.T) {
	cases := []struct {
		value           string
		caseSensitivePN bool
		want            bool
	}{
		{"My value!", false, true},
		{"MY VALUE!", false, true},
		{"My value!", true, true},
		{"MY VALUE!", true, false},
		{"no match here", false, false},
	}
	for _, tc := range cases {
		c, err := NewConstraint(dicom.TagPatientName, "*val?e*", tc.caseSensitivePN)
		if err != nil {
			t.Fatalf("NewConstraint: %v", err)
		}
		if c.Type != ConstraintWildcard {
			t.Fatalf("type = %v, want wildcard", c.Type)
		}
		if got := c.Matches(tc.value); got != tc.want {
			t.Errorf("Matches(%q, caseSensitivePN=%v) = %v, want %v",
				tc.value, tc.caseSensitivePN, got, tc.want)
		}
	}
}

func TestConstraintRangeOnlyForDateTimeVRs(t *testing.T) {
	c, err := NewConstraint(dicom.TagStudyDate, "20240101-20240630", true)
	if err != nil {
		t.Fatalf("NewConstraint: %v", err)
	}
	if c.Type != ConstraintRange {
		t.Fatalf("StudyDate constraint type = %v, want range", c.Type)
	}
	for value, want := range map[string]bool{
		"20240101": true,
		"20240315": true,
		"20240630": true,
		"20231231": false,
		"20240701": false,
	} {
		if got := c.Matches(value); got != want {
			t.Errorf("Matches(%q) = %v, want %v", value, got, want)
		}
	}

	// Open-ended bounds.
	lower, _ := NewConstraint(dicom.TagStudyDate, "20240101-", true)
	if !lower.Matches("20991231") || lower.Matches("20231231") {
		t.Error("open upper bound mismatch")
	}
	upper, _ := NewConstraint(dicom.TagStudyDate, "-20240101", true)
	if !upper.Matches("19990101") || upper.Matches("20240102") {
		t.Error("open lower bound mismatch")
	}

	// A hyphen in a person name is plain text, not a range.
	pn, err := NewConstraint(dicom.TagPatientName, "Smith-Jones", true)
	if err != nil {
		t.Fatalf("NewConstraint: %v", err)
	}
	if pn.Type != ConstraintValue {
		t.Errorf("hyphenated PN constraint type = %v, want value", pn.Type)
	}
	if !pn.Matches("Smith-Jones") {
		t.Error("hyphenated PN should match literally")
	}
}

func TestConstraintListResolvesTokenPerToken(t *testing.T) {
	c, err := NewConstraint(dicom.TagStudyInstanceUID, "1.2.3\\4.5.6", true)
	if err != nil {
		t.Fatalf("NewConstraint: %v", err)
	}
	if c.Type != ConstraintList {
		t.Fatalf("type = %v, want list", c.Type)
	}
	if !c.CanRestrictIdentifier() {
		t.Error("list constraint should restrict identifiers")
	}
	values := c.ExactValues()
	if len(values) != 2 || values[0] != "1.2.3" || values[1] != "4.5.6" {
		t.Errorf("ExactValues = %v", values)
	}
	if !c.Matches("4.5.6") || c.Matches("7.8.9") {
		t.Error("list match mismatch")
	}
}

// failingReader trips the test whenever the finder falls back to JSON.
type failingReader struct {
	t *testing.T
}

func (r *failingReader) InstanceJSON(ctx context.Context, instanceID string) (map[string]string, error) {
	r.t.Errorf("unexpected JSON read for instance %s", instanceID)
	return nil, errors.New("unexpected JSON read")
}

// mapReader serves canned per-instance serializations keyed by SOP
// instance UID resource id.
type mapReader struct {
	json  map[string]map[string]string
	reads int
}

func (r *mapReader) InstanceJSON(ctx context.Context, instanceID string) (map[string]string, error) {
	r.reads++
	tags, ok := r.json[instanceID]
	if !ok {
		return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "no JSON for %q", instanceID)
	}
	return tags, nil
}

type seedInstance struct {
	patientID   string
	patientName string
	studyUID    string
	accession   string
	studyDate   string
	seriesUID   string
	modality    string
	sopUID      string
}

func seedIndex(t *testing.T, instances []seedInstance) (*index.MemoryIndex, map[string]string) {
	t.Helper()
	idx := index.NewMemoryIndex()
	ids := make(map[string]string)
	for _, in := range instances {
		record := &index.InstanceRecord{
			PatientID:         in.patientID,
			StudyInstanceUID:  in.studyUID,
			SeriesInstanceUID: in.seriesUID,
			SOPInstanceUID:    in.sopUID,
			MainTags: map[dicom.ResourceLevel]map[dicom.Tag]string{
				dicom.LevelPatient: {
					dicom.TagPatientID:   in.patientID,
					dicom.TagPatientName: in.patientName,
				},
				dicom.LevelStudy: {
					dicom.TagStudyInstanceUID: in.studyUID,
					dicom.TagAccessionNumber:  in.accession,
					dicom.TagStudyDate:        in.studyDate,
				},
				dicom.LevelSeries: {
					dicom.TagSeriesInstanceUID: in.seriesUID,
					dicom.TagModality:          in.modality,
				},
				dicom.LevelInstance: {
					dicom.TagSOPInstanceUID: in.sopUID,
				},
			},
		}
		id, already, err := idx.StoreInstance(context.Background(), record)
		if err != nil {
			t.Fatalf("StoreInstance: %v", err)
		}
		if already {
			t.Fatalf("instance %s stored twice", in.sopUID)
		}
		ids[in.sopUID] = id
	}
	return idx, ids
}

func defaultSeed() []seedInstance {
	return []seedInstance{
		{"pat1", "My value!", "1.2.1", "ACC1", "20240110", "1.2.1.1", "CT", "1.2.1.1.1"},
		{"pat1", "My value!", "1.2.1", "ACC1", "20240110", "1.2.1.2", "MR", "1.2.1.2.1"},
		{"pat2", "MY VALUE!", "1.2.2", "ACC2", "20240520", "1.2.2.1", "CT", "1.2.2.1.1"},
		{"pat3", "Other^Name", "1.2.3", "ACC3", "20231201", "1.2.3.1", "US", "1.2.3.1.1"},
	}
}

func mustFind(t *testing.T, f *Finder, level dicom.ResourceLevel, filters map[dicom.Tag]string, caseSensitivePN bool) []string {
	t.Helper()
	query, err := NewQuery(level, filters, caseSensitivePN)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	ids, err := f.Find(context.Background(), query)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	return ids
}

func TestFindSeriesByModalityReadsNoJSON(t *testing.T) {
	idx, _ := seedIndex(t, defaultSeed())
	f := NewFinder(idx, &failingReader{t: t})

	ids := mustFind(t, f, dicom.LevelSeries, map[dicom.Tag]string{
		dicom.TagModality: "CT",
	}, true)
	if len(ids) != 2 {
		t.Fatalf("found %d series, want 2", len(ids))
	}
}

func TestFindWildcardPatientNameCaseSensitivity(t *testing.T) {
	idx, _ := seedIndex(t, defaultSeed())
	f := NewFinder(idx, &failingReader{t: t})

	filters := map[dicom.Tag]string{dicom.TagPatientName: "*val?e*"}

	if ids := mustFind(t, f, dicom.LevelPatient, filters, false); len(ids) != 2 {
		t.Errorf("case-insensitive match found %d patients, want 2", len(ids))
	}
	if ids := mustFind(t, f, dicom.LevelPatient, filters, true); len(ids) != 1 {
		t.Errorf("case-sensitive match found %d patients, want 1", len(ids))
	}
}

func TestFindStudyListUnion(t *testing.T) {
	idx, _ := seedIndex(t, defaultSeed())
	f := NewFinder(idx, &failingReader{t: t})

	ids := mustFind(t, f, dicom.LevelStudy, map[dicom.Tag]string{
		dicom.TagStudyInstanceUID: "1.2.1\\1.2.3",
	}, true)
	if len(ids) != 2 {
		t.Fatalf("found %d studies, want 2", len(ids))
	}
}

func TestFindStudyDateRange(t *testing.T) {
	idx, _ := seedIndex(t, defaultSeed())
	f := NewFinder(idx, &failingReader{t: t})

	ids := mustFind(t, f, dicom.LevelStudy, map[dicom.Tag]string{
		dicom.TagStudyDate: "20240101-20241231",
	}, true)
	if len(ids) != 2 {
		t.Fatalf("found %d studies, want 2", len(ids))
	}
}

func TestFindCombinesLevels(t *testing.T) {
	idx, _ := seedIndex(t, defaultSeed())
	f := NewFinder(idx, &failingReader{t: t})

	// Patient identifier restricts the walk before the series filter runs.
	ids := mustFind(t, f, dicom.LevelSeries, map[dicom.Tag]string{
		dicom.TagPatientID: "pat1",
		dicom.TagModality:  "MR",
	}, true)
	if len(ids) != 1 {
		t.Fatalf("found %d series, want 1", len(ids))
	}
}

func TestFindRejectsTagBelowQueryLevel(t *testing.T) {
	idx, _ := seedIndex(t, defaultSeed())
	f := NewFinder(idx, &failingReader{t: t})

	query, err := NewQuery(dicom.LevelStudy, map[dicom.Tag]string{
		dicom.TagModality: "CT",
	}, true)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	_, err = f.Find(context.Background(), query)
	if !errors.Is(err, dicomerr.ErrBadRequest) {
		t.Fatalf("Find error = %v, want ErrBadRequest", err)
	}
}

func TestFindGenericTagFallsBackToJSON(t *testing.T) {
	idx, ids := seedIndex(t, defaultSeed())

	orientation := dicom.TagImageOrientationPatient.Key()
	reader := &mapReader{json: map[string]map[string]string{
		ids["1.2.1.1.1"]: {orientation: "1\\0\\0\\0\\1\\0"},
		ids["1.2.1.2.1"]: {orientation: "1\\0\\0\\0\\1\\0"},
		ids["1.2.2.1.1"]: {orientation: "0\\1\\0\\1\\0\\0"},
		ids["1.2.3.1.1"]: {},
	}}
	f := NewFinder(idx, reader)

	found := mustFind(t, f, dicom.LevelInstance, map[dicom.Tag]string{
		dicom.TagImageOrientationPatient: "1\\0\\0\\0\\1\\0",
	}, true)
	if len(found) != 2 {
		t.Fatalf("found %d instances, want 2", len(found))
	}
	if reader.reads != 4 {
		t.Errorf("reader served %d reads, want 4", reader.reads)
	}
	sort.Strings(found)
	want := []string{ids["1.2.1.1.1"], ids["1.2.1.2.1"]}
	sort.Strings(want)
	for i := range want {
		if found[i] != want[i] {
			t.Fatalf("found %v, want %v", found, want)
		}
	}
}

func TestFindAppliesLimit(t *testing.T) {
	idx, _ := seedIndex(t, defaultSeed())
	f := NewFinder(idx, &failingReader{t: t})

	query, err := NewQuery(dicom.LevelInstance, nil, true)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	query.Limit = 2
	ids, err := f.Find(context.Background(), query)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("found %d instances, want limit 2", len(ids))
	}
}

func TestNewQueryDropsUniversalMatchers(t *testing.T) {
	query, err := NewQuery(dicom.LevelStudy, map[dicom.Tag]string{
		dicom.TagStudyDate:        "",
		dicom.TagAccessionNumber:  "*",
		dicom.TagStudyDescription: "CHEST",
	}, true)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	if len(query.Constraints) != 1 {
		t.Fatalf("kept %d constraints, want 1", len(query.Constraints))
	}
	if query.Constraints[0].Tag != dicom.TagStudyDescription {
		t.Errorf("kept constraint on %v", query.Constraints[0].Tag)
	}
}
