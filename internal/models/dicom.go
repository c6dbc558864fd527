package models

// QueryRequest is a DICOM-style query posted to the REST query endpoint.
// Query maps "ggggeeee" tag keys to constraint literals (wildcards, ranges
// and backslash lists use the C-FIND conventions).
type QueryRequest struct {
	Level           string            `json:"level"`
	Query           map[string]string `json:"query"`
	CaseSensitivePN bool              `json:"case_sensitive_pn,omitempty"`
	Limit           int               `json:"limit,omitempty"`
}

// ResourceView is one finder match as returned over REST
type ResourceView struct {
	ID       string            `json:"id"`
	Level    string            `json:"level"`
	MainTags map[string]string `json:"main_tags"`
}

// StoreResult describes one ingested instance
type StoreResult struct {
	InstanceID        string `json:"instance_id"`
	SOPInstanceUID    string `json:"00080018"`
	SOPClassUID       string `json:"00080016"`
	StudyInstanceUID  string `json:"0020000D"`
	SeriesInstanceUID string `json:"0020000E"`
	FileUUID          string `json:"file_uuid"`
	FileSize          int64  `json:"file_size"`
	AlreadyStored     bool   `json:"already_stored"`
}
