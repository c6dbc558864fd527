package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/finder"
	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/internal/scp"
	"github.com/otcheredev/dicom-store/internal/storage"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

type ResourcesHandler struct {
	index  index.Index
	finder *finder.Finder
	area   storage.Area
	store  *scp.StoreSCP
}

func NewResourcesHandler(idx index.Index, f *finder.Finder, area storage.Area, store *scp.StoreSCP) *ResourcesHandler {
	return &ResourcesHandler{index: idx, finder: f, area: area, store: store}
}

// Query runs a DICOM-style hierarchical query posted as JSON
func (h *ResourcesHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	level, err := dicom.ParseResourceLevel(req.Level)
	if err != nil {
		http.Error(w, "Unknown query level", http.StatusBadRequest)
		return
	}

	filters := make(map[dicom.Tag]string, len(req.Query))
	for key, literal := range req.Query {
		tag, err := dicom.ParseTagKey(key)
		if err != nil {
			http.Error(w, "Invalid tag key "+key, http.StatusBadRequest)
			return
		}
		filters[tag] = literal
	}

	query, err := finder.NewQuery(level, filters, req.CaseSensitivePN)
	if err != nil {
		http.Error(w, "Invalid query", http.StatusBadRequest)
		return
	}
	query.Limit = req.Limit

	matches, err := h.finder.Find(ctx, query)
	if err != nil {
		if errors.Is(err, dicomerr.ErrBadRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Query failed")
		http.Error(w, "Query failed", http.StatusInternalServerError)
		return
	}

	views := make([]models.ResourceView, 0, len(matches))
	for _, id := range matches {
		tags, err := h.index.GetMainDicomTags(ctx, id, level)
		if err != nil {
			log.Error().Err(err).Str("resource", id).Msg("Failed to read main tags")
			http.Error(w, "Query failed", http.StatusInternalServerError)
			return
		}
		view := models.ResourceView{
			ID:       id,
			Level:    level.String(),
			MainTags: make(map[string]string, len(tags)),
		}
		for tag, value := range tags {
			view.MainTags[tag.Key()] = value
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, views)
}

// GetResource returns the level and main tags of one resource
func (h *ResourcesHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	level, err := h.index.GetResourceLevel(ctx, id)
	if err != nil {
		writeResourceError(w, err)
		return
	}
	tags, err := h.index.GetMainDicomTags(ctx, id, level)
	if err != nil {
		writeResourceError(w, err)
		return
	}

	view := models.ResourceView{
		ID:       id,
		Level:    level.String(),
		MainTags: make(map[string]string, len(tags)),
	}
	for tag, value := range tags {
		view.MainTags[tag.Key()] = value
	}
	writeJSON(w, http.StatusOK, view)
}

// ListChildren returns the ids of a resource's direct children
func (h *ResourcesHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	children, err := h.index.ListChildren(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeResourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, children)
}

// DownloadInstance streams the stored DICOM file of one instance
func (h *ResourcesHandler) DownloadInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	file, err := h.index.GetInstanceFile(ctx, id)
	if err != nil {
		writeResourceError(w, err)
		return
	}
	payload, err := h.area.Read(ctx, file.FileUUID)
	if err != nil {
		log.Error().Err(err).Str("instance", id).Msg("Failed to read stored file")
		http.Error(w, "Failed to read stored file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/dicom")
	w.Write(payload)
}

// UploadInstance ingests a DICOM file posted over REST, same path as a
// received C-STORE
func (h *ResourcesHandler) UploadInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	result, err := h.store.Store(ctx, payload, dicom.ExplicitVRLittleEndian)
	if err != nil {
		if errors.Is(err, dicomerr.ErrBadFileFormat) || errors.Is(err, dicomerr.ErrNoSopClassOrInstance) {
			http.Error(w, "Not a valid DICOM file", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Upload failed")
		http.Error(w, "Upload failed", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if result.AlreadyStored {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func writeResourceError(w http.ResponseWriter, err error) {
	if errors.Is(err, dicomerr.ErrUnknownResource) {
		http.Error(w, "Unknown resource", http.StatusNotFound)
		return
	}
	log.Error().Err(err).Msg("Resource lookup failed")
	http.Error(w, "Resource lookup failed", http.StatusInternalServerError)
}
