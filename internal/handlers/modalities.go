package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/internal/services"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

type ModalitiesHandler struct {
	service *services.ModalityService
}

func NewModalitiesHandler(service *services.ModalityService) *ModalitiesHandler {
	return &ModalitiesHandler{service: service}
}

// CreateModality registers a new remote modality
func (h *ModalitiesHandler) CreateModality(w http.ResponseWriter, r *http.Request) {
	var req models.ModalityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	modality, err := h.service.CreateModality(r.Context(), &req)
	if err != nil {
		if errors.Is(err, dicomerr.ErrParameterOutOfRange) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to create modality")
		http.Error(w, "Failed to create modality", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, modality)
}

// ListModalities returns every registered modality
func (h *ModalitiesHandler) ListModalities(w http.ResponseWriter, r *http.Request) {
	modalities, err := h.service.ListModalities(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list modalities")
		http.Error(w, "Failed to list modalities", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, modalities)
}

// GetModality returns one modality
func (h *ModalitiesHandler) GetModality(w http.ResponseWriter, r *http.Request) {
	id, ok := parseModalityID(w, r)
	if !ok {
		return
	}

	modality, err := h.service.GetModality(r.Context(), id)
	if err != nil {
		writeModalityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modality)
}

// UpdateModality overwrites a modality's settings
func (h *ModalitiesHandler) UpdateModality(w http.ResponseWriter, r *http.Request) {
	id, ok := parseModalityID(w, r)
	if !ok {
		return
	}

	var req models.ModalityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	modality, err := h.service.UpdateModality(r.Context(), id, &req)
	if err != nil {
		writeModalityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modality)
}

// DeleteModality removes a modality
func (h *ModalitiesHandler) DeleteModality(w http.ResponseWriter, r *http.Request) {
	id, ok := parseModalityID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteModality(r.Context(), id); err != nil {
		writeModalityError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EchoModality runs a C-ECHO against a modality and returns the outcome
func (h *ModalitiesHandler) EchoModality(w http.ResponseWriter, r *http.Request) {
	id, ok := parseModalityID(w, r)
	if !ok {
		return
	}

	status, err := h.service.EchoModality(r.Context(), id)
	if err != nil {
		writeModalityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// RetrieveFromModality schedules a C-MOVE retrieval from a modality and
// returns the id of the job driving it
func (h *ModalitiesHandler) RetrieveFromModality(w http.ResponseWriter, r *http.Request) {
	id, ok := parseModalityID(w, r)
	if !ok {
		return
	}

	var req models.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	jobID, err := h.service.RetrieveFromModality(r.Context(), id, &req)
	if err != nil {
		if errors.Is(err, dicomerr.ErrParameterOutOfRange) || errors.Is(err, dicomerr.ErrBadRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeModalityError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": jobID})
}

func parseModalityID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid modality ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeModalityError(w http.ResponseWriter, err error) {
	if errors.Is(err, dicomerr.ErrUnknownResource) {
		http.Error(w, "Unknown modality", http.StatusNotFound)
		return
	}
	log.Error().Err(err).Msg("Modality operation failed")
	http.Error(w, "Modality operation failed", http.StatusInternalServerError)
}
