package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/otcheredev/dicom-store/internal/database"
	"github.com/otcheredev/dicom-store/internal/jobs"
)

type HealthHandler struct {
	engine *jobs.Engine
}

func NewHealthHandler(engine *jobs.Engine) *HealthHandler {
	return &HealthHandler{engine: engine}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Jobs      jobs.Statistics   `json:"jobs"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check database
	if database.DB == nil {
		response.Services["database"] = "disabled"
	} else if sqlDB, err := database.DB.DB(); err != nil || sqlDB.Ping() != nil {
		response.Services["database"] = "unhealthy"
		response.Status = "degraded"
	} else {
		response.Services["database"] = "healthy"
	}

	if h.engine != nil {
		response.Jobs = h.engine.GetStatistics()
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// Check if service is ready to accept requests
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			http.Error(w, "Service not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
