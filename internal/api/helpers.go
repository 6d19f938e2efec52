package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"carebridge/internal/middleware"
	"carebridge/pkg/models"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ failed to write response: %v", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrTerminalState):
		status = http.StatusConflict
	case errors.Is(err, models.ErrPeerOffline):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Printf("❌ request failed: %v", err)
		respondJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.ErrValidation
	}
	return nil
}

func pathID(vars map[string]string, key string) (int64, error) {
	id, err := strconv.ParseInt(vars[key], 10, 64)
	if err != nil || id <= 0 {
		return 0, models.ErrValidation
	}
	return id, nil
}

func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// canActFor checks whether the caller may read or write on behalf of a
// patient: patients act for themselves, caregivers and family only for
// their linked patients.
func (s *Server) canActFor(ctx context.Context, claims *middleware.Claims, patientID int64) (bool, error) {
	if claims.Role == models.RolePatient {
		return claims.UserID == patientID, nil
	}

	linked, err := s.db.GetLinkedPatients(ctx, claims.UserID, claims.Role)
	if err != nil {
		return false, err
	}
	for _, id := range linked {
		if id == patientID {
			return true, nil
		}
	}
	return false, nil
}
