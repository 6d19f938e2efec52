package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"carebridge/internal/middleware"
	"carebridge/pkg/models"
)

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		respondError(w, fmt.Errorf("%w: coordinates out of range", models.ErrValidation))
		return
	}

	loc := &models.Location{
		UserID:    claims.UserID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Timestamp: time.Now(),
	}
	if err := s.db.UpsertLocation(r.Context(), loc); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	userID, err := pathID(mux.Vars(r), "userId")
	if err != nil {
		respondError(w, err)
		return
	}

	if userID != claims.UserID {
		ok, err := s.canActFor(r.Context(), claims, userID)
		if err != nil {
			respondError(w, err)
			return
		}
		if !ok {
			respondError(w, models.ErrUnauthorized)
			return
		}
	}

	loc, err := s.db.GetLocation(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}
